package main

import (
	"github.com/baaaht/murmur/cmd"
)

func main() {
	cmd.Execute()
}
