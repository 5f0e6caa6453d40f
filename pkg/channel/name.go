package channel

import (
	"fmt"
	"unicode"

	"github.com/baaaht/murmur/pkg/types"
)

// MaxNameLength is the longest accepted channel name.
const MaxNameLength = 64

// Name is a validated channel name: letters and digits in any script,
// hyphens or underscores, 1 to 64 bytes long. The zero value is not a
// valid name.
type Name string

// InvalidNameError reports a channel name that fails validation.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid channel name '%s'. Use 1-64 alphanumeric chars, hyphens, or underscores (e.g. my-channel_1)", e.Name)
}

// Code implements the error code contract used by types.GetErrorCode.
func (e *InvalidNameError) Code() string {
	return types.ErrCodeInvalidChannel
}

// ParseName validates s and returns it as a Name.
func ParseName(s string) (Name, error) {
	if !ValidName(s) {
		return "", &InvalidNameError{Name: s}
	}
	return Name(s), nil
}

// ValidName reports whether s is an acceptable channel name. The length
// limit counts bytes, not runes.
func ValidName(s string) bool {
	if len(s) == 0 || len(s) > MaxNameLength {
		return false
	}
	for _, r := range s {
		if r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) {
			continue
		}
		return false
	}
	return true
}

func (n Name) String() string {
	return string(n)
}
