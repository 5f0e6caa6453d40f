package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/baaaht/murmur/pkg/ipc"
	"github.com/baaaht/murmur/pkg/session"
)

// bannerPrinter writes role banners to stderr so stdout carries only
// channel lines. Styling is used only when the writer is a terminal.
type bannerPrinter struct {
	w      io.Writer
	styled bool
	title  lipgloss.Style
	cmd    lipgloss.Style
	faint  lipgloss.Style
}

func newBannerPrinter(w io.Writer) *bannerPrinter {
	r := lipgloss.NewRenderer(w)
	b := &bannerPrinter{
		w:     w,
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		cmd:   r.NewStyle().Foreground(lipgloss.Color("10")),
		faint: r.NewStyle().Faint(true),
	}
	if f, ok := w.(*os.File); ok {
		b.styled = term.IsTerminal(int(f.Fd()))
	}
	return b
}

func (b *bannerPrinter) render(style lipgloss.Style, s string) string {
	if !b.styled {
		return s
	}
	return style.Render(s)
}

// role prints the banner for a duplex or pair role. Listen and pub
// sessions stay quiet.
func (b *bannerPrinter) role(ev session.RoleEvent) {
	switch ev.Mode {
	case session.ModeDuplex:
		if ev.Role == ipc.Host {
			fmt.Fprint(b.w, b.serverBanner(ev.Channel, ev.Path))
		} else {
			fmt.Fprint(b.w, b.clientBanner(ev.Channel))
		}
	case session.ModePair:
		fmt.Fprint(b.w, b.pairBanner(ev.Channel, ev.Role))
	}
}

func (b *bannerPrinter) serverBanner(channel, path string) string {
	var sb strings.Builder
	sb.WriteString(b.render(b.title, fmt.Sprintf("murmur channel %q ready (server mode)", channel)))
	sb.WriteString("\n\nOther agents can connect with:\n")

	rows := [][2]string{
		{"murmur " + channel, "# bidirectional"},
		{fmt.Sprintf("murmur send %s \"message\"", channel), "# send one message"},
		{fmt.Sprintf("murmur send --reply %s \"question\"", channel), "# send and wait for response"},
		{fmt.Sprintf("echo \"msg\" | nc -U %s", path), "# raw socket"},
	}
	width := 0
	for _, row := range rows {
		width = max(width, len(row[0]))
	}
	for _, row := range rows {
		pad := strings.Repeat(" ", width-len(row[0])+2)
		sb.WriteString("  " + b.render(b.cmd, row[0]) + pad + b.render(b.faint, row[1]) + "\n")
	}

	sb.WriteString("\n")
	sb.WriteString(b.render(b.faint, "Protocol: newline-delimited, 1MB max. Messages appear on stdout."))
	sb.WriteString("\n---\n")
	return sb.String()
}

func (b *bannerPrinter) clientBanner(channel string) string {
	var sb strings.Builder
	sb.WriteString(b.render(b.title, fmt.Sprintf("murmur channel %q connected (client mode)", channel)))
	sb.WriteString("\n\nBidirectional: stdin -> server, server -> stdout\n")
	sb.WriteString(b.render(b.faint, "Type messages and press Enter to send. Ctrl+C to disconnect."))
	sb.WriteString("\n---\n")
	return sb.String()
}

func (b *bannerPrinter) pairBanner(channel string, role ipc.State) string {
	side := "connected to"
	if role == ipc.Host {
		side = "accepted a peer on"
	}
	return b.render(b.faint, fmt.Sprintf("murmur pair %s channel %q", side, channel)) + "\n---\n"
}
