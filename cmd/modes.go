package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/baaaht/murmur/pkg/session"
)

func newListenCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen <channel>",
		Short: "Bind a channel and print every incoming message to stdout",
		Long: `Bind a Unix socket for <channel> and print every incoming message to stdout,
one per line. Blocks until Ctrl-C. Multiple senders can connect concurrently.`,
		Example: "  murmur listen work",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runSession(cmd, func(ctx context.Context, r *session.Runner) error {
				return r.Listen(ctx, args[0])
			})
		},
	}
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	var (
		wait    bool
		timeout float64
		reply   bool
	)

	cmd := &cobra.Command{
		Use:   "send <channel> [message]",
		Short: "Send a message, or stdin lines, to a channel",
		Long: `Connect to <channel> and send a message. Reads stdin lines if <message> is
omitted, skipping empty ones. Exits after sending unless --reply is set.`,
		Example: `  murmur send work "hello"
  echo '{"j":1}' | murmur send work
  murmur send --wait --timeout 10 work "ready"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sendOpts := session.SendOptions{
				Wait:    wait,
				Timeout: time.Duration(timeout * float64(time.Second)),
				Reply:   reply,
			}
			if len(args) == 2 {
				sendOpts.Message = &args[1]
			}
			return opts.runSession(cmd, func(ctx context.Context, r *session.Runner) error {
				return r.Send(ctx, args[0], sendOpts)
			})
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false,
		"Retry connecting until the channel accepts, instead of failing at once")
	cmd.Flags().Float64VarP(&timeout, "timeout", "t", 5,
		"Max seconds to wait when --wait is set")
	cmd.Flags().BoolVarP(&reply, "reply", "r", false,
		"After sending, read one line back on the same connection and print it")
	return cmd
}

func newPairCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pair <channel>",
		Short: "Two-party duplex: first caller binds, second connects",
		Long: `Bidirectional duplex on a single channel. The first process binds the socket,
the second connects. Both sides pipe stdin to the socket and the socket to
stdout. Exits when either side closes.`,
		Example: "  murmur pair chat",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runSession(cmd, func(ctx context.Context, r *session.Runner) error {
				return r.Pair(ctx, args[0])
			})
		},
	}
}

func newPubCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pub <channel>",
		Short: "Broadcast stdin lines to every subscriber",
		Long: `Read lines from stdin and broadcast each to all connected subscribers.
Blocks until stdin closes. Subscribers connect with "murmur sub". A subscriber
that falls behind loses its oldest lines rather than slowing the publisher.`,
		Example: "  tail -f log.json | murmur pub events",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runSession(cmd, func(ctx context.Context, r *session.Runner) error {
				return r.Publish(ctx, args[0])
			})
		},
	}
}

func newSubCommand(opts *rootOptions) *cobra.Command {
	var (
		wait    bool
		timeout float64
	)

	cmd := &cobra.Command{
		Use:   "sub <channel>",
		Short: "Print every line broadcast on a pub channel",
		Long: `Connect to a pub channel and print every broadcast line to stdout.
Blocks until the publisher disconnects or Ctrl-C.`,
		Example: "  murmur sub events",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runSession(cmd, func(ctx context.Context, r *session.Runner) error {
				return r.Subscribe(ctx, args[0], wait, time.Duration(timeout*float64(time.Second)))
			})
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false,
		"Retry connecting until the publisher is up")
	cmd.Flags().Float64VarP(&timeout, "timeout", "t", 5,
		"Max seconds to wait when --wait is set")
	return cmd
}
