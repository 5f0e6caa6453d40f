package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/baaaht/murmur/pkg/channel"
)

func newLsCommand(opts *rootOptions) *cobra.Command {
	var (
		long  bool
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List channel names",
		Long: `List channel names, one per line, by scanning the socket directory.
Stale sockets left by crashed processes are listed too; --long shows each
channel's probed state. Does not block unless --watch is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch {
				return watchChannels(ctx, cmd, a.registry)
			}
			if long {
				return listChannelsLong(ctx, cmd, a.registry)
			}

			names, err := a.registry.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show state and socket path for each channel")
	cmd.Flags().BoolVar(&watch, "watch", false, "Stream +name/-name as channels appear and disappear")
	return cmd
}

func listChannelsLong(ctx context.Context, cmd *cobra.Command, registry *channel.FSRegistry) error {
	entries, err := registry.Entries(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Channel", "State", "Path"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	for _, e := range entries {
		table.Append([]string{e.Name, e.State.String(), e.Path})
	}
	table.Render()
	return nil
}

func watchChannels(ctx context.Context, cmd *cobra.Command, registry *channel.FSRegistry) error {
	events, err := registry.Watch(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		fmt.Fprintln(cmd.OutOrStdout(), ev.String())
	}
	return nil
}

func newRmCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <channel>",
		Short:   "Remove a channel's socket file",
		Long:    "Remove a channel's socket file, for example one left behind by a crashed listener. Does not block.",
		Example: "  murmur rm mychannel",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.close()

			path, err := a.registry.Resolve(args[0])
			if err != nil {
				return err
			}
			removed, err := a.registry.Remove(args[0])
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.ErrOrStderr(), "removed %s\n", path)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "channel '%s' not found\n", args[0])
			}
			return nil
		},
	}
}
