package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/baaaht/murmur/internal/config"
	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/channel"
	"github.com/baaaht/murmur/pkg/ipc"
	"github.com/baaaht/murmur/pkg/session"
)

// Version is the murmur release version
const Version = "0.1.0"

const cheatSheet = `Dead-simple local IPC for agents. Unix sockets, newline-delimited messages.

Run "murmur <channel>" for a duplex session: the first process hosts the
channel and relays every line between all participants, later processes
join as peers and one of them takes over when the host goes away.

CHEAT SHEET:
  murmur ch                        # duplex: host or peer, relays among everyone
  murmur listen ch                 # binds socket, prints incoming messages to stdout (blocks)
  murmur send ch "msg"             # connects and sends one message, then exits
  murmur send --wait ch "msg"      # retries until listener is up (default 5s timeout)
  murmur send --reply ch "msg"     # sends, waits for one line back, prints to stdout
  murmur pair ch                   # two-party duplex, first caller binds, second connects
  echo '{"j":1}' | murmur send ch  # pipe stdin as message
  murmur pub ch                    # reads stdin lines, broadcasts to all subscribers
  murmur sub ch                    # subscribes and prints broadcast lines to stdout
  murmur ls                        # list channel names
  murmur rm ch                     # delete a channel socket file

PROTOCOL:
  Socket path: /tmp/murmur-<channel>.sock
  Framing:     newline-delimited (\n)
  Max message: 1 MB`

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	cfgFile   string
	logLevel  string
	logFormat string
	logOutput string
	socketDir string
}

func (o *rootOptions) overrides() config.OverrideOptions {
	return config.OverrideOptions{
		LogLevel:  o.logLevel,
		LogFormat: o.logFormat,
		LogOutput: o.logOutput,
		SocketDir: o.socketDir,
	}
}

// app is the wiring behind a single command invocation
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	registry  *channel.FSRegistry
	transport *ipc.Transport
	reloader  *config.Reloader
}

// newApp loads configuration, applies flag overrides and builds the
// logger, registry and transport.
func (o *rootOptions) newApp() (*app, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ApplyOverrides(o.overrides())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(log)

	registry, err := channel.NewFSRegistry(cfg.Channel, cfg.Transport.ProbeTimeout, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	transport, err := ipc.New(registry, cfg.Transport, log)
	if err != nil {
		log.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		transport: transport,
		reloader:  config.NewReloader(o.cfgFile, o.overrides(), cfg),
	}
	a.reloader.AddCallback(a.applyLogging)
	a.reloader.OnError = func(err error) {
		log.Warn("Configuration reload failed", "error", err)
	}
	return a, nil
}

// applyLogging picks up a new log level after SIGHUP. Output and format
// changes need a restart.
func (a *app) applyLogging(ctx context.Context, cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.log.SetLevel(level)
	a.log.Info("Configuration reloaded", "level", level.String())
	return nil
}

func (a *app) close() {
	a.reloader.Stop()
	a.log.Close()
}

// runSession runs one channel mode until it finishes or the process is
// interrupted. An interrupt is a clean exit.
func (o *rootOptions) runSession(cmd *cobra.Command, mode func(ctx context.Context, r *session.Runner) error) error {
	a, err := o.newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.reloader.Start(ctx)

	banners := newBannerPrinter(cmd.ErrOrStderr())
	r, err := session.New(session.Options{
		Transport: a.transport,
		QueueSize: a.cfg.Broadcast.QueueSize,
		In:        cmd.InOrStdin(),
		Out:       cmd.OutOrStdout(),
		Logger:    a.log,
		OnRole:    banners.role,
	})
	if err != nil {
		return err
	}

	err = mode(ctx, r)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// NewRootCommand builds the murmur command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "murmur [channel]",
		Short:         "Named local IPC channels over Unix sockets",
		Long:          cheatSheet,
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			name := args[0]
			return opts.runSession(cmd, func(ctx context.Context, r *session.Runner) error {
				return r.Connect(ctx, name)
			})
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "",
		"Config file path (default: ~/.config/murmur/config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "",
		"Log format: json, text (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&opts.logOutput, "log-output", "",
		"Log output: stdout, stderr, or file path (default: stderr)")
	rootCmd.PersistentFlags().StringVar(&opts.socketDir, "socket-dir", "",
		"Directory holding channel sockets (default: /tmp)")

	rootCmd.AddCommand(
		newListenCommand(opts),
		newSendCommand(opts),
		newPairCommand(opts),
		newPubCommand(opts),
		newSubCommand(opts),
		newLsCommand(opts),
		newRmCommand(opts),
	)
	return rootCmd
}

// Execute runs the murmur command line. It is called by main.main().
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "murmur: %v\n", err)
		os.Exit(1)
	}
}
