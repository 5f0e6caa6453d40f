// Package session runs the user-facing channel modes on top of the
// transport: listen, send, pair, publish, subscribe and the duplex
// peer-or-host mode. Each mode pipes lines between local input/output
// and the channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/broadcast"
	"github.com/baaaht/murmur/pkg/framing"
	"github.com/baaaht/murmur/pkg/ipc"
	"github.com/baaaht/murmur/pkg/types"
)

// Mode names the session kind a RoleEvent belongs to.
type Mode string

const (
	ModeListen  Mode = "listen"
	ModePublish Mode = "pub"
	ModePair    Mode = "pair"
	ModeDuplex  Mode = "duplex"
)

// RoleEvent reports that a session has taken a role on a channel.
type RoleEvent struct {
	Mode    Mode
	Channel string
	// Path is the socket path; set for host roles.
	Path string
	Role ipc.State
	// Server is the fan-out server of a host role, nil otherwise.
	Server *broadcast.Server
}

// Options configures a Runner
type Options struct {
	Transport *ipc.Transport
	// QueueSize bounds each member's backlog in host roles.
	QueueSize int
	In        io.Reader
	Out       io.Writer
	Logger    *logger.Logger
	// OnRole, when set, is called each time a session becomes host or
	// peer. In duplex mode it fires again after every failover.
	OnRole func(RoleEvent)
}

// SendOptions configures Send
type SendOptions struct {
	// Message is sent as a single line. When nil, lines are read from
	// input until EOF instead, skipping empty ones.
	Message *string
	// Wait retries the connection until Timeout instead of failing at
	// once when nothing is listening.
	Wait    bool
	Timeout time.Duration
	// Reply reads one line back on the same connection and writes it
	// to output.
	Reply bool
}

// Runner executes session modes against one transport and one pair of
// local streams
type Runner struct {
	transport *ipc.Transport
	queueSize int
	in        io.Reader
	out       *framing.Writer
	logger    *logger.Logger
	onRole    func(RoleEvent)

	inputOnce sync.Once
	lines     chan string
}

// New creates a Runner
func New(opts Options) (*Runner, error) {
	if opts.Transport == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "transport is required")
	}
	if opts.In == nil || opts.Out == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "input and output are required")
	}
	if opts.QueueSize < 1 {
		return nil, types.NewError(types.ErrCodeInvalidArgument, fmt.Sprintf("queue size must be positive, got %d", opts.QueueSize))
	}
	log := opts.Logger
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	return &Runner{
		transport: opts.Transport,
		queueSize: opts.QueueSize,
		in:        opts.In,
		out:       framing.NewWriter(opts.Out),
		logger:    log.With("component", "session"),
		onRole:    opts.OnRole,
	}, nil
}

func (r *Runner) notify(ev RoleEvent) {
	r.logger.Debug("Session role", "mode", ev.Mode, "channel", ev.Channel, "role", ev.Role.String())
	if r.onRole != nil {
		r.onRole(ev)
	}
}

// input returns the shared stream of local input lines. One reader
// goroutine feeds it for the Runner's lifetime, so a line read but not
// yet sent when a duplex role ends is kept for the next role.
func (r *Runner) input() <-chan string {
	r.inputOnce.Do(func() {
		r.lines = make(chan string)
		go func() {
			defer close(r.lines)
			d := framing.NewDecoder(r.in)
			for {
				line, err := d.Next()
				if err != nil {
					if framing.IsMessageTooLarge(err) {
						r.logger.Warn("Skipped oversized input line", "error", err)
						continue
					}
					if !errors.Is(err, io.EOF) {
						r.logger.Debug("Input ended", "error", err)
					}
					return
				}
				r.lines <- line
			}
		}()
	})
	return r.lines
}

func (r *Runner) newServer(l *ipc.Listener, opts broadcast.ServerOptions) (*broadcast.Server, *broadcast.Hub, error) {
	hub, err := broadcast.NewHub(r.queueSize, r.logger)
	if err != nil {
		return nil, nil, err
	}
	srv, err := broadcast.NewServer(l, hub, opts, r.logger)
	if err != nil {
		return nil, nil, err
	}
	return srv, hub, nil
}

// Listen binds the channel exclusively and writes every line from every
// sender to output until ctx is done. The channel entry is released on
// return.
func (r *Runner) Listen(ctx context.Context, name string) error {
	l, err := r.transport.Bind(ctx, name)
	if err != nil {
		return err
	}
	defer l.Close()

	srv, _, err := r.newServer(l, broadcast.ServerOptions{Output: r.out})
	if err != nil {
		return err
	}
	r.notify(RoleEvent{Mode: ModeListen, Channel: name, Path: l.Path(), Role: ipc.Host, Server: srv})
	return srv.Serve(ctx)
}

// Send delivers one message, or every input line, to the channel.
func (r *Runner) Send(ctx context.Context, name string, opts SendOptions) error {
	var conn net.Conn
	var err error
	if opts.Wait {
		conn, err = r.transport.ConnectWithRetry(ctx, name, opts.Timeout)
	} else {
		conn, err = r.transport.Connect(ctx, name)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if opts.Message != nil {
		if err := framing.WriteLine(conn, *opts.Message); err != nil {
			return r.sendError(ctx, name, err)
		}
	} else {
		for line, err := range framing.Lines(r.in) {
			if err != nil {
				return err
			}
			if err := framing.WriteLine(conn, line); err != nil {
				return r.sendError(ctx, name, err)
			}
		}
	}

	if !opts.Reply {
		return nil
	}

	line, err := framing.NewDecoder(conn).Next()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ipc.IsExpectedCloseError(err) {
			return types.NewError(types.ErrCodeUnavailable,
				fmt.Sprintf("channel '%s' closed the connection without replying. Reply-capable hosts: murmur %s, murmur pair %s", name, name, name))
		}
		return err
	}
	return r.out.WriteLine(line)
}

func (r *Runner) sendError(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if framing.IsMessageTooLarge(err) {
		return err
	}
	return types.WrapError(types.ErrCodeUnavailable, fmt.Sprintf("failed to send to channel '%s'", name), err)
}

// Pair runs a two-party duplex session: input goes to the other side,
// its lines go to output. It ends when either side closes.
func (r *Runner) Pair(ctx context.Context, name string) error {
	conn, host, err := r.transport.Pair(ctx, name)
	if err != nil {
		return err
	}

	ev := RoleEvent{Mode: ModePair, Channel: name, Role: ipc.Peer}
	if host {
		ev.Role = ipc.Host
	}
	r.notify(ev)

	return r.duplex(ctx, conn, true)
}

// duplex pipes conn to output and input to conn. When stopOnInputEOF
// is false, running out of input leaves the read side going until the
// other end hangs up.
func (r *Runner) duplex(ctx context.Context, conn net.Conn, stopOnInputEOF bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return r.copyToOutput(conn)
	})
	g.Go(func() error {
		err := r.pumpInput(gctx, conn)
		if err != nil || stopOnInputEOF {
			cancel()
		}
		return err
	})
	return g.Wait()
}

func (r *Runner) copyToOutput(conn net.Conn) error {
	d := framing.NewDecoder(conn)
	for {
		line, err := d.Next()
		if err != nil {
			if framing.IsMessageTooLarge(err) {
				r.logger.Warn("Dropped oversized line", "error", err)
				continue
			}
			if ipc.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("read from channel: %w", err)
		}
		if err := r.out.WriteLine(line); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}

// pumpInput sends input lines to conn until input ends or ctx is done.
func (r *Runner) pumpInput(ctx context.Context, conn net.Conn) error {
	in := r.input()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-in:
			if !ok {
				return nil
			}
			if err := framing.WriteLine(conn, line); err != nil {
				if ctx.Err() != nil || ipc.IsExpectedCloseError(err) {
					return nil
				}
				return fmt.Errorf("write to channel: %w", err)
			}
		}
	}
}

// Publish binds the channel and broadcasts each input line to every
// subscriber connected at that moment. When input ends, queued lines are
// flushed to subscribers, the channel is released and Publish returns.
func (r *Runner) Publish(ctx context.Context, name string) error {
	l, err := r.transport.Bind(ctx, name)
	if err != nil {
		return err
	}
	defer l.Close()

	srv, hub, err := r.newServer(l, broadcast.ServerOptions{})
	if err != nil {
		return err
	}
	r.notify(RoleEvent{Mode: ModePublish, Channel: name, Path: l.Path(), Role: ipc.Host, Server: srv})

	var g errgroup.Group
	g.Go(func() error {
		return srv.Serve(ctx)
	})
	g.Go(func() error {
		defer l.Close()
		defer hub.Close()

		in := r.input()
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-in:
				if !ok {
					return nil
				}
				srv.PublishLocal(line)
			}
		}
	})
	return g.Wait()
}

// Subscribe connects to a publisher and writes every broadcast line to
// output until the publisher goes away or ctx is done.
func (r *Runner) Subscribe(ctx context.Context, name string, wait bool, timeout time.Duration) error {
	var conn net.Conn
	var err error
	if wait {
		conn, err = r.transport.ConnectWithRetry(ctx, name, timeout)
	} else {
		conn, err = r.transport.Connect(ctx, name)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = r.copyToOutput(conn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Connect runs the duplex peer-or-host mode until ctx is done. As host
// it relays every line among all peers and the local input/output; as
// peer it exchanges lines with the host and takes over when the host
// goes away.
func (r *Runner) Connect(ctx context.Context, name string) error {
	n := r.transport.NewNegotiator(name, ipc.HandlerFuncs{
		PeerFunc: func(ctx context.Context, conn net.Conn) error {
			r.notify(RoleEvent{Mode: ModeDuplex, Channel: name, Role: ipc.Peer})
			return r.duplex(ctx, conn, false)
		},
		HostFunc: func(ctx context.Context, l *ipc.Listener) error {
			return r.host(ctx, l)
		},
	})
	n.OnTransition = func(from, to ipc.State) {
		r.logger.Debug("Duplex role transition", "channel", name, "from", from.String(), "to", to.String())
	}

	err := n.Run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Runner) host(ctx context.Context, l *ipc.Listener) error {
	srv, _, err := r.newServer(l, broadcast.ServerOptions{Output: r.out, Relay: true})
	if err != nil {
		return err
	}
	r.notify(RoleEvent{Mode: ModeDuplex, Channel: l.Channel(), Path: l.Path(), Role: ipc.Host, Server: srv})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		in := r.input()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-in:
				if !ok {
					// Out of input; keep relaying between peers.
					in = nil
					continue
				}
				srv.PublishLocal(line)
			}
		}
	})
	return g.Wait()
}
