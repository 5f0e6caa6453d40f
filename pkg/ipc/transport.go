package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/baaaht/murmur/internal/clock"
	"github.com/baaaht/murmur/internal/config"
	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/channel"
	"github.com/baaaht/murmur/pkg/types"
)

// Transport decides, per channel, whether this process binds or
// connects. The only cross-process coordination it relies on is the
// exclusive bind of a Unix socket path.
type Transport struct {
	registry channel.Registry
	cfg      config.TransportConfig
	clock    clock.Clock
	logger   *logger.Logger
}

// Option configures a Transport
type Option func(*Transport)

// WithClock replaces the real clock used for retry and failover delays
func WithClock(c clock.Clock) Option {
	return func(t *Transport) {
		t.clock = c
	}
}

// New creates a Transport over the given registry
func New(registry channel.Registry, cfg config.TransportConfig, log *logger.Logger, opts ...Option) (*Transport, error) {
	if registry == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "registry is required")
	}
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	t := &Transport{
		registry: registry,
		cfg:      cfg,
		clock:    clock.Real(),
		logger:   log.With("component", "ipc_transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Registry returns the registry the transport resolves channels with
func (t *Transport) Registry() channel.Registry {
	return t.registry
}

// Config returns the transport timing configuration
func (t *Transport) Config() config.TransportConfig {
	return t.cfg
}

// Bind makes this process the exclusive listener of the channel. An
// active channel fails with *ChannelBusyError; a stale one is reclaimed
// first. Losing the bind to a concurrent process yields an error
// wrapping ErrBindRace.
func (t *Transport) Bind(ctx context.Context, name string) (*Listener, error) {
	path, err := t.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	switch t.registry.Probe(ctx, path) {
	case channel.Active:
		return nil, &ChannelBusyError{Channel: name}
	case channel.Stale:
		if err := t.registry.Reclaim(path); err != nil {
			return nil, err
		}
	}

	return t.listen(name, path)
}

func (t *Transport) listen(name, path string) (*Listener, error) {
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		if errors.Is(err, unix.EADDRINUSE) {
			return nil, types.WrapError(types.ErrCodeBindRace,
				fmt.Sprintf("channel '%s' was bound by another process. To send messages, use: murmur send %s \"your message\"", name, name),
				ErrBindRace)
		}
		return nil, types.WrapError(types.ErrCodeInternal, fmt.Sprintf("failed to bind channel '%s'", name), err)
	}
	// Release goes through the registry only.
	ln.SetUnlinkOnClose(false)

	t.logger.Info("Channel bound", "channel", name, "path", path)
	return &Listener{
		channel:  name,
		path:     path,
		ln:       ln,
		registry: t.registry,
		logger:   t.logger.With("channel", name),
	}, nil
}

func (t *Transport) dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

// Connect makes a single connection attempt to the channel's listener.
func (t *Transport) Connect(ctx context.Context, name string) (net.Conn, error) {
	path, err := t.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	conn, err := t.dial(ctx, path)
	if err != nil {
		return nil, &NoListenerError{Channel: name, Err: err}
	}
	t.logger.Debug("Connected", "channel", name)
	return conn, nil
}

// ConnectWithRetry attempts to connect every RetryInterval until it
// succeeds or timeout has elapsed, in which case it returns
// *ConnectTimeoutError. It never gives up before timeout.
func (t *Transport) ConnectWithRetry(ctx context.Context, name string, timeout time.Duration) (net.Conn, error) {
	path, err := t.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	deadline := t.clock.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		conn, err := t.dial(ctx, path)
		if err == nil {
			t.logger.Debug("Connected", "channel", name, "attempts", attempt)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !t.clock.Now().Before(deadline) {
			t.logger.Debug("Gave up connecting", "channel", name, "attempts", attempt, "error", err)
			return nil, &ConnectTimeoutError{Channel: name, Timeout: timeout}
		}
		if err := t.sleep(ctx, t.cfg.RetryInterval); err != nil {
			return nil, err
		}
	}
}

// Pair sets up a two-party connection: if the channel is live this
// process connects to it, otherwise it binds, accepts exactly one peer
// and then releases the channel. host reports which side this is.
//
// Pair never probes with a throwaway connection, since the waiting
// first party would accept it as its one peer.
func (t *Transport) Pair(ctx context.Context, name string) (conn net.Conn, host bool, err error) {
	path, err := t.registry.Resolve(name)
	if err != nil {
		return nil, false, err
	}

	var l *Listener
	for l == nil {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if conn, err := t.dial(ctx, path); err == nil {
			return conn, false, nil
		}

		l, err = t.listen(name, path)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrBindRace) {
			return nil, false, err
		}
		// The entry refused our dial, so it is stale unless its owner
		// started listening in between.
		if conn, err := t.dial(ctx, path); err == nil {
			return conn, false, nil
		}
		if err := t.registry.Reclaim(path); err != nil {
			return nil, false, err
		}
	}
	defer l.Close()

	t.logger.Info("Waiting for pair peer", "channel", name)
	conn, err = l.AcceptContext(ctx)
	if err != nil {
		return nil, false, err
	}
	return conn, true, nil
}

// sleep waits d on the transport clock, returning early with the
// context error if ctx ends first.
func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.clock.After(d):
		return nil
	}
}
