package ipc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/channel"
)

// Listener is a bound channel socket. Closing it releases the channel's
// filesystem entry through the registry.
type Listener struct {
	channel  string
	path     string
	ln       *net.UnixListener
	registry channel.Registry
	logger   *logger.Logger
	accepted atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Channel returns the channel name this listener is bound to.
func (l *Listener) Channel() string { return l.channel }

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

// Accept waits for the next connection.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	n := l.accepted.Add(1)
	l.logger.Debug("Connection accepted", "accepted", n)
	return conn, nil
}

// AcceptContext is Accept that gives up when ctx is done.
func (l *Listener) AcceptContext(ctx context.Context) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		l.ln.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	conn, err := l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

// Close releases the channel entry and stops accepting. The entry is
// removed while the socket is still bound, so a successor that binds
// afterwards never has its own entry removed. Close is idempotent.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.registry.Release(l.path)
		l.closeErr = l.ln.Close()
		l.logger.Info("Listener closed", "accepted", l.accepted.Load())
	})
	return l.closeErr
}

// Stats returns listener statistics
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Channel:  l.channel,
		Path:     l.path,
		Accepted: l.accepted.Load(),
	}
}

// ListenerStats represents listener statistics
type ListenerStats struct {
	Channel  string `json:"channel"`
	Path     string `json:"path"`
	Accepted int64  `json:"accepted"`
}

// String returns a string representation of the stats
func (s ListenerStats) String() string {
	return fmt.Sprintf("ListenerStats{Channel: %s, Path: %s, Accepted: %d}", s.Channel, s.Path, s.Accepted)
}
