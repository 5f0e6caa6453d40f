package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/framing"
	"github.com/baaaht/murmur/pkg/ipc"
	"github.com/baaaht/murmur/pkg/types"
)

// ServerOptions controls what a Server does with inbound lines
type ServerOptions struct {
	// Output receives every line read from any member. Nil discards them.
	Output *framing.Writer
	// Relay republishes lines read from a member to all other members.
	Relay bool
}

// Server accepts members on a bound channel and joins each of them to a
// Hub. Every member gets a read goroutine and a write goroutine; when
// either stops, the member is removed and its connection closed.
type Server struct {
	listener  *ipc.Listener
	hub       *Hub
	opts      ServerOptions
	logger    *logger.Logger
	connected atomic.Int64
}

// NewServer creates a server for the listener and hub
func NewServer(l *ipc.Listener, hub *Hub, opts ServerOptions, log *logger.Logger) (*Server, error) {
	if l == nil || hub == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "listener and hub are required")
	}
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	return &Server{
		listener: l,
		hub:      hub,
		opts:     opts,
		logger:   log.With("component", "broadcast_server", "channel", l.Channel()),
	}, nil
}

// Hub returns the server's hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// PublishLocal fans a line from the hosting process out to all members
func (s *Server) PublishLocal(line string) int {
	return s.hub.Publish(Message{Origin: LocalOrigin, Line: line})
}

// Serve accepts members until ctx is done or the listener is closed.
// On cancellation member connections are closed immediately. When the
// listener is closed instead, Serve waits for members to finish, which
// lets them drain a closed hub first.
func (s *Server) Serve(ctx context.Context) error {
	connCtx, cancelConns := context.WithCancel(ctx)
	defer cancelConns()

	var members errgroup.Group
	var acceptErr error
	for {
		conn, err := s.listener.AcceptContext(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = types.WrapError(types.ErrCodeInternal, "accept failed", err)
				s.logger.Error("Accept failed", "error", err)
			}
			break
		}
		// Subscribe in the accept loop so a member is on the hub before
		// its goroutine is scheduled.
		sub, err := s.hub.Subscribe(uuid.NewString())
		if err != nil {
			s.logger.Debug("Rejecting member", "error", err)
			conn.Close()
			continue
		}
		members.Go(func() error {
			s.handle(connCtx, conn, sub)
			return nil
		})
	}

	if ctx.Err() != nil || acceptErr != nil {
		cancelConns()
	}
	members.Wait()
	return acceptErr
}

func (s *Server) handle(ctx context.Context, conn net.Conn, sub *Subscriber) {
	id := sub.ID()
	log := s.logger.With("member_id", id)
	defer s.hub.Unsubscribe(id)

	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	defer closeConn()
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	n := s.connected.Add(1)
	log.Info("Peer connected", "connected", n)
	defer func() {
		log.Info("Peer disconnected", "connected", s.connected.Add(-1), "dropped", sub.Dropped())
	}()

	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()

	var g errgroup.Group
	g.Go(func() error {
		defer cancelWrite()
		return s.readLoop(conn, id, log)
	})
	g.Go(func() error {
		defer closeConn()
		return s.writeLoop(writeCtx, conn, sub, log)
	})
	if err := g.Wait(); err != nil {
		log.Warn("Member session ended with error", "error", err)
	}
}

func (s *Server) readLoop(conn net.Conn, id string, log *logger.Logger) error {
	d := framing.NewDecoder(conn)
	for {
		line, err := d.Next()
		if err != nil {
			if framing.IsMessageTooLarge(err) {
				log.Warn("Dropped oversized line from peer", "error", err)
				continue
			}
			if ipc.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if s.opts.Output != nil {
			if err := s.opts.Output.WriteLine(line); err != nil {
				log.Debug("Failed to write line to output", "error", err)
			}
		}
		if s.opts.Relay {
			s.hub.Publish(Message{Origin: id, Line: line})
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn net.Conn, sub *Subscriber, log *logger.Logger) error {
	for {
		line, err := sub.Next(ctx)
		if err != nil {
			// Closed hub or finished session.
			return nil
		}
		if err := framing.WriteLine(conn, line); err != nil {
			if ipc.IsExpectedCloseError(err) {
				log.Debug("Peer went away during write", "error", err)
				return nil
			}
			return fmt.Errorf("write: %w", err)
		}
	}
}

// Stats returns server statistics
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Listener:  s.listener.Stats(),
		Hub:       s.hub.Stats(),
		Connected: s.connected.Load(),
	}
}

// ServerStats represents server statistics
type ServerStats struct {
	Listener  ipc.ListenerStats `json:"listener"`
	Hub       HubStats          `json:"hub"`
	Connected int64             `json:"connected"`
}

// String returns a string representation of the stats
func (s ServerStats) String() string {
	return fmt.Sprintf("ServerStats{Connected: %d, %s, %s}", s.Connected, s.Listener, s.Hub)
}
