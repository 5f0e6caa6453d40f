package ipc

import (
	"context"
	"errors"
	"net"

	"github.com/baaaht/murmur/pkg/channel"
)

// State is a role negotiation state.
type State int

const (
	// Probing classifies the channel to choose the next role.
	Probing State = iota
	// Peer is connected to the channel's host.
	Peer
	// Host holds the channel's bound socket.
	Host
	// BindRace lost an exclusive bind and backs off before probing again.
	BindRace
)

func (s State) String() string {
	switch s {
	case Probing:
		return "probing"
	case Peer:
		return "peer"
	case Host:
		return "host"
	case BindRace:
		return "bind-race"
	default:
		return "unknown"
	}
}

// Handler runs the session for whichever role the negotiator settles on.
type Handler interface {
	// Peer runs a session over a connection to the host. Returning nil
	// means the host went away, which triggers failover; any other error
	// ends negotiation.
	Peer(ctx context.Context, conn net.Conn) error

	// Host serves the bound listener until ctx is done. The negotiator
	// closes the listener afterwards.
	Host(ctx context.Context, l *Listener) error
}

// HandlerFuncs adapts a pair of functions to Handler.
type HandlerFuncs struct {
	PeerFunc func(ctx context.Context, conn net.Conn) error
	HostFunc func(ctx context.Context, l *Listener) error
}

func (h HandlerFuncs) Peer(ctx context.Context, conn net.Conn) error { return h.PeerFunc(ctx, conn) }

func (h HandlerFuncs) Host(ctx context.Context, l *Listener) error { return h.HostFunc(ctx, l) }

// Negotiator is the duplex peer-or-host state machine. It joins an
// active channel as a peer, becomes host when the channel is free, and
// when the host disappears it pauses for the failover delay and
// negotiates again. Concurrent candidates are arbitrated solely by the
// exclusive socket bind; losers back off for the bind race delay.
type Negotiator struct {
	transport *Transport
	channel   string
	handler   Handler

	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)
}

// NewNegotiator creates a negotiator for the named channel.
func (t *Transport) NewNegotiator(name string, h Handler) *Negotiator {
	return &Negotiator{
		transport: t,
		channel:   name,
		handler:   h,
	}
}

// Run negotiates until ctx is done, a handler fails, or a host session
// ends on its own. Transient races are absorbed and never returned.
func (n *Negotiator) Run(ctx context.Context) error {
	t := n.transport
	path, err := t.registry.Resolve(n.channel)
	if err != nil {
		return err
	}
	log := t.logger.With("channel", n.channel)

	state := Probing
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next := state
		switch state {
		case Probing:
			// The connect attempt doubles as the liveness check. A success
			// is kept as the peer connection and a failure is classified
			// from its error, so the host never sees a throwaway member.
			c, err := t.dial(ctx, path)
			if err == nil {
				conn = c
				next = Peer
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch dialState(err) {
			case channel.Absent:
				next = Host
			case channel.Stale:
				if err := t.registry.Reclaim(path); err != nil {
					log.Warn("Failed to reclaim stale socket", "error", err)
					if err := t.sleep(ctx, t.cfg.BindRaceDelay); err != nil {
						return err
					}
				}
			case channel.Active:
				log.Debug("Channel not accepting, retrying", "error", err)
				if err := t.sleep(ctx, t.cfg.RetryInterval); err != nil {
					return err
				}
			}

		case Peer:
			err := n.handler.Peer(ctx, conn)
			conn.Close()
			conn = nil
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				return err
			}
			log.Info("Host disconnected, renegotiating", "delay", t.cfg.FailoverDelay)
			if err := t.sleep(ctx, t.cfg.FailoverDelay); err != nil {
				return err
			}
			next = Probing

		case Host:
			l, err := t.listen(n.channel, path)
			if err != nil {
				if errors.Is(err, ErrBindRace) {
					next = BindRace
					break
				}
				return err
			}
			err = n.handler.Host(ctx, l)
			l.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err

		case BindRace:
			if err := t.sleep(ctx, t.cfg.BindRaceDelay); err != nil {
				return err
			}
			next = Probing
		}

		if next != state {
			log.Debug("Role transition", "from", state.String(), "to", next.String())
			if n.OnTransition != nil {
				n.OnTransition(state, next)
			}
			state = next
		}
	}
}
