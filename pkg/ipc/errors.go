package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/baaaht/murmur/pkg/channel"
	"github.com/baaaht/murmur/pkg/types"
)

// ErrBindRace is returned, wrapped, when another process bound the
// channel between our probe and our bind. It is transient: probing
// again will find the winner.
var ErrBindRace = types.NewError(types.ErrCodeBindRace, "another process bound the channel first")

// ChannelBusyError reports a bind against a channel that already has a
// live listener.
type ChannelBusyError struct {
	Channel string
}

func (e *ChannelBusyError) Error() string {
	return fmt.Sprintf("channel '%s' already has an active listener. To send messages, use: murmur send %s \"your message\". To remove the existing listener first: murmur rm %s",
		e.Channel, e.Channel, e.Channel)
}

// Code implements the error code contract used by types.GetErrorCode.
func (e *ChannelBusyError) Code() string { return types.ErrCodeChannelBusy }

// ConnectTimeoutError reports that no listener accepted within the
// retry budget.
type ConnectTimeoutError struct {
	Channel string
	Timeout time.Duration
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("timeout after %gs waiting for channel '%s'. Start a listener with: murmur listen %s",
		e.Timeout.Seconds(), e.Channel, e.Channel)
}

// Code implements the error code contract used by types.GetErrorCode.
func (e *ConnectTimeoutError) Code() string { return types.ErrCodeConnectTimeout }

// NoListenerError reports a single connect attempt that found nothing
// accepting on the channel.
type NoListenerError struct {
	Channel string
	Err     error
}

func (e *NoListenerError) Error() string {
	return fmt.Sprintf("no listener on channel '%s'. Start one with: murmur listen %s, or retry until it is up with: murmur send --wait %s",
		e.Channel, e.Channel, e.Channel)
}

func (e *NoListenerError) Unwrap() error { return e.Err }

// Code implements the error code contract used by types.GetErrorCode.
func (e *NoListenerError) Code() string { return types.ErrCodeUnavailable }

// IsExpectedCloseError reports whether err is the normal result of the
// other side, or this side, closing a connection.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ECONNRESET)
}

// dialState classifies a failed connect to a channel path. A missing
// path is Absent and a refused connect is a socket file with nobody
// behind it. Other failures, such as a full accept backlog, are treated
// as a live channel to be retried.
func dialState(err error) channel.State {
	switch {
	case errors.Is(err, unix.ENOENT):
		return channel.Absent
	case errors.Is(err, unix.ECONNREFUSED):
		return channel.Stale
	default:
		return channel.Active
	}
}
