package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/baaaht/murmur/internal/clock"
	"github.com/baaaht/murmur/internal/config"
	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/channel"
	"github.com/baaaht/murmur/pkg/framing"
	"github.com/baaaht/murmur/pkg/types"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// shortTempDir keeps socket paths under the sun_path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "murmur")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newTestRegistry(t *testing.T) *channel.FSRegistry {
	t.Helper()
	cfg := config.DefaultChannelConfig()
	cfg.Dir = shortTempDir(t)
	reg, err := channel.NewFSRegistry(cfg, time.Second, logger.Discard())
	require.NoError(t, err)
	return reg
}

func newTestTransport(t *testing.T, opts ...Option) (*Transport, *channel.FSRegistry) {
	t.Helper()
	reg := newTestRegistry(t)
	tr, err := New(reg, config.DefaultTransportConfig(), logger.Discard(), opts...)
	require.NoError(t, err)
	return tr, reg
}

// makeStale leaves a socket file behind with nothing listening on it.
func makeStale(t *testing.T, path string) {
	t.Helper()
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	ln.SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil, config.DefaultTransportConfig(), logger.Discard())
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
}

func TestBindAndClose(t *testing.T) {
	tr, reg := newTestTransport(t)
	ctx := context.Background()

	l, err := tr.Bind(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "work", l.Channel())
	assert.FileExists(t, l.Path())
	assert.Equal(t, channel.Active, reg.Probe(ctx, l.Path()))

	require.NoError(t, l.Close())
	assert.NoFileExists(t, l.Path())
	assert.NoError(t, l.Close(), "close is idempotent")
}

func TestBindBusy(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	l, err := tr.Bind(ctx, "work")
	require.NoError(t, err)
	defer l.Close()

	_, err = tr.Bind(ctx, "work")
	var busy *ChannelBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "work", busy.Channel)
	assert.Equal(t, types.ErrCodeChannelBusy, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), `murmur send work "your message"`)
	assert.Contains(t, err.Error(), "murmur rm work")
	assert.FileExists(t, l.Path(), "a failed bind never removes the live socket")
}

func TestBindReclaimsStaleSocket(t *testing.T) {
	tr, reg := newTestTransport(t)
	ctx := context.Background()
	path, err := reg.Resolve("crashed")
	require.NoError(t, err)
	makeStale(t, path)
	require.Equal(t, channel.Stale, reg.Probe(ctx, path))

	l, err := tr.Bind(ctx, "crashed")
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, channel.Active, reg.Probe(ctx, path))
}

func TestBindInvalidName(t *testing.T) {
	tr, reg := newTestTransport(t)

	_, err := tr.Bind(context.Background(), "../escape")
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidChannel))

	entries, err := os.ReadDir(reg.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentBindOnlyOneWins(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	const contenders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		listeners []*Listener
		failures  []error
	)
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := tr.Bind(ctx, "contested")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			listeners = append(listeners, l)
		}()
	}
	wg.Wait()
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	require.Len(t, listeners, 1)
	require.Len(t, failures, contenders-1)
	for _, err := range failures {
		code := types.GetErrorCode(err)
		assert.Contains(t, []string{types.ErrCodeChannelBusy, types.ErrCodeBindRace}, code, err.Error())
	}
}

func TestSendScenario(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	l, err := tr.Bind(ctx, "work")
	require.NoError(t, err)
	defer l.Close()

	conn, err := tr.Connect(ctx, "work")
	require.NoError(t, err)
	require.NoError(t, framing.WriteLine(conn, "hello"))
	require.NoError(t, conn.Close())

	accepted, err := l.Accept()
	require.NoError(t, err)
	defer accepted.Close()

	var got []string
	for line, err := range framing.Lines(accepted) {
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Equal(t, []string{"hello"}, got)
	assert.Equal(t, int64(1), l.Stats().Accepted)
}

func TestConnectNoListener(t *testing.T) {
	tr, _ := newTestTransport(t)

	_, err := tr.Connect(context.Background(), "nobody")
	var none *NoListenerError
	require.ErrorAs(t, err, &none)
	assert.Equal(t, "nobody", none.Channel)
	assert.True(t, types.IsErrCode(err, types.ErrCodeUnavailable))
	assert.Contains(t, err.Error(), "murmur listen nobody")
	assert.Contains(t, err.Error(), "murmur send --wait nobody")
}

func TestConnectWithRetryTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	tr, _ := newTestTransport(t, WithClock(fake))

	_, err := tr.ConnectWithRetry(context.Background(), "never", time.Second)
	var timeout *ConnectTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "never", timeout.Channel)
	assert.Equal(t, time.Second, timeout.Timeout)
	assert.Equal(t, types.ErrCodeConnectTimeout, types.GetErrorCode(err))
	assert.Equal(t, "timeout after 1s waiting for channel 'never'. Start a listener with: murmur listen never", err.Error())

	assert.False(t, fake.Now().Before(epoch.Add(time.Second)), "never gives up before the timeout")
	waits := fake.Waits()
	assert.Len(t, waits, 20)
	for _, w := range waits {
		assert.Equal(t, config.DefaultRetryInterval, w)
	}
}

func TestConnectWithRetrySucceedsOnceListenerAppears(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	bound := make(chan *Listener, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		l, err := tr.Bind(ctx, "late")
		if err != nil {
			close(bound)
			return
		}
		bound <- l
	}()

	conn, err := tr.ConnectWithRetry(ctx, "late", 5*time.Second)
	require.NoError(t, err)
	conn.Close()

	l, ok := <-bound
	require.True(t, ok)
	l.Close()
}

func TestConnectWithRetryCanceled(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := tr.ConnectWithRetry(ctx, "never", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcceptContextCanceled(t *testing.T) {
	tr, _ := newTestTransport(t)
	l, err := tr.Bind(context.Background(), "idle")
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = l.AcceptContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPair(t *testing.T) {
	tr, reg := newTestTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		conn net.Conn
		host bool
		err  error
	}
	results := make(chan result, 2)
	pair := func() {
		conn, host, err := tr.Pair(ctx, "duo")
		results <- result{conn, host, err}
	}

	go pair()
	path, err := reg.Resolve("duo")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	go pair()

	first, second := <-results, <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.NotEqual(t, first.host, second.host, "exactly one side binds")
	defer first.conn.Close()
	defer second.conn.Close()

	require.NoError(t, framing.WriteLine(first.conn, "ping"))
	line, err := framing.NewDecoder(second.conn).Next()
	require.NoError(t, err)
	assert.Equal(t, "ping", line)

	assert.NoFileExists(t, path, "the binder releases the channel once paired")
}

func TestPairReclaimsStale(t *testing.T) {
	tr, reg := newTestTransport(t)
	path, err := reg.Resolve("old")
	require.NoError(t, err)
	makeStale(t, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		conn, host, err := tr.Pair(ctx, "old")
		if err == nil {
			defer conn.Close()
			if !host {
				err = errors.New("expected to bind")
			}
		}
		done <- err
	}()

	conn, err := tr.ConnectWithRetry(ctx, "old", 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, <-done)
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{fmt.Errorf("read: %w", io.EOF), true},
		{io.ErrClosedPipe, true},
		{net.ErrClosed, true},
		{&net.OpError{Op: "write", Err: os.NewSyscallError("write", unix.EPIPE)}, true},
		{&net.OpError{Op: "read", Err: os.NewSyscallError("read", unix.ECONNRESET)}, true},
		{errors.New("disk on fire"), false},
		{&framing.MessageTooLargeError{Size: 2 << 20}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsExpectedCloseError(tt.err), fmt.Sprint(tt.err))
	}
}

func TestListenerStatsString(t *testing.T) {
	s := ListenerStats{Channel: "work", Path: filepath.Join("/tmp", "murmur-work.sock"), Accepted: 3}
	assert.Equal(t, "ListenerStats{Channel: work, Path: /tmp/murmur-work.sock, Accepted: 3}", s.String())
}
