package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baaaht/murmur/internal/config"
	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/ipc"
	"github.com/baaaht/murmur/pkg/session"
	"github.com/baaaht/murmur/pkg/types"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// socketDir isolates a test from the user's configuration and /tmp.
func socketDir(t *testing.T) string {
	t.Helper()
	config.SetTestConfigPath(filepath.Join(t.TempDir(), "absent.yaml"))
	t.Cleanup(func() {
		config.SetTestConfigPath("")
		logger.SetGlobal(nil)
	})

	dir, err := os.MkdirTemp("", "murmur")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, dir, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(append([]string{"--socket-dir", dir, "--log-level", "error"}, args...))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func staleSocket(t *testing.T, path string) {
	t.Helper()
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	ln.SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
}

func TestHelpShowsCheatSheet(t *testing.T) {
	dir := socketDir(t)

	res := run(t, dir, "")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "CHEAT SHEET")
	assert.Contains(t, res.stdout, "Socket path: /tmp/murmur-<channel>.sock")
	assert.Contains(t, res.stdout, "Max message: 1 MB")
}

func TestInvalidChannelName(t *testing.T) {
	dir := socketDir(t)

	res := run(t, dir, "", "listen", "no spaces")
	require.Error(t, res.err)
	assert.Equal(t, types.ErrCodeInvalidChannel, types.GetErrorCode(res.err))
	assert.Contains(t, res.err.Error(), "invalid channel name 'no spaces'")
}

func TestLsAndRm(t *testing.T) {
	dir := socketDir(t)
	staleSocket(t, filepath.Join(dir, "murmur-old.sock"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), nil, 0o644))

	res := run(t, dir, "", "ls")
	require.NoError(t, res.err)
	assert.Equal(t, "old\n", res.stdout)

	res = run(t, dir, "", "ls", "--long")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "CHANNEL")
	assert.Contains(t, res.stdout, "stale")
	assert.Contains(t, res.stdout, filepath.Join(dir, "murmur-old.sock"))

	res = run(t, dir, "", "rm", "old")
	require.NoError(t, res.err)
	assert.Equal(t, "removed "+filepath.Join(dir, "murmur-old.sock")+"\n", res.stderr)

	res = run(t, dir, "", "rm", "old")
	require.NoError(t, res.err)
	assert.Equal(t, "channel 'old' not found\n", res.stderr)

	res = run(t, dir, "", "ls")
	require.NoError(t, res.err)
	assert.Empty(t, res.stdout)
}

func TestListenThenSend(t *testing.T) {
	dir := socketDir(t)
	path := filepath.Join(dir, "murmur-work.sock")

	out := &lockedBuffer{}
	root := NewRootCommand()
	root.SetArgs([]string{"--socket-dir", dir, "--log-level", "error", "listen", "work"})
	root.SetIn(strings.NewReader(""))
	root.SetOut(out)
	root.SetErr(&lockedBuffer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)

	// Lines from different senders have no relative order, so each
	// sender's output is awaited before the next one connects.
	res := run(t, dir, "", "send", "work", "hello")
	require.NoError(t, res.err)
	require.Eventually(t, func() bool {
		return out.String() == "hello\n"
	}, 5*time.Second, 5*time.Millisecond)

	res = run(t, dir, "from\n\nstdin\n", "send", "work")
	require.NoError(t, res.err)

	require.Eventually(t, func() bool {
		return out.String() == "hello\nfrom\nstdin\n"
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err, "an interrupted listener exits cleanly")
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop")
	}
	assert.NoFileExists(t, path)
}

func TestSendWaitTimesOut(t *testing.T) {
	dir := socketDir(t)

	res := run(t, dir, "", "send", "--wait", "--timeout", "0.1", "ghost", "hello")
	require.Error(t, res.err)
	assert.Equal(t, types.ErrCodeConnectTimeout, types.GetErrorCode(res.err))
	assert.Equal(t, "timeout after 0.1s waiting for channel 'ghost'. Start a listener with: murmur listen ghost", res.err.Error())
}

func TestSendWithoutListener(t *testing.T) {
	dir := socketDir(t)

	res := run(t, dir, "", "send", "ghost", "hello")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "no listener on channel 'ghost'")
}

func TestBanners(t *testing.T) {
	var buf bytes.Buffer
	b := newBannerPrinter(&buf)

	b.role(session.RoleEvent{Mode: session.ModeDuplex, Channel: "team", Path: "/tmp/murmur-team.sock", Role: ipc.Host})
	assert.Contains(t, buf.String(), `murmur channel "team" ready (server mode)`)
	assert.Contains(t, buf.String(), `murmur send --reply team "question"`)
	assert.Contains(t, buf.String(), `echo "msg" | nc -U /tmp/murmur-team.sock`)
	assert.NotContains(t, buf.String(), "\x1b[", "no styling off a terminal")

	buf.Reset()
	b.role(session.RoleEvent{Mode: session.ModeDuplex, Channel: "team", Role: ipc.Peer})
	assert.Contains(t, buf.String(), `murmur channel "team" connected (client mode)`)

	buf.Reset()
	b.role(session.RoleEvent{Mode: session.ModeListen, Channel: "team", Role: ipc.Host})
	assert.Empty(t, buf.String())
}
