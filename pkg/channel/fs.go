package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sys/unix"

	"github.com/baaaht/murmur/internal/config"
	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/types"
)

// FSRegistry is the Registry backed by socket files in one directory.
// The path of a channel is <dir>/<prefix><name><suffix>.
type FSRegistry struct {
	dir          string
	prefix       string
	suffix       string
	probeTimeout time.Duration
	logger       *logger.Logger
}

// Entry describes one socket file found in the channel directory.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	State State  `json:"state"`
}

// NewFSRegistry creates a registry over the configured socket directory
func NewFSRegistry(cfg config.ChannelConfig, probeTimeout time.Duration, log *logger.Logger) (*FSRegistry, error) {
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}
	if probeTimeout <= 0 {
		probeTimeout = config.DefaultProbeTimeout
	}

	return &FSRegistry{
		dir:          cfg.Dir,
		prefix:       cfg.Prefix,
		suffix:       cfg.Suffix,
		probeTimeout: probeTimeout,
		logger:       log.With("component", "channel_registry", "dir", cfg.Dir),
	}, nil
}

// Dir returns the directory holding the socket files.
func (r *FSRegistry) Dir() string {
	return r.dir
}

// Path returns the socket path for an already validated name.
func (r *FSRegistry) Path(name Name) string {
	return filepath.Join(r.dir, r.prefix+string(name)+r.suffix)
}

// Resolve validates name and returns its socket path.
func (r *FSRegistry) Resolve(name string) (string, error) {
	n, err := ParseName(name)
	if err != nil {
		return "", err
	}
	return r.Path(n), nil
}

// Probe classifies path by checking for the entry and then dialing it.
func (r *FSRegistry) Probe(ctx context.Context, path string) State {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return Absent
		}
		r.logger.Debug("Socket entry not inspectable", "path", path, "error", err)
		return Stale
	}

	dialer := net.Dialer{Timeout: r.probeTimeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return Absent
		}
		r.logger.Debug("Probe connect failed", "path", path, "error", err)
		return Stale
	}
	conn.Close()
	return Active
}

// Reclaim removes a stale socket entry.
func (r *FSRegistry) Reclaim(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return types.WrapError(types.ErrCodeInternal, "failed to remove stale socket "+path, err)
	}
	r.logger.Info("Reclaimed stale socket", "path", path)
	return nil
}

// Release removes the socket entry, ignoring any failure.
func (r *FSRegistry) Release(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Debug("Failed to release socket", "path", path, "error", err)
		return
	}
	r.logger.Debug("Released socket", "path", path)
}

// nameFromFile extracts the channel name from a socket file name.
func (r *FSRegistry) nameFromFile(file string) (string, bool) {
	if len(file) <= len(r.prefix)+len(r.suffix) {
		return "", false
	}
	if !strings.HasPrefix(file, r.prefix) || !strings.HasSuffix(file, r.suffix) {
		return "", false
	}
	return file[len(r.prefix) : len(file)-len(r.suffix)], true
}

// List returns the names of every socket file in the directory, in
// lexical order. Entries are not probed, so stale ones are included.
func (r *FSRegistry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to read socket directory "+r.dir, err)
	}

	return lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if e.IsDir() {
			return "", false
		}
		return r.nameFromFile(e.Name())
	}), nil
}

// Entries lists the channel directory and probes every entry.
func (r *FSRegistry) Entries(ctx context.Context) ([]Entry, error) {
	names, err := r.List()
	if err != nil {
		return nil, err
	}

	return lo.Map(names, func(name string, _ int) Entry {
		path := filepath.Join(r.dir, r.prefix+name+r.suffix)
		return Entry{Name: name, Path: path, State: r.Probe(ctx, path)}
	}), nil
}

// Remove deletes the socket file of the named channel without probing
// it. It reports false when there was nothing to remove.
func (r *FSRegistry) Remove(name string) (bool, error) {
	path, err := r.Resolve(name)
	if err != nil {
		return false, err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, types.WrapError(types.ErrCodeInternal, fmt.Sprintf("failed to remove %s", path), err)
	}
	r.logger.Info("Removed channel socket", "channel", name, "path", path)
	return true, nil
}

// String returns a string representation of the registry
func (r *FSRegistry) String() string {
	return fmt.Sprintf("FSRegistry{Dir: %s, Pattern: %s<name>%s}", r.dir, r.prefix, r.suffix)
}
