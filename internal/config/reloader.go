package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ReloadCallback receives the configuration loaded by a reload
type ReloadCallback func(ctx context.Context, newConfig *Config) error

// Reloader re-reads the configuration when the process receives SIGHUP
// and passes it to the registered callbacks. Long-running channel
// sessions use it to change logging without dropping their sockets.
type Reloader struct {
	mu        sync.Mutex
	path      string
	overrides OverrideOptions
	current   *Config
	callbacks []ReloadCallback
	reloading bool
	signals   chan os.Signal
	cancel    context.CancelFunc
	reloads   int

	// OnError, when set, receives failures of signal-triggered reloads.
	OnError func(error)
}

// NewReloader creates a reloader for the configuration at path (empty
// means the default location). overrides are re-applied after every
// load so command-line flags keep precedence.
func NewReloader(path string, overrides OverrideOptions, initial *Config) *Reloader {
	return &Reloader{
		path:      path,
		overrides: overrides,
		current:   initial,
	}
}

// Start listens for SIGHUP until ctx is done or Stop is called
func (r *Reloader) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.signals = make(chan os.Signal, 1)
	signal.Notify(r.signals, syscall.SIGHUP)

	go r.handleSignals(ctx, r.signals)
}

// Stop stops listening for SIGHUP
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return
	}
	signal.Stop(r.signals)
	r.cancel()
	r.cancel = nil
}

func (r *Reloader) handleSignals(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			if err := r.Reload(ctx); err != nil && r.OnError != nil {
				r.OnError(err)
			}
		}
	}
}

// Reload loads the configuration again and runs the callbacks. The
// current configuration is replaced only when every callback succeeds.
// A reload requested while another is running is skipped.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	if r.reloading {
		r.mu.Unlock()
		return nil
	}
	r.reloading = true
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.reloading = false
		r.mu.Unlock()
	}()

	newConfig, err := Load(r.path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	newConfig.ApplyOverrides(r.overrides)
	if err := newConfig.Validate(); err != nil {
		return err
	}

	for i, callback := range callbacks {
		if err := callback(ctx, newConfig); err != nil {
			return fmt.Errorf("reload callback %d failed: %w", i, err)
		}
	}

	r.mu.Lock()
	r.current = newConfig
	r.reloads++
	r.mu.Unlock()
	return nil
}

// AddCallback registers a callback run on every reload
func (r *Reloader) AddCallback(callback ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Config returns the most recently applied configuration
func (r *Reloader) Config() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// String returns a string representation of the reloader
func (r *Reloader) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("Reloader{path: %q, callbacks: %d, reloads: %d}", r.path, len(r.callbacks), r.reloads)
}
