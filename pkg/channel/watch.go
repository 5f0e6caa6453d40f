package channel

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/baaaht/murmur/pkg/types"
)

// EventOp is the kind of change a watch reports.
type EventOp int

const (
	// Added means a socket file for the channel appeared.
	Added EventOp = iota
	// Removed means the socket file went away.
	Removed
)

func (op EventOp) String() string {
	if op == Added {
		return "+"
	}
	return "-"
}

// Event is a change to the set of channel socket files.
type Event struct {
	Name string
	Op   EventOp
}

func (e Event) String() string {
	return e.Op.String() + e.Name
}

// Watch reports socket files appearing in and disappearing from the
// channel directory until ctx is done. The returned channel is closed
// once the watch ends.
func (r *FSRegistry) Watch(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to create watcher", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return nil, types.WrapError(types.ErrCodeInternal, "failed to watch "+r.dir, err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, ok := r.nameFromFile(filepath.Base(ev.Name))
				if !ok {
					continue
				}

				var out Event
				switch {
				case ev.Has(fsnotify.Create):
					out = Event{Name: name, Op: Added}
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					out = Event{Name: name, Op: Removed}
				default:
					continue
				}

				select {
				case events <- out:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Watch error", "error", err)
			}
		}
	}()

	return events, nil
}
