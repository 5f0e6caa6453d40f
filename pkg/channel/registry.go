package channel

import "context"

//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../../internal/mocks/mock_registry.go -package=mocks

// State is the observed liveness of a channel path. It is sampled on
// demand and may change before the caller acts on it.
type State int

const (
	// Absent means there is no filesystem entry at the path.
	Absent State = iota
	// Stale means an entry exists but nothing accepts connections on it.
	Stale
	// Active means a connect attempt on the path succeeded.
	Active
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Stale:
		return "stale"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Registry maps channel names to socket paths and classifies them.
type Registry interface {
	// Resolve validates name and returns its socket path. Invalid names
	// fail with *InvalidNameError before any filesystem access.
	Resolve(name string) (string, error)

	// Probe classifies the path as Absent, Stale or Active.
	Probe(ctx context.Context, path string) State

	// Reclaim removes an entry the caller has just classified as Stale.
	// It does not re-check liveness.
	Reclaim(path string) error

	// Release removes the entry on host shutdown. Failures are ignored.
	Release(path string)
}
