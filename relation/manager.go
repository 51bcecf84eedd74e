package relation

import (
	"context"
	"log/slog"

	"github.com/zsiec/moqrelay/moq"
)

// Track is the exported, immutable view of a published track's identity.
type Track struct {
	Namespace moq.Namespace
	Name      string
}

// UpstreamView is a snapshot of an upstream subscription's public fields.
type UpstreamView struct {
	Track       Track
	TrackAlias  uint64
	State       SubscriptionState
	ForwardPref ForwardPreference
}

// DownstreamView is a snapshot of a downstream subscription's public fields.
type DownstreamView struct {
	Track       Track
	TrackAlias  uint64
	State       SubscriptionState
	ForwardPref ForwardPreference
	FilterType  uint64
	StartGroup  uint64
	StartObject uint64
	EndGroup    uint64
	Upstream    SubKey
	HasUpstream bool
}

// state is the registry's actual data, touched only from the actor loop
// goroutine.
type state struct {
	publishers  map[SessionID]*publisherState
	subscribers map[SessionID]*subscriberState
	upstream    map[SubKey]*upstreamSubscription
	downstream  map[SubKey]*downstreamSubscription
}

func newState() *state {
	return &state{
		publishers:  make(map[SessionID]*publisherState),
		subscribers: make(map[SessionID]*subscriberState),
		upstream:    make(map[SubKey]*upstreamSubscription),
		downstream:  make(map[SubKey]*downstreamSubscription),
	}
}

// Manager is the process-wide pub/sub relation registry. See the package
// doc comment for its actor-based concurrency model.
type Manager struct {
	log  *slog.Logger
	cmds chan func()

	// st is touched only from the Run goroutine: every exported method
	// reaches it exclusively through closures sent over cmds.
	st *state
}

// NewManager constructs a Manager. Call Run in its own goroutine (e.g. via
// errgroup.Go) before issuing any other calls. If log is nil, slog.Default()
// is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:  log.With("component", "relation-manager"),
		cmds: make(chan func()),
		st:   newState(),
	}
}

// Run serves commands until ctx is canceled. It owns all registry state; no
// other goroutine touches it directly.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("relation manager started")
	defer m.log.Info("relation manager stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-m.cmds:
			cmd()
		}
	}
}

// do enqueues fn to run on the actor loop and blocks until it completes or
// ctx is canceled. fn must not block and must not call back into Manager.
func (m *Manager) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.cmds <- wrapped:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
