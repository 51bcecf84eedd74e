package session

import (
	"context"
	"log/slog"

	"github.com/zsiec/moqrelay/relation"
)

// Registry is a process-wide session_id -> Context lookup, parallel to
// Dispatcher's session_id -> outbox map. A control handler that forwards a
// request to a different session (e.g. relaying SUBSCRIBE upstream to the
// publisher that announced a namespace) needs that session's own Context
// to register the one-shot reply slot the eventual SUBSCRIBE_OK/ERROR
// completes — RegisterReply/CompleteReply are tied to the Context instance
// whose control-read loop will observe the reply, not to the session that
// originated the forwarded request. Actor-shaped like Dispatcher and
// SignalDispatcher.
type Registry struct {
	log  *slog.Logger
	cmds chan func()

	contexts map[relation.SessionID]*Context
}

// NewRegistry constructs an empty session Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "session-registry"),
		cmds:     make(chan func()),
		contexts: make(map[relation.SessionID]*Context),
	}
}

// Run serves commands until ctx is canceled.
func (r *Registry) Run(ctx context.Context) error {
	r.log.Debug("session registry started")
	defer r.log.Debug("session registry stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-r.cmds:
			cmd()
		}
	}
}

func (r *Registry) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.cmds <- wrapped:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Register associates id with its Context.
func (r *Registry) Register(ctx context.Context, id relation.SessionID, sess *Context) error {
	return r.do(ctx, func() {
		r.contexts[id] = sess
	})
}

// Unregister removes id's Context.
func (r *Registry) Unregister(ctx context.Context, id relation.SessionID) error {
	return r.do(ctx, func() {
		delete(r.contexts, id)
	})
}

// Get returns the Context registered for id, if any.
func (r *Registry) Get(ctx context.Context, id relation.SessionID) (*Context, bool, error) {
	var (
		sess  *Context
		found bool
	)
	runErr := r.do(ctx, func() {
		sess, found = r.contexts[id]
	})
	return sess, found, runErr
}
