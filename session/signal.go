package session

import (
	"context"
	"log/slog"

	"github.com/zsiec/moqrelay/relation"
)

// TaskKey identifies one data-stream forwarding task (spec §4.7): a single
// downstream delivery of one group/subgroup of one subscription.
type TaskKey struct {
	Session     relation.SessionID
	SubscribeID uint64
	GroupID     uint64
	SubgroupID  uint64
	HasSubgroup bool // false for datagram-shaped tasks, which have no subgroup id
}

// TerminateReason distinguishes why a running task is being asked to stop.
type TerminateReason int

const (
	TerminateUnsubscribed TerminateReason = iota
	TerminateSessionClosed
	TerminatePreferenceMismatch
	TerminateSubscribeDone
)

// Signal is delivered to a task's signal channel to ask it to stop.
type Signal struct {
	Reason TerminateReason
}

// SignalDispatcher is the process-wide Signal Dispatcher (spec §4.7, §4.9,
// §5): a registry of per-task signal channels used to terminate individual
// forwarding tasks or every task belonging to a session. Like Dispatcher,
// registration is actor-serialized; delivery is a non-blocking, idempotent
// send so a slow or already-exited task can never stall the caller.
type SignalDispatcher struct {
	log  *slog.Logger
	cmds chan func()

	tasks     map[TaskKey]chan Signal
	bySession map[relation.SessionID]map[TaskKey]struct{}
}

// NewSignalDispatcher constructs an empty SignalDispatcher.
func NewSignalDispatcher(log *slog.Logger) *SignalDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &SignalDispatcher{
		log:       log.With("component", "signal-dispatcher"),
		cmds:      make(chan func()),
		tasks:     make(map[TaskKey]chan Signal),
		bySession: make(map[relation.SessionID]map[TaskKey]struct{}),
	}
}

// Run serves commands until ctx is canceled.
func (s *SignalDispatcher) Run(ctx context.Context) error {
	s.log.Debug("signal dispatcher started")
	defer s.log.Debug("signal dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.cmds:
			cmd()
		}
	}
}

func (s *SignalDispatcher) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.cmds <- wrapped:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Register creates key's signal channel (buffered 1, so Terminate never
// blocks) and returns the receive end for the task's loop to select on.
func (s *SignalDispatcher) Register(ctx context.Context, key TaskKey) (<-chan Signal, error) {
	var ch chan Signal
	err := s.do(ctx, func() {
		ch = make(chan Signal, 1)
		s.tasks[key] = ch
		set, ok := s.bySession[key.Session]
		if !ok {
			set = make(map[TaskKey]struct{})
			s.bySession[key.Session] = set
		}
		set[key] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Unregister removes key's signal channel. Tasks call this themselves on
// exit, in addition to any Terminate-driven exit, so a task that ends on
// its own (e.g. SUBSCRIBE_DONE) still cleans up its registration.
func (s *SignalDispatcher) Unregister(ctx context.Context, key TaskKey) error {
	return s.do(ctx, func() {
		delete(s.tasks, key)
		if set, ok := s.bySession[key.Session]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.bySession, key.Session)
			}
		}
	})
}

// Terminate asks the task registered for key to stop, for reason. It is a
// non-blocking, idempotent best-effort send: if the task's channel already
// holds an undelivered signal, or the task has already unregistered, the
// call is a no-op.
func (s *SignalDispatcher) Terminate(ctx context.Context, key TaskKey, reason TerminateReason) error {
	return s.do(ctx, func() {
		ch, ok := s.tasks[key]
		if !ok {
			return
		}
		select {
		case ch <- Signal{Reason: reason}:
		default:
		}
	})
}

// TerminateSession asks every task belonging to session to stop, for
// reason. Used by the Session Handler's teardown sequence (spec §4.9).
func (s *SignalDispatcher) TerminateSession(ctx context.Context, session relation.SessionID, reason TerminateReason) error {
	return s.do(ctx, func() {
		for key := range s.bySession[session] {
			ch := s.tasks[key]
			select {
			case ch <- Signal{Reason: reason}:
			default:
			}
		}
	})
}
