package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zsiec/moqrelay/relation"
)

// ErrSessionNotRegistered is returned when dispatching to a session that
// has no outbox registered (already torn down, or never set up).
var ErrSessionNotRegistered = errors.New("session: no outbox registered for session")

// OutboundMessage is a control message queued for delivery to a session's
// control stream.
type OutboundMessage struct {
	Type    uint64
	Payload []byte
}

// Dispatcher is the process-wide Control-Message Dispatcher (spec §4.5,
// §5): a map from session id to that session's outbound-message channel,
// reachable from any control handler regardless of which session's
// request triggered the dispatch (e.g. fanning an ANNOUNCE out to every
// matching subscriber). Like relation.Manager, registration/lookup is
// serialized through a command channel; the actual channel send to a
// session's outbox happens outside the actor loop so one slow consumer
// cannot stall dispatch to every other session.
type Dispatcher struct {
	log  *slog.Logger
	cmds chan func()

	outboxes map[relation.SessionID]chan OutboundMessage
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:      log.With("component", "control-dispatcher"),
		cmds:     make(chan func()),
		outboxes: make(map[relation.SessionID]chan OutboundMessage),
	}
}

// Run serves commands until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Debug("control dispatcher started")
	defer d.log.Debug("control dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-d.cmds:
			cmd()
		}
	}
}

func (d *Dispatcher) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d.cmds <- wrapped:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Register creates session's outbox with the given buffer size and
// returns the receive end for its control-writer loop to drain.
func (d *Dispatcher) Register(ctx context.Context, session relation.SessionID, buffer int) (<-chan OutboundMessage, error) {
	var ch chan OutboundMessage
	runErr := d.do(ctx, func() {
		ch = make(chan OutboundMessage, buffer)
		d.outboxes[session] = ch
	})
	if runErr != nil {
		return nil, runErr
	}
	return ch, nil
}

// Unregister removes and closes session's outbox.
func (d *Dispatcher) Unregister(ctx context.Context, session relation.SessionID) error {
	return d.do(ctx, func() {
		if ch, ok := d.outboxes[session]; ok {
			close(ch)
			delete(d.outboxes, session)
		}
	})
}

// Send enqueues a control message for delivery to session's control
// stream. It blocks if the session's outbox is full, applying natural
// backpressure without stalling dispatch to other sessions.
func (d *Dispatcher) Send(ctx context.Context, session relation.SessionID, msgType uint64, payload []byte) error {
	ch, err := d.lookup(ctx, session)
	if err != nil {
		return err
	}
	select {
	case ch <- OutboundMessage{Type: msgType, Payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) lookup(ctx context.Context, session relation.SessionID) (chan OutboundMessage, error) {
	var (
		ch  chan OutboundMessage
		err error
	)
	runErr := d.do(ctx, func() {
		c, ok := d.outboxes[session]
		if !ok {
			err = ErrSessionNotRegistered
			return
		}
		ch = c
	})
	if runErr != nil {
		return nil, runErr
	}
	return ch, err
}
