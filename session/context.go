package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/relation"
)

// ErrUnknownRequestID is returned when completing a reply for a request id
// that was never registered.
var ErrUnknownRequestID = errors.New("session: no reply slot registered for this request id")

// ErrDuplicateReply is returned when a request id's reply has already been
// completed once; a second completion is a protocol violation (spec §4.2).
var ErrDuplicateReply = errors.New("session: reply already completed for this request id")

// ReplyMessage is what fills a one-shot reply slot: the control message
// type and encoded payload a pending request eventually receives.
type ReplyMessage struct {
	Type    uint64
	Payload []byte
}

// ReplySlot is a one-shot channel a caller blocks on to receive the reply
// to a specific outbound request id.
type ReplySlot chan ReplyMessage

// EventKind distinguishes the variants of Event (spec §4.2, §6).
type EventKind int

const (
	EventPublishNamespace EventKind = iota
	EventSubscribeNamespace
	EventPublish
	EventSubscribe
	EventProtocolViolation
)

// Event is an application-facing notification emitted by a Context as it
// processes control messages. Namespace/TrackName/RequestID are populated
// according to Kind; Err is populated only for EventProtocolViolation.
type Event struct {
	Kind      EventKind
	Namespace []string
	TrackName string
	RequestID uint64
	Err       error
}

// EventHandler observes events emitted by a Context. The relay's control
// package is the sole consumer in this implementation; EventHandler exists
// as the extension point spec.md §6 describes for a hosting application
// that wants to intercept publish/subscribe/announce decisions itself.
type EventHandler func(Event)

// Context is the Session Context (spec §4.2): one per QUIC/WebTransport
// connection. It owns the outbound request-id counter and reply slots; the
// actual control/data stream I/O is owned by the caller (control/forward
// packages), not by Context itself.
type Context struct {
	ID  relation.SessionID
	log *slog.Logger

	Relation   *relation.Manager
	Cache      *cache.Registry
	Dispatcher *Dispatcher
	Signals    *SignalDispatcher
	Sessions   *Registry

	mu            sync.Mutex
	nextRequestID uint64
	replies       map[uint64]ReplySlot
	completed     map[uint64]struct{}
	onEvent       EventHandler
}

// NewContext constructs a Session Context bound to the process-wide
// registries every session shares (spec §9's "pass a small bundle of
// command-channel endpoints into every new session context").
func NewContext(id relation.SessionID, log *slog.Logger, rel *relation.Manager, cacheRegistry *cache.Registry, dispatcher *Dispatcher, signals *SignalDispatcher, sessions *Registry) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		ID:         id,
		log:        log.With("session", id),
		Relation:   rel,
		Cache:      cacheRegistry,
		Dispatcher: dispatcher,
		Signals:    signals,
		Sessions:   sessions,
		replies:    make(map[uint64]ReplySlot),
		completed:  make(map[uint64]struct{}),
	}
}

// SetEventHandler installs the callback EmitEvent invokes. Must be called
// before any control traffic is processed; it is not safe to change
// concurrently with EmitEvent.
func (c *Context) SetEventHandler(h EventHandler) {
	c.onEvent = h
}

// NextRequestID returns the next monotone outbound request id.
func (c *Context) NextRequestID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextRequestID++
	return c.nextRequestID
}

// RegisterReply creates a one-shot reply slot for id, replacing any
// previous slot registered for that id.
func (c *Context) RegisterReply(id uint64) ReplySlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := make(ReplySlot, 1)
	c.replies[id] = slot
	delete(c.completed, id)
	return slot
}

// CompleteReply delivers msg to the reply slot registered for id. Calling
// it a second time for the same id (without an intervening RegisterReply)
// is a protocol violation.
func (c *Context) CompleteReply(id uint64, msg ReplyMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.completed[id]; done {
		return ErrDuplicateReply
	}
	slot, ok := c.replies[id]
	if !ok {
		return ErrUnknownRequestID
	}
	slot <- msg
	close(slot)
	delete(c.replies, id)
	c.completed[id] = struct{}{}
	return nil
}

// EmitEvent delivers ev to the installed EventHandler, if any.
func (c *Context) EmitEvent(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
