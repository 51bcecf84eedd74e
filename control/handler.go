package control

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
)

// Handler dispatches control messages for one session against the
// process-wide registries reachable through its session.Context. It is
// stateless beyond that context and a handful of negotiated/configured
// values, so one Handler is created per connection and discarded on close.
type Handler struct {
	log  *slog.Logger
	sess *session.Context

	// defaultMaxSubscribeID is used for setup_publisher/setup_subscriber
	// when the peer's CLIENT_SETUP did not carry max_subscribe_id itself.
	defaultMaxSubscribeID uint64

	// fetchSem bounds the number of FETCH requests this session serves
	// concurrently, so a peer issuing many overlapping FETCHes cannot pin
	// an unbounded number of goroutines walking the cache at once.
	fetchSem *semaphore.Weighted

	onFetch FetchStreamer
}

// Config bundles the values a Handler needs beyond its session.Context.
type Config struct {
	DefaultMaxSubscribeID uint64
	MaxConcurrentFetches  int64
}

// NewHandler constructs a Handler bound to sess.
func NewHandler(log *slog.Logger, sess *session.Context, cfg Config) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 8
	}
	return &Handler{
		log:                   log.With("component", "control-handler", "session", sess.ID),
		sess:                  sess,
		defaultMaxSubscribeID: cfg.DefaultMaxSubscribeID,
		fetchSem:              semaphore.NewWeighted(cfg.MaxConcurrentFetches),
	}
}

// send replies on this handler's own session's control stream.
func (h *Handler) send(ctx context.Context, msgType uint64, payload []byte) error {
	return h.sess.Dispatcher.Send(ctx, h.sess.ID, msgType, payload)
}

// sendTo sends a control message to a different session's control stream,
// used for fan-out (ANNOUNCE, ANNOUNCE_CANCEL) and for forwarding a request
// upstream to a publisher session.
func (h *Handler) sendTo(ctx context.Context, to relation.SessionID, msgType uint64, payload []byte) error {
	return h.sess.Dispatcher.Send(ctx, to, msgType, payload)
}
