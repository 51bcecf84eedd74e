package session

import (
	"context"
	"log/slog"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/relation"
)

// Handler runs the teardown sequence for a closing session (spec §4.9).
// It is stateless: all the state it acts on lives in the four process-wide
// registries, references to which it holds only for the duration of Close.
type Handler struct {
	log        *slog.Logger
	relation   *relation.Manager
	cache      *cache.Registry
	dispatcher *Dispatcher
	signals    *SignalDispatcher
	sessions   *Registry
}

// NewHandler constructs a Handler bound to the process-wide registries.
func NewHandler(log *slog.Logger, rel *relation.Manager, cacheRegistry *cache.Registry, dispatcher *Dispatcher, signals *SignalDispatcher, sessions *Registry) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:        log.With("component", "session-handler"),
		relation:   rel,
		cache:      cacheRegistry,
		dispatcher: dispatcher,
		signals:    signals,
		sessions:   sessions,
	}
}

// Close runs the teardown sequence for session, in the order spec §4.9
// requires: enumerate every subscription the session owns in either
// direction, terminate every data-stream task those subscriptions drove,
// then purge the session from every registry that remembers it.
//
// Close is best-effort: it logs and continues past a failed step rather
// than aborting teardown partway, since a session that is closing cannot
// be made to retry.
func (h *Handler) Close(ctx context.Context, id relation.SessionID) {
	log := h.log.With("session", id)

	upstream, downstream, err := h.relation.GetSessionSubscriptions(ctx, id)
	if err != nil {
		log.Error("failed to enumerate session subscriptions during teardown", "error", err)
	}

	for _, sub := range upstream {
		h.terminateSubscriptionTasks(ctx, log, id, sub)
	}
	for _, sub := range downstream {
		h.terminateSubscriptionTasks(ctx, log, id, sub)
	}
	if err := h.signals.TerminateSession(ctx, id, TerminateSessionClosed); err != nil {
		log.Error("failed to terminate session's remaining signal tasks", "error", err)
	}

	if err := h.relation.DeleteClient(ctx, id); err != nil {
		log.Error("failed to purge session from relation manager", "error", err)
	}
	if err := h.cache.DeleteSession(ctx, id); err != nil {
		log.Error("failed to purge session from cache registry", "error", err)
	}
	if err := h.dispatcher.Unregister(ctx, id); err != nil {
		log.Error("failed to unregister session's control outbox", "error", err)
	}
	if h.sessions != nil {
		if err := h.sessions.Unregister(ctx, id); err != nil {
			log.Error("failed to unregister session's context", "error", err)
		}
	}

	log.Debug("session teardown complete")
}

// terminateSubscriptionTasks signals every data-stream task a subscription
// drove to stop. A subscription with recorded stream coordinates is
// subgroup-shaped: one task per (group, subgroup) pair. A subscription with
// none is either datagram-shaped or never received an object; either way a
// single datagram-shaped TaskKey (the zero coordinate, HasSubgroup false)
// is signaled for it. The forward package registers only subgroup-shaped
// tasks, so this signal reaches a task only if one was registered under
// that key.
func (h *Handler) terminateSubscriptionTasks(ctx context.Context, log *slog.Logger, id relation.SessionID, sub relation.SubscriptionStreams) {
	if len(sub.Streams) == 0 {
		key := TaskKey{Session: id, SubscribeID: sub.Key.ID}
		if err := h.signals.Terminate(ctx, key, TerminateSessionClosed); err != nil {
			log.Error("failed to terminate subscription task", "subscribe_id", sub.Key.ID, "error", err)
		}
		return
	}
	for _, coord := range sub.Streams {
		key := TaskKey{
			Session:     id,
			SubscribeID: sub.Key.ID,
			GroupID:     coord.GroupID,
			SubgroupID:  coord.SubgroupID,
			HasSubgroup: true,
		}
		if err := h.signals.Terminate(ctx, key, TerminateSessionClosed); err != nil {
			log.Error("failed to terminate subscription task", "subscribe_id", sub.Key.ID, "group", coord.GroupID, "subgroup", coord.SubgroupID, "error", err)
		}
	}
}
