package control

import (
	"context"
	"errors"

	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
)

// HandleSubscribeNamespace registers a namespace prefix for this session and
// backfills ANNOUNCE for every namespace already announced that matches it,
// so a subscriber that registers interest after a publisher's ANNOUNCE still
// learns about it.
func (h *Handler) HandleSubscribeNamespace(ctx context.Context, msg moq.SubscribeNamespace) error {
	backfill, err := h.sess.Relation.RegisterSubscribedNamespacePrefix(ctx, h.sess.ID, msg.TrackNamespacePrefix)
	if err != nil {
		if errors.Is(err, relation.ErrNotSetUp) {
			return h.send(ctx, moq.MsgSubscribeNamespaceError, moq.SubscribeNamespaceError{
				TrackNamespacePrefix: msg.TrackNamespacePrefix,
				ErrorCode:            moq.ErrCodeUnauthorized,
				ReasonPhrase:         "session is not set up as a subscriber",
			}.Encode())
		}
		return err
	}

	if err := h.send(ctx, moq.MsgSubscribeNamespaceOk, moq.SubscribeNamespaceOk{TrackNamespacePrefix: msg.TrackNamespacePrefix}.Encode()); err != nil {
		return err
	}

	for _, ns := range backfill {
		payload := moq.Announce{TrackNamespace: ns, Params: moq.NewParameters()}.Encode()
		if err := h.send(ctx, moq.MsgAnnounce, payload); err != nil {
			h.log.Error("failed to backfill ANNOUNCE", "namespace", ns, "error", err)
		}
	}
	return nil
}

// HandleUnsubscribeNamespace withdraws a previously registered prefix.
func (h *Handler) HandleUnsubscribeNamespace(ctx context.Context, msg moq.UnsubscribeNamespace) error {
	return h.sess.Relation.UnregisterSubscribedNamespacePrefix(ctx, h.sess.ID, msg.TrackNamespacePrefix)
}
