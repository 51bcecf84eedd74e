package control

import (
	"context"
	"errors"

	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
)

// HandleAnnounce processes an ANNOUNCE: records the namespace against this
// session in the relation manager, replies ANNOUNCE_OK, and fans ANNOUNCE
// out to every subscriber whose registered prefix matches it.
func (h *Handler) HandleAnnounce(ctx context.Context, msg moq.Announce) error {
	if err := h.sess.Relation.SetUpstreamAnnouncedNamespace(ctx, h.sess.ID, msg.TrackNamespace); err != nil {
		switch {
		case errors.Is(err, relation.ErrNamespaceAnnounced):
			return h.send(ctx, moq.MsgAnnounceError, moq.AnnounceError{
				TrackNamespace: msg.TrackNamespace,
				ErrorCode:      moq.ErrCodeProtocolViolation,
				ReasonPhrase:   "namespace already announced",
			}.Encode())
		case errors.Is(err, relation.ErrNotSetUp):
			return h.send(ctx, moq.MsgAnnounceError, moq.AnnounceError{
				TrackNamespace: msg.TrackNamespace,
				ErrorCode:      moq.ErrCodeUnauthorized,
				ReasonPhrase:   "session is not set up as a publisher",
			}.Encode())
		default:
			return err
		}
	}

	if err := h.send(ctx, moq.MsgAnnounceOk, moq.AnnounceOk{TrackNamespace: msg.TrackNamespace}.Encode()); err != nil {
		return err
	}

	subs, err := h.sess.Relation.GetDownstreamSessionsByUpstreamNamespace(ctx, msg.TrackNamespace)
	if err != nil {
		return err
	}
	payload := moq.Announce{TrackNamespace: msg.TrackNamespace, Params: moq.NewParameters()}.Encode()
	for _, sub := range subs {
		if err := h.sendTo(ctx, sub, moq.MsgAnnounce, payload); err != nil {
			h.log.Error("failed to fan out ANNOUNCE", "to_session", sub, "error", err)
		}
	}
	return h.sess.Relation.MarkNamespaceAnnouncedToSubscribers(ctx, msg.TrackNamespace, subs)
}

// HandleUnannounce withdraws a namespace this session previously announced,
// notifying every subscriber that had been told about it.
func (h *Handler) HandleUnannounce(ctx context.Context, msg moq.Unannounce) error {
	return h.withdrawNamespace(ctx, msg.TrackNamespace, moq.ErrCodeNone, "unannounced")
}

// HandleAnnounceCancel is the same withdrawal path as HandleUnannounce, but
// for a publisher retracting a namespace it announced before any subscriber
// acted on it (SUPPLEMENTED FEATURES: ANNOUNCE_CANCEL/UNANNOUNCE symmetry).
func (h *Handler) HandleAnnounceCancel(ctx context.Context, msg moq.AnnounceCancel) error {
	return h.withdrawNamespace(ctx, msg.TrackNamespace, msg.ErrorCode, msg.ReasonPhrase)
}

func (h *Handler) withdrawNamespace(ctx context.Context, ns moq.Namespace, code uint64, reason string) error {
	subs, err := h.sess.Relation.GetDownstreamSessionsByUpstreamNamespace(ctx, ns)
	if err != nil {
		return err
	}
	if err := h.sess.Relation.UnannounceNamespace(ctx, h.sess.ID, ns); err != nil {
		return err
	}

	payload := moq.AnnounceCancel{TrackNamespace: ns, ErrorCode: code, ReasonPhrase: reason}.Encode()
	for _, sub := range subs {
		if err := h.sendTo(ctx, sub, moq.MsgAnnounceCancel, payload); err != nil {
			h.log.Error("failed to fan out ANNOUNCE_CANCEL", "to_session", sub, "error", err)
		}
	}
	return nil
}
