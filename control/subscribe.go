package control

import (
	"context"

	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
)

// HandleSubscribe processes a SUBSCRIBE: validates the requested subscribe
// id and track alias, records a downstream subscription, then either reuses
// an existing upstream subscription to the same track or creates one and
// forwards SUBSCRIBE to the publisher session, blocking on that session's
// own reply slot for SUBSCRIBE_OK/SUBSCRIBE_ERROR before answering the
// downstream subscriber.
func (h *Handler) HandleSubscribe(ctx context.Context, msg moq.Subscribe) error {
	if unique, err := h.sess.Relation.IsDownstreamSubscribeIDUnique(ctx, h.sess.ID, msg.RequestID); err != nil {
		return err
	} else if !unique {
		return &moq.ViolationError{Reason: "reused subscribe_id"}
	}
	if underMax, err := h.sess.Relation.IsDownstreamSubscribeIDLessThanMax(ctx, h.sess.ID, msg.RequestID); err != nil {
		return err
	} else if !underMax {
		return &moq.ViolationError{Reason: "subscribe_id exceeds negotiated max_subscribe_id"}
	}
	if aliasUnique, err := h.sess.Relation.IsDownstreamTrackAliasUnique(ctx, h.sess.ID, msg.TrackAlias); err != nil {
		return err
	} else if !aliasUnique {
		return h.send(ctx, moq.MsgSubscribeError, moq.SubscribeError{
			RequestID:    msg.RequestID,
			ErrorCode:    moq.ErrCodeRetryTrackAlias,
			ReasonPhrase: "track alias already in use by another of your subscriptions",
			TrackAlias:   msg.TrackAlias + 1,
		}.Encode())
	}

	track := relation.Track{Namespace: msg.TrackNamespace, Name: msg.TrackName}
	params := relation.DownstreamSubscriptionParams{
		Track:       track,
		TrackAlias:  msg.TrackAlias,
		FilterType:  msg.FilterType,
		StartGroup:  msg.StartGroup,
		StartObject: msg.StartObject,
		EndGroup:    msg.EndGroup,
	}
	if err := h.sess.Relation.SetDownstreamSubscription(ctx, h.sess.ID, msg.RequestID, params); err != nil {
		return err
	}

	pubSession, found, err := h.sess.Relation.IsNamespaceAnnounced(ctx, msg.TrackNamespace)
	if err != nil {
		return err
	}
	if !found {
		_ = h.sess.Relation.DeleteDownstreamSubscription(ctx, h.sess.ID, msg.RequestID)
		return h.send(ctx, moq.MsgSubscribeError, moq.SubscribeError{
			RequestID:    msg.RequestID,
			ErrorCode:    moq.ErrCodeTrackDoesNotExist,
			ReasonPhrase: "no publisher currently announces this namespace",
		}.Encode())
	}

	if upKey, reused, err := h.sess.Relation.FindUpstreamSubscription(ctx, pubSession, track); err != nil {
		return err
	} else if reused {
		return h.attachToExistingUpstream(ctx, msg, upKey)
	}
	return h.createUpstreamSubscription(ctx, msg, pubSession, track)
}

// attachToExistingUpstream relates a new downstream subscription to an
// upstream subscription this relay already maintains for the track, without
// sending another SUBSCRIBE upstream.
func (h *Handler) attachToExistingUpstream(ctx context.Context, msg moq.Subscribe, upKey relation.SubKey) error {
	if err := h.sess.Relation.SetPubSubRelation(ctx, upKey.Session, upKey.ID, h.sess.ID, msg.RequestID); err != nil {
		return err
	}
	if _, err := h.sess.Relation.ActivateDownstreamSubscription(ctx, h.sess.ID, msg.RequestID); err != nil {
		return err
	}

	return h.send(ctx, moq.MsgSubscribeOk, moq.SubscribeOk{
		RequestID:  msg.RequestID,
		TrackAlias: msg.TrackAlias,
		GroupOrder: msg.GroupOrder,
		Params:     moq.NewParameters(),
	}.Encode())
}

// createUpstreamSubscription allocates a new upstream subscription and
// forwards SUBSCRIBE to the publisher session, waiting on that session's own
// reply slot for the SUBSCRIBE_OK/SUBSCRIBE_ERROR this relay's forwarded
// request will eventually receive.
func (h *Handler) createUpstreamSubscription(ctx context.Context, msg moq.Subscribe, pubSession relation.SessionID, track relation.Track) error {
	upID, upAlias, err := h.sess.Relation.SetUpstreamSubscription(ctx, pubSession, track)
	if err != nil {
		return err
	}

	pubCtx, found, err := h.sess.Sessions.Get(ctx, pubSession)
	if err != nil {
		return err
	}
	if !found {
		_ = h.sess.Relation.DeleteUpstreamSubscription(ctx, pubSession, upID)
		_ = h.sess.Relation.DeleteDownstreamSubscription(ctx, h.sess.ID, msg.RequestID)
		return h.send(ctx, moq.MsgSubscribeError, moq.SubscribeError{
			RequestID:    msg.RequestID,
			ErrorCode:    moq.ErrCodeInternalError,
			ReasonPhrase: "publisher session is no longer available",
		}.Encode())
	}

	// The wire's RequestID doubles as the subscribe_id a publisher echoes
	// back in every subsequent subgroup-stream header for this track, so it
	// must be upID itself — the same id relation.Manager tracks this
	// upstream subscription under — not an independently incremented
	// counter, or the receiver could never map an inbound header back to
	// the upstream subscription that caused it.
	slot := pubCtx.RegisterReply(upID)

	upstreamSubscribe := moq.Subscribe{
		RequestID:          upID,
		TrackAlias:         upAlias,
		TrackNamespace:     track.Namespace,
		TrackName:          track.Name,
		SubscriberPriority: msg.SubscriberPriority,
		GroupOrder:         msg.GroupOrder,
		Forward:            msg.Forward,
		FilterType:         msg.FilterType,
		StartGroup:         msg.StartGroup,
		StartObject:        msg.StartObject,
		EndGroup:           msg.EndGroup,
		Params:             moq.NewParameters(),
	}
	if err := h.sendTo(ctx, pubSession, moq.MsgSubscribe, upstreamSubscribe.Encode()); err != nil {
		_ = h.sess.Relation.DeleteUpstreamSubscription(ctx, pubSession, upID)
		_ = h.sess.Relation.DeleteDownstreamSubscription(ctx, h.sess.ID, msg.RequestID)
		return err
	}

	var reply session.ReplyMessage
	select {
	case reply = <-slot:
	case <-ctx.Done():
		return ctx.Err()
	}

	switch reply.Type {
	case moq.MsgSubscribeOk:
		return h.onUpstreamSubscribeOk(ctx, msg, pubSession, upID, reply.Payload)
	case moq.MsgSubscribeError:
		return h.onUpstreamSubscribeError(ctx, msg, pubSession, upID, reply.Payload)
	default:
		return &moq.ViolationError{Reason: "unexpected reply type to forwarded SUBSCRIBE"}
	}
}

func (h *Handler) onUpstreamSubscribeOk(ctx context.Context, msg moq.Subscribe, pubSession relation.SessionID, upID uint64, payload []byte) error {
	ok, err := moq.DecodeSubscribeOk(payload)
	if err != nil {
		return err
	}
	if _, err := h.sess.Relation.ActivateUpstreamSubscription(ctx, pubSession, upID); err != nil {
		return err
	}
	if err := h.sess.Relation.SetPubSubRelation(ctx, pubSession, upID, h.sess.ID, msg.RequestID); err != nil {
		return err
	}
	if _, err := h.sess.Relation.ActivateDownstreamSubscription(ctx, h.sess.ID, msg.RequestID); err != nil {
		return err
	}
	return h.send(ctx, moq.MsgSubscribeOk, moq.SubscribeOk{
		RequestID:     msg.RequestID,
		TrackAlias:    msg.TrackAlias,
		ExpiresMs:     ok.ExpiresMs,
		GroupOrder:    ok.GroupOrder,
		ContentExists: ok.ContentExists,
		LargestGroup:  ok.LargestGroup,
		LargestObject: ok.LargestObject,
		Params:        moq.NewParameters(),
	}.Encode())
}

func (h *Handler) onUpstreamSubscribeError(ctx context.Context, msg moq.Subscribe, pubSession relation.SessionID, upID uint64, payload []byte) error {
	errMsg, err := moq.DecodeSubscribeError(payload)
	if err != nil {
		return err
	}
	_ = h.sess.Relation.DeleteUpstreamSubscription(ctx, pubSession, upID)
	_ = h.sess.Relation.DeleteDownstreamSubscription(ctx, h.sess.ID, msg.RequestID)
	return h.send(ctx, moq.MsgSubscribeError, moq.SubscribeError{
		RequestID:    msg.RequestID,
		ErrorCode:    errMsg.ErrorCode,
		ReasonPhrase: errMsg.ReasonPhrase,
	}.Encode())
}

// HandleUnsubscribe tears down one downstream subscription: it signals every
// data-stream task the subscription drove to stop, then removes it from the
// relation manager. Unsubscribing a subscription that no longer exists
// (already ended, e.g. via SUBSCRIBE_DONE) is a no-op rather than an error.
func (h *Handler) HandleUnsubscribe(ctx context.Context, msg moq.Unsubscribe) error {
	coords, err := h.sess.Relation.GetDownstreamSubscriptionStreams(ctx, h.sess.ID, msg.RequestID)
	if err != nil {
		if err == relation.ErrSubscriptionMissing {
			return nil
		}
		return err
	}
	h.terminateSubscriptionStreams(ctx, msg.RequestID, coords)
	return h.sess.Relation.DeleteDownstreamSubscription(ctx, h.sess.ID, msg.RequestID)
}

func (h *Handler) terminateSubscriptionStreams(ctx context.Context, subID uint64, coords []relation.StreamCoord) {
	if len(coords) == 0 {
		key := session.TaskKey{Session: h.sess.ID, SubscribeID: subID}
		if err := h.sess.Signals.Terminate(ctx, key, session.TerminateUnsubscribed); err != nil {
			h.log.Error("failed to terminate subscription task", "subscribe_id", subID, "error", err)
		}
		return
	}
	for _, coord := range coords {
		key := session.TaskKey{Session: h.sess.ID, SubscribeID: subID, GroupID: coord.GroupID, SubgroupID: coord.SubgroupID, HasSubgroup: true}
		if err := h.sess.Signals.Terminate(ctx, key, session.TerminateUnsubscribed); err != nil {
			h.log.Error("failed to terminate subscription task", "subscribe_id", subID, "group", coord.GroupID, "subgroup", coord.SubgroupID, "error", err)
		}
	}
}
