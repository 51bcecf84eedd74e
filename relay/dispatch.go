package relay

import (
	"context"
	"fmt"

	"github.com/zsiec/moqrelay/control"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
)

// dispatchControl handles one decoded control message for sess. It first
// gives h.HandleReply a chance to consume the message as the completion of
// a request this session's Context forwarded upstream (SUBSCRIBE_OK/ERROR,
// FETCH_OK/ERROR); anything not consumed that way is a request this relay
// must act on directly.
//
// Any returned error is a tier-3 violation per spec §7: the caller tears the
// whole session down rather than trying to keep reading. Tier-1/tier-2
// errors are already handled inside the control/forward packages themselves
// (an *_ERROR reply sent, or a forwarder task exiting) and never surface
// here as an error.
func (r *Relay) dispatchControl(ctx context.Context, h *control.Handler, sess *session.Context, msgType uint64, payload []byte) error {
	if consumed, err := h.HandleReply(msgType, payload); err != nil {
		return err
	} else if consumed {
		return nil
	}

	switch msgType {
	case moq.MsgClientSetup:
		msg, err := moq.DecodeClientSetup(payload)
		if err != nil {
			return err
		}
		return h.HandleSetup(ctx, msg)

	case moq.MsgSubscribe:
		msg, err := moq.DecodeSubscribe(payload)
		if err != nil {
			return err
		}
		if err := h.HandleSubscribe(ctx, msg); err != nil {
			return err
		}
		r.backfillSubscription(ctx, sess, msg)
		return nil

	case moq.MsgUnsubscribe:
		msg, err := moq.DecodeUnsubscribe(payload)
		if err != nil {
			return err
		}
		return h.HandleUnsubscribe(ctx, msg)

	case moq.MsgAnnounce:
		msg, err := moq.DecodeAnnounce(payload)
		if err != nil {
			return err
		}
		return h.HandleAnnounce(ctx, msg)

	case moq.MsgUnannounce:
		msg, err := moq.DecodeUnannounce(payload)
		if err != nil {
			return err
		}
		return h.HandleUnannounce(ctx, msg)

	case moq.MsgAnnounceCancel:
		msg, err := moq.DecodeAnnounceCancel(payload)
		if err != nil {
			return err
		}
		return h.HandleAnnounceCancel(ctx, msg)

	case moq.MsgSubscribeNamespace:
		msg, err := moq.DecodeSubscribeNamespace(payload)
		if err != nil {
			return err
		}
		return h.HandleSubscribeNamespace(ctx, msg)

	case moq.MsgUnsubscribeNamespace:
		msg, err := moq.DecodeUnsubscribeNamespace(payload)
		if err != nil {
			return err
		}
		return h.HandleUnsubscribeNamespace(ctx, msg)

	case moq.MsgGoAway:
		msg, err := moq.DecodeGoAway(payload)
		if err != nil {
			return err
		}
		return h.HandleGoAway(ctx, msg)

	case moq.MsgMaxSubscribeID:
		msg, err := moq.DecodeMaxSubscribeID(payload)
		if err != nil {
			return err
		}
		return h.HandleMaxSubscribeID(ctx, msg)

	case moq.MsgFetch:
		msg, err := moq.DecodeFetch(payload)
		if err != nil {
			return err
		}
		return h.HandleFetch(ctx, msg)

	case moq.MsgFetchCancel:
		msg, err := moq.DecodeFetchCancel(payload)
		if err != nil {
			return err
		}
		return h.HandleFetchCancel(ctx, msg)

	default:
		return &moq.ViolationError{Reason: fmt.Sprintf("unknown control message type %#x", msgType)}
	}
}

// backfillSubscription starts forwarders for whatever this relay already
// has cached for msg's track, on behalf of the downstream subscription
// HandleSubscribe just accepted. It re-derives the upstream subscription
// HandleSubscribe resolved internally rather than threading it back out,
// since control/ has no forward.Pipeline to call this through itself
// (forward/ already imports control/ for FetchJob, so the reverse import
// would cycle). Failure is logged and otherwise ignored: a late-joining
// subscriber that misses this backfill still receives every object the
// publisher sends from here on.
func (r *Relay) backfillSubscription(ctx context.Context, sess *session.Context, msg moq.Subscribe) {
	pubSession, found, err := r.Relation.IsNamespaceAnnounced(ctx, msg.TrackNamespace)
	if err != nil || !found {
		return
	}
	track := relation.Track{Namespace: msg.TrackNamespace, Name: msg.TrackName}
	upKey, found, err := r.Relation.FindUpstreamSubscription(ctx, pubSession, track)
	if err != nil || !found {
		return
	}
	down := relation.SubKey{Session: sess.ID, ID: msg.RequestID}
	if err := r.Pipeline.AttachDownstreamToUpstream(ctx, upKey, down); err != nil {
		r.log.Warn("failed to backfill downstream subscription", "session", sess.ID, "request_id", msg.RequestID, "error", err)
	}
}
