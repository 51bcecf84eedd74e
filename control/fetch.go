package control

import (
	"context"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
)

// FetchJob describes an accepted FETCH for the relay's forward package to
// stream. control/ only decides whether a FETCH is answerable and from
// which upstream subscription's cache; it has no transport.Connection to
// open the dedicated response stream on, so streaming is handed off to a
// FetchStreamer the relay wiring layer supplies.
type FetchJob struct {
	RequestID   uint64
	Session     relation.SessionID
	Upstream    relation.SubKey
	GroupOrder  byte
	StartGroup  uint64
	StartObject uint64
	EndGroup    uint64
	EndObject   uint64
}

// FetchStreamer streams an accepted FETCH's objects to the requesting
// session. Set via SetFetchStreamer before any FETCH traffic arrives.
type FetchStreamer func(ctx context.Context, job FetchJob)

// SetFetchStreamer installs the callback HandleFetch invokes once a FETCH is
// accepted and FETCH_OK has been sent.
func (h *Handler) SetFetchStreamer(f FetchStreamer) {
	h.onFetch = f
}

// HandleFetch answers a FETCH purely from whatever this relay already has
// cached for the track (a deliberate scope decision: unlike SUBSCRIBE, FETCH
// never creates or waits on a new upstream subscription — a one-shot bounded
// read is not worth the latency of a round trip to a publisher that may not
// even be reachable). A track with no active upstream subscription, or an
// upstream subscription with nothing cached yet, is answered with
// FETCH_ERROR{TrackDoesNotExist}.
func (h *Handler) HandleFetch(ctx context.Context, msg moq.Fetch) error {
	if err := h.fetchSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.fetchSem.Release(1)

	pubSession, found, err := h.sess.Relation.IsNamespaceAnnounced(ctx, msg.TrackNamespace)
	if err != nil {
		return err
	}
	if !found {
		return h.send(ctx, moq.MsgFetchError, moq.FetchError{
			RequestID:    msg.RequestID,
			ErrorCode:    moq.ErrCodeTrackDoesNotExist,
			ReasonPhrase: "no publisher currently announces this namespace",
		}.Encode())
	}

	track := relation.Track{Namespace: msg.TrackNamespace, Name: msg.TrackName}
	upKey, found, err := h.sess.Relation.FindUpstreamSubscription(ctx, pubSession, track)
	if err != nil {
		return err
	}
	if !found {
		return h.send(ctx, moq.MsgFetchError, moq.FetchError{
			RequestID:    msg.RequestID,
			ErrorCode:    moq.ErrCodeTrackDoesNotExist,
			ReasonPhrase: "track has no active subscription to source objects from",
		}.Encode())
	}

	cacheKey := cache.Key{Session: upKey.Session, SubscribeID: upKey.ID}
	shape, err := h.sess.Cache.GetShape(ctx, cacheKey)
	if err != nil {
		return err
	}

	largestGroup, largestObject, ok, err := h.largestCached(ctx, cacheKey, shape)
	if err != nil {
		return err
	}
	if !ok {
		return h.send(ctx, moq.MsgFetchError, moq.FetchError{
			RequestID:    msg.RequestID,
			ErrorCode:    moq.ErrCodeTrackDoesNotExist,
			ReasonPhrase: "no objects cached for this track yet",
		}.Encode())
	}

	if err := h.send(ctx, moq.MsgFetchOk, moq.FetchOk{
		RequestID:     msg.RequestID,
		GroupOrder:    msg.GroupOrder,
		LargestGroup:  largestGroup,
		LargestObject: largestObject,
		Params:        moq.NewParameters(),
	}.Encode()); err != nil {
		return err
	}

	if h.onFetch != nil {
		h.onFetch(ctx, FetchJob{
			RequestID:   msg.RequestID,
			Session:     h.sess.ID,
			Upstream:    upKey,
			GroupOrder:  msg.GroupOrder,
			StartGroup:  msg.StartGroup,
			StartObject: msg.StartObject,
			EndGroup:    msg.EndGroup,
			EndObject:   msg.EndObject,
		})
	}
	return nil
}

func (h *Handler) largestCached(ctx context.Context, key cache.Key, shape cache.Shape) (group, object uint64, found bool, err error) {
	switch shape {
	case cache.ShapeDatagram:
		dc, err := h.sess.Cache.GetOrCreateDatagram(ctx, key)
		if err != nil {
			return 0, 0, false, err
		}
		group, found, err = dc.GetLargestGroupID(ctx)
		if err != nil || !found {
			return 0, 0, found, err
		}
		object, _, err = dc.GetLargestObjectID(ctx)
		return group, object, true, err
	case cache.ShapeSubgroup:
		sc, err := h.sess.Cache.GetOrCreateSubgroup(ctx, key)
		if err != nil {
			return 0, 0, false, err
		}
		group, found, err = sc.GetLargestGroupID(ctx)
		if err != nil || !found {
			return 0, 0, found, err
		}
		object, _, err = sc.GetLargestObjectID(ctx, group)
		return group, object, true, err
	default:
		return 0, 0, false, nil
	}
}

// HandleFetchCancel accepts FETCH_CANCEL and does nothing with it. The
// response stream is not tracked by request id anywhere, and HandleFetch
// runs the FetchStreamer to completion before returning, so a FETCH's
// stream is already finished by the time a later FETCH_CANCEL is read.
func (h *Handler) HandleFetchCancel(ctx context.Context, msg moq.FetchCancel) error {
	return nil
}
