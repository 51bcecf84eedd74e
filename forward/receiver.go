package forward

import (
	"context"
	"io"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/transport"
)

// ReceiveUniStream is the Data-Stream Receiver: it consumes one publisher-
// opened unidirectional stream on the given session — a subgroup header
// followed by a sequence of objects — inserting every object into the cache
// as it arrives. The upstream subscription a stream belongs to is carried
// in the header itself (subscribe_id), not known by the caller in advance,
// since a publisher may multiplex objects for many of its own upstream
// subscriptions across the same connection. Once the header is decoded, and
// before any object is read, it locks the upstream subscription's forwarding
// preference to Subgroup and starts a forwarder task for every downstream
// subscription currently attached to it.
//
// Only the subgroup-shaped stream type is accepted here; the track-shaped
// header tag is wire-defined but unused by this relay and treated as a
// protocol violation if a publisher sends one.
func (p *Pipeline) ReceiveUniStream(ctx context.Context, pubSession relation.SessionID, r transport.ReceiveStream) error {
	tag, err := moq.ReadDataStreamType(r)
	if err != nil {
		return err
	}
	if tag != moq.DataStreamHeaderSubgroup {
		return &moq.ViolationError{Reason: "unsupported data-stream type on publisher stream"}
	}

	header, err := moq.DecodeSubgroupHeader(r)
	if err != nil {
		return err
	}
	upstream := relation.SubKey{Session: pubSession, ID: header.SubscribeID}

	cacheKey := cache.Key{Session: upstream.Session, SubscribeID: upstream.ID}
	sc, err := p.cache.GetOrCreateSubgroup(ctx, cacheKey)
	if err != nil {
		return err
	}
	if err := p.relation.SetUpstreamForwardingPreference(ctx, upstream.Session, upstream.ID, relation.ForwardPreferenceSubgroup); err != nil {
		return err
	}
	if err := sc.CreateSubgroup(ctx, header); err != nil {
		return err
	}
	p.spawnForwardersForSubgroup(ctx, upstream, header.GroupID, header.SubgroupID)

	for {
		obj, err := moq.DecodeStreamObject(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := sc.InsertObject(ctx, header, cache.Object{
			ObjectID:   obj.ObjectID,
			Extensions: obj.Extensions,
			Status:     obj.Status,
			Payload:    obj.Payload,
		}); err != nil {
			return err
		}

		if obj.Status.IsTerminalForStream() {
			return nil
		}
	}
}

// AttachDownstreamToUpstream starts a forwarder for every (group, subgroup)
// this relay already has cached for upstream, on behalf of a downstream
// subscription that just attached (either reused an existing upstream or
// completed a fresh one) — so it sees everything already in flight rather
// than waiting for the next subgroup the publisher happens to open.
func (p *Pipeline) AttachDownstreamToUpstream(ctx context.Context, upstream, down relation.SubKey) error {
	cacheKey := cache.Key{Session: upstream.Session, SubscribeID: upstream.ID}
	shape, err := p.cache.GetShape(ctx, cacheKey)
	if err != nil {
		return err
	}
	switch shape {
	case cache.ShapeSubgroup:
		sc, err := p.cache.GetOrCreateSubgroup(ctx, cacheKey)
		if err != nil {
			return err
		}
		downView, err := p.relation.GetDownstreamSubscription(ctx, down.Session, down.ID)
		if err != nil {
			return err
		}

		targetGroup, _, _, _, found, err := sc.SelectInitial(ctx, cache.Filter{
			Type:        downView.FilterType,
			StartGroup:  downView.StartGroup,
			StartObject: downView.StartObject,
			EndGroup:    downView.EndGroup,
		})
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		subgroups, err := sc.GetAllSubgroupIDs(ctx, targetGroup)
		if err != nil {
			return err
		}
		for _, sg := range subgroups {
			p.spawnSubgroupForwarder(ctx, upstream, down, targetGroup, sg)
		}
	case cache.ShapeDatagram:
		// Datagram-shaped upstreams have no standing forwarder task: each
		// inbound datagram is relayed to every attached downstream as it
		// arrives, so there is nothing to backfill here.
	}
	return nil
}

func (p *Pipeline) spawnForwardersForSubgroup(ctx context.Context, upstream relation.SubKey, group, subgroup uint64) {
	downs, err := p.relation.GetRequestingDownstreamSubscriptions(ctx, upstream.Session, upstream.ID)
	if err != nil {
		p.log.Error("failed to enumerate downstream subscriptions for forwarder spawn", "error", err)
		return
	}
	for _, down := range downs {
		p.spawnSubgroupForwarder(ctx, upstream, down, group, subgroup)
	}
}
