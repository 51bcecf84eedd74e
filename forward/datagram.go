package forward

import (
	"context"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
)

// ReceiveDatagram is the datagram-shaped counterpart of ReceiveUniStream: a
// publisher's QUIC datagram arrives already bearing its own object, with no
// sequence of follow-on reads needed. The upstream subscription it belongs
// to is carried in the datagram itself (subscribe_id), not known by the
// caller in advance. It is cached and then forwarded to every attached
// downstream immediately, since an unordered, unreliable transport has no
// "exhausted cache" state worth polling for — there is no standing
// forwarder task for datagram-shaped subscriptions.
func (p *Pipeline) ReceiveDatagram(ctx context.Context, pubSession relation.SessionID, payload []byte) error {
	obj, err := moq.DecodeDatagramObject(payload)
	if err != nil {
		return err
	}
	upstream := relation.SubKey{Session: pubSession, ID: obj.SubscribeID}

	if err := p.relation.SetUpstreamForwardingPreference(ctx, upstream.Session, upstream.ID, relation.ForwardPreferenceDatagram); err != nil {
		return err
	}

	dc, err := p.cache.GetOrCreateDatagram(ctx, cache.Key{Session: upstream.Session, SubscribeID: upstream.ID})
	if err != nil {
		return err
	}
	cacheObj := cache.Object{
		ObjectID:   obj.ObjectID,
		Extensions: obj.Extensions,
		Status:     obj.Status,
		Payload:    obj.Payload,
	}
	if err := dc.Insert(ctx, obj.GroupID, cacheObj); err != nil {
		return err
	}

	downs, err := p.relation.GetRequestingDownstreamSubscriptions(ctx, upstream.Session, upstream.ID)
	if err != nil {
		return err
	}
	for _, down := range downs {
		p.forwardDatagramTo(ctx, down, obj.GroupID, cacheObj)
	}
	return nil
}

func (p *Pipeline) forwardDatagramTo(ctx context.Context, down relation.SubKey, groupID uint64, obj cache.Object) {
	downView, err := p.relation.GetDownstreamSubscription(ctx, down.Session, down.ID)
	if err != nil {
		return
	}
	conn, ok := p.conns(ctx, down.Session)
	if !ok {
		return
	}

	out := moq.DatagramObject{
		SubscribeID: down.ID,
		TrackAlias:  downView.TrackAlias,
		GroupID:     groupID,
		ObjectID:    obj.ObjectID,
		Priority:    0,
		Extensions:  obj.Extensions,
		Status:      obj.Status,
		Payload:     obj.Payload,
	}
	data, err := moq.EncodeDatagramObject(out)
	if err != nil {
		p.log.Error("failed to encode forwarded datagram", "error", err)
		return
	}
	if err := conn.SendDatagram(data); err != nil {
		p.log.Warn("failed to send forwarded datagram", "error", err)
	}
}
