package forward

import (
	"context"
	"time"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
)

// spawnSubgroupForwarder claims and starts a forwarder goroutine for one
// (downstream, group, subgroup) triple, unless one is already running.
func (p *Pipeline) spawnSubgroupForwarder(ctx context.Context, upstream, down relation.SubKey, group, subgroup uint64) {
	key := session.TaskKey{
		Session:     down.Session,
		SubscribeID: down.ID,
		GroupID:     group,
		SubgroupID:  subgroup,
		HasSubgroup: true,
	}
	if !p.claim(key) {
		return
	}

	sig, err := p.signals.Register(ctx, key)
	if err != nil {
		p.log.Error("failed to register forwarder signal", "error", err)
		p.release(key)
		return
	}

	go p.runSubgroupForwarder(ctx, upstream, down, group, subgroup, key, sig)
}

// runSubgroupForwarder is the Data-Stream Forwarder for one subgroup: it
// opens a downstream-facing unidirectional stream, translates the subgroup
// header to the downstream's own subscribe_id/track_alias, and then drains
// the upstream subgroup cache into that stream, polling on pollInterval
// whenever the cache runs dry rather than blocking on a wakeup channel.
func (p *Pipeline) runSubgroupForwarder(ctx context.Context, upstream, down relation.SubKey, group, subgroup uint64, key session.TaskKey, sig <-chan session.Signal) {
	defer p.signals.Unregister(ctx, key)
	defer p.release(key)

	downView, err := p.relation.GetDownstreamSubscription(ctx, down.Session, down.ID)
	if err != nil {
		p.log.Warn("forwarder exiting: downstream subscription gone", "error", err)
		return
	}

	conn, ok := p.conns(ctx, down.Session)
	if !ok {
		p.log.Warn("forwarder exiting: downstream connection unavailable")
		return
	}

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		p.log.Error("failed to open downstream forwarding stream", "error", err)
		return
	}
	defer stream.Close()

	p.relation.SetDownstreamStreamID(ctx, down.Session, down.ID, relation.StreamCoord{GroupID: group, SubgroupID: subgroup}, p.nextStreamID.Add(1))

	header := moq.SubgroupHeader{
		SubscribeID:       down.ID,
		TrackAlias:        downView.TrackAlias,
		GroupID:           group,
		SubgroupID:        subgroup,
		PublisherPriority: 0,
	}
	if _, err := stream.Write(moq.EncodeSubgroupHeader(header)); err != nil {
		p.log.Error("failed to write subgroup header", "error", err)
		return
	}

	sc, err := p.cache.GetOrCreateSubgroup(ctx, cache.Key{Session: upstream.Session, SubscribeID: upstream.ID})
	if err != nil {
		p.log.Error("failed to resolve upstream subgroup cache", "error", err)
		return
	}

	var haveSeq bool
	var seq uint64
	for {
		var obj cache.Object
		var found bool
		if !haveSeq {
			if (downView.FilterType == moq.FilterAbsoluteStart || downView.FilterType == moq.FilterAbsoluteRange) && group == downView.StartGroup {
				obj, seq, found, err = sc.GetAbsoluteOrNextObject(ctx, group, subgroup, downView.StartObject)
			} else {
				obj, seq, found, err = sc.GetFirstObject(ctx, group, subgroup)
			}
		} else {
			obj, seq, found, err = sc.GetNextObject(ctx, group, subgroup, seq)
		}
		if err != nil {
			p.log.Error("forwarder cache read failed", "error", err)
			return
		}
		if !found {
			select {
			case <-ctx.Done():
				return
			case s := <-sig:
				p.log.Debug("forwarder terminated", "reason", s.Reason)
				return
			case <-time.After(pollInterval):
				continue
			}
		}
		haveSeq = true

		if downView.FilterType == moq.FilterAbsoluteRange && group > downView.EndGroup {
			p.log.Debug("forwarder terminated: past end of subscription range")
			return
		}

		encoded, err := moq.EncodeStreamObject(moq.StreamObject{
			ObjectID:   obj.ObjectID,
			Extensions: obj.Extensions,
			Status:     obj.Status,
			Payload:    obj.Payload,
		})
		if err != nil {
			p.log.Error("failed to encode forwarded object", "error", err)
			return
		}
		if _, err := stream.Write(encoded); err != nil {
			p.log.Error("failed to write forwarded object", "error", err)
			return
		}

		if obj.Status.IsTerminalForStream() {
			return
		}

		select {
		case s := <-sig:
			p.log.Debug("forwarder terminated", "reason", s.Reason)
			return
		default:
		}
	}
}
