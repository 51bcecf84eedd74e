package forward

import (
	"context"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/control"
	"github.com/zsiec/moqrelay/moq"
)

// StreamFetch implements control.FetchStreamer: a one-shot, bounded read out
// of whatever is already cached for job.Upstream, written to a dedicated
// stream opened on the requesting session's own connection. Unlike a
// subgroup forwarder, this never polls an exhausted cache — FETCH serves
// only what's already there and closes the stream when the bounded range is
// exhausted.
//
// There is no dedicated fetch-response wire header in this relay's codec, so
// the response stream reuses the subgroup header/object encoding: one header
// whenever (group, subgroup) changes, followed by that subgroup's objects.
func (p *Pipeline) StreamFetch(ctx context.Context, job control.FetchJob) {
	conn, ok := p.conns(ctx, job.Session)
	if !ok {
		return
	}
	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		p.log.Error("failed to open fetch response stream", "error", err)
		return
	}
	defer stream.Close()

	cacheKey := cache.Key{Session: job.Upstream.Session, SubscribeID: job.Upstream.ID}
	shape, err := p.cache.GetShape(ctx, cacheKey)
	if err != nil {
		p.log.Error("fetch stream: failed to resolve cache shape", "error", err)
		return
	}

	switch shape {
	case cache.ShapeSubgroup:
		p.streamFetchSubgroup(ctx, job, cacheKey, stream)
	case cache.ShapeDatagram:
		p.streamFetchDatagram(ctx, job, cacheKey, stream)
	}
}

func (p *Pipeline) streamFetchSubgroup(ctx context.Context, job control.FetchJob, key cache.Key, stream interface {
	Write(b []byte) (int, error)
}) {
	sc, err := p.cache.GetOrCreateSubgroup(ctx, key)
	if err != nil {
		p.log.Error("fetch stream: failed to resolve subgroup cache", "error", err)
		return
	}

	for group := job.StartGroup; group <= job.EndGroup; group++ {
		subgroups, err := sc.GetAllSubgroupIDs(ctx, group)
		if err != nil {
			p.log.Error("fetch stream: failed to enumerate subgroups", "error", err)
			return
		}
		for _, subgroup := range subgroups {
			if !p.streamFetchOneSubgroup(ctx, job, sc, group, subgroup, stream) {
				return
			}
		}
	}
}

func (p *Pipeline) streamFetchOneSubgroup(ctx context.Context, job control.FetchJob, sc *cache.SubgroupCache, group, subgroup uint64, stream interface {
	Write(b []byte) (int, error)
}) bool {
	headerWritten := false
	var haveSeq bool
	var seq uint64
	for {
		var obj cache.Object
		var found bool
		var err error
		if !haveSeq {
			obj, seq, found, err = sc.GetFirstObject(ctx, group, subgroup)
		} else {
			obj, seq, found, err = sc.GetNextObject(ctx, group, subgroup, seq)
		}
		if err != nil {
			p.log.Error("fetch stream: cache read failed", "error", err)
			return false
		}
		if !found {
			return true
		}
		haveSeq = true

		if group == job.StartGroup && obj.ObjectID < job.StartObject {
			continue
		}
		if group == job.EndGroup && obj.ObjectID > job.EndObject {
			return true
		}

		if !headerWritten {
			if _, err := stream.Write(moq.EncodeSubgroupHeader(moq.SubgroupHeader{
				SubscribeID: job.RequestID,
				TrackAlias:  0,
				GroupID:     group,
				SubgroupID:  subgroup,
			})); err != nil {
				p.log.Error("fetch stream: failed to write header", "error", err)
				return false
			}
			headerWritten = true
		}

		encoded, err := moq.EncodeStreamObject(moq.StreamObject{
			ObjectID:   obj.ObjectID,
			Extensions: obj.Extensions,
			Status:     obj.Status,
			Payload:    obj.Payload,
		})
		if err != nil {
			p.log.Error("fetch stream: failed to encode object", "error", err)
			return false
		}
		if _, err := stream.Write(encoded); err != nil {
			p.log.Error("fetch stream: failed to write object", "error", err)
			return false
		}

		if obj.Status.IsTerminalForStream() {
			return true
		}
	}
}

func (p *Pipeline) streamFetchDatagram(ctx context.Context, job control.FetchJob, key cache.Key, stream interface {
	Write(b []byte) (int, error)
}) {
	dc, err := p.cache.GetOrCreateDatagram(ctx, key)
	if err != nil {
		p.log.Error("fetch stream: failed to resolve datagram cache", "error", err)
		return
	}

	// GetNext's cache_id chain doesn't carry the group id an object belongs
	// to, so a bounded group/object range is walked by direct coordinate
	// probes instead of following the insertion-order chain: objects are
	// emitted with contiguous ids within a group, so the first miss within
	// a group is treated as that group's end.
	for group := job.StartGroup; group <= job.EndGroup; group++ {
		objectID := uint64(0)
		if group == job.StartGroup {
			objectID = job.StartObject
		}
		headerWritten := false
		for {
			if group == job.EndGroup && objectID > job.EndObject {
				return
			}
			obj, found, err := dc.GetAbsolute(ctx, group, objectID)
			if err != nil {
				p.log.Error("fetch stream: cache read failed", "error", err)
				return
			}
			if !found {
				break
			}

			if !headerWritten {
				if _, err := stream.Write(moq.EncodeSubgroupHeader(moq.SubgroupHeader{
					SubscribeID: job.RequestID,
					TrackAlias:  0,
					GroupID:     group,
				})); err != nil {
					p.log.Error("fetch stream: failed to write header", "error", err)
					return
				}
				headerWritten = true
			}
			encoded, err := moq.EncodeStreamObject(moq.StreamObject{
				ObjectID:   obj.ObjectID,
				Extensions: obj.Extensions,
				Status:     obj.Status,
				Payload:    obj.Payload,
			})
			if err != nil {
				p.log.Error("fetch stream: failed to encode object", "error", err)
				return
			}
			if _, err := stream.Write(encoded); err != nil {
				p.log.Error("fetch stream: failed to write object", "error", err)
				return
			}
			if obj.Status.IsTerminalForStream() {
				return
			}
			objectID++
		}
	}
}
