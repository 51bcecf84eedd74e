package forward

import (
	"bytes"
	"testing"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/control"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
)

func TestStreamFetchSubgroupServesBoundedRange(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)

	track := relation.Track{Namespace: moq.Namespace{"room"}, Name: "video"}
	upID, upAlias, err := r.relation.SetUpstreamSubscription(r.ctx, 1, track)
	if err != nil {
		t.Fatalf("SetUpstreamSubscription: %v", err)
	}

	// Populate two groups, each with two objects, directly through the
	// publisher-facing receiver so the cache is shaped the way a live
	// publisher stream would leave it.
	for _, g := range []uint64{0, 1} {
		header := moq.SubgroupHeader{SubscribeID: upID, TrackAlias: upAlias, GroupID: g, SubgroupID: 0}
		obj1, _ := moq.EncodeStreamObject(moq.StreamObject{ObjectID: 0, Payload: []byte("a")})
		obj2, _ := moq.EncodeStreamObject(moq.StreamObject{ObjectID: 1, Status: moq.StatusEndOfGroup})
		var wire bytes.Buffer
		wire.Write(moq.EncodeSubgroupHeader(header))
		wire.Write(obj1)
		wire.Write(obj2)
		if err := r.pipeline.ReceiveUniStream(r.ctx, 1, bytes.NewReader(wire.Bytes())); err != nil {
			t.Fatalf("ReceiveUniStream(group %d): %v", g, err)
		}
	}

	requester := r.addConn(2)

	r.pipeline.StreamFetch(r.ctx, control.FetchJob{
		RequestID:   3,
		Session:     2,
		Upstream:    relation.SubKey{Session: 1, ID: upID},
		StartGroup:  0,
		StartObject: 0,
		EndGroup:    0,
		EndObject:   1,
	})

	stream := awaitStream(t, requester)
	awaitStreamClosed(t, stream)

	rd := bytes.NewReader(stream.Bytes())
	tag, err := moq.ReadDataStreamType(rd)
	if err != nil || tag != moq.DataStreamHeaderSubgroup {
		t.Fatalf("expected subgroup header tag, got %d, err %v", tag, err)
	}
	h, err := moq.DecodeSubgroupHeader(rd)
	if err != nil {
		t.Fatalf("DecodeSubgroupHeader: %v", err)
	}
	if h.SubscribeID != 3 {
		t.Fatalf("fetch response header subscribe_id = %d, want request id 3", h.SubscribeID)
	}

	first, err := moq.DecodeStreamObject(rd)
	if err != nil {
		t.Fatalf("DecodeStreamObject(first): %v", err)
	}
	if string(first.Payload) != "a" {
		t.Fatalf("first object payload = %q, want %q", first.Payload, "a")
	}
	second, err := moq.DecodeStreamObject(rd)
	if err != nil {
		t.Fatalf("DecodeStreamObject(second): %v", err)
	}
	if second.Status != moq.StatusEndOfGroup {
		t.Fatalf("second object status = %v, want StatusEndOfGroup", second.Status)
	}

	// Only group 0 was requested: group 1's objects must not appear.
	if rd.Len() != 0 {
		t.Fatalf("unexpected trailing bytes after bounded fetch range: %d", rd.Len())
	}
}

func TestStreamFetchDatagramWalksAbsoluteCoordinates(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)

	track := relation.Track{Namespace: moq.Namespace{"room"}, Name: "audio"}
	upID, _, err := r.relation.SetUpstreamSubscription(r.ctx, 1, track)
	if err != nil {
		t.Fatalf("SetUpstreamSubscription: %v", err)
	}

	dc, err := r.cache.GetOrCreateDatagram(r.ctx, cache.Key{Session: 1, SubscribeID: upID})
	if err != nil {
		t.Fatalf("GetOrCreateDatagram: %v", err)
	}
	if err := dc.Insert(r.ctx, 0, cache.Object{ObjectID: 0, Payload: []byte("x")}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := dc.Insert(r.ctx, 0, cache.Object{ObjectID: 1, Payload: []byte("y")}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	requester := r.addConn(2)
	r.pipeline.StreamFetch(r.ctx, control.FetchJob{
		RequestID:  9,
		Session:    2,
		Upstream:   relation.SubKey{Session: 1, ID: upID},
		StartGroup: 0,
		EndGroup:   0,
		EndObject:  1,
	})

	stream := awaitStream(t, requester)
	awaitStreamClosed(t, stream)
	if len(stream.Bytes()) == 0 {
		t.Fatal("expected fetch response bytes for datagram-shaped track")
	}
}
