package cache

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqrelay/moq"
)

func newTestDatagramCache(t *testing.T, ttl time.Duration) (*DatagramCache, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := NewDatagramCache(nil, ttl)
	go c.Run(ctx)
	return c, ctx
}

func TestDatagramCacheInsertAndGetAbsolute(t *testing.T) {
	t.Parallel()
	c, ctx := newTestDatagramCache(t, 0)

	if err := c.Insert(ctx, 1, Object{ObjectID: 0, Payload: []byte("a")}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Insert(ctx, 1, Object{ObjectID: 1, Payload: []byte("b")}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	obj, found, err := c.GetAbsolute(ctx, 1, 1)
	if err != nil {
		t.Fatalf("GetAbsolute: %v", err)
	}
	if !found || string(obj.Payload) != "b" {
		t.Fatalf("GetAbsolute(1,1) = %+v, %v, want payload b", obj, found)
	}

	if _, found, _ := c.GetAbsolute(ctx, 1, 99); found {
		t.Fatalf("GetAbsolute(1,99) unexpectedly found")
	}
}

func TestDatagramCacheGetNextWalksInInsertOrder(t *testing.T) {
	t.Parallel()
	c, ctx := newTestDatagramCache(t, 0)

	for i := uint64(0); i < 3; i++ {
		if err := c.Insert(ctx, 0, Object{ObjectID: i}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var cursor uint64
	var seen []uint64
	for {
		obj, next, found, err := c.GetNext(ctx, cursor)
		if err != nil {
			t.Fatalf("GetNext: %v", err)
		}
		if !found {
			break
		}
		seen = append(seen, obj.ObjectID)
		cursor = next
	}

	if len(seen) != 3 || seen[0] != 0 || seen[1] != 1 || seen[2] != 2 {
		t.Fatalf("walked objects = %v, want [0 1 2]", seen)
	}
}

func TestDatagramCacheLatestGroupAndObject(t *testing.T) {
	t.Parallel()
	c, ctx := newTestDatagramCache(t, 0)

	c.Insert(ctx, 0, Object{ObjectID: 0})
	c.Insert(ctx, 0, Object{ObjectID: 1})
	c.Insert(ctx, 1, Object{ObjectID: 0})

	group, found, err := c.GetLatestGroup(ctx)
	if err != nil || !found || group != 1 {
		t.Fatalf("GetLatestGroup = %d, %v, %v, want 1", group, found, err)
	}

	obj, groupID, _, found, err := c.GetLatestObject(ctx)
	if err != nil || !found || groupID != 1 || obj.ObjectID != 0 {
		t.Fatalf("GetLatestObject = %+v group %d found %v err %v", obj, groupID, found, err)
	}
}

func TestDatagramCacheSelectInitialLatestGroup(t *testing.T) {
	t.Parallel()
	c, ctx := newTestDatagramCache(t, 0)

	c.Insert(ctx, 0, Object{ObjectID: 0})
	c.Insert(ctx, 1, Object{ObjectID: 5})
	c.Insert(ctx, 1, Object{ObjectID: 2})

	obj, _, found, err := c.SelectInitial(ctx, Filter{Type: moq.FilterLatestGroup})
	if err != nil {
		t.Fatalf("SelectInitial: %v", err)
	}
	if !found || obj.ObjectID != 2 {
		t.Fatalf("SelectInitial(LatestGroup) = %+v, want first object (id 2) of latest group", obj)
	}
}

func TestDatagramCacheSelectInitialAbsoluteStartFallsForwardWhenMissing(t *testing.T) {
	t.Parallel()
	c, ctx := newTestDatagramCache(t, 0)

	c.Insert(ctx, 3, Object{ObjectID: 5})
	c.Insert(ctx, 3, Object{ObjectID: 9})

	obj, _, found, err := c.SelectInitial(ctx, Filter{Type: moq.FilterAbsoluteStart, StartGroup: 3, StartObject: 7})
	if err != nil {
		t.Fatalf("SelectInitial: %v", err)
	}
	if !found || obj.ObjectID != 9 {
		t.Fatalf("SelectInitial(AbsoluteStart missing exact) = %+v, want next object id 9", obj)
	}
}

func TestDatagramCacheExpiresEntries(t *testing.T) {
	t.Parallel()
	c, ctx := newTestDatagramCache(t, time.Millisecond)

	if err := c.Insert(ctx, 0, Object{ObjectID: 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, found, err := c.GetAbsolute(ctx, 0, 0); err != nil {
		t.Fatalf("GetAbsolute: %v", err)
	} else if found {
		t.Fatalf("expected entry to be expired")
	}
}
