package cache

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqrelay/relation"
)

func newTestRegistry(t *testing.T) (*Registry, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := NewRegistry(ctx, nil, 0)
	go r.Run(ctx)
	return r, ctx
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()
	r, ctx := newTestRegistry(t)
	key := Key{Session: 1, SubscribeID: 1}

	dc1, err := r.GetOrCreateDatagram(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreateDatagram: %v", err)
	}
	dc2, err := r.GetOrCreateDatagram(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreateDatagram (second): %v", err)
	}
	if dc1 != dc2 {
		t.Fatalf("expected the same cache instance on repeated GetOrCreateDatagram")
	}
}

func TestRegistryRejectsShapeMismatch(t *testing.T) {
	t.Parallel()
	r, ctx := newTestRegistry(t)
	key := Key{Session: 1, SubscribeID: 2}

	if _, err := r.GetOrCreateDatagram(ctx, key); err != nil {
		t.Fatalf("GetOrCreateDatagram: %v", err)
	}
	if _, err := r.GetOrCreateSubgroup(ctx, key); err == nil {
		t.Fatalf("expected ErrShapeMismatch, got nil")
	}

	shape, err := r.GetShape(ctx, key)
	if err != nil {
		t.Fatalf("GetShape: %v", err)
	}
	if shape != ShapeDatagram {
		t.Fatalf("GetShape = %v, want ShapeDatagram", shape)
	}
}

func TestRegistryDeleteSessionPurgesAllKeys(t *testing.T) {
	t.Parallel()
	r, ctx := newTestRegistry(t)

	keyA := Key{Session: 5, SubscribeID: 1}
	keyB := Key{Session: 5, SubscribeID: 2}
	keyOther := Key{Session: 6, SubscribeID: 1}

	if _, err := r.GetOrCreateDatagram(ctx, keyA); err != nil {
		t.Fatalf("GetOrCreateDatagram keyA: %v", err)
	}
	if _, err := r.GetOrCreateSubgroup(ctx, keyB); err != nil {
		t.Fatalf("GetOrCreateSubgroup keyB: %v", err)
	}
	if _, err := r.GetOrCreateDatagram(ctx, keyOther); err != nil {
		t.Fatalf("GetOrCreateDatagram keyOther: %v", err)
	}

	if err := r.DeleteSession(ctx, relation.SessionID(5)); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	shapeA, _ := r.GetShape(ctx, keyA)
	shapeB, _ := r.GetShape(ctx, keyB)
	shapeOther, _ := r.GetShape(ctx, keyOther)

	if shapeA != ShapeUnset || shapeB != ShapeUnset {
		t.Fatalf("expected session 5's keys purged, got shapeA=%v shapeB=%v", shapeA, shapeB)
	}
	if shapeOther != ShapeDatagram {
		t.Fatalf("expected session 6's key untouched, got %v", shapeOther)
	}
}

func TestRegistryDeleteSingleKey(t *testing.T) {
	t.Parallel()
	r, ctx := newTestRegistry(t)
	key := Key{Session: 1, SubscribeID: 1}

	if _, err := r.GetOrCreateDatagram(ctx, key); err != nil {
		t.Fatalf("GetOrCreateDatagram: %v", err)
	}
	if err := r.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	shape, err := r.GetShape(ctx, key)
	if err != nil {
		t.Fatalf("GetShape: %v", err)
	}
	if shape != ShapeUnset {
		t.Fatalf("GetShape after delete = %v, want ShapeUnset", shape)
	}

	// Recreating after delete should succeed with a fresh cache.
	if _, err := r.GetOrCreateSubgroup(ctx, key); err != nil {
		t.Fatalf("GetOrCreateSubgroup after delete: %v", err)
	}
}

func TestRegistryCacheIsUsable(t *testing.T) {
	t.Parallel()
	r, ctx := newTestRegistry(t)
	key := Key{Session: 1, SubscribeID: 1}

	dc, err := r.GetOrCreateDatagram(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreateDatagram: %v", err)
	}

	if err := dc.Insert(ctx, 0, Object{ObjectID: 0, Payload: []byte("x")}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	obj, found, err := dc.GetAbsolute(ctx, 0, 0)
	if err != nil || !found || string(obj.Payload) != "x" {
		t.Fatalf("GetAbsolute = %+v found %v err %v", obj, found, err)
	}

	// Insert and GetAbsolute above only return once the cache's Run loop
	// has served them, so reaching this point already shows Run started.
	time.Sleep(time.Millisecond)
}
