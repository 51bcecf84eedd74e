package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
)

func newTestHandlerDeps(t *testing.T) (*relation.Manager, *cache.Registry, *Dispatcher, *SignalDispatcher, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rel := relation.NewManager(nil)
	go func() {
		if err := rel.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("relation Run: %v", err)
		}
	}()

	cacheRegistry := cache.NewRegistry(ctx, nil, time.Minute)
	go func() {
		if err := cacheRegistry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("cache Run: %v", err)
		}
	}()

	d := NewDispatcher(nil)
	go d.Run(ctx)

	s := NewSignalDispatcher(nil)
	go s.Run(ctx)

	return rel, cacheRegistry, d, s, ctx
}

func TestHandlerCloseTerminatesSubgroupShapedSubscription(t *testing.T) {
	rel, cacheRegistry, dispatcher, signals, ctx := newTestHandlerDeps(t)
	sid := relation.SessionID(1)

	if err := rel.SetupSubscriber(ctx, sid, 100); err != nil {
		t.Fatalf("SetupSubscriber: %v", err)
	}
	track := relation.Track{Namespace: moq.Namespace{"live"}, Name: "video"}
	if err := rel.SetDownstreamSubscription(ctx, sid, 1, relation.DownstreamSubscriptionParams{Track: track, TrackAlias: 1}); err != nil {
		t.Fatalf("SetDownstreamSubscription: %v", err)
	}
	if err := rel.SetDownstreamForwardingPreference(ctx, sid, 1, relation.ForwardPreferenceSubgroup); err != nil {
		t.Fatalf("SetDownstreamForwardingPreference: %v", err)
	}
	if err := rel.SetDownstreamStreamID(ctx, sid, 1, relation.StreamCoord{GroupID: 0, SubgroupID: 0}, 4); err != nil {
		t.Fatalf("SetDownstreamStreamID: %v", err)
	}

	key := TaskKey{Session: sid, SubscribeID: 1, GroupID: 0, SubgroupID: 0, HasSubgroup: true}
	sig, err := signals.Register(ctx, key)
	if err != nil {
		t.Fatalf("Register signal: %v", err)
	}
	if _, err := dispatcher.Register(ctx, sid, 4); err != nil {
		t.Fatalf("Register dispatcher: %v", err)
	}

	h := NewHandler(nil, rel, cacheRegistry, dispatcher, signals, nil)
	h.Close(ctx, sid)

	select {
	case got := <-sig:
		if got.Reason != TerminateSessionClosed {
			t.Fatalf("unexpected reason: %v", got.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task termination")
	}

	if _, _, err := rel.GetSessionSubscriptions(ctx, sid); err != nil {
		t.Fatalf("GetSessionSubscriptions after close: %v", err)
	}
	up, down, err := rel.GetSessionSubscriptions(ctx, sid)
	if err != nil {
		t.Fatalf("GetSessionSubscriptions: %v", err)
	}
	if len(up) != 0 || len(down) != 0 {
		t.Fatalf("expected no subscriptions after teardown, got up=%v down=%v", up, down)
	}

	if err := dispatcher.Send(ctx, sid, 1, nil); err != ErrSessionNotRegistered {
		t.Fatalf("expected dispatcher outbox to be unregistered, got %v", err)
	}
}

func TestHandlerCloseTerminatesDatagramShapedSubscription(t *testing.T) {
	rel, cacheRegistry, dispatcher, signals, ctx := newTestHandlerDeps(t)
	sid := relation.SessionID(2)

	if err := rel.SetupSubscriber(ctx, sid, 100); err != nil {
		t.Fatalf("SetupSubscriber: %v", err)
	}
	track := relation.Track{Namespace: moq.Namespace{"live"}, Name: "audio"}
	if err := rel.SetDownstreamSubscription(ctx, sid, 1, relation.DownstreamSubscriptionParams{Track: track, TrackAlias: 1}); err != nil {
		t.Fatalf("SetDownstreamSubscription: %v", err)
	}

	key := TaskKey{Session: sid, SubscribeID: 1}
	sig, err := signals.Register(ctx, key)
	if err != nil {
		t.Fatalf("Register signal: %v", err)
	}

	h := NewHandler(nil, rel, cacheRegistry, dispatcher, signals, nil)
	h.Close(ctx, sid)

	select {
	case got := <-sig:
		if got.Reason != TerminateSessionClosed {
			t.Fatalf("unexpected reason: %v", got.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task termination")
	}
}

func TestHandlerCloseOnUnknownSessionDoesNotPanic(t *testing.T) {
	rel, cacheRegistry, dispatcher, signals, ctx := newTestHandlerDeps(t)
	h := NewHandler(nil, rel, cacheRegistry, dispatcher, signals, nil)
	h.Close(ctx, relation.SessionID(404))
}
