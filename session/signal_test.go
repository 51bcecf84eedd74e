package session

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqrelay/relation"
)

func newTestSignalDispatcher(t *testing.T) (*SignalDispatcher, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := NewSignalDispatcher(nil)
	go s.Run(ctx)
	return s, ctx
}

func TestSignalDispatcherRegisterAndTerminate(t *testing.T) {
	s, ctx := newTestSignalDispatcher(t)
	key := TaskKey{Session: 1, SubscribeID: 5, GroupID: 0, SubgroupID: 0, HasSubgroup: true}

	sig, err := s.Register(ctx, key)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Terminate(ctx, key, TerminateUnsubscribed); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	select {
	case got := <-sig:
		if got.Reason != TerminateUnsubscribed {
			t.Fatalf("unexpected reason: %v", got.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestSignalDispatcherTerminateUnknownKeyIsNoop(t *testing.T) {
	s, ctx := newTestSignalDispatcher(t)
	if err := s.Terminate(ctx, TaskKey{Session: 99}, TerminateUnsubscribed); err != nil {
		t.Fatalf("Terminate on unknown key: %v", err)
	}
}

func TestSignalDispatcherTerminateIsIdempotent(t *testing.T) {
	s, ctx := newTestSignalDispatcher(t)
	key := TaskKey{Session: 1, SubscribeID: 1}

	if _, err := s.Register(ctx, key); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Two Terminate calls before the task drains its channel must not
	// block the second call (buffered 1, non-blocking send).
	if err := s.Terminate(ctx, key, TerminateUnsubscribed); err != nil {
		t.Fatalf("first Terminate: %v", err)
	}
	if err := s.Terminate(ctx, key, TerminateSessionClosed); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
}

func TestSignalDispatcherTerminateSessionReachesAllTasks(t *testing.T) {
	s, ctx := newTestSignalDispatcher(t)
	sid := relation.SessionID(7)

	keys := []TaskKey{
		{Session: sid, SubscribeID: 1, GroupID: 0, SubgroupID: 0, HasSubgroup: true},
		{Session: sid, SubscribeID: 1, GroupID: 1, SubgroupID: 0, HasSubgroup: true},
		{Session: sid, SubscribeID: 2},
	}
	other := TaskKey{Session: relation.SessionID(8), SubscribeID: 1}

	chans := make([]<-chan Signal, len(keys))
	for i, k := range keys {
		ch, err := s.Register(ctx, k)
		if err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
		chans[i] = ch
	}
	otherCh, err := s.Register(ctx, other)
	if err != nil {
		t.Fatalf("Register other: %v", err)
	}

	if err := s.TerminateSession(ctx, sid, TerminateSessionClosed); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}

	for i, ch := range chans {
		select {
		case got := <-ch:
			if got.Reason != TerminateSessionClosed {
				t.Fatalf("task %d: unexpected reason %v", i, got.Reason)
			}
		case <-time.After(time.Second):
			t.Fatalf("task %d: timed out waiting for termination signal", i)
		}
	}

	select {
	case <-otherCh:
		t.Fatal("task belonging to a different session must not be signaled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSignalDispatcherUnregisterRemovesFromSessionIndex(t *testing.T) {
	s, ctx := newTestSignalDispatcher(t)
	sid := relation.SessionID(3)
	key := TaskKey{Session: sid, SubscribeID: 1}

	ch, err := s.Register(ctx, key)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Unregister(ctx, key); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	if err := s.TerminateSession(ctx, sid, TerminateSessionClosed); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("unregistered task must not receive a termination signal")
	case <-time.After(50 * time.Millisecond):
	}
}
