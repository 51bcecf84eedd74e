package session

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqrelay/relation"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d := NewDispatcher(nil)
	go d.Run(ctx)
	return d, ctx
}

func TestDispatcherRegisterAndSend(t *testing.T) {
	d, ctx := newTestDispatcher(t)
	sid := relation.SessionID(1)

	outbox, err := d.Register(ctx, sid, 4)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := d.Send(ctx, sid, 0x03, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-outbox:
		if msg.Type != 0x03 || string(msg.Payload) != "hello" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbox delivery")
	}
}

func TestDispatcherSendUnregisteredSessionFails(t *testing.T) {
	d, ctx := newTestDispatcher(t)
	if err := d.Send(ctx, relation.SessionID(99), 1, nil); err != ErrSessionNotRegistered {
		t.Fatalf("expected ErrSessionNotRegistered, got %v", err)
	}
}

func TestDispatcherUnregisterClosesOutbox(t *testing.T) {
	d, ctx := newTestDispatcher(t)
	sid := relation.SessionID(2)

	outbox, err := d.Register(ctx, sid, 1)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Unregister(ctx, sid); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	select {
	case _, ok := <-outbox:
		if ok {
			t.Fatal("expected outbox channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbox close")
	}

	if err := d.Send(ctx, sid, 1, nil); err != ErrSessionNotRegistered {
		t.Fatalf("expected ErrSessionNotRegistered after unregister, got %v", err)
	}
}

func TestDispatcherSendDoesNotBlockOtherSessions(t *testing.T) {
	d, ctx := newTestDispatcher(t)
	slow := relation.SessionID(10)
	fast := relation.SessionID(11)

	if _, err := d.Register(ctx, slow, 1); err != nil {
		t.Fatalf("Register slow: %v", err)
	}
	fastOutbox, err := d.Register(ctx, fast, 1)
	if err != nil {
		t.Fatalf("Register fast: %v", err)
	}

	// Fill the slow session's single-slot buffer; a subsequent Send to slow
	// would block, but it must be attempted in its own goroutine and must
	// not prevent Send to fast from completing promptly.
	if err := d.Send(ctx, slow, 1, nil); err != nil {
		t.Fatalf("fill slow outbox: %v", err)
	}
	go d.Send(ctx, slow, 2, nil)

	done := make(chan struct{})
	go func() {
		d.Send(ctx, fast, 3, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send to fast session was blocked by slow session's full outbox")
	}

	select {
	case msg := <-fastOutbox:
		if msg.Type != 3 {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out reading fast outbox")
	}
}
