package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
)

type testRig struct {
	ctx        context.Context
	relation   *relation.Manager
	cache      *cache.Registry
	dispatcher *session.Dispatcher
	signals    *session.SignalDispatcher
	sessions   *session.Registry
}

func newTestRig(t *testing.T) *testRig {
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

	d := session.NewDispatcher(nil)
	go d.Run(ctx)

	s := session.NewSignalDispatcher(nil)
	go s.Run(ctx)

	sessions := session.NewRegistry(nil)
	go sessions.Run(ctx)

	return &testRig{ctx: ctx, relation: rel, cache: cacheRegistry, dispatcher: d, signals: s, sessions: sessions}
}

// newSession constructs a session.Context for id, registers its control
// outbox with the rig's Dispatcher and the Context itself with the rig's
// session.Registry, and returns both the Context and its outbox.
func (r *testRig) newSession(t *testing.T, id relation.SessionID) (*session.Context, <-chan session.OutboundMessage) {
	t.Helper()
	outbox, err := r.dispatcher.Register(r.ctx, id, 16)
	if err != nil {
		t.Fatalf("Register outbox: %v", err)
	}
	sess := session.NewContext(id, nil, r.relation, r.cache, r.dispatcher, r.signals, r.sessions)
	if err := r.sessions.Register(r.ctx, id, sess); err != nil {
		t.Fatalf("Register session: %v", err)
	}
	return sess, outbox
}

func (r *testRig) newHandler(t *testing.T, id relation.SessionID) (*Handler, <-chan session.OutboundMessage) {
	t.Helper()
	sess, outbox := r.newSession(t, id)
	return NewHandler(nil, sess, Config{DefaultMaxSubscribeID: 100}), outbox
}

func recvOutbound(t *testing.T, outbox <-chan session.OutboundMessage) session.OutboundMessage {
	t.Helper()
	select {
	case msg := <-outbox:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound control message")
		return session.OutboundMessage{}
	}
}

func TestHandleSetupNegotiatesVersionAndSetsUpBothRoles(t *testing.T) {
	r := newTestRig(t)
	h, outbox := r.newHandler(t, 1)

	msg := moq.ClientSetup{Versions: []uint64{moq.Version}, Params: moq.NewParameters()}
	if err := h.HandleSetup(r.ctx, msg); err != nil {
		t.Fatalf("HandleSetup: %v", err)
	}

	out := recvOutbound(t, outbox)
	if out.Type != moq.MsgServerSetup {
		t.Fatalf("expected SERVER_SETUP, got type %d", out.Type)
	}
	reply, err := moq.DecodeServerSetup(out.Payload)
	if err != nil {
		t.Fatalf("DecodeServerSetup: %v", err)
	}
	if reply.SelectedVersion != moq.Version {
		t.Fatalf("SelectedVersion = %d, want %d", reply.SelectedVersion, moq.Version)
	}

	if err := r.relation.SetupPublisher(r.ctx, 1, 1); !errors.Is(err, relation.ErrAlreadySetUp) {
		t.Fatalf("expected publisher already set up, got %v", err)
	}
	if err := r.relation.SetupSubscriber(r.ctx, 1, 1); !errors.Is(err, relation.ErrAlreadySetUp) {
		t.Fatalf("expected subscriber already set up, got %v", err)
	}
}

func TestHandleSetupRejectsUnknownVersion(t *testing.T) {
	r := newTestRig(t)
	h, _ := r.newHandler(t, 1)

	msg := moq.ClientSetup{Versions: []uint64{0x1}, Params: moq.NewParameters()}
	if err := h.HandleSetup(r.ctx, msg); !errors.Is(err, moq.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestHandleAnnounceFansOutToMatchingSubscriber(t *testing.T) {
	r := newTestRig(t)
	pub, pubOut := r.newHandler(t, 1)
	sub, subOut := r.newHandler(t, 2)

	if err := r.relation.SetupPublisher(r.ctx, 1, 100); err != nil {
		t.Fatal(err)
	}
	if err := r.relation.SetupSubscriber(r.ctx, 2, 100); err != nil {
		t.Fatal(err)
	}

	ns := moq.Namespace{"room"}
	if err := sub.HandleSubscribeNamespace(r.ctx, moq.SubscribeNamespace{TrackNamespacePrefix: ns, Params: moq.NewParameters()}); err != nil {
		t.Fatalf("HandleSubscribeNamespace: %v", err)
	}
	if out := recvOutbound(t, subOut); out.Type != moq.MsgSubscribeNamespaceOk {
		t.Fatalf("expected SUBSCRIBE_NAMESPACE_OK, got type %d", out.Type)
	}

	if err := pub.HandleAnnounce(r.ctx, moq.Announce{TrackNamespace: ns, Params: moq.NewParameters()}); err != nil {
		t.Fatalf("HandleAnnounce: %v", err)
	}
	if out := recvOutbound(t, pubOut); out.Type != moq.MsgAnnounceOk {
		t.Fatalf("expected ANNOUNCE_OK on publisher session, got type %d", out.Type)
	}

	fanned := recvOutbound(t, subOut)
	if fanned.Type != moq.MsgAnnounce {
		t.Fatalf("expected fanned-out ANNOUNCE, got type %d", fanned.Type)
	}
	got, err := moq.DecodeAnnounce(fanned.Payload)
	if err != nil {
		t.Fatalf("DecodeAnnounce: %v", err)
	}
	if !got.TrackNamespace.Equal(ns) {
		t.Fatalf("fanned-out namespace = %v, want %v", got.TrackNamespace, ns)
	}
}

func TestHandleSubscribeNamespaceBackfillsExistingAnnounce(t *testing.T) {
	r := newTestRig(t)
	pub, pubOut := r.newHandler(t, 1)
	sub, subOut := r.newHandler(t, 2)

	if err := r.relation.SetupPublisher(r.ctx, 1, 100); err != nil {
		t.Fatal(err)
	}
	if err := r.relation.SetupSubscriber(r.ctx, 2, 100); err != nil {
		t.Fatal(err)
	}

	ns := moq.Namespace{"room"}
	if err := pub.HandleAnnounce(r.ctx, moq.Announce{TrackNamespace: ns, Params: moq.NewParameters()}); err != nil {
		t.Fatalf("HandleAnnounce: %v", err)
	}
	if out := recvOutbound(t, pubOut); out.Type != moq.MsgAnnounceOk {
		t.Fatalf("expected ANNOUNCE_OK, got type %d", out.Type)
	}

	if err := sub.HandleSubscribeNamespace(r.ctx, moq.SubscribeNamespace{TrackNamespacePrefix: ns, Params: moq.NewParameters()}); err != nil {
		t.Fatalf("HandleSubscribeNamespace: %v", err)
	}
	if out := recvOutbound(t, subOut); out.Type != moq.MsgSubscribeNamespaceOk {
		t.Fatalf("expected SUBSCRIBE_NAMESPACE_OK, got type %d", out.Type)
	}
	backfilled := recvOutbound(t, subOut)
	if backfilled.Type != moq.MsgAnnounce {
		t.Fatalf("expected backfilled ANNOUNCE, got type %d", backfilled.Type)
	}
}

func TestHandleSubscribeCreatesUpstreamAndRelaysOk(t *testing.T) {
	r := newTestRig(t)
	pub, pubOut := r.newHandler(t, 1)
	sub, subOut := r.newHandler(t, 2)

	if err := r.relation.SetupPublisher(r.ctx, 1, 100); err != nil {
		t.Fatal(err)
	}
	if err := r.relation.SetupSubscriber(r.ctx, 2, 100); err != nil {
		t.Fatal(err)
	}

	ns := moq.Namespace{"room"}
	if err := pub.HandleAnnounce(r.ctx, moq.Announce{TrackNamespace: ns, Params: moq.NewParameters()}); err != nil {
		t.Fatalf("HandleAnnounce: %v", err)
	}
	recvOutbound(t, pubOut) // ANNOUNCE_OK

	done := make(chan error, 1)
	go func() {
		done <- sub.HandleSubscribe(r.ctx, moq.Subscribe{
			RequestID:      5,
			TrackAlias:     1,
			TrackNamespace: ns,
			TrackName:      "video",
			FilterType:     moq.FilterLatestGroup,
			Params:         moq.NewParameters(),
		})
	}()

	// The relay forwards SUBSCRIBE upstream to the publisher session.
	upstreamReq := recvOutbound(t, pubOut)
	if upstreamReq.Type != moq.MsgSubscribe {
		t.Fatalf("expected forwarded SUBSCRIBE, got type %d", upstreamReq.Type)
	}
	fwd, err := moq.DecodeSubscribe(upstreamReq.Payload)
	if err != nil {
		t.Fatalf("DecodeSubscribe: %v", err)
	}

	// Publisher answers with SUBSCRIBE_OK, routed back through the
	// publisher's own Context reply slot.
	okPayload := moq.SubscribeOk{RequestID: fwd.RequestID, TrackAlias: fwd.TrackAlias, GroupOrder: moq.GroupOrderAscending, Params: moq.NewParameters()}.Encode()
	handled, err := pub.HandleReply(moq.MsgSubscribeOk, okPayload)
	if err != nil {
		t.Fatalf("HandleReply: %v", err)
	}
	if !handled {
		t.Fatal("expected HandleReply to consume the forwarded SUBSCRIBE_OK")
	}

	if err := <-done; err != nil {
		t.Fatalf("HandleSubscribe: %v", err)
	}
	out := recvOutbound(t, subOut)
	if out.Type != moq.MsgSubscribeOk {
		t.Fatalf("expected SUBSCRIBE_OK to downstream subscriber, got type %d", out.Type)
	}
}

func TestHandleSubscribeRejectsDuplicateSubscribeID(t *testing.T) {
	r := newTestRig(t)
	sub, subOut := r.newHandler(t, 2)
	if err := r.relation.SetupSubscriber(r.ctx, 2, 100); err != nil {
		t.Fatal(err)
	}

	params := relation.DownstreamSubscriptionParams{
		Track:      relation.Track{Namespace: moq.Namespace{"a"}, Name: "t"},
		TrackAlias: 1,
		FilterType: moq.FilterLatestGroup,
	}
	if err := r.relation.SetDownstreamSubscription(r.ctx, 2, 7, params); err != nil {
		t.Fatal(err)
	}

	err := sub.HandleSubscribe(r.ctx, moq.Subscribe{RequestID: 7, TrackAlias: 2, TrackNamespace: moq.Namespace{"a"}, TrackName: "t", FilterType: moq.FilterLatestGroup, Params: moq.NewParameters()})
	var violation *moq.ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected ViolationError for reused subscribe_id, got %v", err)
	}
	_ = subOut
}

func TestHandleUnsubscribeIsNoOpWhenAlreadyGone(t *testing.T) {
	r := newTestRig(t)
	sub, _ := r.newHandler(t, 2)
	if err := sub.HandleUnsubscribe(r.ctx, moq.Unsubscribe{RequestID: 99}); err != nil {
		t.Fatalf("HandleUnsubscribe on unknown subscription: %v", err)
	}
}

func TestHandleFetchRejectsUnknownNamespace(t *testing.T) {
	r := newTestRig(t)
	h, outbox := r.newHandler(t, 1)

	if err := h.HandleFetch(r.ctx, moq.Fetch{RequestID: 1, TrackNamespace: moq.Namespace{"nope"}, TrackName: "t", Params: moq.NewParameters()}); err != nil {
		t.Fatalf("HandleFetch: %v", err)
	}
	out := recvOutbound(t, outbox)
	if out.Type != moq.MsgFetchError {
		t.Fatalf("expected FETCH_ERROR, got type %d", out.Type)
	}
	got, err := moq.DecodeFetchError(out.Payload)
	if err != nil {
		t.Fatalf("DecodeFetchError: %v", err)
	}
	if got.ErrorCode != moq.ErrCodeTrackDoesNotExist {
		t.Fatalf("ErrorCode = %d, want ErrCodeTrackDoesNotExist", got.ErrorCode)
	}
}
