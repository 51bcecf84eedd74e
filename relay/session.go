package relay

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqrelay/control"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
	"github.com/zsiec/moqrelay/transport"
)

// controlOutboxBuffer bounds how far a session's control writer may lag
// behind its producers (ANNOUNCE fan-out, forwarded-reply completions)
// before Dispatcher.Send starts applying backpressure.
const controlOutboxBuffer = 64

// handleConnection runs one session end to end: it assigns a session id,
// wires a session.Context and control.Handler to it, then drives the
// control stream's read/write loops and the uni-stream/datagram receive
// loops until the connection closes or one of them hits a tier-3 error.
// Teardown always runs on the way out, regardless of which loop stopped it.
func (r *Relay) handleConnection(ctx context.Context, conn transport.Connection) {
	id := relation.SessionID(r.nextSessionID.Add(1))
	log := r.log.With("session", id, "remote", conn.RemoteAddr())
	log.Info("connection accepted")

	r.registerConn(id, conn)
	defer r.unregisterConn(id)
	defer r.Teardown.Close(ctx, id)

	sess := session.NewContext(id, log, r.Relation, r.Cache, r.Dispatcher, r.Signals, r.Sessions)
	if err := r.Sessions.Register(ctx, id, sess); err != nil {
		log.Error("failed to register session context", "error", err)
		return
	}
	outbox, err := r.Dispatcher.Register(ctx, id, controlOutboxBuffer)
	if err != nil {
		log.Error("failed to register control outbox", "error", err)
		return
	}

	h := control.NewHandler(log, sess, r.handlerConfig())
	h.SetFetchStreamer(r.Pipeline.StreamFetch)

	ctrl, err := conn.AcceptStream(ctx)
	if err != nil {
		log.Warn("failed to accept control stream", "error", err)
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-conn.Context().Done():
			cancel()
		case <-connCtx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(connCtx)
	g.Go(func() error { return r.controlReadLoop(gctx, h, sess, ctrl) })
	g.Go(func() error { return r.controlWriteLoop(gctx, ctrl, outbox) })
	g.Go(func() error { return r.uniStreamLoop(gctx, conn, id) })
	g.Go(func() error { return r.datagramLoop(gctx, conn, id) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Info("session ending", "reason", err)
	}
	cancel()
	ctrl.CancelRead(0)
	_ = conn.CloseWithError(0, "session closed")
}

// controlReadLoop decodes one framed control message at a time off stream
// and dispatches it. It returns nil on a clean peer-closed stream and any
// dispatch or decode error otherwise, which the caller treats as fatal to
// the session per spec §7's tier-3 default.
func (r *Relay) controlReadLoop(ctx context.Context, h *control.Handler, sess *session.Context, stream transport.Stream) error {
	for {
		msgType, payload, err := moq.ReadControlMessage(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := r.dispatchControl(ctx, h, sess, msgType, payload); err != nil {
			return err
		}
	}
}

// controlWriteLoop drains sess's dispatcher outbox to stream, serializing
// every control message behind one writer so replies and fanned-out
// messages never interleave mid-frame.
func (r *Relay) controlWriteLoop(ctx context.Context, stream transport.Stream, outbox <-chan session.OutboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-outbox:
			if !ok {
				return nil
			}
			if err := moq.WriteControlMessage(stream, msg.Type, msg.Payload); err != nil {
				return err
			}
		}
	}
}

// uniStreamLoop accepts every unidirectional stream the peer opens and hands
// each to the forward pipeline's Data-Stream Receiver on its own goroutine,
// so one slow or misbehaving publisher stream never blocks accepting the
// next. The session carrying the stream is always this connection's own
// session id; the subscribe_id the stream belongs to is read from the
// subgroup header inside ReceiveUniStream itself.
func (r *Relay) uniStreamLoop(ctx context.Context, conn transport.Connection, id relation.SessionID) error {
	for {
		stream, err := conn.AcceptUniStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func(s transport.ReceiveStream) {
			if err := r.Pipeline.ReceiveUniStream(ctx, id, s); err != nil {
				r.log.Warn("uni-stream receive failed", "session", id, "error", err)
			}
		}(stream)
	}
}

// datagramLoop accepts every datagram the peer sends and hands each to the
// forward pipeline's datagram receiver on its own goroutine.
func (r *Relay) datagramLoop(ctx context.Context, conn transport.Connection, id relation.SessionID) error {
	for {
		payload, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func(p []byte) {
			if err := r.Pipeline.ReceiveDatagram(ctx, id, p); err != nil {
				r.log.Warn("datagram receive failed", "session", id, "error", err)
			}
		}(payload)
	}
}
