package forward

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
	"github.com/zsiec/moqrelay/transport"
)

// fakeSendStream is an in-memory transport.SendStream that records every
// write for later decoding by a test.
type fakeSendStream struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *fakeSendStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *fakeSendStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSendStream) CancelWrite(uint64) {}

func (s *fakeSendStream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func (s *fakeSendStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeConn is a minimal transport.Connection standing in for a QUIC or
// WebTransport session: it only implements the outbound half a forwarder or
// fetch streamer needs (OpenUniStreamSync, SendDatagram), recording every
// stream/datagram it's asked to open or send.
type fakeConn struct {
	mu         sync.Mutex
	uniStreams []*fakeSendStream
	datagrams  [][]byte
}

func (c *fakeConn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	s := &fakeSendStream{}
	c.mu.Lock()
	c.uniStreams = append(c.uniStreams, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeConn) SendDatagram(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datagrams = append(c.datagrams, append([]byte(nil), b...))
	return nil
}

func (c *fakeConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) CloseWithError(uint64, string) error { return nil }
func (c *fakeConn) Context() context.Context            { return context.Background() }
func (c *fakeConn) RemoteAddr() string                  { return "fake" }

func (c *fakeConn) lastUniStream() (*fakeSendStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.uniStreams) == 0 {
		return nil, false
	}
	return c.uniStreams[len(c.uniStreams)-1], true
}

func (c *fakeConn) lastDatagram() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.datagrams) == 0 {
		return nil, false
	}
	return c.datagrams[len(c.datagrams)-1], true
}

type testRig struct {
	ctx      context.Context
	relation *relation.Manager
	cache    *cache.Registry
	signals  *session.SignalDispatcher
	pipeline *Pipeline

	connsMu sync.Mutex
	conns   map[relation.SessionID]*fakeConn
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rel := relation.NewManager(nil)
	go rel.Run(ctx)

	cacheRegistry := cache.NewRegistry(ctx, nil, time.Minute)
	go cacheRegistry.Run(ctx)

	sig := session.NewSignalDispatcher(nil)
	go sig.Run(ctx)

	rig := &testRig{
		ctx:      ctx,
		relation: rel,
		cache:    cacheRegistry,
		signals:  sig,
		conns:    make(map[relation.SessionID]*fakeConn),
	}
	rig.pipeline = NewPipeline(nil, rel, cacheRegistry, sig, rig.lookupConn)
	return rig
}

func (r *testRig) lookupConn(_ context.Context, id relation.SessionID) (transport.Connection, bool) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *testRig) addConn(id relation.SessionID) *fakeConn {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	c := &fakeConn{}
	r.conns[id] = c
	return c
}

// awaitStream polls c until it has opened at least one unidirectional
// stream, matching the poll-and-retry shape runSubgroupForwarder itself
// uses against an exhausted cache, and returns the most recently opened one.
func awaitStream(t *testing.T, c *fakeConn) *fakeSendStream {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s, ok := c.lastUniStream(); ok {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a forwarded stream to open")
	return nil
}

// awaitStreamClosed polls s until the forwarder that owns it has closed it
// (it closes after writing a terminal-status object), so a test can safely
// read its full contents without racing the writer.
func awaitStreamClosed(t *testing.T, s *fakeSendStream) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.isClosed() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for forwarded stream to close")
}

// awaitDatagram polls c until it has sent at least one datagram and returns
// the most recently sent one.
func awaitDatagram(t *testing.T, c *fakeConn) []byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b, ok := c.lastDatagram(); ok {
			return b
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a forwarded datagram")
	return nil
}
