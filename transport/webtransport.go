package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// WebTransportServer accepts MoQT sessions negotiated over WebTransport/
// HTTP3. Unlike a QUIC listener, sessions arrive through an HTTP handler
// rather than a blocking Accept loop, so Handler bridges the two: every
// successful upgrade is pushed onto an internal channel that Accept reads
// from, giving callers the same pull-based Accept(ctx) shape as
// QUICListener regardless of which path a given URL is mounted on.
type WebTransportServer struct {
	srv *webtransport.Server

	accepted chan Connection
}

// WebTransportConfig configures the HTTP/3 + WebTransport listener.
type WebTransportConfig struct {
	Addr        string
	TLSConfig   *tls.Config
	QUICConfig  *quic.Config
	CheckOrigin func(*http.Request) bool
}

// NewWebTransportServer constructs a server that upgrades requests to path
// into WebTransport sessions. Mount the returned Handler on an http.ServeMux
// at the path your clients will connect to (conventionally "/moq"), then
// call ListenAndServe.
func NewWebTransportServer(cfg WebTransportConfig, mux *http.ServeMux, path string) *WebTransportServer {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	quicCfg := cfg.QUICConfig
	if quicCfg == nil {
		quicCfg = &quic.Config{MaxIdleTimeout: 30 * time.Second}
	}

	s := &WebTransportServer{
		accepted: make(chan Connection),
	}
	s.srv = &webtransport.Server{
		H3: http3.Server{
			Addr:       cfg.Addr,
			Handler:    mux,
			TLSConfig:  cfg.TLSConfig,
			QUICConfig: quicCfg,
		},
		CheckOrigin: checkOrigin,
	}
	mux.HandleFunc(path, s.handleUpgrade)
	return s
}

func (s *WebTransportServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	sess, err := s.srv.Upgrade(w, r)
	if err != nil {
		http.Error(w, fmt.Sprintf("webtransport upgrade: %v", err), http.StatusInternalServerError)
		return
	}

	conn := &wtConnection{sess: sess, remote: r.RemoteAddr}

	select {
	case s.accepted <- conn:
	case <-r.Context().Done():
		sess.CloseWithError(0, "upgrade accepted but server shutting down")
	}
}

// Accept returns the next upgraded WebTransport session.
func (s *WebTransportServer) Accept(ctx context.Context) (Connection, error) {
	select {
	case conn := <-s.accepted:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListenAndServe blocks serving HTTP/3 until Close is called or a fatal
// error occurs.
func (s *WebTransportServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Close shuts down the HTTP/3 listener.
func (s *WebTransportServer) Close() error {
	return s.srv.Close()
}

type wtConnection struct {
	sess   *webtransport.Session
	remote string
}

func (c *wtConnection) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.sess.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &wtStream{Stream: s}, nil
}

func (c *wtConnection) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	s, err := c.sess.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &wtReceiveStream{ReceiveStream: s}, nil
}

func (c *wtConnection) OpenStreamSync(ctx context.Context) (Stream, error) {
	s, err := c.sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &wtStream{Stream: s}, nil
}

func (c *wtConnection) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	s, err := c.sess.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &wtSendStream{SendStream: s}, nil
}

func (c *wtConnection) SendDatagram(b []byte) error {
	return c.sess.SendDatagram(b)
}

func (c *wtConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.sess.ReceiveDatagram(ctx)
}

func (c *wtConnection) CloseWithError(code uint64, reason string) error {
	return c.sess.CloseWithError(webtransport.SessionErrorCode(code), reason)
}

func (c *wtConnection) Context() context.Context { return c.sess.Context() }

func (c *wtConnection) RemoteAddr() string { return c.remote }

type wtStream struct {
	webtransport.Stream
}

func (s *wtStream) CancelWrite(code uint64) {
	s.Stream.CancelWrite(webtransport.StreamErrorCode(code))
}

func (s *wtStream) CancelRead(code uint64) {
	s.Stream.CancelRead(webtransport.StreamErrorCode(code))
}

type wtSendStream struct {
	webtransport.SendStream
}

func (s *wtSendStream) CancelWrite(code uint64) {
	s.SendStream.CancelWrite(webtransport.StreamErrorCode(code))
}

type wtReceiveStream struct {
	webtransport.ReceiveStream
}

func (s *wtReceiveStream) CancelRead(code uint64) {
	s.ReceiveStream.CancelRead(webtransport.StreamErrorCode(code))
}
