package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/quic-go/quic-go"
)

// QUICListener accepts native QUIC connections and adapts each one to the
// Connection interface, for clients that speak MoQT directly over QUIC
// rather than through a WebTransport/HTTP3 upgrade.
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC starts listening for native QUIC connections on addr. config
// may be nil to use quic-go's defaults.
func ListenQUIC(addr string, tlsConf *tls.Config, config *quic.Config) (*QUICListener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, config)
	if err != nil {
		return nil, err
	}
	return &QUICListener{ln: ln}, nil
}

// Accept waits for the next incoming QUIC connection.
func (l *QUICListener) Accept(ctx context.Context) (Connection, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &quicConnection{conn: conn}, nil
}

// Addr returns the listener's bound address.
func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *QUICListener) Close() error { return l.ln.Close() }

type quicConnection struct {
	conn quic.Connection
}

func (c *quicConnection) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{Stream: s}, nil
}

func (c *quicConnection) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &quicReceiveStream{ReceiveStream: s}, nil
}

func (c *quicConnection) OpenStreamSync(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{Stream: s}, nil
}

func (c *quicConnection) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicSendStream{SendStream: s}, nil
}

func (c *quicConnection) SendDatagram(b []byte) error {
	return c.conn.SendDatagram(b)
}

func (c *quicConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.conn.ReceiveDatagram(ctx)
}

func (c *quicConnection) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (c *quicConnection) Context() context.Context { return c.conn.Context() }

func (c *quicConnection) RemoteAddr() string { return c.conn.RemoteAddr().String() }

type quicStream struct {
	quic.Stream
}

func (s *quicStream) CancelWrite(code uint64) {
	s.Stream.CancelWrite(quic.StreamErrorCode(code))
}

func (s *quicStream) CancelRead(code uint64) {
	s.Stream.CancelRead(quic.StreamErrorCode(code))
}

type quicSendStream struct {
	quic.SendStream
}

func (s *quicSendStream) CancelWrite(code uint64) {
	s.SendStream.CancelWrite(quic.StreamErrorCode(code))
}

type quicReceiveStream struct {
	quic.ReceiveStream
}

func (s *quicReceiveStream) CancelRead(code uint64) {
	s.ReceiveStream.CancelRead(quic.StreamErrorCode(code))
}
