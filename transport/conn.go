package transport

import (
	"context"
	"io"
)

// SendStream is the write half of a unidirectional or bidirectional stream.
type SendStream interface {
	io.Writer
	io.Closer
	CancelWrite(code uint64)
}

// ReceiveStream is the read half of a unidirectional or bidirectional stream.
type ReceiveStream interface {
	io.Reader
	CancelRead(code uint64)
}

// Stream is a bidirectional stream, used for the MoQT control channel and
// for FETCH response streams opened by the publisher.
type Stream interface {
	SendStream
	ReceiveStream
}

// Connection is one MoQT transport session, whether it arrived as a raw
// QUIC connection or a WebTransport session. The control stream and every
// data stream/datagram of a session run over the same Connection.
type Connection interface {
	// AcceptStream waits for the peer to open a bidirectional stream.
	AcceptStream(ctx context.Context) (Stream, error)
	// AcceptUniStream waits for the peer to open a unidirectional stream.
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	// OpenStreamSync opens a bidirectional stream, blocking if the peer's
	// flow-control limits are currently exhausted.
	OpenStreamSync(ctx context.Context) (Stream, error)
	// OpenUniStreamSync opens a unidirectional stream, blocking if the
	// peer's flow-control limits are currently exhausted.
	OpenUniStreamSync(ctx context.Context) (SendStream, error)
	// SendDatagram sends an unreliable, unordered datagram.
	SendDatagram(b []byte) error
	// ReceiveDatagram waits for the next inbound datagram.
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	// CloseWithError closes the connection/session with an application
	// error code and human-readable reason.
	CloseWithError(code uint64, reason string) error
	// Context is canceled when the connection/session closes.
	Context() context.Context
	// RemoteAddr returns the peer's network address, for logging.
	RemoteAddr() string
}
