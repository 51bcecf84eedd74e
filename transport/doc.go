// Package transport abstracts the two QUIC-based bindings MoQT can run
// over: native QUIC connections and WebTransport sessions layered on
// HTTP/3. Both expose the same Connection/Stream shape so the relay
// package can run its control and data loops without caring which
// binding accepted the client.
package transport
