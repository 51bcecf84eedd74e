package transport

// Compile-time checks that both bindings satisfy the transport-agnostic
// Connection/Stream contracts relay and forward build against.
var (
	_ Connection = (*quicConnection)(nil)
	_ Connection = (*wtConnection)(nil)

	_ Stream = (*quicStream)(nil)
	_ Stream = (*wtStream)(nil)

	_ SendStream = (*quicSendStream)(nil)
	_ SendStream = (*wtSendStream)(nil)

	_ ReceiveStream = (*quicReceiveStream)(nil)
	_ ReceiveStream = (*wtReceiveStream)(nil)
)
