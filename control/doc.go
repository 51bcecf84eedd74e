// Package control implements the control-plane message handlers of a MoQT
// relay: SETUP negotiation, ANNOUNCE/UNANNOUNCE/ANNOUNCE_CANCEL namespace
// publication and fan-out, SUBSCRIBE_NAMESPACE prefix registration and
// backfill, SUBSCRIBE/UNSUBSCRIBE relation setup including on-demand
// upstream subscription creation, FETCH bounded one-shot reads, and
// MAX_SUBSCRIBE_ID flow control.
//
// Each handler acts on a single session.Context: it reads and mutates the
// shared relation.Manager and cache.Registry through that context, and
// replies or fans messages out to other sessions through the context's
// Dispatcher. Handlers never touch a transport.Connection or QUIC stream
// directly; framing and stream I/O belong to the relay package that reads
// control messages off the wire and calls into this package.
package control
