// Package moq implements the wire-protocol codec for Media-over-QUIC
// Transport: variable-length integers, namespace tuples, key/value
// parameter lists, control-message envelopes, data-stream headers, and
// object/datagram framing.
//
// This package contains no session, relation, cache, or forwarding logic;
// those live in the sibling session, relation, cache, control, and forward
// packages.
package moq
