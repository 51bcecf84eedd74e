// Package relay is the top-level wiring for a MoQT relay: it owns the four
// process-wide registries spec.md §5 names (relation.Manager, cache.Registry,
// session.Dispatcher, session.SignalDispatcher — plus session.Registry,
// added by SUPPLEMENTED FEATURES for upstream-reply forwarding), runs their
// actor loops, accepts transport.Connections from one or more listeners, and
// drives each connection's control-stream read/write loop, uni-stream
// receive loop, and datagram receive loop. It is the only package that
// holds a transport.Connection directly; control/, forward/, relation/, and
// cache/ reach the network only through the contracts relay wires them to.
//
// Grounded on distribution/relay.go and internal/distribution/server.go's
// accept-loop/session-lifecycle shape, generalized from prism's single
// fixed media relay to the spec's many-session, many-track pub/sub model.
package relay
