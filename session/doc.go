// Package session implements the per-connection Session Context, the
// process-wide Control-Message Dispatcher and Signal Dispatcher, and the
// Session Handler that runs a connection's teardown sequence.
package session
