// Package relation implements the process-wide pub/sub relation manager: the
// single registry of record for publisher/subscriber roles, announced
// namespaces, subscribed namespace prefixes, upstream and downstream
// subscriptions, the relation between them, and per-subscription outbound
// stream-id bookkeeping.
//
// The registry is a single-threaded actor. Every exported method enqueues a
// closure onto an internal command channel and blocks for its result, so
// every read-modify-write against the registry's maps is serialized without
// locks, matching the rest of this relay's actor registries (the object
// cache and the two dispatchers).
package relation
