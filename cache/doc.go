// Package cache implements the object cache: per (session, subscribe_id)
// storage of a track's recent objects, either as a single datagram cache or
// as one cache per subgroup stream, each TTL-bounded and ordered so a
// forwarder can resume iteration with an opaque cursor.
//
// Like relation.Manager, each per-key cache is a single-threaded actor
// reachable only through its command channel.
package cache
