// Package forward implements the Data-Stream Receiver and Data-Stream
// Forwarder: the pipeline that takes objects arriving from a publisher on
// one upstream subscription and relays them to every downstream
// subscription attached to it. It has no opinion about control-plane
// bookkeeping beyond what it needs to find those downstreams (relation.Manager)
// and where to cache/replay objects from (cache.Registry); wire decisions
// already made by control/ (who gets what, with which filter) arrive here
// only as relation.SubKey lookups.
package forward
