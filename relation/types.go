package relation

import (
	"strings"

	"github.com/zsiec/moqrelay/moq"
)

// SessionID identifies one QUIC/WebTransport session. The relay assigns
// these sequentially as sessions are accepted; the relation manager never
// interprets the value.
type SessionID uint64

// ForwardPreference is whether a subscription's objects travel as reliable
// subgroup streams or unreliable datagrams. It is unset until the first
// object arrives (spec §4.6/§4.8) and, once set, cannot change.
type ForwardPreference int

const (
	ForwardPreferenceUnset ForwardPreference = iota
	ForwardPreferenceDatagram
	ForwardPreferenceSubgroup
)

func (p ForwardPreference) String() string {
	switch p {
	case ForwardPreferenceDatagram:
		return "datagram"
	case ForwardPreferenceSubgroup:
		return "subgroup"
	default:
		return "unset"
	}
}

// SubscriptionState is a subscription's lifecycle stage.
type SubscriptionState int

const (
	SubscriptionRequesting SubscriptionState = iota
	SubscriptionActive
)

// SubKey identifies a subscription by the session that owns it and the
// subscribe_id that session assigned it (the downstream's own choice for a
// downstream subscription, or the id this relay picked for an upstream
// subscription).
type SubKey struct {
	Session SessionID
	ID      uint64
}

// StreamCoord addresses one outbound data stream within a subscription: a
// (group, subgroup) pair for a subgroup stream. Datagram-preference
// subscriptions don't record per-coordinate stream ids since there is no
// stream to track.
type StreamCoord struct {
	GroupID    uint64
	SubgroupID uint64
}

// track identifies a published track by its (namespace, name). Namespace
// equality is element-wise, so track keys are computed from a joined string
// form rather than the slice itself.
type track struct {
	namespace moq.Namespace
	name      string
}

func (t track) key() string {
	return nsKey(t.namespace) + "\x00" + t.name
}

func nsKey(ns moq.Namespace) string {
	return strings.Join([]string(ns), "\x00")
}

// publisherState is the per-session record created by setup_publisher.
type publisherState struct {
	maxSubscribeID uint64
	// announced maps a namespace's key form to the namespace itself so
	// iteration can recover the original tuple.
	announced map[string]moq.Namespace
}

// subscriberState is the per-session record created by setup_subscriber.
type subscriberState struct {
	maxSubscribeID uint64
	// subscribedPrefixes are namespace prefixes this subscriber registered
	// via SUBSCRIBE_NAMESPACE.
	subscribedPrefixes map[string]moq.Namespace
	// announcedTo tracks which namespaces this subscriber has already been
	// told about via ANNOUNCE, so a later SUBSCRIBE_NAMESPACE backfill or a
	// later ANNOUNCE fan-out never sends a duplicate.
	announcedTo map[string]struct{}
}

// upstreamSubscription is the relay's own subscription to a publisher,
// created when the relay first needs to source a track for some downstream.
type upstreamSubscription struct {
	track       track
	trackAlias  uint64
	state       SubscriptionState
	forwardPref ForwardPreference
	streamIDs   map[StreamCoord]uint64
	downstreams map[SubKey]struct{}
}

// downstreamSubscription is a subscriber's subscription as the relay
// received it.
type downstreamSubscription struct {
	track       track
	trackAlias  uint64
	state       SubscriptionState
	forwardPref ForwardPreference
	streamIDs   map[StreamCoord]uint64

	filterType  uint64
	startGroup  uint64
	startObject uint64
	endGroup    uint64

	upstream    SubKey
	hasUpstream bool
}
