package relation

import (
	"context"

	"github.com/zsiec/moqrelay/moq"
)

// SetupPublisher creates a publisher record for session with an empty
// namespace map. Calling it twice for the same session is a protocol error.
func (m *Manager) SetupPublisher(ctx context.Context, session SessionID, maxSubscribeID uint64) error {
	var err error
	runErr := m.do(ctx, func() {
		if _, exists := m.st.publishers[session]; exists {
			err = ErrAlreadySetUp
			return
		}
		m.st.publishers[session] = &publisherState{
			maxSubscribeID: maxSubscribeID,
			announced:      make(map[string]moq.Namespace),
		}
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// SetupSubscriber creates a subscriber record for session. Symmetric with
// SetupPublisher.
func (m *Manager) SetupSubscriber(ctx context.Context, session SessionID, maxSubscribeID uint64) error {
	var err error
	runErr := m.do(ctx, func() {
		if _, exists := m.st.subscribers[session]; exists {
			err = ErrAlreadySetUp
			return
		}
		m.st.subscribers[session] = &subscriberState{
			maxSubscribeID:     maxSubscribeID,
			subscribedPrefixes: make(map[string]moq.Namespace),
			announcedTo:        make(map[string]struct{}),
		}
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// RaiseMaxSubscribeID raises session's negotiated subscribe-id cap to max,
// used on receipt of MAX_SUBSCRIBE_ID. The cap only ever moves up; a value
// not greater than the current one is a no-op rather than an error, since a
// stale or duplicate MAX_SUBSCRIBE_ID is not a protocol violation.
func (m *Manager) RaiseMaxSubscribeID(ctx context.Context, session SessionID, max uint64) error {
	var err error
	runErr := m.do(ctx, func() {
		sub, ok := m.st.subscribers[session]
		if !ok {
			err = ErrNotSetUp
			return
		}
		if max > sub.maxSubscribeID {
			sub.maxSubscribeID = max
		}
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// SetUpstreamAnnouncedNamespace records that session publishes ns. Fails if
// session already announced this exact namespace.
func (m *Manager) SetUpstreamAnnouncedNamespace(ctx context.Context, session SessionID, ns moq.Namespace) error {
	var err error
	runErr := m.do(ctx, func() {
		pub, ok := m.st.publishers[session]
		if !ok {
			err = ErrNotSetUp
			return
		}
		key := nsKey(ns)
		if _, already := pub.announced[key]; already {
			err = ErrNamespaceAnnounced
			return
		}
		pub.announced[key] = ns.Clone()
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// IsNamespaceAnnounced reports whether any publisher session currently
// announces ns, and which session if so.
func (m *Manager) IsNamespaceAnnounced(ctx context.Context, ns moq.Namespace) (SessionID, bool, error) {
	var (
		owner SessionID
		found bool
	)
	key := nsKey(ns)
	runErr := m.do(ctx, func() {
		for sess, pub := range m.st.publishers {
			if _, ok := pub.announced[key]; ok {
				owner, found = sess, true
				return
			}
		}
	})
	return owner, found, runErr
}

// UnannounceNamespace removes ns from session's announced set. It is not an
// error to unannounce a namespace the session never announced (the caller
// already validated that via IsNamespaceAnnounced).
func (m *Manager) UnannounceNamespace(ctx context.Context, session SessionID, ns moq.Namespace) error {
	return m.do(ctx, func() {
		if pub, ok := m.st.publishers[session]; ok {
			delete(pub.announced, nsKey(ns))
		}
	})
}

// IsDownstreamSubscribeIDUnique reports whether id is not already in use by
// any downstream subscription owned by session.
func (m *Manager) IsDownstreamSubscribeIDUnique(ctx context.Context, session SessionID, id uint64) (bool, error) {
	unique := true
	runErr := m.do(ctx, func() {
		_, exists := m.st.downstream[SubKey{Session: session, ID: id}]
		unique = !exists
	})
	return unique, runErr
}

// IsDownstreamSubscribeIDLessThanMax reports whether id is within session's
// negotiated subscribe-id cap.
func (m *Manager) IsDownstreamSubscribeIDLessThanMax(ctx context.Context, session SessionID, id uint64) (bool, error) {
	ok := false
	runErr := m.do(ctx, func() {
		sub, exists := m.st.subscribers[session]
		if !exists {
			return
		}
		ok = id < sub.maxSubscribeID
	})
	return ok, runErr
}

// IsDownstreamTrackAliasUnique reports whether alias is not already in use
// by any downstream subscription owned by session. Track aliases are
// client-chosen on SUBSCRIBE (spec §4.5); a collision gets rejected with
// SUBSCRIBE_ERROR{RetryTrackAlias} rather than silently overwriting the
// earlier subscription's alias.
func (m *Manager) IsDownstreamTrackAliasUnique(ctx context.Context, session SessionID, alias uint64) (bool, error) {
	unique := true
	runErr := m.do(ctx, func() {
		for key, down := range m.st.downstream {
			if key.Session == session && down.trackAlias == alias {
				unique = false
				return
			}
		}
	})
	return unique, runErr
}

// DownstreamSubscriptionParams bundles the fields needed to create a
// downstream subscription.
type DownstreamSubscriptionParams struct {
	Track       Track
	TrackAlias  uint64
	FilterType  uint64
	StartGroup  uint64
	StartObject uint64
	EndGroup    uint64
}

// SetDownstreamSubscription creates a Requesting downstream subscription.
// Fails if id is already used, the track alias collides with another
// downstream subscription from the same session, or id exceeds session's
// max.
func (m *Manager) SetDownstreamSubscription(ctx context.Context, session SessionID, id uint64, p DownstreamSubscriptionParams) error {
	var err error
	runErr := m.do(ctx, func() {
		sub, exists := m.st.subscribers[session]
		if !exists {
			err = ErrNotSetUp
			return
		}
		key := SubKey{Session: session, ID: id}
		if _, exists := m.st.downstream[key]; exists {
			err = ErrSubscribeIDTaken
			return
		}
		if id >= sub.maxSubscribeID {
			err = ErrSubscribeIDTooLarge
			return
		}
		for k, ds := range m.st.downstream {
			if k.Session == session && ds.trackAlias == p.TrackAlias {
				err = ErrTrackAliasTaken
				return
			}
		}
		m.st.downstream[key] = &downstreamSubscription{
			track:       track{namespace: p.Track.Namespace.Clone(), name: p.Track.Name},
			trackAlias:  p.TrackAlias,
			state:       SubscriptionRequesting,
			streamIDs:   make(map[StreamCoord]uint64),
			filterType:  p.FilterType,
			startGroup:  p.StartGroup,
			startObject: p.StartObject,
			endGroup:    p.EndGroup,
		}
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// FindUpstreamSubscription returns the key of an existing upstream
// subscription to (namespace, name) owned by session, if one exists — used
// so a SUBSCRIBE handler reuses an in-flight upstream subscription instead
// of creating a duplicate.
func (m *Manager) FindUpstreamSubscription(ctx context.Context, session SessionID, t Track) (SubKey, bool, error) {
	var (
		key   SubKey
		found bool
	)
	runErr := m.do(ctx, func() {
		for k, up := range m.st.upstream {
			if k.Session != session {
				continue
			}
			if up.track.namespace.Equal(t.Namespace) && up.track.name == t.Name {
				key, found = k, true
				return
			}
		}
	})
	return key, found, runErr
}

// SetUpstreamSubscription creates a new upstream subscription owned by
// session, picking the smallest unused subscribe_id in [1, max] and then
// the smallest unused track_alias for that session.
func (m *Manager) SetUpstreamSubscription(ctx context.Context, session SessionID, t Track) (subscribeID, trackAlias uint64, err error) {
	runErr := m.do(ctx, func() {
		pub, exists := m.st.publishers[session]
		if !exists {
			err = ErrNotSetUp
			return
		}

		used := make(map[uint64]struct{})
		usedAlias := make(map[uint64]struct{})
		for k, up := range m.st.upstream {
			if k.Session != session {
				continue
			}
			used[k.ID] = struct{}{}
			usedAlias[up.trackAlias] = struct{}{}
		}

		id := smallestUnused(used, pub.maxSubscribeID)
		alias := smallestUnusedUnbounded(usedAlias)

		m.st.upstream[SubKey{Session: session, ID: id}] = &upstreamSubscription{
			track:       track{namespace: t.Namespace.Clone(), name: t.Name},
			trackAlias:  alias,
			state:       SubscriptionRequesting,
			streamIDs:   make(map[StreamCoord]uint64),
			downstreams: make(map[SubKey]struct{}),
		}
		subscribeID, trackAlias = id, alias
	})
	if runErr != nil {
		return 0, 0, runErr
	}
	return subscribeID, trackAlias, err
}

// smallestUnused returns the smallest id in [1, max) not present in used.
// subscribe_id 0 is reserved (unused) so ids start at 1, matching the
// convention that a zero-value SubKey.ID never denotes a real subscription.
func smallestUnused(used map[uint64]struct{}, max uint64) uint64 {
	for id := uint64(1); id < max; id++ {
		if _, ok := used[id]; !ok {
			return id
		}
	}
	return max
}

// smallestUnusedUnbounded returns the smallest id in [1, ∞) not present in
// used. Track aliases have no negotiated cap.
func smallestUnusedUnbounded(used map[uint64]struct{}) uint64 {
	for id := uint64(1); ; id++ {
		if _, ok := used[id]; !ok {
			return id
		}
	}
}

// SetPubSubRelation records that the downstream subscription (downSession,
// downID) is served by the upstream subscription (upSession, upID). Fails
// if either endpoint is missing.
func (m *Manager) SetPubSubRelation(ctx context.Context, upSession SessionID, upID uint64, downSession SessionID, downID uint64) error {
	var err error
	runErr := m.do(ctx, func() {
		upKey := SubKey{Session: upSession, ID: upID}
		downKey := SubKey{Session: downSession, ID: downID}

		up, ok := m.st.upstream[upKey]
		if !ok {
			err = ErrEndpointMissing
			return
		}
		down, ok := m.st.downstream[downKey]
		if !ok {
			err = ErrEndpointMissing
			return
		}

		up.downstreams[downKey] = struct{}{}
		down.upstream = upKey
		down.hasUpstream = true
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// ActivateDownstreamSubscription transitions a Requesting downstream
// subscription to Active. It returns whether this call performed the
// transition (false if it was already Active).
func (m *Manager) ActivateDownstreamSubscription(ctx context.Context, session SessionID, id uint64) (bool, error) {
	var (
		flipped bool
		err     error
	)
	runErr := m.do(ctx, func() {
		down, ok := m.st.downstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		if down.state == SubscriptionRequesting {
			down.state = SubscriptionActive
			flipped = true
		}
	})
	if runErr != nil {
		return false, runErr
	}
	return flipped, err
}

// ActivateUpstreamSubscription is ActivateDownstreamSubscription's upstream
// counterpart.
func (m *Manager) ActivateUpstreamSubscription(ctx context.Context, session SessionID, id uint64) (bool, error) {
	var (
		flipped bool
		err     error
	)
	runErr := m.do(ctx, func() {
		up, ok := m.st.upstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		if up.state == SubscriptionRequesting {
			up.state = SubscriptionActive
			flipped = true
		}
	})
	if runErr != nil {
		return false, runErr
	}
	return flipped, err
}

// GetRequestingDownstreamSubscriptions returns every downstream subscription
// key currently waiting (Requesting or Active — any relation edge) on the
// given upstream subscription.
func (m *Manager) GetRequestingDownstreamSubscriptions(ctx context.Context, upSession SessionID, upID uint64) ([]SubKey, error) {
	var keys []SubKey
	runErr := m.do(ctx, func() {
		up, ok := m.st.upstream[SubKey{Session: upSession, ID: upID}]
		if !ok {
			return
		}
		keys = make([]SubKey, 0, len(up.downstreams))
		for k := range up.downstreams {
			keys = append(keys, k)
		}
	})
	return keys, runErr
}

// DeleteUpstreamSubscription removes the upstream subscription and every
// relation edge referencing it.
func (m *Manager) DeleteUpstreamSubscription(ctx context.Context, session SessionID, id uint64) error {
	return m.do(ctx, func() {
		key := SubKey{Session: session, ID: id}
		up, ok := m.st.upstream[key]
		if !ok {
			return
		}
		for downKey := range up.downstreams {
			if down, ok := m.st.downstream[downKey]; ok {
				down.hasUpstream = false
			}
		}
		delete(m.st.upstream, key)
	})
}

// DeleteDownstreamSubscription removes the downstream subscription and its
// relation edge, if any.
func (m *Manager) DeleteDownstreamSubscription(ctx context.Context, session SessionID, id uint64) error {
	return m.do(ctx, func() {
		key := SubKey{Session: session, ID: id}
		down, ok := m.st.downstream[key]
		if !ok {
			return
		}
		if down.hasUpstream {
			if up, ok := m.st.upstream[down.upstream]; ok {
				delete(up.downstreams, key)
			}
		}
		delete(m.st.downstream, key)
	})
}

// DeleteClient purges every publisher/subscriber record, subscription, and
// relation edge owned by session (spec §4.9 session teardown).
func (m *Manager) DeleteClient(ctx context.Context, session SessionID) error {
	return m.do(ctx, func() {
		delete(m.st.publishers, session)
		delete(m.st.subscribers, session)

		for key, up := range m.st.upstream {
			if key.Session != session {
				continue
			}
			for downKey := range up.downstreams {
				if down, ok := m.st.downstream[downKey]; ok {
					down.hasUpstream = false
				}
			}
			delete(m.st.upstream, key)
		}

		for key, down := range m.st.downstream {
			if key.Session != session {
				continue
			}
			if down.hasUpstream {
				if up, ok := m.st.upstream[down.upstream]; ok {
					delete(up.downstreams, key)
				}
			}
			delete(m.st.downstream, key)
		}
	})
}

// SetUpstreamForwardingPreference transitions an unset preference to pref.
// Transitioning to a different, already-set value is a protocol error.
func (m *Manager) SetUpstreamForwardingPreference(ctx context.Context, session SessionID, id uint64, pref ForwardPreference) error {
	var err error
	runErr := m.do(ctx, func() {
		up, ok := m.st.upstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		if up.forwardPref == ForwardPreferenceUnset {
			up.forwardPref = pref
			return
		}
		if up.forwardPref != pref {
			err = ErrForwardingConflict
		}
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// SetDownstreamForwardingPreference is SetUpstreamForwardingPreference's
// downstream counterpart.
func (m *Manager) SetDownstreamForwardingPreference(ctx context.Context, session SessionID, id uint64, pref ForwardPreference) error {
	var err error
	runErr := m.do(ctx, func() {
		down, ok := m.st.downstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		if down.forwardPref == ForwardPreferenceUnset {
			down.forwardPref = pref
			return
		}
		if down.forwardPref != pref {
			err = ErrForwardingConflict
		}
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// SetUpstreamStreamID records the outbound QUIC stream id opened for
// (session, id) at the given stream coordinate, so session teardown can
// locate it to signal terminate.
func (m *Manager) SetUpstreamStreamID(ctx context.Context, session SessionID, id uint64, coord StreamCoord, streamID uint64) error {
	var err error
	runErr := m.do(ctx, func() {
		up, ok := m.st.upstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		up.streamIDs[coord] = streamID
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// SetDownstreamStreamID is SetUpstreamStreamID's downstream counterpart.
func (m *Manager) SetDownstreamStreamID(ctx context.Context, session SessionID, id uint64, coord StreamCoord, streamID uint64) error {
	var err error
	runErr := m.do(ctx, func() {
		down, ok := m.st.downstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		down.streamIDs[coord] = streamID
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// GetDownstreamSessionsByUpstreamNamespace returns every subscriber session
// whose registered namespace prefix matches ns (used to fan out ANNOUNCE).
func (m *Manager) GetDownstreamSessionsByUpstreamNamespace(ctx context.Context, ns moq.Namespace) ([]SessionID, error) {
	var sessions []SessionID
	runErr := m.do(ctx, func() {
		for sess, sub := range m.st.subscribers {
			for _, prefix := range sub.subscribedPrefixes {
				if ns.HasPrefix(prefix) {
					sessions = append(sessions, sess)
					break
				}
			}
		}
	})
	return sessions, runErr
}

// NamespaceOwner pairs an announced namespace with the publisher session
// that announced it.
type NamespaceOwner struct {
	Session   SessionID
	Namespace moq.Namespace
}

// GetUpstreamNamespacesMatchingPrefix returns every currently announced
// namespace (and its owning session) that matches prefix (used by
// SUBSCRIBE_NAMESPACE to backfill ANNOUNCE for namespaces announced before
// the subscriber registered).
func (m *Manager) GetUpstreamNamespacesMatchingPrefix(ctx context.Context, prefix moq.Namespace) ([]NamespaceOwner, error) {
	var owners []NamespaceOwner
	runErr := m.do(ctx, func() {
		for sess, pub := range m.st.publishers {
			for _, ns := range pub.announced {
				if ns.HasPrefix(prefix) {
					owners = append(owners, NamespaceOwner{Session: sess, Namespace: ns.Clone()})
				}
			}
		}
	})
	return owners, runErr
}

// RegisterSubscribedNamespacePrefix records prefix as subscribed by session
// and, atomically, reports every already-announced namespace the subscriber
// has not yet been told about (so a SUBSCRIBE_NAMESPACE handler can
// dispatch ANNOUNCE for each in one pass without a separate lookup racing
// a concurrent ANNOUNCE fan-out).
func (m *Manager) RegisterSubscribedNamespacePrefix(ctx context.Context, session SessionID, prefix moq.Namespace) ([]moq.Namespace, error) {
	var (
		toAnnounce []moq.Namespace
		err        error
	)
	runErr := m.do(ctx, func() {
		sub, ok := m.st.subscribers[session]
		if !ok {
			err = ErrNotSetUp
			return
		}
		sub.subscribedPrefixes[nsKey(prefix)] = prefix.Clone()

		for _, pub := range m.st.publishers {
			for key, ns := range pub.announced {
				if !ns.HasPrefix(prefix) {
					continue
				}
				if _, told := sub.announcedTo[key]; told {
					continue
				}
				sub.announcedTo[key] = struct{}{}
				toAnnounce = append(toAnnounce, ns.Clone())
			}
		}
	})
	if runErr != nil {
		return nil, runErr
	}
	return toAnnounce, err
}

// UnregisterSubscribedNamespacePrefix withdraws a previously registered
// prefix (UNSUBSCRIBE_NAMESPACE).
func (m *Manager) UnregisterSubscribedNamespacePrefix(ctx context.Context, session SessionID, prefix moq.Namespace) error {
	return m.do(ctx, func() {
		if sub, ok := m.st.subscribers[session]; ok {
			delete(sub.subscribedPrefixes, nsKey(prefix))
		}
	})
}

// MarkNamespaceAnnouncedToSubscribers marks ns as told to every session in
// sessions, so a later SUBSCRIBE_NAMESPACE backfill does not repeat it. Used
// right after ANNOUNCE fan-out on a fresh publish-namespace.
func (m *Manager) MarkNamespaceAnnouncedToSubscribers(ctx context.Context, ns moq.Namespace, sessions []SessionID) error {
	key := nsKey(ns)
	return m.do(ctx, func() {
		for _, sess := range sessions {
			if sub, ok := m.st.subscribers[sess]; ok {
				sub.announcedTo[key] = struct{}{}
			}
		}
	})
}

// GetUpstreamSubscription returns a snapshot of an upstream subscription.
func (m *Manager) GetUpstreamSubscription(ctx context.Context, session SessionID, id uint64) (UpstreamView, error) {
	var (
		view UpstreamView
		err  error
	)
	runErr := m.do(ctx, func() {
		up, ok := m.st.upstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		view = UpstreamView{
			Track:       Track{Namespace: up.track.namespace.Clone(), Name: up.track.name},
			TrackAlias:  up.trackAlias,
			State:       up.state,
			ForwardPref: up.forwardPref,
		}
	})
	if runErr != nil {
		return UpstreamView{}, runErr
	}
	return view, err
}

// GetDownstreamSubscription returns a snapshot of a downstream subscription.
func (m *Manager) GetDownstreamSubscription(ctx context.Context, session SessionID, id uint64) (DownstreamView, error) {
	var (
		view DownstreamView
		err  error
	)
	runErr := m.do(ctx, func() {
		down, ok := m.st.downstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		view = DownstreamView{
			Track:       Track{Namespace: down.track.namespace.Clone(), Name: down.track.name},
			TrackAlias:  down.trackAlias,
			State:       down.state,
			ForwardPref: down.forwardPref,
			FilterType:  down.filterType,
			StartGroup:  down.startGroup,
			StartObject: down.startObject,
			EndGroup:    down.endGroup,
			Upstream:    down.upstream,
			HasUpstream: down.hasUpstream,
		}
	})
	if runErr != nil {
		return DownstreamView{}, runErr
	}
	return view, err
}

// SubscriptionStreams pairs a subscription's key with the stream
// coordinates it has recorded, for session teardown's "signal terminate to
// every data-stream task owned by this session" step (spec §4.9).
type SubscriptionStreams struct {
	Key     SubKey
	Streams []StreamCoord
}

// GetDownstreamSubscriptionStreams returns the stream coordinates recorded
// for a single downstream subscription, for UNSUBSCRIBE's narrower teardown
// (only this subscription's tasks stop, unlike session close's full sweep).
func (m *Manager) GetDownstreamSubscriptionStreams(ctx context.Context, session SessionID, id uint64) ([]StreamCoord, error) {
	var (
		coords []StreamCoord
		err    error
	)
	runErr := m.do(ctx, func() {
		down, ok := m.st.downstream[SubKey{Session: session, ID: id}]
		if !ok {
			err = ErrSubscriptionMissing
			return
		}
		coords = coordsOf(down.streamIDs)
	})
	if runErr != nil {
		return nil, runErr
	}
	return coords, err
}

// GetSessionSubscriptions enumerates every upstream and downstream
// subscription owned by session, along with their recorded stream
// coordinates, without deleting anything. The session handler calls this
// before DeleteClient so it knows which data-stream tasks to signal.
func (m *Manager) GetSessionSubscriptions(ctx context.Context, session SessionID) (upstream, downstream []SubscriptionStreams, err error) {
	runErr := m.do(ctx, func() {
		for key, up := range m.st.upstream {
			if key.Session != session {
				continue
			}
			upstream = append(upstream, SubscriptionStreams{Key: key, Streams: coordsOf(up.streamIDs)})
		}
		for key, down := range m.st.downstream {
			if key.Session != session {
				continue
			}
			downstream = append(downstream, SubscriptionStreams{Key: key, Streams: coordsOf(down.streamIDs)})
		}
	})
	if runErr != nil {
		return nil, nil, runErr
	}
	return upstream, downstream, nil
}

func coordsOf(streamIDs map[StreamCoord]uint64) []StreamCoord {
	coords := make([]StreamCoord, 0, len(streamIDs))
	for c := range streamIDs {
		coords = append(coords, c)
	}
	return coords
}
