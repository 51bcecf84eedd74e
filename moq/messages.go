package moq

import "fmt"

// Error codes surfaced on the wire (spec §6).
const (
	ErrCodeNone              uint64 = 0x00
	ErrCodeInternalError     uint64 = 0x01
	ErrCodeUnauthorized      uint64 = 0x02
	ErrCodeProtocolViolation uint64 = 0x03
	ErrCodeRetryTrackAlias   uint64 = 0x04
	ErrCodeTrackDoesNotExist uint64 = 0x05
)

// SUBSCRIBE_DONE status codes (spec §4.5 Unsubscribe, §8 scenario 6).
const (
	StatusUnsubscribed     uint64 = 0x00
	StatusInternalError    uint64 = 0x01
	StatusSubscriptionDone uint64 = 0x02
)

// Subscribe filter types (spec §3 Subscription.filter_type).
const (
	FilterLatestGroup   uint64 = 0x01
	FilterLatestObject  uint64 = 0x02
	FilterAbsoluteStart uint64 = 0x03
	FilterAbsoluteRange uint64 = 0x04
)

// Group order values (spec §3 Subscription.group_order). GroupOrderDefault
// is a wire-only value meaning "publisher's choice"; it is never stored on
// a Subscription once negotiated.
const (
	GroupOrderDefault    byte = 0x00
	GroupOrderAscending  byte = 0x01
	GroupOrderDescending byte = 0x02
)

// Forwarding preference hint carried by SUBSCRIBE.Forward. The authoritative
// preference is always the upstream's, learned from the first object
// (spec §3 invariants); this hint is informational only.
const (
	ForwardDatagram byte = 0x00
	ForwardSubgroup byte = 0x01
)

// ClientSetup is the first message sent by a MoQ client on the control
// stream.
type ClientSetup struct {
	Versions []uint64
	Params   Parameters
}

// ServerSetup is the relay's response to a ClientSetup.
type ServerSetup struct {
	SelectedVersion uint64
	Params          Parameters
}

// Subscribe requests delivery of a track, optionally starting mid-stream.
type Subscribe struct {
	RequestID          uint64
	TrackAlias         uint64
	TrackNamespace     Namespace
	TrackName          string
	SubscriberPriority byte
	GroupOrder         byte
	Forward            byte
	FilterType         uint64
	StartGroup         uint64 // AbsoluteStart, AbsoluteRange
	StartObject        uint64 // AbsoluteStart, AbsoluteRange
	EndGroup           uint64 // AbsoluteRange
	Params             Parameters
}

// SubscribeOk confirms a subscription and reports the upstream's current
// largest object, if any exists yet.
type SubscribeOk struct {
	RequestID     uint64
	TrackAlias    uint64
	ExpiresMs     uint64
	GroupOrder    byte
	ContentExists bool
	LargestGroup  uint64
	LargestObject uint64
	Params        Parameters
}

// SubscribeError rejects a subscription. TrackAlias carries the suggested
// alternate alias when ErrorCode is ErrCodeRetryTrackAlias.
type SubscribeError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
	TrackAlias   uint64
}

// Unsubscribe cancels a subscription by its original request id.
type Unsubscribe struct {
	RequestID uint64
}

// SubscribeDone notifies a subscriber that its subscription has ended and
// will deliver no further objects.
type SubscribeDone struct {
	RequestID    uint64
	StatusCode   uint64
	ReasonPhrase string
	StreamCount  uint64
}

// Announce declares that the sender publishes every track under
// TrackNamespace.
type Announce struct {
	TrackNamespace Namespace
	Params         Parameters
}

// AnnounceOk confirms an Announce.
type AnnounceOk struct {
	TrackNamespace Namespace
}

// AnnounceError rejects an Announce.
type AnnounceError struct {
	TrackNamespace Namespace
	ErrorCode      uint64
	ReasonPhrase   string
}

// Unannounce withdraws a previously announced namespace.
type Unannounce struct {
	TrackNamespace Namespace
}

// AnnounceCancel tells a subscriber that a namespace it was told about is no
// longer announced (e.g. the publisher retracted it before the subscriber
// acted on it).
type AnnounceCancel struct {
	TrackNamespace Namespace
	ErrorCode      uint64
	ReasonPhrase   string
}

// SubscribeNamespace registers interest in every namespace matching a
// prefix, present and future.
type SubscribeNamespace struct {
	TrackNamespacePrefix Namespace
	Params               Parameters
}

// SubscribeNamespaceOk confirms a SubscribeNamespace.
type SubscribeNamespaceOk struct {
	TrackNamespacePrefix Namespace
}

// SubscribeNamespaceError rejects a SubscribeNamespace.
type SubscribeNamespaceError struct {
	TrackNamespacePrefix Namespace
	ErrorCode            uint64
	ReasonPhrase         string
}

// UnsubscribeNamespace withdraws a previously registered namespace prefix.
type UnsubscribeNamespace struct {
	TrackNamespacePrefix Namespace
}

// GoAway signals a graceful session shutdown, optionally redirecting the
// client to a new session URI.
type GoAway struct {
	NewSessionURI string
}

// MaxSubscribeID raises the peer's subscribe-id quota beyond the value
// negotiated at setup.
type MaxSubscribeID struct {
	SubscribeID uint64
}

// Fetch requests a bounded range of objects without creating a standing
// subscription (spec §4.5, SUPPLEMENTED FEATURES #1).
type Fetch struct {
	RequestID          uint64
	TrackNamespace     Namespace
	TrackName          string
	SubscriberPriority byte
	GroupOrder         byte
	StartGroup         uint64
	StartObject        uint64
	EndGroup           uint64
	EndObject          uint64
	Params             Parameters
}

// FetchOk confirms a Fetch and reports the upstream's current largest
// object.
type FetchOk struct {
	RequestID     uint64
	GroupOrder    byte
	LargestGroup  uint64
	LargestObject uint64
	Params        Parameters
}

// FetchError rejects a Fetch.
type FetchError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

// FetchCancel aborts an in-flight Fetch.
type FetchCancel struct {
	RequestID uint64
}

// --- ClientSetup ---

func (m ClientSetup) Encode() []byte {
	var buf []byte
	buf = appendVarint(buf, uint64(len(m.Versions)))
	for _, v := range m.Versions {
		buf = appendVarint(buf, v)
	}
	buf = appendParameters(buf, m.Params)
	return buf
}

func DecodeClientSetup(data []byte) (ClientSetup, error) {
	r := newReader(data)
	var m ClientSetup

	n, err := r.readVarint()
	if err != nil {
		return m, &ParseError{Field: "num_versions", Err: err}
	}
	m.Versions = make([]uint64, n)
	for i := range m.Versions {
		v, err := r.readVarint()
		if err != nil {
			return m, &ParseError{Field: "version", Err: err}
		}
		m.Versions[i] = v
	}

	m.Params, err = parseParameters(r)
	if err != nil {
		return m, &ParseError{Field: "params", Err: err}
	}
	return m, nil
}

// Role returns the client's requested role and whether one was present.
func (m ClientSetup) Role() (uint64, bool) {
	v, ok := m.Params.Varints[ParamRole]
	return v, ok
}

// Path returns the PATH parameter, if present.
func (m ClientSetup) Path() (string, bool) {
	v, ok := m.Params.Bytes[ParamPath]
	return string(v), ok
}

// --- ServerSetup ---

func (m ServerSetup) Encode() []byte {
	buf := appendVarint(nil, m.SelectedVersion)
	buf = appendParameters(buf, m.Params)
	return buf
}

func DecodeServerSetup(data []byte) (ServerSetup, error) {
	r := newReader(data)
	var m ServerSetup

	var err error
	m.SelectedVersion, err = r.readVarint()
	if err != nil {
		return m, &ParseError{Field: "selected_version", Err: err}
	}
	m.Params, err = parseParameters(r)
	if err != nil {
		return m, &ParseError{Field: "params", Err: err}
	}
	return m, nil
}

// --- Subscribe ---

func (m Subscribe) Encode() []byte {
	var buf []byte
	buf = appendVarint(buf, m.RequestID)
	buf = appendVarint(buf, m.TrackAlias)
	buf = appendNamespaceTuple(buf, m.TrackNamespace)
	buf = appendVarIntBytes(buf, []byte(m.TrackName))
	buf = append(buf, m.SubscriberPriority, m.GroupOrder, m.Forward)
	buf = appendVarint(buf, m.FilterType)

	switch m.FilterType {
	case FilterAbsoluteStart:
		buf = appendVarint(buf, m.StartGroup)
		buf = appendVarint(buf, m.StartObject)
	case FilterAbsoluteRange:
		buf = appendVarint(buf, m.StartGroup)
		buf = appendVarint(buf, m.StartObject)
		buf = appendVarint(buf, m.EndGroup)
	}

	buf = appendParameters(buf, m.Params)
	return buf
}

func DecodeSubscribe(data []byte) (Subscribe, error) {
	r := newReader(data)
	var m Subscribe
	var err error

	if m.RequestID, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "request_id", Err: err}
	}
	if m.TrackAlias, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "track_alias", Err: err}
	}
	if m.TrackNamespace, err = parseNamespaceTuple(r); err != nil {
		return m, &ParseError{Field: "track_namespace", Err: err}
	}
	name, err := r.readVarIntBytes()
	if err != nil {
		return m, &ParseError{Field: "track_name", Err: err}
	}
	m.TrackName = string(name)

	if m.SubscriberPriority, err = r.readByte(); err != nil {
		return m, &ParseError{Field: "priority", Err: err}
	}
	if m.GroupOrder, err = r.readByte(); err != nil {
		return m, &ParseError{Field: "group_order", Err: err}
	}
	if err := validGroupOrder(m.GroupOrder); err != nil {
		return m, err
	}
	if m.Forward, err = r.readByte(); err != nil {
		return m, &ParseError{Field: "forward", Err: err}
	}
	if m.FilterType, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "filter_type", Err: err}
	}

	switch m.FilterType {
	case FilterLatestGroup, FilterLatestObject:
		// no range fields
	case FilterAbsoluteStart:
		if m.StartGroup, err = r.readVarint(); err != nil {
			return m, &ParseError{Field: "start_group", Err: err}
		}
		if m.StartObject, err = r.readVarint(); err != nil {
			return m, &ParseError{Field: "start_object", Err: err}
		}
	case FilterAbsoluteRange:
		if m.StartGroup, err = r.readVarint(); err != nil {
			return m, &ParseError{Field: "start_group", Err: err}
		}
		if m.StartObject, err = r.readVarint(); err != nil {
			return m, &ParseError{Field: "start_object", Err: err}
		}
		if m.EndGroup, err = r.readVarint(); err != nil {
			return m, &ParseError{Field: "end_group", Err: err}
		}
	default:
		return m, &ViolationError{Reason: fmt.Sprintf("unknown filter type %d", m.FilterType)}
	}

	if m.Params, err = parseParameters(r); err != nil {
		return m, &ParseError{Field: "params", Err: err}
	}
	return m, nil
}

func validGroupOrder(b byte) error {
	switch b {
	case GroupOrderDefault, GroupOrderAscending, GroupOrderDescending:
		return nil
	default:
		return &ViolationError{Reason: fmt.Sprintf("invalid group_order %d", b)}
	}
}

// --- SubscribeOk ---

func (m SubscribeOk) Encode() []byte {
	var buf []byte
	buf = appendVarint(buf, m.RequestID)
	buf = appendVarint(buf, m.TrackAlias)
	buf = appendVarint(buf, m.ExpiresMs)
	buf = append(buf, m.GroupOrder)
	if m.ContentExists {
		buf = append(buf, 1)
		buf = appendVarint(buf, m.LargestGroup)
		buf = appendVarint(buf, m.LargestObject)
	} else {
		buf = append(buf, 0)
	}
	buf = appendParameters(buf, m.Params)
	return buf
}

func DecodeSubscribeOk(data []byte) (SubscribeOk, error) {
	r := newReader(data)
	var m SubscribeOk
	var err error

	if m.RequestID, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "request_id", Err: err}
	}
	if m.TrackAlias, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "track_alias", Err: err}
	}
	if m.ExpiresMs, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "expires", Err: err}
	}
	if m.GroupOrder, err = r.readByte(); err != nil {
		return m, &ParseError{Field: "group_order", Err: err}
	}
	contentExists, err := r.readByte()
	if err != nil {
		return m, &ParseError{Field: "content_exists", Err: err}
	}
	switch contentExists {
	case 0:
		m.ContentExists = false
	case 1:
		m.ContentExists = true
		if m.LargestGroup, err = r.readVarint(); err != nil {
			return m, &ParseError{Field: "largest_group", Err: err}
		}
		if m.LargestObject, err = r.readVarint(); err != nil {
			return m, &ParseError{Field: "largest_object", Err: err}
		}
	default:
		return m, &ViolationError{Reason: fmt.Sprintf("invalid content_exists %d", contentExists)}
	}
	if m.Params, err = parseParameters(r); err != nil {
		return m, &ParseError{Field: "params", Err: err}
	}
	return m, nil
}

// --- SubscribeError ---

func (m SubscribeError) Encode() []byte {
	var buf []byte
	buf = appendVarint(buf, m.RequestID)
	buf = appendVarint(buf, m.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(m.ReasonPhrase))
	buf = appendVarint(buf, m.TrackAlias)
	return buf
}

func DecodeSubscribeError(data []byte) (SubscribeError, error) {
	r := newReader(data)
	var m SubscribeError
	var err error

	if m.RequestID, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "request_id", Err: err}
	}
	if m.ErrorCode, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return m, &ParseError{Field: "reason_phrase", Err: err}
	}
	m.ReasonPhrase = string(reason)
	if m.TrackAlias, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "track_alias", Err: err}
	}
	return m, nil
}

// --- Unsubscribe ---

func (m Unsubscribe) Encode() []byte {
	return appendVarint(nil, m.RequestID)
}

func DecodeUnsubscribe(data []byte) (Unsubscribe, error) {
	r := newReader(data)
	id, err := r.readVarint()
	if err != nil {
		return Unsubscribe{}, &ParseError{Field: "request_id", Err: err}
	}
	return Unsubscribe{RequestID: id}, nil
}

// --- SubscribeDone ---

func (m SubscribeDone) Encode() []byte {
	var buf []byte
	buf = appendVarint(buf, m.RequestID)
	buf = appendVarint(buf, m.StatusCode)
	buf = appendVarIntBytes(buf, []byte(m.ReasonPhrase))
	buf = appendVarint(buf, m.StreamCount)
	return buf
}

func DecodeSubscribeDone(data []byte) (SubscribeDone, error) {
	r := newReader(data)
	var m SubscribeDone
	var err error
	if m.RequestID, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "request_id", Err: err}
	}
	if m.StatusCode, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "status_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return m, &ParseError{Field: "reason_phrase", Err: err}
	}
	m.ReasonPhrase = string(reason)
	if m.StreamCount, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "stream_count", Err: err}
	}
	return m, nil
}

// --- Announce family ---

func (m Announce) Encode() []byte {
	buf := appendNamespaceTuple(nil, m.TrackNamespace)
	return appendParameters(buf, m.Params)
}

func DecodeAnnounce(data []byte) (Announce, error) {
	r := newReader(data)
	var m Announce
	var err error
	if m.TrackNamespace, err = parseNamespaceTuple(r); err != nil {
		return m, &ParseError{Field: "track_namespace", Err: err}
	}
	if m.Params, err = parseParameters(r); err != nil {
		return m, &ParseError{Field: "params", Err: err}
	}
	return m, nil
}

func (m AnnounceOk) Encode() []byte {
	return appendNamespaceTuple(nil, m.TrackNamespace)
}

func DecodeAnnounceOk(data []byte) (AnnounceOk, error) {
	r := newReader(data)
	ns, err := parseNamespaceTuple(r)
	if err != nil {
		return AnnounceOk{}, &ParseError{Field: "track_namespace", Err: err}
	}
	return AnnounceOk{TrackNamespace: ns}, nil
}

func (m AnnounceError) Encode() []byte {
	buf := appendNamespaceTuple(nil, m.TrackNamespace)
	buf = appendVarint(buf, m.ErrorCode)
	return appendVarIntBytes(buf, []byte(m.ReasonPhrase))
}

func DecodeAnnounceError(data []byte) (AnnounceError, error) {
	r := newReader(data)
	var m AnnounceError
	var err error
	if m.TrackNamespace, err = parseNamespaceTuple(r); err != nil {
		return m, &ParseError{Field: "track_namespace", Err: err}
	}
	if m.ErrorCode, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return m, &ParseError{Field: "reason_phrase", Err: err}
	}
	m.ReasonPhrase = string(reason)
	return m, nil
}

func (m Unannounce) Encode() []byte {
	return appendNamespaceTuple(nil, m.TrackNamespace)
}

func DecodeUnannounce(data []byte) (Unannounce, error) {
	r := newReader(data)
	ns, err := parseNamespaceTuple(r)
	if err != nil {
		return Unannounce{}, &ParseError{Field: "track_namespace", Err: err}
	}
	return Unannounce{TrackNamespace: ns}, nil
}

func (m AnnounceCancel) Encode() []byte {
	buf := appendNamespaceTuple(nil, m.TrackNamespace)
	buf = appendVarint(buf, m.ErrorCode)
	return appendVarIntBytes(buf, []byte(m.ReasonPhrase))
}

func DecodeAnnounceCancel(data []byte) (AnnounceCancel, error) {
	r := newReader(data)
	var m AnnounceCancel
	var err error
	if m.TrackNamespace, err = parseNamespaceTuple(r); err != nil {
		return m, &ParseError{Field: "track_namespace", Err: err}
	}
	if m.ErrorCode, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return m, &ParseError{Field: "reason_phrase", Err: err}
	}
	m.ReasonPhrase = string(reason)
	return m, nil
}

// --- SubscribeNamespace family ---

func (m SubscribeNamespace) Encode() []byte {
	buf := appendNamespaceTuple(nil, m.TrackNamespacePrefix)
	return appendParameters(buf, m.Params)
}

func DecodeSubscribeNamespace(data []byte) (SubscribeNamespace, error) {
	r := newReader(data)
	var m SubscribeNamespace
	var err error
	if m.TrackNamespacePrefix, err = parseNamespaceTuple(r); err != nil {
		return m, &ParseError{Field: "track_namespace_prefix", Err: err}
	}
	if m.Params, err = parseParameters(r); err != nil {
		return m, &ParseError{Field: "params", Err: err}
	}
	return m, nil
}

func (m SubscribeNamespaceOk) Encode() []byte {
	return appendNamespaceTuple(nil, m.TrackNamespacePrefix)
}

func DecodeSubscribeNamespaceOk(data []byte) (SubscribeNamespaceOk, error) {
	r := newReader(data)
	ns, err := parseNamespaceTuple(r)
	if err != nil {
		return SubscribeNamespaceOk{}, &ParseError{Field: "track_namespace_prefix", Err: err}
	}
	return SubscribeNamespaceOk{TrackNamespacePrefix: ns}, nil
}

func (m SubscribeNamespaceError) Encode() []byte {
	buf := appendNamespaceTuple(nil, m.TrackNamespacePrefix)
	buf = appendVarint(buf, m.ErrorCode)
	return appendVarIntBytes(buf, []byte(m.ReasonPhrase))
}

func DecodeSubscribeNamespaceError(data []byte) (SubscribeNamespaceError, error) {
	r := newReader(data)
	var m SubscribeNamespaceError
	var err error
	if m.TrackNamespacePrefix, err = parseNamespaceTuple(r); err != nil {
		return m, &ParseError{Field: "track_namespace_prefix", Err: err}
	}
	if m.ErrorCode, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return m, &ParseError{Field: "reason_phrase", Err: err}
	}
	m.ReasonPhrase = string(reason)
	return m, nil
}

func (m UnsubscribeNamespace) Encode() []byte {
	return appendNamespaceTuple(nil, m.TrackNamespacePrefix)
}

func DecodeUnsubscribeNamespace(data []byte) (UnsubscribeNamespace, error) {
	r := newReader(data)
	ns, err := parseNamespaceTuple(r)
	if err != nil {
		return UnsubscribeNamespace{}, &ParseError{Field: "track_namespace_prefix", Err: err}
	}
	return UnsubscribeNamespace{TrackNamespacePrefix: ns}, nil
}

// --- GoAway ---

func (m GoAway) Encode() []byte {
	return appendVarIntBytes(nil, []byte(m.NewSessionURI))
}

func DecodeGoAway(data []byte) (GoAway, error) {
	r := newReader(data)
	uri, err := r.readVarIntBytes()
	if err != nil {
		return GoAway{}, &ParseError{Field: "new_session_uri", Err: err}
	}
	return GoAway{NewSessionURI: string(uri)}, nil
}

// --- MaxSubscribeID ---

func (m MaxSubscribeID) Encode() []byte {
	return appendVarint(nil, m.SubscribeID)
}

func DecodeMaxSubscribeID(data []byte) (MaxSubscribeID, error) {
	r := newReader(data)
	id, err := r.readVarint()
	if err != nil {
		return MaxSubscribeID{}, &ParseError{Field: "subscribe_id", Err: err}
	}
	return MaxSubscribeID{SubscribeID: id}, nil
}

// --- Fetch family ---

func (m Fetch) Encode() []byte {
	var buf []byte
	buf = appendVarint(buf, m.RequestID)
	buf = appendNamespaceTuple(buf, m.TrackNamespace)
	buf = appendVarIntBytes(buf, []byte(m.TrackName))
	buf = append(buf, m.SubscriberPriority, m.GroupOrder)
	buf = appendVarint(buf, m.StartGroup)
	buf = appendVarint(buf, m.StartObject)
	buf = appendVarint(buf, m.EndGroup)
	buf = appendVarint(buf, m.EndObject)
	buf = appendParameters(buf, m.Params)
	return buf
}

func DecodeFetch(data []byte) (Fetch, error) {
	r := newReader(data)
	var m Fetch
	var err error

	if m.RequestID, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "request_id", Err: err}
	}
	if m.TrackNamespace, err = parseNamespaceTuple(r); err != nil {
		return m, &ParseError{Field: "track_namespace", Err: err}
	}
	name, err := r.readVarIntBytes()
	if err != nil {
		return m, &ParseError{Field: "track_name", Err: err}
	}
	m.TrackName = string(name)
	if m.SubscriberPriority, err = r.readByte(); err != nil {
		return m, &ParseError{Field: "priority", Err: err}
	}
	if m.GroupOrder, err = r.readByte(); err != nil {
		return m, &ParseError{Field: "group_order", Err: err}
	}
	if err := validGroupOrder(m.GroupOrder); err != nil {
		return m, err
	}
	if m.StartGroup, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "start_group", Err: err}
	}
	if m.StartObject, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "start_object", Err: err}
	}
	if m.EndGroup, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "end_group", Err: err}
	}
	if m.EndObject, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "end_object", Err: err}
	}
	if m.Params, err = parseParameters(r); err != nil {
		return m, &ParseError{Field: "params", Err: err}
	}
	return m, nil
}

func (m FetchOk) Encode() []byte {
	var buf []byte
	buf = appendVarint(buf, m.RequestID)
	buf = append(buf, m.GroupOrder)
	buf = appendVarint(buf, m.LargestGroup)
	buf = appendVarint(buf, m.LargestObject)
	buf = appendParameters(buf, m.Params)
	return buf
}

func DecodeFetchOk(data []byte) (FetchOk, error) {
	r := newReader(data)
	var m FetchOk
	var err error
	if m.RequestID, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "request_id", Err: err}
	}
	if m.GroupOrder, err = r.readByte(); err != nil {
		return m, &ParseError{Field: "group_order", Err: err}
	}
	if m.LargestGroup, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "largest_group", Err: err}
	}
	if m.LargestObject, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "largest_object", Err: err}
	}
	if m.Params, err = parseParameters(r); err != nil {
		return m, &ParseError{Field: "params", Err: err}
	}
	return m, nil
}

func (m FetchError) Encode() []byte {
	var buf []byte
	buf = appendVarint(buf, m.RequestID)
	buf = appendVarint(buf, m.ErrorCode)
	return appendVarIntBytes(buf, []byte(m.ReasonPhrase))
}

func DecodeFetchError(data []byte) (FetchError, error) {
	r := newReader(data)
	var m FetchError
	var err error
	if m.RequestID, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "request_id", Err: err}
	}
	if m.ErrorCode, err = r.readVarint(); err != nil {
		return m, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return m, &ParseError{Field: "reason_phrase", Err: err}
	}
	m.ReasonPhrase = string(reason)
	return m, nil
}

func (m FetchCancel) Encode() []byte {
	return appendVarint(nil, m.RequestID)
}

func DecodeFetchCancel(data []byte) (FetchCancel, error) {
	r := newReader(data)
	id, err := r.readVarint()
	if err != nil {
		return FetchCancel{}, &ParseError{Field: "request_id", Err: err}
	}
	return FetchCancel{RequestID: id}, nil
}
