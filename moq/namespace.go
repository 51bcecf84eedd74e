package moq

import "fmt"

// Namespace is an ordered tuple of short strings, e.g. ["conference",
// "room42", "alice"]. Equality is element-wise.
type Namespace []string

// Equal reports whether ns and other have the same elements in the same
// order.
func (ns Namespace) Equal(other Namespace) bool {
	if len(ns) != len(other) {
		return false
	}
	for i := range ns {
		if ns[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix's elements equal ns's first len(prefix)
// elements. An empty prefix matches every namespace.
func (ns Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix) > len(ns) {
		return false
	}
	for i := range prefix {
		if ns[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of ns.
func (ns Namespace) Clone() Namespace {
	out := make(Namespace, len(ns))
	copy(out, ns)
	return out
}

func (ns Namespace) String() string {
	return fmt.Sprintf("%v", []string(ns))
}

// parseNamespaceTuple reads a namespace tuple: [count(i)] [len(i) bytes]...
func parseNamespaceTuple(r *reader) (Namespace, error) {
	count, err := r.readVarint()
	if err != nil {
		return nil, fmt.Errorf("read tuple count: %w", err)
	}

	parts := make(Namespace, count)
	for i := uint64(0); i < count; i++ {
		b, err := r.readVarIntBytes()
		if err != nil {
			return nil, fmt.Errorf("read tuple element %d: %w", i, err)
		}
		parts[i] = string(b)
	}
	return parts, nil
}

// appendNamespaceTuple appends a namespace tuple to buf.
func appendNamespaceTuple(buf []byte, ns Namespace) []byte {
	buf = appendVarint(buf, uint64(len(ns)))
	for _, p := range ns {
		buf = appendVarIntBytes(buf, []byte(p))
	}
	return buf
}

// Parameter keys. Even keys carry a varint value; odd keys carry a
// length-prefixed byte string. Unknown keys are decoded by their odd/even
// kind and retained alongside the known ones.
const (
	ParamRole               uint64 = 0x00 // even: varint {RolePublisher,RoleSubscriber,RolePubSub}
	ParamPath               uint64 = 0x01 // odd: bytes, forbidden over WebTransport
	ParamMaxSubscribeID     uint64 = 0x02 // even: varint
	ParamAuthorizationToken uint64 = 0x03 // odd: opaque bytes, forwarded unmodified
	ParamDeliveryTimeout    uint64 = 0x04 // even: varint milliseconds
	ParamMaxCacheDuration   uint64 = 0x06 // even: varint milliseconds
)

// Role values carried by ParamRole.
const (
	RolePublisher  uint64 = 0x01
	RoleSubscriber uint64 = 0x02
	RolePubSub     uint64 = 0x03
)

// Parameters is a decoded key/value parameter list. Varint-valued params
// and byte-string-valued params are kept in separate maps since a key's
// kind (odd/even) determines which map it lives in; a given key only ever
// appears in one.
type Parameters struct {
	Varints map[uint64]uint64
	Bytes   map[uint64][]byte
}

// NewParameters returns an empty Parameters ready for Set calls.
func NewParameters() Parameters {
	return Parameters{Varints: make(map[uint64]uint64), Bytes: make(map[uint64][]byte)}
}

// SetVarint stores an even-keyed varint parameter. It panics if key is odd,
// since that would silently corrupt the wire encoding.
func (p *Parameters) SetVarint(key, value uint64) {
	if key%2 != 0 {
		panic("moq: varint parameter key must be even")
	}
	if p.Varints == nil {
		p.Varints = make(map[uint64]uint64)
	}
	p.Varints[key] = value
}

// SetBytes stores an odd-keyed byte-string parameter.
func (p *Parameters) SetBytes(key uint64, value []byte) {
	if key%2 == 0 {
		panic("moq: byte-string parameter key must be odd")
	}
	if p.Bytes == nil {
		p.Bytes = make(map[uint64][]byte)
	}
	p.Bytes[key] = value
}

// parseParameters reads a [count(i)] [(key(i) value)]{count} parameter
// list. Unknown keys are decoded generically (by their odd/even kind) and
// retained, rather than skipped blind, so a relay forwarding an unrecognized
// parameter to another hop does not need to know its meaning.
func parseParameters(r *reader) (Parameters, error) {
	params := NewParameters()

	count, err := r.readVarint()
	if err != nil {
		return params, fmt.Errorf("read param count: %w", err)
	}

	for i := uint64(0); i < count; i++ {
		key, err := r.readVarint()
		if err != nil {
			return params, fmt.Errorf("read param key: %w", err)
		}
		if key%2 == 1 {
			val, err := r.readVarIntBytes()
			if err != nil {
				return params, fmt.Errorf("read param value (key %d): %w", key, err)
			}
			params.Bytes[key] = val
		} else {
			val, err := r.readVarint()
			if err != nil {
				return params, fmt.Errorf("read param value (key %d): %w", key, err)
			}
			params.Varints[key] = val
		}
	}
	return params, nil
}

// appendParameters serializes params in ascending key order so encoding is
// deterministic (useful for round-trip tests and for byte-identical replay).
func appendParameters(buf []byte, params Parameters) []byte {
	keys := make([]uint64, 0, len(params.Varints)+len(params.Bytes))
	for k := range params.Varints {
		keys = append(keys, k)
	}
	for k := range params.Bytes {
		keys = append(keys, k)
	}
	sortUint64s(keys)

	buf = appendVarint(buf, uint64(len(keys)))
	for _, k := range keys {
		buf = appendVarint(buf, k)
		if k%2 == 1 {
			buf = appendVarIntBytes(buf, params.Bytes[k])
		} else {
			buf = appendVarint(buf, params.Varints[k])
		}
	}
	return buf
}

// sortUint64s is a tiny insertion sort; parameter lists are always small
// (a handful of entries), so this avoids pulling in sort just for this.
func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
