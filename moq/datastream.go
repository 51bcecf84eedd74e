package moq

import (
	"fmt"
	"io"
)

// Data-stream type tags (spec §6). StreamHeaderTrack is defined for wire
// compatibility but this relay only forwards Datagram and Subgroup objects
// (spec §3's forwarding_preference has exactly those two values); a track-
// type stream is rejected as an unsupported data-stream type.
const (
	DataStreamObjectDatagram    uint64 = 0x01
	DataStreamHeaderTrack       uint64 = 0x02
	DataStreamHeaderSubgroup    uint64 = 0x04
)

// ObjectStatus classifies an object. A non-Normal status must carry an
// empty payload (spec §3).
type ObjectStatus uint64

const (
	StatusNormal             ObjectStatus = 0
	StatusDoesNotExist       ObjectStatus = 1
	StatusEndOfGroup         ObjectStatus = 2
	StatusEndOfSubgroup      ObjectStatus = 3
	StatusEndOfTrackAndGroup ObjectStatus = 4
)

// IsTerminalForStream reports whether status should cause a subgroup-stream
// forwarder to close its stream after writing this object (spec §4.7).
func (s ObjectStatus) IsTerminalForStream() bool {
	switch s {
	case StatusEndOfSubgroup, StatusEndOfGroup, StatusEndOfTrackAndGroup:
		return true
	default:
		return false
	}
}

// IsTerminalForDatagram reports whether status should cause a datagram
// forwarder to stop (spec §4.7).
func (s ObjectStatus) IsTerminalForDatagram() bool {
	return s == StatusEndOfTrackAndGroup
}

func (s ObjectStatus) String() string {
	switch s {
	case StatusNormal:
		return "Normal"
	case StatusDoesNotExist:
		return "DoesNotExist"
	case StatusEndOfGroup:
		return "EndOfGroup"
	case StatusEndOfSubgroup:
		return "EndOfSubgroup"
	case StatusEndOfTrackAndGroup:
		return "EndOfTrackAndGroup"
	default:
		return fmt.Sprintf("ObjectStatus(%d)", uint64(s))
	}
}

// SubgroupHeader is the fixed prefix of a subgroup data stream.
type SubgroupHeader struct {
	SubscribeID       uint64
	TrackAlias        uint64
	GroupID           uint64
	SubgroupID        uint64
	PublisherPriority byte
}

// EncodeSubgroupHeader serializes a subgroup stream header, including its
// leading data-stream-type tag.
func EncodeSubgroupHeader(h SubgroupHeader) []byte {
	var buf []byte
	buf = appendVarint(buf, DataStreamHeaderSubgroup)
	buf = appendVarint(buf, h.SubscribeID)
	buf = appendVarint(buf, h.TrackAlias)
	buf = appendVarint(buf, h.GroupID)
	buf = appendVarint(buf, h.SubgroupID)
	buf = append(buf, h.PublisherPriority)
	return buf
}

// DecodeSubgroupHeader reads a subgroup header from r. The caller must have
// already consumed the leading data-stream-type tag (e.g. via
// ReadDataStreamType) to decide this is the right decoder.
func DecodeSubgroupHeader(r io.Reader) (SubgroupHeader, error) {
	var h SubgroupHeader
	var err error

	if h.SubscribeID, err = readVarintFrom(asByteReader(r)); err != nil {
		return h, fmt.Errorf("read subscribe_id: %w", err)
	}
	if h.TrackAlias, err = readVarintFrom(asByteReader(r)); err != nil {
		return h, fmt.Errorf("read track_alias: %w", err)
	}
	if h.GroupID, err = readVarintFrom(asByteReader(r)); err != nil {
		return h, fmt.Errorf("read group_id: %w", err)
	}
	if h.SubgroupID, err = readVarintFrom(asByteReader(r)); err != nil {
		return h, fmt.Errorf("read subgroup_id: %w", err)
	}

	var pbuf [1]byte
	if _, err := io.ReadFull(r, pbuf[:]); err != nil {
		return h, fmt.Errorf("read publisher_priority: %w", err)
	}
	h.PublisherPriority = pbuf[0]

	return h, nil
}

// StreamObject is one object on an already-headered subgroup stream.
type StreamObject struct {
	ObjectID   uint64
	Extensions []byte
	Status     ObjectStatus
	Payload    []byte
}

// EncodeStreamObject serializes a stream object body (no data-stream-type
// or subgroup-header prefix — those are written once per stream).
func EncodeStreamObject(o StreamObject) ([]byte, error) {
	if o.Status != StatusNormal && len(o.Payload) != 0 {
		return nil, &ViolationError{Reason: "non-Normal object status with non-empty payload"}
	}

	var buf []byte
	buf = appendVarint(buf, o.ObjectID)
	buf = appendVarIntBytes(buf, o.Extensions)
	buf = appendVarint(buf, uint64(len(o.Payload)))
	if len(o.Payload) == 0 {
		buf = appendVarint(buf, uint64(o.Status))
	} else {
		buf = append(buf, o.Payload...)
	}
	return buf, nil
}

// DecodeStreamObject reads one object body from r.
func DecodeStreamObject(r io.Reader) (StreamObject, error) {
	var o StreamObject
	br := asByteReader(r)

	var err error
	if o.ObjectID, err = readVarintFrom(br); err != nil {
		return o, fmt.Errorf("read object_id: %w", err)
	}

	extLen, err := readVarintFrom(br)
	if err != nil {
		return o, fmt.Errorf("read extension_headers_length: %w", err)
	}
	if extLen > 0 {
		o.Extensions = make([]byte, extLen)
		if _, err := io.ReadFull(r, o.Extensions); err != nil {
			return o, fmt.Errorf("read extensions: %w", err)
		}
	}

	payloadLen, err := readVarintFrom(br)
	if err != nil {
		return o, fmt.Errorf("read payload_length: %w", err)
	}

	if payloadLen == 0 {
		status, err := readVarintFrom(br)
		if err != nil {
			return o, fmt.Errorf("read object_status: %w", err)
		}
		o.Status = ObjectStatus(status)
		return o, nil
	}

	o.Status = StatusNormal
	o.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, o.Payload); err != nil {
		return o, fmt.Errorf("read payload: %w", err)
	}
	return o, nil
}

// DatagramObject is a complete, self-contained datagram: header and object
// in one UDP-sized packet.
type DatagramObject struct {
	SubscribeID uint64
	TrackAlias  uint64
	GroupID     uint64
	ObjectID    uint64
	Priority    byte
	Extensions  []byte
	Status      ObjectStatus
	Payload     []byte
}

// EncodeDatagramObject serializes a full datagram packet.
func EncodeDatagramObject(o DatagramObject) ([]byte, error) {
	if o.Status != StatusNormal && len(o.Payload) != 0 {
		return nil, &ViolationError{Reason: "non-Normal object status with non-empty payload"}
	}

	var buf []byte
	buf = appendVarint(buf, DataStreamObjectDatagram)
	buf = appendVarint(buf, o.SubscribeID)
	buf = appendVarint(buf, o.TrackAlias)
	buf = appendVarint(buf, o.GroupID)
	buf = appendVarint(buf, o.ObjectID)
	buf = append(buf, o.Priority)
	buf = appendVarIntBytes(buf, o.Extensions)
	buf = appendVarint(buf, uint64(len(o.Payload)))
	if len(o.Payload) == 0 {
		buf = appendVarint(buf, uint64(o.Status))
	} else {
		buf = append(buf, o.Payload...)
	}
	return buf, nil
}

// DecodeDatagramObject decodes a full datagram packet, including its
// leading data-stream-type tag.
func DecodeDatagramObject(data []byte) (DatagramObject, error) {
	r := newReader(data)
	var o DatagramObject

	tag, err := r.readVarint()
	if err != nil {
		return o, &ParseError{Field: "type", Err: err}
	}
	if tag != DataStreamObjectDatagram {
		return o, &ViolationError{Reason: fmt.Sprintf("unexpected datagram type tag %d", tag)}
	}

	if o.SubscribeID, err = r.readVarint(); err != nil {
		return o, &ParseError{Field: "subscribe_id", Err: err}
	}
	if o.TrackAlias, err = r.readVarint(); err != nil {
		return o, &ParseError{Field: "track_alias", Err: err}
	}
	if o.GroupID, err = r.readVarint(); err != nil {
		return o, &ParseError{Field: "group_id", Err: err}
	}
	if o.ObjectID, err = r.readVarint(); err != nil {
		return o, &ParseError{Field: "object_id", Err: err}
	}
	if o.Priority, err = r.readByte(); err != nil {
		return o, &ParseError{Field: "priority", Err: err}
	}
	if o.Extensions, err = r.readVarIntBytes(); err != nil {
		return o, &ParseError{Field: "extensions", Err: err}
	}

	payloadLen, err := r.readVarint()
	if err != nil {
		return o, &ParseError{Field: "payload_length", Err: err}
	}
	if payloadLen == 0 {
		status, err := r.readVarint()
		if err != nil {
			return o, &ParseError{Field: "object_status", Err: err}
		}
		o.Status = ObjectStatus(status)
		return o, nil
	}

	o.Status = StatusNormal
	if o.Payload, err = r.readBytes(int(payloadLen)); err != nil {
		return o, &ParseError{Field: "payload", Err: err}
	}
	return o, nil
}

// ReadDataStreamType reads the leading data-stream-type tag from a freshly
// opened unidirectional stream.
func ReadDataStreamType(r io.Reader) (uint64, error) {
	return readVarintFrom(asByteReader(r))
}

// asByteReader adapts an io.Reader to io.ByteReader, reusing the reader if
// it already implements it (e.g. a *bufio.Reader) rather than wrapping
// again.
func asByteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}

// singleByteReader implements io.ByteReader over an io.Reader that does not
// already provide one, reading exactly one byte per call. Data streams are
// read through a buffered reader upstream of this package in practice, so
// this path exists for correctness on unbuffered callers (and in tests)
// rather than for performance.
type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}
