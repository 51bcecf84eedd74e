package moq

import (
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// reader wraps a byte slice for sequential varint/byte reading. All control
// message bodies and data-stream headers are parsed through one of these so
// that a short buffer fails with io.ErrUnexpectedEOF instead of panicking.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readVarint() (uint64, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	val, n, err := quicvarint.Parse(r.data[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return val, nil
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) readVarIntBytes() ([]byte, error) {
	length, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	return r.readBytes(int(length))
}

// appendVarIntBytes appends a varint-length-prefixed byte string to buf.
func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	buf = append(buf, data...)
	return buf
}

// appendVarint appends a single varint to buf. Thin alias kept so call
// sites in this package read uniformly as moq.append* instead of mixing
// quicvarint.Append calls with local helpers.
func appendVarint(buf []byte, v uint64) []byte {
	return quicvarint.Append(buf, v)
}

// varintLen reports the encoded length of v in bytes.
func varintLen(v uint64) int {
	return quicvarint.Len(v)
}
