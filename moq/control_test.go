package moq

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
)

func TestControlMessageRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte("hello")
	var buf bytes.Buffer
	if err := WriteControlMessage(&buf, MsgClientSetup, payload); err != nil {
		t.Fatal(err)
	}

	msgType, got, err := ReadControlMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgClientSetup {
		t.Fatalf("message type = %#x, want %#x", msgType, MsgClientSetup)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestControlMessageEmptyPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteControlMessage(&buf, MsgGoAway, nil); err != nil {
		t.Fatal(err)
	}

	msgType, got, err := ReadControlMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgGoAway {
		t.Fatalf("message type = %#x, want %#x", msgType, MsgGoAway)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got))
	}
}

func TestControlMessageTruncatedType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	_, _, err := ReadControlMessage(&buf)
	if err == nil {
		t.Fatal("expected error on empty input")
	}
}

func TestControlMessageTruncatedLength(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write(quicvarint.Append(nil, MsgClientSetup))
	buf.WriteByte(0x00) // only 1 of 2 length bytes

	_, _, err := ReadControlMessage(&buf)
	if err == nil {
		t.Fatal("expected error on truncated length")
	}
}

func TestControlMessageTruncatedPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write(quicvarint.Append(nil, MsgClientSetup))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], 10)
	buf.Write(lenBuf[:])
	buf.Write([]byte{1, 2, 3}) // only 3 of 10 bytes

	_, _, err := ReadControlMessage(&buf)
	if err == nil {
		t.Fatal("expected error on truncated payload")
	}
}

func TestControlMessageTooLarge(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	big := make([]byte, envelopeLenMax+1)
	if err := WriteControlMessage(&buf, MsgAnnounce, big); err == nil {
		t.Fatal("expected error writing an over-sized payload")
	}
}

func TestTryDecodeControlMessageNeedsMoreData(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"type only", quicvarint.Append(nil, MsgSubscribe)},
		{"partial length", append(quicvarint.Append(nil, MsgSubscribe), 0x00)},
		{"short payload", func() []byte {
			buf := quicvarint.Append(nil, MsgSubscribe)
			var lenBuf [2]byte
			binary.BigEndian.PutUint16(lenBuf[:], 5)
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, 1, 2) // only 2 of 5 bytes
			return buf
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			orig := append([]byte(nil), tc.buf...)
			_, _, consumed, err := TryDecodeControlMessage(tc.buf)
			if err != ErrNeedMoreData {
				t.Fatalf("err = %v, want ErrNeedMoreData", err)
			}
			if consumed != 0 {
				t.Fatalf("consumed = %d, want 0", consumed)
			}
			if !bytes.Equal(tc.buf, orig) {
				t.Fatal("TryDecodeControlMessage mutated the input buffer on a short read")
			}
		})
	}
}

func TestTryDecodeControlMessageExactAndExtra(t *testing.T) {
	t.Parallel()
	payload := []byte("subscribe-body")

	var buf bytes.Buffer
	if err := WriteControlMessage(&buf, MsgSubscribe, payload); err != nil {
		t.Fatal(err)
	}
	framed := buf.Bytes()

	// Exact-length buffer decodes fully.
	msgType, got, consumed, err := TryDecodeControlMessage(framed)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgSubscribe || !bytes.Equal(got, payload) || consumed != len(framed) {
		t.Fatalf("got (%#x, %q, %d), want (%#x, %q, %d)", msgType, got, consumed, MsgSubscribe, payload, len(framed))
	}

	// Trailing bytes belonging to a second message are left unconsumed.
	extra := append(append([]byte(nil), framed...), 0xAA, 0xBB, 0xCC)
	msgType, got, consumed, err = TryDecodeControlMessage(extra)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(framed) {
		t.Fatalf("consumed = %d, want %d (leaving trailing bytes for the next message)", consumed, len(framed))
	}
	if msgType != MsgSubscribe || !bytes.Equal(got, payload) {
		t.Fatalf("got (%#x, %q), want (%#x, %q)", msgType, got, MsgSubscribe, payload)
	}
}
