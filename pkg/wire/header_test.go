package wire

import (
	"bytes"
	"crypto/rand"
	mrand "math/rand/v2"
	"testing"
)

func compareHeaders(a, b Header) error {
	switch {
	case a.SeqNumber != b.SeqNumber:
		return errf("SeqNumber")
	case a.AckNumber != b.AckNumber:
		return errf("AckNumber")
	case a.Ack != b.Ack:
		return errf("Ack")
	case a.Syn != b.Syn:
		return errf("Syn")
	case a.Fin != b.Fin:
		return errf("Fin")
	}
	return nil
}

type mismatchErr struct{ field string }

func (e *mismatchErr) Error() string { return e.field + " mismatch" }

func errf(field string) error { return &mismatchErr{field} }

func TestHeaderRoundTrip(t *testing.T) {
	for i := 0; i < 200; i++ {
		h := Header{
			SeqNumber: uint16(mrand.IntN(MaxSeq)),
			AckNumber: uint16(mrand.IntN(MaxSeq)),
			Ack:       mrand.IntN(2) == 0,
			Syn:       mrand.IntN(2) == 0,
			Fin:       mrand.IntN(2) == 0,
		}
		enc := Encode(h)
		got, err := Decode(enc[:])
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if err := compareHeaders(h, got); err != nil {
			t.Fatalf("round trip mismatch: %v (want %+v, got %+v)", err, h, got)
		}
	}
}

func TestEncodeZerosPadding(t *testing.T) {
	h := Header{SeqNumber: 1, AckNumber: 2, Ack: true, Syn: true, Fin: true}
	enc := Encode(h)
	if !bytes.Equal(enc[7:12], make([]byte, 5)) {
		t.Fatalf("padding not zero: %v", enc[7:12])
	}
}

func TestDecodeShortHeader(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err == nil {
		t.Fatalf("expected error decoding short header")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		payload := randomPayload(mrand.IntN(MSS + 1))
		frame := Frame{
			Header:  Header{SeqNumber: uint16(i), AckNumber: uint16(i + 1), Ack: true},
			Payload: payload,
		}
		encoded := EncodeFrame(frame)
		got, err := DecodeFrame(encoded)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if err := compareHeaders(frame.Header, got.Header); err != nil {
			t.Fatalf("header mismatch: %v", err)
		}
		if !bytes.Equal(frame.Payload, got.Payload) {
			t.Fatalf("payload mismatch")
		}
	}
}

func TestForwardWrapsAroundModulus(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, MaxSeq - 1, true},
		{MaxSeq - 1, 0, false},
		{100, 100, false},
	}
	for _, c := range cases {
		if got := Forward(c.a, c.b); got != c.want {
			t.Fatalf("Forward(%d,%d)=%v want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestAddWraps(t *testing.T) {
	if got := Add(MaxSeq-1, 2); got != 1 {
		t.Fatalf("Add wrap: got %d want 1", got)
	}
}

func randomPayload(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
