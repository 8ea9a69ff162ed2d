// Package reassembly implements the receiver's ordered reassembly
// buffer: out-of-order insertion, cumulative-ACK advancement, and
// duplicate detection.
//
// It is grounded on the reference codebase's RecvPacer
// (internal/transport/pacer.go), but trades that pacer's
// container/heap-backed indirection for a slice addressed by an integer
// cursor, per the requirement that insertion at the in-order boundary
// must never invalidate whatever is tracking that boundary. Every
// insertion lands at or after the cursor, so the cursor stays correct
// across insertions and across the slice being reallocated as it grows —
// the role a std::list iterator plays in the original C++ implementation.
package reassembly

import "rft/pkg/wire"

type entry struct {
	seq     uint16
	payload []byte
}

// Buffer holds received data segments in forward sequence order and
// tracks how much of the front is contiguous.
type Buffer struct {
	entries []entry

	// inorderCursor is the number of leading entries that form a
	// contiguous run starting at the session's initial sequence number.
	inorderCursor int

	expectSeqNumber uint16
	initialized     bool
}

// New builds an empty Buffer expecting the given initial sequence
// number as its first in-order segment.
func New(initialSeq uint16) *Buffer {
	return &Buffer{expectSeqNumber: initialSeq, initialized: true}
}

// ExpectSeqNumber returns the next sequence number that would extend
// the contiguous prefix, i.e. the cumulative ACK value to send.
func (b *Buffer) ExpectSeqNumber() uint16 { return b.expectSeqNumber }

// Outcome describes what Insert did with an incoming segment, telling
// the caller how to respond.
type Outcome int

const (
	// InOrder means the segment extended the contiguous prefix (and
	// possibly absorbed already-buffered out-of-order segments behind
	// it). The caller should send a fresh cumulative ACK.
	InOrder Outcome = iota
	// OutOfOrder means the segment was buffered but sits ahead of a
	// gap; ExpectSeqNumber is unchanged. The caller should resend the
	// last cumulative ACK, flagged as a duplicate.
	OutOfOrder
	// Duplicate means the segment's bytes are already held (either
	// already consumed, or already buffered out-of-order). The caller
	// should resend the last cumulative ACK, flagged as a duplicate.
	Duplicate
)

// Insert records a segment with the given sequence number and payload.
// Payload is retained by reference; callers must pass a copy if their
// receive buffer will be reused.
func (b *Buffer) Insert(seq uint16, payload []byte) Outcome {
	if len(payload) == 0 {
		// Control frames (bare ACK/FIN) carry no payload and never
		// occupy a buffer slot.
		return Duplicate
	}

	if seq == b.expectSeqNumber {
		b.entries = insertAt(b.entries, b.inorderCursor, entry{seq: seq, payload: payload})
		b.inorderCursor++
		b.expectSeqNumber = wire.Add(seq, len(payload))
		b.absorbFollowing()
		return InOrder
	}

	if !wire.Forward(seq, b.expectSeqNumber) {
		// seq is behind the in-order cursor: every byte it carries has
		// already been accounted for.
		return Duplicate
	}

	// Out-of-order ahead: find the insertion point among the buffered
	// tail (everything from inorderCursor onward is itself held in
	// forward sequence order).
	i := b.inorderCursor
	for ; i < len(b.entries); i++ {
		if b.entries[i].seq == seq {
			return Duplicate
		}
		if wire.Forward(b.entries[i].seq, seq) {
			break
		}
	}

	b.entries = insertAt(b.entries, i, entry{seq: seq, payload: payload})
	return OutOfOrder
}

// absorbFollowing extends the contiguous prefix over any buffered
// out-of-order entries that now chain onto it.
func (b *Buffer) absorbFollowing() {
	for b.inorderCursor < len(b.entries) {
		next := b.entries[b.inorderCursor]
		if next.seq != b.expectSeqNumber {
			break
		}
		b.inorderCursor++
		b.expectSeqNumber = wire.Add(next.seq, len(next.payload))
	}
}

// Bytes concatenates every buffered payload in sequence order,
// including any trailing out-of-order entries — intended for use only
// once the transfer has finished and every gap has been filled.
func (b *Buffer) Bytes() []byte {
	var out []byte
	for _, e := range b.entries {
		out = append(out, e.payload...)
	}
	return out
}

// Complete reports whether every buffered entry is part of the
// contiguous prefix, i.e. there is no remaining gap.
func (b *Buffer) Complete() bool {
	return b.inorderCursor == len(b.entries)
}

func insertAt(s []entry, i int, e entry) []entry {
	s = append(s, entry{})
	copy(s[i+1:], s[i:])
	s[i] = e
	return s
}
