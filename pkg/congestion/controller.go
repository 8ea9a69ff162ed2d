// Package congestion implements the sender-side sliding-window
// congestion controller: slow start, congestion avoidance, fast
// retransmit, fast recovery, and the byte-granular in-flight queue they
// all operate on. It is grounded on the reference codebase's SendPacer
// (internal/transport/pacer.go), generalized from that pacer's simple
// additive/multiplicative window scaling into the exact TCP-style state
// machine this protocol requires.
package congestion

import "rft/pkg/wire"

const MSS = wire.MSS

// inflightEntry is one unacknowledged outgoing segment: its sequence
// number and payload length. The controller never needs the payload
// bytes themselves once sent, only their length, to keep BytesInflight
// accurate as entries drain.
type inflightEntry struct {
	seq uint16
	n   int
}

// InflightQueue is a FIFO of sent-but-unacknowledged segment sizes,
// ordered by sequence number. It is the Go rendering of the reference
// pacer's sent-but-unacked packet map, narrowed to only what the
// controller needs: running byte totals and in-order draining.
type InflightQueue struct {
	entries []inflightEntry
	bytes   int
}

// Push records a newly sent segment.
func (q *InflightQueue) Push(seq uint16, n int) {
	q.entries = append(q.entries, inflightEntry{seq: seq, n: n})
	q.bytes += n
}

// Bytes returns the total bytes currently in flight.
func (q *InflightQueue) Bytes() int { return q.bytes }

// Len returns the number of unacknowledged segments.
func (q *InflightQueue) Len() int { return len(q.entries) }

// DrainThrough removes every entry fully covered by a cumulative ACK
// whose number is ackNumber — i.e. every entry whose exclusive end
// (seq + n) is ackNumber or behind it — returning how many bytes were
// freed.
func (q *InflightQueue) DrainThrough(ackNumber uint16) int {
	freed := 0
	i := 0
	for ; i < len(q.entries); i++ {
		e := q.entries[i]
		end := wire.Add(e.seq, e.n)
		if wire.Forward(end, ackNumber) {
			break
		}
		freed += e.n
	}
	q.entries = q.entries[i:]
	q.bytes -= freed
	return freed
}

// DrainTail removes entries from the tail (most recently sent) until
// the queue holds at most budget bytes, for the "rearrange" step that
// follows a congestion-event window shrink. It always leaves the head
// (the oldest outstanding segment) in place — the RTO and fast-retransmit
// paths both act on the head, and the reference's rearrange_queue never
// un-sends the segment those paths are already responsible for. It
// returns the drained entries' sequence numbers, tail-first, so the
// caller can requeue them as pending rather than letting them vanish,
// matching the reference's idx -= 1 rewind in rearrange_queue
// (original_source/client.cc).
func (q *InflightQueue) DrainTail(budget int) []uint16 {
	var dropped []uint16
	for q.bytes > budget && len(q.entries) > 1 {
		last := len(q.entries) - 1
		e := q.entries[last]
		q.entries = q.entries[:last]
		q.bytes -= e.n
		dropped = append(dropped, e.seq)
	}
	return dropped
}

// Front returns the oldest unacknowledged entry's sequence number, used
// as LastUnackedSeq.
func (q *InflightQueue) Front() (uint16, bool) {
	if len(q.entries) == 0 {
		return 0, false
	}
	return q.entries[0].seq, true
}

// Phase names the controller's current congestion-control regime, as a
// convenience derived from Cwnd/Ssthresh/DupAckCount rather than a
// separately-tracked field — there is no phase variable in the
// underlying state machine, only the dispatch rules below, so nothing
// can leave it inconsistent.
type Phase int

const (
	SlowStart Phase = iota
	CongestionAvoidance
	FastRecovery
)

// Controller owns the send window and reacts to ACK/timeout events the
// sender state machine feeds it. Its exported fields mirror the
// reference implementation's plain struct fields (cwnd, ssthresh,
// dup_ack_count) rather than hiding them behind an opaque type, since
// the sender loop reads LastUnackedSeq directly to classify incoming
// ACKs.
type Controller struct {
	Cwnd     int
	Ssthresh int

	MaxCwnd     int
	MinSsthresh int

	DupAckCount    int
	LastUnackedSeq uint16
	haveUnacked    bool

	Inflight InflightQueue
}

// New builds a Controller at its initial slow-start window, bounded by
// maxCwnd and floored at minSsthresh on every congestion event — both
// drawn from rftconfig.Tunables so an operator can retune them without
// touching this package.
func New(initialCwnd, initialSsthresh, maxCwnd, minSsthresh int) *Controller {
	return &Controller{
		Cwnd:        initialCwnd,
		Ssthresh:    initialSsthresh,
		MaxCwnd:     maxCwnd,
		MinSsthresh: minSsthresh,
	}
}

// Phase reports the controller's current regime.
func (c *Controller) Phase() Phase {
	switch {
	case c.DupAckCount >= 3:
		return FastRecovery
	case c.Cwnd >= c.Ssthresh:
		return CongestionAvoidance
	default:
		return SlowStart
	}
}

// AvailableWindow returns how many more bytes may be sent right now.
func (c *Controller) AvailableWindow() int {
	avail := c.Cwnd - c.Inflight.Bytes()
	if avail < 0 {
		return 0
	}
	return avail
}

// Send records a newly transmitted segment in the in-flight queue and
// establishes LastUnackedSeq if this is the first outstanding segment.
func (c *Controller) Send(seq uint16, n int) {
	if !c.haveUnacked {
		c.LastUnackedSeq = seq
		c.haveUnacked = true
	}
	c.Inflight.Push(seq, n)
}

// OnNewAck handles an ACK whose AckNumber advances past LastUnackedSeq.
// It drains the acknowledged segments, grows the window per the
// dispatch rule below, resets duplicate-ACK tracking, and returns any
// segments the resulting rearrange step dropped from the tail of the
// in-flight queue — the caller must requeue these for resending, since
// they are no longer tracked as in flight.
func (c *Controller) OnNewAck(ackNumber uint16) (dropped []uint16) {
	freed := c.Inflight.DrainThrough(ackNumber)
	if freed == 0 {
		return nil
	}

	if front, ok := c.Inflight.Front(); ok {
		c.LastUnackedSeq = front
	} else {
		c.haveUnacked = false
	}

	switch {
	case c.DupAckCount >= 3:
		c.Cwnd = c.Ssthresh
	case c.Cwnd >= c.Ssthresh:
		c.Cwnd += (MSS * MSS) / c.Cwnd
	default:
		c.Cwnd += MSS
	}
	c.Cwnd = min(c.Cwnd, c.MaxCwnd)
	c.DupAckCount = 0

	return c.rearrange()
}

// OnDuplicateAck handles a duplicate ACK (AckNumber == LastUnackedSeq).
// It reports whether the caller should fast-retransmit the segment at
// LastUnackedSeq — true exactly on the third consecutive duplicate —
// and, as with OnNewAck, any segments the rearrange step dropped from
// the tail that the caller must requeue.
func (c *Controller) OnDuplicateAck(ackNumber uint16) (retransmit bool, dropped []uint16) {
	if !c.haveUnacked || ackNumber != c.LastUnackedSeq {
		return false, nil
	}

	c.DupAckCount++

	switch {
	case c.DupAckCount == 3:
		c.Ssthresh = max(c.Cwnd/2, c.MinSsthresh)
		c.Cwnd = c.Ssthresh + 3*MSS
		retransmit = true
	case c.DupAckCount > 3:
		c.Cwnd += MSS
	}
	c.Cwnd = min(c.Cwnd, c.MaxCwnd)

	return retransmit, c.rearrange()
}

// OnRetransmitTimeout handles the retransmission timer firing: the
// window collapses to slow start and the oldest outstanding segment
// must be resent. It returns that segment's sequence number, along with
// any tail segments the resulting rearrange step dropped for the caller
// to requeue. DrainTail never drops the head itself, so resendSeq is
// always still valid to resend directly.
func (c *Controller) OnRetransmitTimeout() (resendSeq uint16, ok bool, dropped []uint16) {
	front, exists := c.Inflight.Front()
	if !exists {
		return 0, false, nil
	}

	c.Ssthresh = max(c.Cwnd/2, c.MinSsthresh)
	c.Cwnd = MSS
	c.DupAckCount = 0
	dropped = c.rearrange()
	return front, true, dropped
}

// rearrange drains from the tail of the in-flight queue until it fits
// the (possibly just-shrunk) window, matching the reference
// implementation's rearrange_queue step, and returns what it dropped so
// the caller can rewind its send cursor over those segments instead of
// losing them.
func (c *Controller) rearrange() []uint16 {
	return c.Inflight.DrainTail(c.Cwnd)
}

// Idle reports whether there is nothing outstanding and nothing more to
// send, i.e. the data phase has finished.
func (c *Controller) Idle() bool {
	return c.Inflight.Len() == 0
}
