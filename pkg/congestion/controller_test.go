package congestion

import (
	"testing"

	"rft/pkg/wire"
)

func TestSlowStartGrowsCwndOnNewAck(t *testing.T) {
	c := New(wire.MSS, 5120, 10240, 1024)
	c.Send(0, wire.MSS)

	before := c.Cwnd
	c.OnNewAck(wire.Add(0, wire.MSS))

	if c.Cwnd <= before {
		t.Fatalf("expected cwnd to grow in slow start: before=%d after=%d", before, c.Cwnd)
	}
	if !c.Idle() {
		t.Fatalf("expected in-flight queue to be empty after full ACK")
	}
}

func TestTransitionsToCongestionAvoidanceAtSsthresh(t *testing.T) {
	c := New(wire.MSS, 2*wire.MSS, 10240, 1024)
	seq := uint16(0)

	for i := 0; i < 10 && c.Phase() == SlowStart; i++ {
		c.Send(seq, wire.MSS)
		next := wire.Add(seq, wire.MSS)
		c.OnNewAck(next)
		seq = next
	}

	if c.Phase() != CongestionAvoidance {
		t.Fatalf("expected congestion avoidance once cwnd reached ssthresh, got phase=%v cwnd=%d", c.Phase(), c.Cwnd)
	}
}

func TestThreeDuplicateAcksTriggerFastRetransmit(t *testing.T) {
	c := New(10*wire.MSS, 20*wire.MSS, 10240, 1024)
	c.Send(0, wire.MSS)
	c.Send(wire.MSS, wire.MSS)
	c.Send(2*wire.MSS, wire.MSS)
	c.Send(3*wire.MSS, wire.MSS)

	var triggered bool
	for i := 0; i < 3; i++ {
		triggered, _ = c.OnDuplicateAck(0)
	}

	if !triggered {
		t.Fatalf("expected third duplicate ACK to trigger fast retransmit")
	}
	if c.Phase() != FastRecovery {
		t.Fatalf("expected fast recovery phase, got %v", c.Phase())
	}
	if c.Ssthresh < c.MinSsthresh {
		t.Fatalf("ssthresh fell below floor: %d", c.Ssthresh)
	}
}

func TestRetransmitTimeoutCollapsesToSlowStart(t *testing.T) {
	c := New(8*wire.MSS, 4*wire.MSS, 10240, 1024)
	c.Send(0, wire.MSS)
	c.Send(wire.MSS, wire.MSS)

	seq, ok, _ := c.OnRetransmitTimeout()
	if !ok {
		t.Fatalf("expected a segment to resend")
	}
	if seq != 0 {
		t.Fatalf("expected oldest unacked segment (seq 0), got %d", seq)
	}
	if c.Phase() != SlowStart {
		t.Fatalf("expected slow start after timeout, got %v", c.Phase())
	}
	if c.Cwnd != wire.MSS {
		t.Fatalf("expected cwnd reset to MSS, got %d", c.Cwnd)
	}
}

func TestInflightQueueDrainThroughRespectsOrder(t *testing.T) {
	var q InflightQueue
	q.Push(0, 512)
	q.Push(512, 512)
	q.Push(1024, 512)

	freed := q.DrainThrough(1024)
	if freed != 1024 {
		t.Fatalf("expected 1024 bytes freed, got %d", freed)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one entry remaining, got %d", q.Len())
	}
	if q.Bytes() != 512 {
		t.Fatalf("expected 512 bytes remaining, got %d", q.Bytes())
	}
}

func TestInflightQueueDrainTailRespectsBudget(t *testing.T) {
	var q InflightQueue
	q.Push(0, 512)
	q.Push(512, 512)
	q.Push(1024, 512)

	dropped := q.DrainTail(1024)
	if len(dropped) != 1 || dropped[0] != 1024 {
		t.Fatalf("expected seq 1024 dropped from tail, got %v", dropped)
	}
	if q.Bytes() != 1024 {
		t.Fatalf("expected 1024 bytes remaining, got %d", q.Bytes())
	}
}

func TestInflightQueueDrainTailNeverDropsHead(t *testing.T) {
	var q InflightQueue
	q.Push(0, 512)
	q.Push(512, 512)
	q.Push(1024, 512)

	dropped := q.DrainTail(0)
	if len(dropped) != 2 {
		t.Fatalf("expected both tail entries dropped, got %v", dropped)
	}
	if q.Len() != 1 {
		t.Fatalf("expected head to survive even under a budget of zero, got len=%d", q.Len())
	}
	front, ok := q.Front()
	if !ok || front != 0 {
		t.Fatalf("expected head seq 0 to remain, got %d ok=%v", front, ok)
	}
}

func TestRetransmitTimeoutReturnsDroppedTailForRequeue(t *testing.T) {
	c := New(3*wire.MSS, 4*wire.MSS, 10240, 1024)
	c.Send(0, wire.MSS)
	c.Send(wire.MSS, wire.MSS)
	c.Send(2*wire.MSS, wire.MSS)

	seq, ok, dropped := c.OnRetransmitTimeout()
	if !ok {
		t.Fatalf("expected a segment to resend")
	}
	if seq != 0 {
		t.Fatalf("expected oldest unacked segment (seq 0), got %d", seq)
	}
	if len(dropped) != 2 {
		t.Fatalf("expected the two most recent segments dropped by the window collapse, got %v", dropped)
	}
	for _, d := range dropped {
		if d == seq {
			t.Fatalf("resend target %d must not also appear in dropped", seq)
		}
	}
}
