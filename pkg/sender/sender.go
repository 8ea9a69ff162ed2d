// Package sender implements the sending endpoint's connection state
// machine: handshake, data transfer under congestion control, and
// teardown, all driven by one select loop per phase. It is grounded on
// the reference codebase's SendTask (internal/transport/task.go), which
// drives a congestion-controlled pacer the same way, generalized here
// into the handshake/teardown phases that task never had to perform
// itself (its caller already owned a connection).
package sender

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"rft/pkg/congestion"
	"rft/pkg/netio"
	"rft/pkg/rftconfig"
	"rft/pkg/rftlog"
	"rft/pkg/wire"
)

// ErrDeadPeer is returned when the peer stops responding for longer than
// the configured dead-peer timeout.
var ErrDeadPeer = errors.New("sender: peer unresponsive")

// Machine runs one file transfer to completion over conn.
type Machine struct {
	conn   *net.UDPConn
	tun    rftconfig.Tunables
	log    *rftlog.Logger
	recvCh chan netio.Datagram

	localSeq  uint16 // next sequence number this side will send
	remoteSeq uint16 // last sequence number observed from the peer
}

// New builds a Machine bound to an already-dialed UDP connection.
func New(conn *net.UDPConn, tun rftconfig.Tunables, log *rftlog.Logger) *Machine {
	return &Machine{
		conn:   conn,
		tun:    tun,
		log:    log,
		recvCh: make(chan netio.Datagram, 64),
	}
}

// Send runs the handshake, transmits data in full, and tears the
// connection down. ctx cancellation aborts immediately without
// notifying the peer, matching the reference implementation's signal
// handling.
func (m *Machine) Send(ctx context.Context, data []byte) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go netio.ReadLoop(readCtx, m.conn, m.recvCh)

	if err := m.handshake(ctx); err != nil {
		return fmt.Errorf("sender: handshake: %w", err)
	}

	if err := m.runData(ctx, data); err != nil {
		return fmt.Errorf("sender: data phase: %w", err)
	}

	if err := m.teardown(ctx); err != nil {
		return fmt.Errorf("sender: teardown: %w", err)
	}

	return nil
}

func (m *Machine) send(h wire.Header, payload []byte) error {
	frame := wire.Frame{Header: h, Payload: payload}
	kind := kindOf(h)
	m.log.Sent(kind, h.SeqNumber, h.AckNumber)
	return netio.WriteUDP(m.conn, wire.EncodeFrame(frame))
}

func (m *Machine) nextAck() uint16 {
	return wire.Add(m.remoteSeq, 1)
}

func (m *Machine) handshake(ctx context.Context) error {
	m.localSeq = uint16(rand.IntN(wire.MaxSeq))
	synSeq := m.localSeq

	retransmit := time.NewTimer(m.tun.RetransmitTimeout)
	defer retransmit.Stop()
	deadPeer := time.NewTimer(m.tun.SenderDeadPeer)
	defer deadPeer.Stop()

	send := func() error {
		return m.send(wire.Header{SeqNumber: synSeq, Syn: true}, nil)
	}
	if err := send(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadPeer.C:
			return ErrDeadPeer
		case <-retransmit.C:
			if err := send(); err != nil {
				return err
			}
			retransmit.Reset(m.tun.RetransmitTimeout)
		case dgram := <-m.recvCh:
			if dgram.Err != nil {
				m.log.Warnf("handshake read error: %v", dgram.Err)
				continue
			}
			f, err := wire.DecodeFrame(dgram.Data)
			if err != nil {
				m.log.Warnf("handshake: malformed frame: %v", err)
				continue
			}
			h := f.Header
			if !(h.Syn && h.Ack) {
				m.log.Received(kindOf(h), h.SeqNumber, h.AckNumber, false)
				continue
			}
			if h.AckNumber != wire.Add(synSeq, 1) {
				m.log.Warnf("handshake: unexpected ack %d (want %d)", h.AckNumber, wire.Add(synSeq, 1))
				continue
			}
			m.log.Received(kindOf(h), h.SeqNumber, h.AckNumber, false)
			m.remoteSeq = h.SeqNumber
			m.localSeq = wire.Add(synSeq, 1)
			return nil
		}
	}
}

func (m *Machine) runData(ctx context.Context, data []byte) error {
	payloads := splitPayloads(data, wire.MSS)
	if len(payloads) == 0 {
		// Nothing to transfer; go straight to teardown instead of
		// entering a window loop that would never have anything to
		// send or await, unlike the reference implementation, whose
		// behaviour on a zero-length file is undefined.
		return nil
	}

	ctrl := congestion.New(m.tun.InitialCwnd, m.tun.InitialSsthresh, m.tun.MaxCwnd, m.tun.MinSsthresh)
	// seqOf maps a segment's sequence number back to its payload, so a
	// retransmit triggered by the controller can look the bytes up
	// again.
	seqOf := make(map[uint16][]byte, len(payloads))
	seq := m.localSeq
	for _, p := range payloads {
		seqOf[seq] = p
		seq = wire.Add(seq, len(p))
	}
	finalSeq := seq

	pending := payloads
	pendingSeq := m.localSeq

	retransmit := time.NewTimer(m.tun.RetransmitTimeout)
	defer retransmit.Stop()
	deadPeer := time.NewTimer(m.tun.SenderDeadPeer)
	defer deadPeer.Stop()

	resend := func(from uint16) error {
		p, ok := seqOf[from]
		if !ok {
			return nil
		}
		return m.send(wire.Header{SeqNumber: from, AckNumber: m.nextAck(), Ack: true}, p)
	}

	// requeue returns segments a rearrange step dropped from the tail of
	// the in-flight queue back onto the pending list, rewinding
	// pendingSeq to the lowest dropped sequence number — the Go
	// equivalent of the reference's idx -= 1 in rearrange_queue
	// (original_source/client.cc). Without this, a window shrink would
	// un-track those segments entirely: never acknowledged, never
	// resent.
	requeue := func(dropped []uint16) {
		if len(dropped) == 0 {
			return
		}
		reinserted := make([][]byte, 0, len(dropped))
		for i := len(dropped) - 1; i >= 0; i-- {
			if p, ok := seqOf[dropped[i]]; ok {
				reinserted = append(reinserted, p)
			}
		}
		if len(reinserted) == 0 {
			return
		}
		pending = append(reinserted, pending...)
		pendingSeq = dropped[len(dropped)-1]
	}

	fill := func() error {
		for len(pending) > 0 && ctrl.AvailableWindow() >= len(pending[0]) {
			p := pending[0]
			if err := m.send(wire.Header{SeqNumber: pendingSeq, AckNumber: m.nextAck(), Ack: true}, p); err != nil {
				return err
			}
			ctrl.Send(pendingSeq, len(p))
			pendingSeq = wire.Add(pendingSeq, len(p))
			pending = pending[1:]
		}
		return nil
	}

	if err := fill(); err != nil {
		return err
	}

	for {
		if ctrl.Idle() && len(pending) == 0 {
			m.localSeq = finalSeq
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadPeer.C:
			return ErrDeadPeer
		case <-retransmit.C:
			if resendSeq, ok, dropped := ctrl.OnRetransmitTimeout(); ok {
				requeue(dropped)
				if err := resend(resendSeq); err != nil {
					return err
				}
			}
			retransmit.Reset(m.tun.RetransmitTimeout)
		case dgram := <-m.recvCh:
			if dgram.Err != nil {
				m.log.Warnf("data phase read error: %v", dgram.Err)
				continue
			}
			f, err := wire.DecodeFrame(dgram.Data)
			if err != nil {
				m.log.Warnf("data phase: malformed frame: %v", err)
				continue
			}
			h := f.Header
			if !h.Ack || h.Syn || h.Fin {
				continue
			}

			deadPeer.Reset(m.tun.SenderDeadPeer)

			hasFront := !ctrl.Idle()
			isDup := hasFront && h.AckNumber == ctrl.LastUnackedSeq
			m.log.Received(kindOf(h), h.SeqNumber, h.AckNumber, isDup)

			switch {
			case isDup:
				retransmitNow, dropped := ctrl.OnDuplicateAck(h.AckNumber)
				requeue(dropped)
				if retransmitNow {
					if err := resend(h.AckNumber); err != nil {
						return err
					}
				}
			case hasFront && wire.Forward(h.AckNumber, ctrl.LastUnackedSeq):
				requeue(ctrl.OnNewAck(h.AckNumber))
				retransmit.Reset(m.tun.RetransmitTimeout)
			}

			if err := fill(); err != nil {
				return err
			}
		}
	}
}

func (m *Machine) teardown(ctx context.Context) error {
	finSeq := m.localSeq

	retransmit := time.NewTimer(m.tun.RetransmitTimeout)
	defer retransmit.Stop()
	deadPeer := time.NewTimer(m.tun.SenderDeadPeer)
	defer deadPeer.Stop()

	sendFin := func() error {
		return m.send(wire.Header{SeqNumber: finSeq, AckNumber: m.nextAck(), Fin: true}, nil)
	}
	if err := sendFin(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadPeer.C:
			return ErrDeadPeer
		case <-retransmit.C:
			if err := sendFin(); err != nil {
				return err
			}
			retransmit.Reset(m.tun.RetransmitTimeout)
		case dgram := <-m.recvCh:
			if dgram.Err != nil {
				continue
			}
			f, err := wire.DecodeFrame(dgram.Data)
			if err != nil {
				continue
			}
			h := f.Header
			if !(h.Fin && h.Ack) {
				continue
			}
			if h.AckNumber != wire.Add(finSeq, 1) {
				m.log.Warnf("teardown: unexpected ack %d (want %d)", h.AckNumber, wire.Add(finSeq, 1))
				continue
			}
			m.log.Received(kindOf(h), h.SeqNumber, h.AckNumber, false)
			m.remoteSeq = h.SeqNumber
			m.localSeq = wire.Add(finSeq, 1)
			return m.linger(ctx)
		}
	}
}

// linger absorbs retransmitted FIN|ACKs for LingerTimeout after the
// final ACK has been sent, the way a TCP closer spends time in
// TIME_WAIT, then exits.
func (m *Machine) linger(ctx context.Context) error {
	ack := wire.Header{SeqNumber: m.localSeq, AckNumber: m.nextAck(), Ack: true}
	if err := m.send(ack, nil); err != nil {
		return err
	}

	timer := time.NewTimer(m.tun.LingerTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return nil
		case dgram := <-m.recvCh:
			if dgram.Err != nil {
				continue
			}
			f, err := wire.DecodeFrame(dgram.Data)
			if err != nil || !(f.Header.Fin && f.Header.Ack) {
				continue
			}
			if err := m.send(ack, nil); err != nil {
				return err
			}
		}
	}
}

// splitPayloads chops data into chunks of at most mss bytes.
func splitPayloads(data []byte, mss int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := min(len(data), mss)
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func kindOf(h wire.Header) string {
	switch {
	case h.Syn && h.Ack:
		return "SYN|ACK"
	case h.Syn:
		return "SYN"
	case h.Fin && h.Ack:
		return "FIN|ACK"
	case h.Fin:
		return "FIN"
	case h.Ack:
		return "ACK"
	default:
		return "DATA"
	}
}
