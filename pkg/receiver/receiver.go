// Package receiver implements the receiving endpoint: accepting a
// handshake, reassembling the incoming byte stream, and tearing the
// connection down before materializing the transfer to disk. Sessions
// are served strictly one at a time, unlike the reference codebase's
// ServerTransport.Run, which spawns a goroutine per client; that
// concurrency is dropped here since at most one concurrent session is
// in scope.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"rft/pkg/netio"
	"rft/pkg/reassembly"
	"rft/pkg/rftconfig"
	"rft/pkg/rftlog"
	"rft/pkg/wire"
)

// ErrDeadPeer is returned when the peer stops responding for longer than
// the configured dead-peer timeout.
var ErrDeadPeer = errors.New("receiver: peer unresponsive")

// Server listens on a bound UDP socket and serves sessions one after
// another, each writing its transfer to <client_id>.file in outDir.
type Server struct {
	conn   *net.UDPConn
	outDir string
	tun    rftconfig.Tunables
	log    *rftlog.Logger

	recvCh chan netio.Datagram
	nextID uint64

	current *session
}

// New builds a Server bound to an already-listening UDP socket.
func New(conn *net.UDPConn, outDir string, tun rftconfig.Tunables, log *rftlog.Logger) *Server {
	return &Server{
		conn:   conn,
		outDir: outDir,
		tun:    tun,
		log:    log,
		recvCh: make(chan netio.Datagram, 64),
		nextID: 1,
	}
}

// Run serves sessions sequentially until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go netio.ReadLoop(readCtx, s.conn, s.recvCh)

	for {
		if err := s.serveOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Warnf("session ended: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// session holds the per-client state a single serveOne call drives
// through accept, data, and teardown.
type session struct {
	clientID uint64
	peer     *net.UDPAddr

	localSeq  uint16 // this side's sequence cursor
	remoteSeq uint16 // last sequence number observed from the sender

	buf *reassembly.Buffer
}

func (s *Server) serveOne(ctx context.Context) (err error) {
	sess, err := s.accept(ctx)
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	s.current = sess
	// A session cut short by cancellation stays current, so the caller
	// can still write its interrupt marker after Run returns.
	defer func() {
		if err == nil || ctx.Err() == nil {
			s.current = nil
		}
	}()

	if err := s.runData(ctx, sess); err != nil {
		return fmt.Errorf("data phase: %w", err)
	}

	if err := s.teardown(ctx, sess); err != nil {
		s.writeOutput(sess)
		return fmt.Errorf("teardown: %w", err)
	}

	s.writeOutput(sess)
	return nil
}

func (s *Server) send(peer *net.UDPAddr, h wire.Header, payload []byte) error {
	frame := wire.Frame{Header: h, Payload: payload}
	s.log.Sent(kindOf(h), h.SeqNumber, h.AckNumber)
	return netio.WriteUDPAddr(s.conn, peer, wire.EncodeFrame(frame))
}

func (s *Server) accept(ctx context.Context) (*session, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case dgram := <-s.recvCh:
			if dgram.Err != nil {
				s.log.Warnf("accept: read error: %v", dgram.Err)
				continue
			}
			f, err := wire.DecodeFrame(dgram.Data)
			if err != nil {
				s.log.Warnf("accept: malformed frame: %v", err)
				continue
			}
			if !f.Header.Syn {
				s.log.Received(kindOf(f.Header), f.Header.SeqNumber, f.Header.AckNumber, false)
				continue
			}
			s.log.Received("SYN", f.Header.SeqNumber, f.Header.AckNumber, false)

			sess := &session{
				clientID:  s.nextID,
				peer:      dgram.Addr,
				localSeq:  uint16(rand.IntN(wire.MaxSeq)),
				remoteSeq: f.Header.SeqNumber,
			}
			s.nextID++
			sess.buf = reassembly.New(wire.Add(f.Header.SeqNumber, 1))

			synAck := wire.Header{
				SeqNumber: sess.localSeq,
				AckNumber: wire.Add(sess.remoteSeq, 1),
				Syn:       true,
				Ack:       true,
			}
			if err := s.send(sess.peer, synAck, nil); err != nil {
				return nil, err
			}
			sess.localSeq = wire.Add(sess.localSeq, 1)
			return sess, nil
		}
	}
}

func (s *Server) runData(ctx context.Context, sess *session) error {
	deadPeer := time.NewTimer(s.tun.ReceiverDeadPeer)
	defer deadPeer.Stop()

	lastAck := wire.Header{
		SeqNumber: sess.localSeq,
		AckNumber: sess.buf.ExpectSeqNumber(),
		Ack:       true,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadPeer.C:
			return ErrDeadPeer
		case dgram := <-s.recvCh:
			if dgram.Err != nil {
				s.log.Warnf("data phase: read error: %v", dgram.Err)
				continue
			}
			f, err := wire.DecodeFrame(dgram.Data)
			if err != nil {
				s.log.Warnf("data phase: malformed frame: %v", err)
				continue
			}
			h := f.Header

			if h.Fin {
				sess.remoteSeq = h.SeqNumber
				return nil
			}
			if !h.Ack {
				continue
			}

			deadPeer.Reset(s.tun.ReceiverDeadPeer)

			if len(f.Payload) == 0 {
				// Bare ACK arriving during the data phase (e.g. a
				// delayed handshake retransmission); nothing to do.
				continue
			}

			payload := append([]byte(nil), f.Payload...)
			outcome := sess.buf.Insert(h.SeqNumber, payload)
			dup := outcome != reassembly.InOrder
			s.log.Received("DATA", h.SeqNumber, h.AckNumber, dup)

			lastAck = wire.Header{
				SeqNumber: sess.localSeq,
				AckNumber: sess.buf.ExpectSeqNumber(),
				Ack:       true,
			}
			if err := s.send(sess.peer, lastAck, nil); err != nil {
				return err
			}
		}
	}
}

func (s *Server) teardown(ctx context.Context, sess *session) error {
	finAck := wire.Header{
		SeqNumber: sess.localSeq,
		AckNumber: wire.Add(sess.remoteSeq, 1),
		Fin:       true,
		Ack:       true,
	}
	if err := s.send(sess.peer, finAck, nil); err != nil {
		return err
	}

	retransmit := time.NewTimer(s.tun.RetransmitTimeout)
	defer retransmit.Stop()
	deadPeer := time.NewTimer(s.tun.ReceiverDeadPeer)
	defer deadPeer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadPeer.C:
			return ErrDeadPeer
		case <-retransmit.C:
			if err := s.send(sess.peer, finAck, nil); err != nil {
				return err
			}
			retransmit.Reset(s.tun.RetransmitTimeout)
		case dgram := <-s.recvCh:
			if dgram.Err != nil {
				continue
			}
			f, err := wire.DecodeFrame(dgram.Data)
			if err != nil {
				continue
			}
			h := f.Header
			if h.Ack && !h.Fin && !h.Syn && h.AckNumber == wire.Add(finAck.SeqNumber, 1) {
				s.log.Received("ACK", h.SeqNumber, h.AckNumber, false)
				sess.localSeq = wire.Add(finAck.SeqNumber, 1)
				return nil
			}
		}
	}
}

func (s *Server) writeOutput(sess *session) {
	path := fmt.Sprintf("%s/%d.file", s.outDir, sess.clientID)
	if err := os.WriteFile(path, sess.buf.Bytes(), 0o644); err != nil {
		s.log.Warnf("write output file %s: %v", path, err)
	}
}

// WriteInterruptMarker truncates the in-progress output file and writes
// the literal nine-byte marker the reference implementation writes when
// the process receives a termination signal mid-transfer — it replaces
// whatever partial content had been buffered, it does not append to it.
// It is a no-op if no session is currently active.
func (s *Server) WriteInterruptMarker() {
	sess := s.current
	if sess == nil {
		return
	}
	path := fmt.Sprintf("%s/%d.file", s.outDir, sess.clientID)
	if err := os.WriteFile(path, []byte("INTERRUPT"), 0o644); err != nil {
		s.log.Warnf("write interrupt marker %s: %v", path, err)
	}
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
