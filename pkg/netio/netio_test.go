package netio

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestReadLoopDeliversDatagrams(t *testing.T) {
	rconn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer rconn.Close()

	sconn, err := net.DialUDP("udp", nil, rconn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer sconn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recvCh := make(chan Datagram, 4)
	go ReadLoop(ctx, rconn, recvCh)

	if err := WriteUDP(sconn, []byte("payload")); err != nil {
		t.Fatalf("WriteUDP: %v", err)
	}

	select {
	case dgram := <-recvCh:
		if dgram.Err != nil {
			t.Fatalf("unexpected datagram error: %v", dgram.Err)
		}
		if !bytes.Equal(dgram.Data, []byte("payload")) {
			t.Fatalf("got %q, want %q", dgram.Data, "payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for datagram")
	}
}

func TestWriteUDPAddrReachesTarget(t *testing.T) {
	rconn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer rconn.Close()

	sconn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP (sender): %v", err)
	}
	defer sconn.Close()

	if err := WriteUDPAddr(sconn, rconn.LocalAddr().(*net.UDPAddr), []byte("hi")); err != nil {
		t.Fatalf("WriteUDPAddr: %v", err)
	}

	buf := make([]byte, 16)
	rconn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := rconn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("hi")) {
		t.Fatalf("got %q, want %q", buf[:n], "hi")
	}
}
