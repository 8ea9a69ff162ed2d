// Package netio provides small UDP I/O helpers shared by the sender and
// receiver: write-until-done helpers and a background goroutine that
// turns blocking ReadFromUDP calls into a channel the event loop can
// select on.
package netio

import (
	"context"
	"net"
)

// writeAll repeatedly calls writeFunc until all of data has been
// written or an error occurs. A single UDP write never returns a short
// count in practice, but the reference codebase loops defensively and
// this does the same.
func writeAll(writeFunc func([]byte) (int, error), data []byte) error {
	written := 0
	stop := len(data)

	for written < stop {
		n, err := writeFunc(data[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return nil
}

// WriteUDP writes all of data to conn's connected peer.
func WriteUDP(conn *net.UDPConn, data []byte) error {
	return writeAll(conn.Write, data)
}

// WriteUDPAddr writes all of data to addr over conn.
func WriteUDPAddr(conn *net.UDPConn, addr *net.UDPAddr, data []byte) error {
	writeFunc := func(b []byte) (int, error) {
		return conn.WriteToUDP(b, addr)
	}
	return writeAll(writeFunc, data)
}

// Datagram is one UDP read result: the payload and the address it
// arrived from.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
	Err  error
}

// ReadLoop reads datagrams from conn in a loop and pushes them onto
// recvCh, until ctx is cancelled or conn is closed. It owns its read
// buffer and copies payload bytes before sending, so callers may hold
// onto a Datagram.Data slice across loop iterations without it being
// overwritten by the next read.
//
// Callers run this in its own goroutine; it is the channelized stand-in
// for the "socket readable" case of the reference implementation's
// poll() loop.
func ReadLoop(ctx context.Context, conn *net.UDPConn, recvCh chan<- Datagram) {
	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case recvCh <- Datagram{Err: err}:
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case <-ctx.Done():
			return
		case recvCh <- Datagram{Data: data, Addr: addr}:
		}
	}
}
