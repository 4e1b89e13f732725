// Package udpconn implements the connected, non-blocking UDP endpoint
// of design §4.2, adapted from the teacher's raw-syscall socketcan
// backend style (pkg/can/socketcanv3 in the retrieval pack) to
// AF_INET/SOCK_DGRAM instead of AF_PACKET/SOCK_RAW.
package udpconn

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/chargebridge/hostbridge/pkg/wire"
)

// Endpoint is a connected non-blocking UDP socket. Tx is always
// attempted inline and never blocks; Rx drains at most one datagram
// per call and is meant to be invoked from a reactor read callback.
type Endpoint struct {
	fd   int
	addr *unix.SockaddrInet4
}

// Open establishes a connected non-blocking UDP socket to remoteIP:port.
func Open(remoteIP string, port int) (*Endpoint, error) {
	ip := net.ParseIP(remoteIP)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("udpconn: invalid IPv4 address %q", remoteIP)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("udpconn: socket: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ip.To4())

	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("udpconn: connect: %w", err)
	}

	// Widen the send/receive buffers a little beyond the kernel
	// default so a burst of firmware sectors or heartbeat replies
	// doesn't spuriously back-pressure tx; kept from the teacher's
	// socketcanv3 sizing idiom.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 64*1024)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 64*1024)

	return &Endpoint{fd: fd, addr: addr}, nil
}

// FD returns the underlying file descriptor for reactor registration.
func (e *Endpoint) FD() int { return e.fd }

// Tx sends payload without blocking. EAGAIN is surfaced as an error
// rather than silently dropped; callers (the heartbeat/config service,
// the BSP translators) rely on the next periodic retransmit to
// recover from a transient full send buffer.
func (e *Endpoint) Tx(payload []byte) error {
	if len(payload) > wire.MaxUDPBody {
		return fmt.Errorf("udpconn: payload %d bytes exceeds MaxUDPBody %d", len(payload), wire.MaxUDPBody)
	}
	return unix.Send(e.fd, payload, 0)
}

// Rx drains one datagram into buf, returning the number of bytes
// read. It never blocks; ok=false means no datagram was pending.
func (e *Endpoint) Rx(buf []byte) (n int, ok bool, err error) {
	n, _, recvErr := unix.Recvfrom(e.fd, buf, 0)
	if recvErr != nil {
		if recvErr == unix.EAGAIN || recvErr == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("udpconn: recvfrom: %w", recvErr)
	}
	return n, true, nil
}

// Close releases the socket.
func (e *Endpoint) Close() error { return unix.Close(e.fd) }
