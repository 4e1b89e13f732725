// Package timer implements the monotonic periodic/one-shot timer
// source of design §2 Component B: a timerfd-backed file descriptor
// that the reactor can register like any other readable fd, firing
// on expiry without a second wait primitive. Grounded on the
// teacher's raw-syscall style (pkg/can/socketcanv3's direct
// golang.org/x/sys/unix use) rather than a time.Timer/time.Ticker,
// so it composes with pkg/reactor's epoll set.
package timer

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is a single CLOCK_MONOTONIC timerfd.
type Timer struct {
	fd int
}

// NewPeriodic creates a timer that fires every interval, first firing
// after one interval elapses.
func NewPeriodic(interval time.Duration) (*Timer, error) {
	return newTimer(interval, interval)
}

// NewOneShot creates a timer that fires once after delay and does not
// repeat.
func NewOneShot(delay time.Duration) (*Timer, error) {
	return newTimer(delay, 0)
}

func newTimer(first, interval time.Duration) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("timer: timerfd_create: %w", err)
	}
	spec := &unix.ItimerSpec{
		Value:    unix.NsecToTimespec(first.Nanoseconds()),
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, spec, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("timer: timerfd_settime: %w", err)
	}
	return &Timer{fd: fd}, nil
}

// FD returns the file descriptor for reactor registration.
func (t *Timer) FD() int { return t.fd }

// Drain consumes the expiry counter once the reactor reports the fd
// readable, returning how many intervals have elapsed since the last
// drain (normally 1; more if the callback fell behind). ok=false
// means nothing was pending (EAGAIN), which a reactor callback should
// never actually observe since it is only invoked on readiness.
func (t *Timer) Drain() (count uint64, ok bool, err error) {
	var buf [8]byte
	n, rerr := unix.Read(t.fd, buf[:])
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("timer: read: %w", rerr)
	}
	if n != 8 {
		return 0, false, fmt.Errorf("timer: short read of %d bytes", n)
	}
	return binary.LittleEndian.Uint64(buf[:]), true, nil
}

// Stop disarms the timer without closing its fd.
func (t *Timer) Stop() error {
	return unix.TimerfdSettime(t.fd, 0, &unix.ItimerSpec{}, nil)
}

// Close releases the timerfd descriptor.
func (t *Timer) Close() error { return unix.Close(t.fd) }
