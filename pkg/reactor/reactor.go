// Package reactor implements the single-threaded cooperative
// scheduler design §4.1 specifies: file descriptors are registered
// with wanted events, the reactor blocks in one readiness wait over
// the registered set, dispatches callbacks in arrival order, then
// drains a queue of deferred actions before the next wait.
package reactor

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// Want is the bitset of readiness events a registration cares about.
type Want uint32

const (
	WantRead Want = 1 << iota
	WantWrite
	WantPri
	WantErr
	WantHup
)

func (w Want) toEpollEvents() uint32 {
	var ev uint32
	if w&WantRead != 0 {
		ev |= unix.EPOLLIN
	}
	if w&WantWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if w&WantPri != 0 {
		ev |= unix.EPOLLPRI
	}
	// EPOLLERR/EPOLLHUP are always reported by the kernel regardless of
	// registration; WantErr/WantHup exist so callers can express intent
	// in add_action-deferred modify() calls without special-casing them.
	return ev
}

func fromEpollEvents(ev uint32) Want {
	var w Want
	if ev&unix.EPOLLIN != 0 {
		w |= WantRead
	}
	if ev&unix.EPOLLOUT != 0 {
		w |= WantWrite
	}
	if ev&unix.EPOLLPRI != 0 {
		w |= WantPri
	}
	if ev&unix.EPOLLERR != 0 {
		w |= WantErr
	}
	if ev&unix.EPOLLHUP != 0 {
		w |= WantHup
	}
	return w
}

// Callback receives the actual event set that fired; it must not
// block. Long work should be re-queued via Reactor.AddAction.
type Callback func(fired Want)

// Reactor is a single epoll instance plus a deferred-action queue.
// Not safe for concurrent Register/Modify/Unregister from multiple
// goroutines — only the reactor's own RunOnce/Run goroutine and
// callbacks it invokes should call them; other goroutines must go
// through AddAction.
type Reactor struct {
	log     *slog.Logger
	epfd    int
	wakeFd  int // eventfd used to implement PollFD() / cross-goroutine wakeups
	mu      sync.Mutex
	entries map[int]*entry
	actions []func()
}

type entry struct {
	fd   int
	want Want
	cb   Callback
}

func New(log *slog.Logger) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	r := &Reactor{log: log, epfd: epfd, wakeFd: wakeFd, entries: make(map[int]*entry)}
	if err := r.Register(wakeFd, WantRead, func(Want) { r.drainWake() }); err != nil {
		unix.Close(epfd)
		unix.Close(wakeFd)
		return nil, err
	}
	return r, nil
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wakeFd, buf[:])
		if err != nil {
			return
		}
	}
}

// Wake interrupts a blocked RunOnce/Run wait from another goroutine;
// the manager thread uses this after enqueuing an action via
// AddAction so the reactor does not wait the full poll timeout.
func (r *Reactor) Wake() {
	var one [8]byte
	one[0] = 1
	unix.Write(r.wakeFd, one[:])
}

// Register adds fd to the registered set. It fails if fd is already
// registered.
func (r *Reactor) Register(fd int, want Want, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[fd]; exists {
		return fmt.Errorf("reactor: fd %d already registered", fd)
	}
	ev := &unix.EpollEvent{Events: want.toEpollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", fd, err)
	}
	r.entries[fd] = &entry{fd: fd, want: want, cb: cb}
	return nil
}

// Modify changes the wanted event set for an already-registered fd.
func (r *Reactor) Modify(fd int, want Want) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[fd]
	if !exists {
		return fmt.Errorf("reactor: fd %d not registered", fd)
	}
	ev := &unix.EpollEvent{Events: want.toEpollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd %d: %w", fd, err)
	}
	e.want = want
	return nil
}

// Unregister removes fd from the registered set. It fails if fd is
// unknown.
func (r *Reactor) Unregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[fd]; !exists {
		return fmt.Errorf("reactor: fd %d not registered", fd)
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("reactor: epoll_ctl del fd %d: %w", fd, err)
	}
	delete(r.entries, fd)
	return nil
}

// AddAction queues a closure to run before the next blocking wait.
// Safe to call from any goroutine (notably the supervisor's manager
// thread); pair with Wake() to avoid waiting out a long poll timeout.
func (r *Reactor) AddAction(fn func()) {
	r.mu.Lock()
	r.actions = append(r.actions, fn)
	r.mu.Unlock()
}

func (r *Reactor) drainActions() {
	r.mu.Lock()
	actions := r.actions
	r.actions = nil
	r.mu.Unlock()
	for _, fn := range actions {
		fn()
	}
}

// RunOnce performs one dispatch: a single readiness wait (bounded by
// timeoutMs; -1 blocks indefinitely), callback dispatch in arrival
// order, then an action-queue drain. A callback's panic is recovered
// and logged so one faulty component cannot kill the loop.
func (r *Reactor) RunOnce(timeoutMs int) error {
	r.drainActions()

	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		r.mu.Lock()
		e, ok := r.entries[fd]
		r.mu.Unlock()
		if !ok {
			continue // unregistered between wait and dispatch
		}
		r.dispatch(e, fromEpollEvents(events[i].Events))
	}

	r.drainActions()
	return nil
}

func (r *Reactor) dispatch(e *entry, fired Want) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("reactor: callback panicked", "fd", e.fd, "panic", rec)
		}
	}()
	e.cb(fired)
}

// Run loops RunOnce until shouldContinue returns false.
func (r *Reactor) Run(shouldContinue func() bool) error {
	for shouldContinue() {
		if err := r.RunOnce(1000); err != nil {
			return err
		}
	}
	return nil
}

// PollFD returns a readable fd that becomes ready whenever any
// registered fd has work, so a parent reactor can multiplex this one
// as a single child. It is simply the underlying epoll fd, which
// itself satisfies epoll's nesting contract.
func (r *Reactor) PollFD() int { return r.epfd }

// Close releases the epoll and eventfd descriptors.
func (r *Reactor) Close() error {
	unix.Close(r.wakeFd)
	return unix.Close(r.epfd)
}
