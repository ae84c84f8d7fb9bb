//go:build linux

package reactor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// registration is one logical machine slot. fd is -1 when the slot
// currently owns no socket — an auto-reconnecting client between
// attempts still needs a token to carry a timer and to be woken, even
// with no file descriptor bound to it.
type registration struct {
	fd      int
	conn    Conn
	machine Machine
	onDone  TerminationFunc
}

// Reactor is the concrete, epoll-backed event multiplexer: edge/level-
// triggered socket registration, absolute-deadline timers, a monotonic
// clock, and a single dispatcher loop.
//
// A Token identifies a logical machine slot, not a file descriptor
// directly — the token space outlives any one fd a machine happens to
// own at a given moment (an auto-reconnecting client has no socket at
// all while idle or sleeping between attempts), so this reactor keeps a
// separate fd-to-token lookup for dispatching epoll events.
type Reactor struct {
	epfd   int
	wakeFd int

	mu          sync.Mutex // guards pendingWake only; Run() itself is single-threaded
	pendingWake map[Token]struct{}

	nextTok Token
	regs    map[Token]*registration
	fdToTok map[int]Token
	timers  *timers
	clock   Clock

	closed bool
}

// New creates an epoll instance and the eventfd used to break epoll_wait
// for out-of-band Wake calls from other goroutines — the only
// cross-goroutine interaction this package allows.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: epoll_create1")
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "reactor: eventfd")
	}
	r := &Reactor{
		epfd:        epfd,
		wakeFd:      wfd,
		pendingWake: make(map[Token]struct{}),
		regs:        make(map[Token]*registration),
		fdToTok:     make(map[int]Token),
		timers:      newTimers(),
		clock:       realClock{},
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		unix.Close(wfd)
		unix.Close(epfd)
		return nil, errors.Wrap(err, "reactor: epoll_ctl add wakeFd")
	}
	return r, nil
}

func epollMask(events EventSet) uint32 {
	var m uint32
	if events.Readable {
		m |= unix.EPOLLIN
	}
	if events.Writable {
		m |= unix.EPOLLOUT
	}
	return m
}

func modeFlag(mode PollMode) uint32 {
	if mode == Edge {
		return unix.EPOLLET
	}
	return 0
}

func (r *Reactor) allocToken() Token {
	r.nextTok++
	return r.nextTok
}

// Register allocates a new token, adds conn to the epoll set with the
// given interest and triggering mode, and binds machine to dispatch its
// future events.
func (r *Reactor) Register(conn Conn, events EventSet, mode PollMode, machine Machine, onDone TerminationFunc) (Token, error) {
	fd := conn.Fd()
	mask := epollMask(events) | modeFlag(mode)
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return 0, errors.Wrap(err, "reactor: epoll_ctl add")
	}
	tok := r.allocToken()
	r.regs[tok] = &registration{fd: fd, conn: conn, machine: machine, onDone: onDone}
	r.fdToTok[fd] = tok
	return tok, nil
}

// RegisterTimer allocates a token bound to no socket at all — the shape
// an auto-reconnecting client needs while idle or sleeping between
// connection attempts, where only a deadline, not a file descriptor, is
// being waited on.
func (r *Reactor) RegisterTimer(machine Machine, onDone TerminationFunc) Token {
	tok := r.allocToken()
	r.regs[tok] = &registration{fd: -1, machine: machine, onDone: onDone}
	return tok
}

// AttachSocket binds conn to an existing, currently socket-less tok
// (an auto-reconnecting client beginning a new connection attempt),
// registering it with the epoll set.
func (r *Reactor) AttachSocket(tok Token, conn Conn, events EventSet, mode PollMode) error {
	reg, ok := r.regs[tok]
	if !ok {
		return errors.Errorf("reactor: attach: unknown token %d", tok)
	}
	if reg.fd >= 0 {
		return errors.Errorf("reactor: attach: token %d already has a socket", tok)
	}
	fd := conn.Fd()
	mask := epollMask(events) | modeFlag(mode)
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrap(err, "reactor: epoll_ctl add")
	}
	reg.fd = fd
	reg.conn = conn
	r.fdToTok[fd] = tok
	return nil
}

// DetachSocket closes tok's current socket (if any) and removes it from
// the epoll set, leaving the token and its bound machine alive — used
// when an established connection drops and the owning machine funnels
// back to a socket-less waiting state instead of tearing down entirely.
func (r *Reactor) DetachSocket(tok Token) {
	reg, ok := r.regs[tok]
	if !ok || reg.fd < 0 {
		return
	}
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil)
	delete(r.fdToTok, reg.fd)
	reg.conn.Close()
	reg.fd = -1
	reg.conn = nil
}

// ConnOf returns the socket currently bound to tok, or nil if tok has no
// socket at the moment (e.g. Persistent sleeping between attempts).
func (r *Reactor) ConnOf(tok Token) Conn {
	reg, ok := r.regs[tok]
	if !ok || reg.fd < 0 {
		return nil
	}
	return reg.conn
}

// Reregister changes the interest/mode of an already-registered socket
// without rebinding its machine or its token.
func (r *Reactor) Reregister(tok Token, events EventSet, mode PollMode) error {
	reg, ok := r.regs[tok]
	if !ok || reg.fd < 0 {
		return errors.Errorf("reactor: reregister: token %d has no socket", tok)
	}
	mask := epollMask(events) | modeFlag(mode)
	ev := unix.EpollEvent{Events: mask, Fd: int32(reg.fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, reg.fd, &ev); err != nil {
		return errors.Wrap(err, "reactor: epoll_ctl mod")
	}
	return nil
}

// Deregister removes tok entirely: its socket (if any) is closed and
// dropped from the epoll set, its timer is cleared, and onDone fires.
func (r *Reactor) Deregister(tok Token, err error) {
	reg, ok := r.regs[tok]
	if !ok {
		return
	}
	if reg.fd >= 0 {
		unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil)
		delete(r.fdToTok, reg.fd)
		reg.conn.Close()
	}
	r.timers.Disarm(tok)
	delete(r.regs, tok)
	r.mu.Lock()
	delete(r.pendingWake, tok)
	r.mu.Unlock()
	if reg.onDone != nil {
		reg.onDone(tok, err)
	}
}

// Arm sets (or replaces) the single timer for tok. Equal-deadline calls
// still churn the heap; callers that care about avoiding needless churn
// should compare against their previously recorded deadline first.
func (r *Reactor) Arm(tok Token, at time.Time) {
	r.timers.Arm(tok, at)
}

// Disarm clears tok's timer, if any.
func (r *Reactor) Disarm(tok Token) {
	r.timers.Disarm(tok)
}

// Now returns the reactor's current-time source.
func (r *Reactor) Now() time.Time {
	return r.clock.Now()
}

// Wake schedules an external wakeup callback for tok and, if the reactor
// is blocked in epoll_wait, interrupts it immediately. This is the one
// operation in this package safe to call from another goroutine.
func (r *Reactor) Wake(tok Token) {
	r.mu.Lock()
	r.pendingWake[tok] = struct{}{}
	r.mu.Unlock()
	var one [8]byte
	one[7] = 1
	unix.Write(r.wakeFd, one[:])
}

func (r *Reactor) drainPendingWakes() {
	r.mu.Lock()
	if len(r.pendingWake) == 0 {
		r.mu.Unlock()
		return
	}
	toks := make([]Token, 0, len(r.pendingWake))
	for t := range r.pendingWake {
		toks = append(toks, t)
	}
	r.pendingWake = make(map[Token]struct{})
	r.mu.Unlock()

	for _, tok := range toks {
		reg, ok := r.regs[tok]
		if !ok {
			continue
		}
		r.applyResult(tok, reg.machine.Wakeup())
	}
}

func (r *Reactor) drainWakeFd() {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wakeFd, buf[:])
		if err != nil {
			return
		}
	}
}

func (r *Reactor) applyResult(tok Token, res Result) {
	switch res.Action {
	case Continue:
		if reg, ok := r.regs[tok]; ok {
			reg.machine = res.Next
		}
	case Done:
		r.Deregister(tok, nil)
	case Error:
		r.Deregister(tok, res.Err)
	}
}

// Run drives the dispatcher loop until Close is called. Every iteration:
// wait for readiness or the next deadline, dispatch ready sockets, then
// dispatch due timers, then dispatch external wakeups. Writes are
// drained inside each Machine's own Ready(), not here.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, 256)
	for !r.closed {
		timeoutMs := -1
		if dl, ok := r.timers.NextDeadline(); ok {
			d := time.Until(dl)
			if d < 0 {
				d = 0
			}
			timeoutMs = int(d / time.Millisecond)
			if timeoutMs == 0 && d > 0 {
				timeoutMs = 1
			}
		}

		n, err := unix.EpollWait(r.epfd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "reactor: epoll_wait")
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakeFd {
				r.drainWakeFd()
				continue
			}
			tok, ok := r.fdToTok[fd]
			if !ok {
				continue
			}
			reg, ok := r.regs[tok]
			if !ok {
				continue
			}
			mask := events[i].Events
			es := EventSet{
				Readable: mask&unix.EPOLLIN != 0,
				Writable: mask&unix.EPOLLOUT != 0,
				HangUp:   mask&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
				Errored:  mask&unix.EPOLLERR != 0,
			}
			r.applyResult(tok, reg.machine.Ready(es))
		}

		now := r.Now()
		for _, tok := range r.timers.PopDue(now) {
			if reg, ok := r.regs[tok]; ok {
				r.applyResult(tok, reg.machine.Timeout())
			}
		}

		r.drainPendingWakes()
	}
	return nil
}

// Close stops Run and releases the epoll and eventfd descriptors. Any
// still-registered sockets are closed without invoking their termination
// callbacks, mirroring process teardown rather than a protocol-level
// stop.
func (r *Reactor) Close() error {
	r.closed = true
	r.Wake(0) // break out of a blocked epoll_wait
	for tok, reg := range r.regs {
		if reg.fd >= 0 {
			unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil)
			reg.conn.Close()
		}
		delete(r.regs, tok)
	}
	unix.Close(r.wakeFd)
	return unix.Close(r.epfd)
}
