package fastcgi

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// connState is the transceiver's per-connection record reassembly state.
type connState struct {
	fd int

	headerBuf [headerLen]byte
	headerLen int // bytes of headerBuf filled so far

	haveHeader bool
	header     Header
	payload    []byte
	received   int // bytes of payload filled so far
}

// Pusher is the collaborator the transceiver hands reassembled messages to;
// Manager implements it.
type Pusher interface {
	Push(id FullID, msg Message)
}

// Transceiver owns one listening socket, a self-pipe for cross-goroutine
// wakeup, and the non-blocking I/O loop. It is driven by a single caller
// goroutine via repeated calls to Handler; Wake may be called from any
// goroutine.
type Transceiver struct {
	listenFD int

	wakeR, wakeW int
	wakeMu       sync.Mutex

	conns map[int]*connState

	// dropped records fds closed while outbound frames for them were still
	// queued; transmit discards those frames instead of writing to a closed
	// (or kernel-reused) descriptor.
	dropped map[int]bool

	buffer *Buffer
	pusher Pusher
}

// NewTransceiver constructs a transceiver listening on fd (already bound
// and listening by the parent process). Reassembled records are delivered
// to pusher.
func NewTransceiver(fd int, pusher Pusher) (*Transceiver, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, "fastcgi: creating wakeup socketpair")
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		return nil, errors.Wrap(err, "fastcgi: setting wakeup socket nonblocking")
	}

	t := &Transceiver{
		listenFD: fd,
		wakeR:    fds[0],
		wakeW:    fds[1],
		conns:    make(map[int]*connState),
		dropped:  make(map[int]bool),
		pusher:   pusher,
	}
	t.buffer = NewBuffer(t)
	_ = unix.SetNonblock(fd, true)
	return t, nil
}

// closeConn implements the ring buffer's closer collaborator: the last
// close-flagged frame for fd has drained. A dropped fd was already closed.
func (t *Transceiver) closeConn(fd int) {
	if t.dropped[fd] {
		delete(t.dropped, fd)
		return
	}
	t.removeConn(fd)
	_ = unix.Close(fd)
}

func (t *Transceiver) removeConn(fd int) {
	delete(t.conns, fd)
}

// dropFD closes fd immediately (connection lost or broken) and marks it so
// that outbound frames still queued for it are discarded rather than
// written to a closed descriptor.
func (t *Transceiver) dropFD(fd int) {
	t.removeConn(fd)
	_ = unix.Close(fd)
	t.dropped[fd] = true
}

// RequestWrite exposes Buffer.RequestWrite to higher layers (output stream,
// management-record replies).
func (t *Transceiver) RequestWrite(minSize int) WriteBlock {
	return t.buffer.RequestWrite(minSize)
}

// SecureWrite commits n buffered bytes as destined for id.FD, optionally
// closing that fd once drained, and immediately attempts to transmit.
func (t *Transceiver) SecureWrite(n int, id FullID, closeFD bool) {
	t.buffer.Commit(n, id, closeFD)
	_ = t.transmit()
}

// Wake unblocks a concurrent call to Sleep. Safe to call from any goroutine.
func (t *Transceiver) Wake() {
	t.wakeMu.Lock()
	defer t.wakeMu.Unlock()
	var b [1]byte
	_, _ = unix.Write(t.wakeW, b[:])
}

// Sleep blocks until the listening socket or a connection is readable (or
// hung up), or Wake is called. It does not wait for writability.
func (t *Transceiver) Sleep() {
	fds := t.buildPollSet()
	_, _ = unix.Poll(fds, -1)
}

func (t *Transceiver) buildPollSet() []unix.PollFd {
	fds := make([]unix.PollFd, 0, len(t.conns)+2)
	fds = append(fds, unix.PollFd{Fd: int32(t.listenFD), Events: unix.POLLIN})
	fds = append(fds, unix.PollFd{Fd: int32(t.wakeR), Events: unix.POLLIN})
	for fd := range t.conns {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN | unix.POLLHUP})
	}
	return fds
}

// transmit drains as much of the ring buffer as possible without blocking.
// It returns nil on success (including "nothing to send" and EAGAIN); any
// other write error is fatal.
func (t *Transceiver) transmit() error {
	for {
		rb := t.buffer.RequestRead()
		if len(rb.Buf) == 0 {
			return nil
		}
		if t.dropped[rb.FD] {
			t.buffer.FreeRead(len(rb.Buf))
			continue
		}

		n, err := unix.Write(rb.FD, rb.Buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EPIPE {
				t.dropFD(rb.FD)
				// The frame is considered fully (if unsuccessfully)
				// drained: free it so the buffer doesn't wedge.
				t.buffer.FreeRead(len(rb.Buf))
				continue
			}
			return newTransceiverError(err, "write")
		}
		if n == 0 {
			return nil
		}
		t.buffer.FreeRead(n)
	}
}

// Handler runs one iteration of the transceiver's event loop: it drains the
// outbound buffer, polls with a zero timeout, and services at most one
// ready fd. It returns idle == true when there was nothing to transmit and
// no fd was ready.
func (t *Transceiver) Handler() (idle bool, err error) {
	if err := t.transmit(); err != nil {
		return false, err
	}

	fds := t.buildPollSet()
	n, perr := unix.Poll(fds, 0)
	if perr != nil {
		if perr == unix.EINTR {
			return false, nil
		}
		return false, newTransceiverError(perr, "poll")
	}
	if n == 0 {
		return t.buffer.IsEmpty(), nil
	}

	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)

		switch {
		case fd == t.listenFD:
			t.acceptOne()
		case fd == t.wakeR:
			t.drainWake()
		case pfd.Revents&unix.POLLHUP != 0 && pfd.Revents&unix.POLLIN == 0:
			t.dropFD(fd)
		default:
			if err := t.readOne(fd); err != nil {
				return false, err
			}
		}
		break
	}

	return false, nil
}

func (t *Transceiver) acceptOne() {
	connFD, _, err := unix.Accept4(t.listenFD, unix.SOCK_NONBLOCK)
	if err != nil {
		return
	}
	// The kernel may hand back an fd number dropped earlier; any stale
	// dropped mark would make transmit discard the new connection's data.
	delete(t.dropped, connFD)
	t.conns[connFD] = &connState{fd: connFD}
}

func (t *Transceiver) drainWake() {
	var b [64]byte
	for {
		n, err := unix.Read(t.wakeR, b[:])
		if n <= 0 || err != nil {
			return
		}
		if n < len(b) {
			return
		}
	}
}

// readOne advances the reassembly state machine for fd by one non-blocking
// read: it fills the header buffer, then the payload buffer, and dispatches
// a complete record to the pusher. Partial reads persist across calls via
// connState.
func (t *Transceiver) readOne(fd int) error {
	cs, ok := t.conns[fd]
	if !ok {
		return nil
	}

	if !cs.haveHeader {
		n, err := unix.Read(fd, cs.headerBuf[cs.headerLen:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			t.dropFD(fd)
			return nil
		}
		if n == 0 {
			t.dropFD(fd)
			return nil
		}
		cs.headerLen += n
		if cs.headerLen < headerLen {
			return nil
		}

		h, err := UnmarshalHeader(cs.headerBuf[:])
		if err != nil {
			t.dropFD(fd)
			return nil
		}
		cs.haveHeader = true
		cs.header = h
		total := int(h.ContentLength) + int(h.PaddingLength)
		cs.payload = make([]byte, headerLen+total)
		copy(cs.payload, cs.headerBuf[:])
		cs.received = headerLen
		if total == 0 {
			t.deliver(cs)
			return nil
		}
		return nil
	}

	n, err := unix.Read(fd, cs.payload[cs.received:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		t.dropFD(fd)
		return nil
	}
	if n == 0 {
		t.dropFD(fd)
		return nil
	}
	cs.received += n
	if cs.received >= len(cs.payload) {
		t.deliver(cs)
	}
	return nil
}

// SetPusher (re)binds the collaborator reassembled records are delivered
// to. It exists alongside the pusher constructor argument because a
// Manager needs a constructed Transceiver to build itself, and the
// Transceiver needs a Manager to act as its Pusher.
func (t *Transceiver) SetPusher(pusher Pusher) { t.pusher = pusher }

func (t *Transceiver) deliver(cs *connState) {
	if t.pusher == nil {
		cs.haveHeader = false
		cs.headerLen = 0
		cs.payload = nil
		cs.received = 0
		return
	}
	id := FullID{FD: cs.fd, RequestID: cs.header.RequestID}
	t.pusher.Push(id, Message{Type: 0, Payload: cs.payload})

	cs.haveHeader = false
	cs.headerLen = 0
	cs.payload = nil
	cs.received = 0
}
