package fastcgi

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Factory produces a fresh hook set (implementing at least ResponseHandler)
// for each newly accepted request.
type Factory func() interface{}

type mgmtMessage struct {
	fd      int
	payload []byte
}

// Manager is the single-worker-thread owner of a Transceiver, the request
// table, and the task/management queues. It implements Pusher so the
// Transceiver can hand it reassembled records directly.
type Manager struct {
	t       *Transceiver
	factory Factory
	log     logrus.FieldLogger
	pid     int

	mu       sync.RWMutex
	requests map[uint32]*Request

	tasksMu sync.Mutex
	tasks   []FullID

	mgmtMu sync.Mutex
	mgmt   []mgmtMessage

	flagsMu     sync.Mutex
	doStop      bool
	doTerminate bool

	asleepMu sync.Mutex
	asleep   bool
}

// wellKnownValues are the GET_VALUES names this runtime answers.
var wellKnownValues = map[string]string{
	"FCGI_MAX_CONNS":  "10",
	"FCGI_MAX_REQS":   "50",
	"FCGI_MPXS_CONNS": "1",
}

// NewManager constructs a manager driving t, producing new request hook
// sets via factory. If log is nil, logrus.StandardLogger() is used for the
// operational diagnostics the manager emits (never per-request access
// logs, which are an explicit non-goal).
func NewManager(t *Transceiver, factory Factory, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		t:        t,
		factory:  factory,
		log:      log,
		pid:      os.Getpid(),
		requests: make(map[uint32]*Request),
	}
	registerManager(m)
	return m
}

// Push implements Pusher. It is the sole entry point by which
// reassembled records (and, indirectly via notify closures, user-injected
// messages) reach a request's queue.
func (m *Manager) Push(id FullID, msg Message) {
	if id.IsManagement() {
		m.mgmtMu.Lock()
		m.mgmt = append(m.mgmt, mgmtMessage{fd: id.FD, payload: msg.Payload})
		m.mgmtMu.Unlock()
		m.pushTask(FullID{FD: id.FD, RequestID: 0})
		m.wakeIfAsleep()
		return
	}

	m.mu.RLock()
	req, ok := m.requests[id.packed()]
	m.mu.RUnlock()

	if ok {
		req.pushProtocol(msg)
		m.pushTask(id)
		m.wakeIfAsleep()
		return
	}

	h, err := UnmarshalHeader(msg.Payload)
	if err != nil || h.Type != TypeBeginRequest {
		// Any other inbound record for an unknown request id is discarded.
		return
	}
	body, err := UnmarshalBeginRequestBody(msg.Payload[headerLen : headerLen+int(h.ContentLength)])
	if err != nil {
		return
	}

	req = NewRequest(m.t, id, body.Role, body.KeepConn, m.factory(), func() {
		m.pushTask(id)
		m.wakeIfAsleep()
	})
	req.SetLogger(m.log)

	m.mu.Lock()
	m.requests[id.packed()] = req
	m.mu.Unlock()

	m.pushTask(id)
	m.wakeIfAsleep()
}

func (m *Manager) pushTask(id FullID) {
	m.tasksMu.Lock()
	m.tasks = append(m.tasks, id)
	m.tasksMu.Unlock()
}

func (m *Manager) popTask() (FullID, bool) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	if len(m.tasks) == 0 {
		return FullID{}, false
	}
	id := m.tasks[0]
	m.tasks = m.tasks[1:]
	return id, true
}

func (m *Manager) popMgmt() (mgmtMessage, bool) {
	m.mgmtMu.Lock()
	defer m.mgmtMu.Unlock()
	if len(m.mgmt) == 0 {
		return mgmtMessage{}, false
	}
	msg := m.mgmt[0]
	m.mgmt = m.mgmt[1:]
	return msg, true
}

func (m *Manager) wakeIfAsleep() {
	m.asleepMu.Lock()
	a := m.asleep
	m.asleepMu.Unlock()
	if a {
		m.t.Wake()
	}
}

func (m *Manager) setAsleep(v bool) {
	m.asleepMu.Lock()
	m.asleep = v
	m.asleepMu.Unlock()
}

func (m *Manager) consumeStop() bool {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()
	if m.doStop {
		m.doStop = false
		return true
	}
	return false
}

func (m *Manager) terminating() bool {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()
	return m.doTerminate
}

// Stop requests that Handler return at the top of its next iteration,
// leaving any in-flight requests intact (SIGTERM semantics).
func (m *Manager) Stop() {
	m.flagsMu.Lock()
	m.doStop = true
	m.flagsMu.Unlock()
	// Wake unconditionally: the flag may be set between the loop's stop
	// check and its sleep, and the self-pipe byte persists either way.
	m.t.Wake()
}

// Terminate requests a graceful drain: Handler returns only once the
// request table is empty and the transceiver is idle (SIGUSR1 semantics).
func (m *Manager) Terminate() {
	m.flagsMu.Lock()
	m.doTerminate = true
	m.flagsMu.Unlock()
	m.t.Wake()
}

func (m *Manager) requestsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests) == 0
}

// Handler runs the manager's single worker-thread loop until Stop is
// called, or Terminate is called and the request table drains. It
// deregisters the manager from the signal routing table before returning.
func (m *Manager) Handler() {
	defer deregisterManager(m)

	for {
		if m.consumeStop() {
			return
		}

		idle, err := m.step()
		if err != nil {
			m.log.WithError(err).Error("fastcgi: transceiver error, stopping")
			return
		}

		if m.terminating() && idle && m.requestsEmpty() {
			return
		}

		if !idle {
			continue
		}

		// The asleep flag must be raised before the final queue check:
		// a concurrent Push/Callback either sees it set (and wakes the
		// transceiver) or enqueued its task before the check below.
		m.setAsleep(true)
		m.tasksMu.Lock()
		pending := len(m.tasks) > 0
		m.tasksMu.Unlock()
		if pending {
			m.setAsleep(false)
			continue
		}
		m.t.Sleep()
		m.setAsleep(false)
	}
}

// step runs one transceiver iteration and, if a task was already queued,
// services it. It returns the transceiver's idle verdict. Split out of
// Handler's loop so tests can drive the manager deterministically without
// the blocking Sleep call.
func (m *Manager) step() (idle bool, err error) {
	idle, err = m.t.Handler()
	if err != nil {
		return idle, err
	}

	id, ok := m.popTask()
	if !ok {
		return idle, nil
	}

	if id.IsManagement() {
		m.handleManagement(id.FD)
		return idle, nil
	}

	m.mu.RLock()
	req, ok := m.requests[id.packed()]
	m.mu.RUnlock()
	if !ok {
		return idle, nil
	}

	if req.Handler() {
		req.Close()
		m.mu.Lock()
		delete(m.requests, id.packed())
		m.mu.Unlock()
	}
	return idle, nil
}

func (m *Manager) handleManagement(fd int) {
	msg, ok := m.popMgmt()
	if !ok {
		return
	}
	h, err := UnmarshalHeader(msg.payload)
	if err != nil {
		m.log.WithError(err).Warn("fastcgi: malformed management record")
		return
	}
	content := msg.payload[headerLen : headerLen+int(h.ContentLength)]

	switch h.Type {
	case TypeGetValues:
		var pairs [][2]string
		buf := content
		for len(buf) > 0 {
			consumed, name, _, ok, err := ProcessParamRecord(buf)
			if err != nil || !ok {
				break
			}
			buf = buf[consumed:]
			if v, known := wellKnownValues[name]; known {
				pairs = append(pairs, [2]string{name, v})
			}
		}
		emitRecord(m.t, TypeGetValuesResult, FullID{FD: fd}, EncodeNameValuePairs(pairs), false)
	default:
		var body UnknownTypeBody
		body.Type = h.Type
		bb, _ := body.MarshalBinary()
		emitRecord(m.t, TypeUnknownType, FullID{FD: fd}, bb, false)
	}
}

// --- process-global signal routing ---

var (
	registryMu sync.RWMutex
	registry   = map[int][]*Manager{}
	signalOnce sync.Once
)

func registerManager(m *Manager) {
	registryMu.Lock()
	registry[m.pid] = append(registry[m.pid], m)
	registryMu.Unlock()
	startSignalRouting()
}

func deregisterManager(m *Manager) {
	registryMu.Lock()
	defer registryMu.Unlock()
	list := registry[m.pid]
	for i, x := range list {
		if x == m {
			registry[m.pid] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// startSignalRouting arms the process-wide SIGTERM/SIGUSR1/SIGPIPE
// handling exactly once: SIGTERM stops, SIGUSR1 requests a
// graceful terminate, SIGPIPE is swallowed (writes already observe EPIPE
// locally in Transceiver.transmit).
func startSignalRouting() {
	signalOnce.Do(func() {
		ch := make(chan os.Signal, 8)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGPIPE)
		go func() {
			for sig := range ch {
				switch sig {
				case syscall.SIGTERM:
					routeSignal(func(m *Manager) { m.Stop() })
				case syscall.SIGUSR1:
					routeSignal(func(m *Manager) { m.Terminate() })
				case syscall.SIGPIPE:
					// ignored
				}
			}
		}()
	})
}

func routeSignal(apply func(*Manager)) {
	registryMu.RLock()
	list := append([]*Manager(nil), registry[os.Getpid()]...)
	registryMu.RUnlock()
	for _, m := range list {
		apply(m)
	}
}
