package service

import (
	"sync"
)

// Lifecycle statuses a registered service moves through: Inactive (just
// registered) -> OK (configured) -> Serving -> Stopping -> Stopped. A
// service that is never configured (no config section, per errNoConfig)
// simply stays Inactive; the ManagerService goes OK -> Serving for
// as long as its Manager's event loop runs.
const (
	// StatusUndefined is reported by Container.Get for an unregistered name.
	StatusUndefined = iota

	// StatusInactive is set when a service has been registered but not yet
	// (or not successfully) initialized.
	StatusInactive

	// StatusOK is set once a service's Init has run and returned true.
	StatusOK

	// StatusServing is set for the duration of a service's Serve call.
	StatusServing

	// StatusStopping is set while Container.Stop is calling Stop on a
	// currently-serving service.
	StatusStopping

	// StatusStopped is set once a service's Serve call has returned.
	StatusStopped
)

// service is a container-held entry pairing a registered name with the
// caller-supplied service value and its lifecycle status.
type service struct {
	name   string
	svc    interface{}
	mu     sync.Mutex
	status int
}

func (e *service) getStatus() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

func (e *service) setStatus(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
}

func (e *service) hasStatus(status int) bool {
	return e.getStatus() == status
}

// canServe reports whether the registered value implements Service (a
// plain configuration holder may be registered without one).
func (e *service) canServe() bool {
	_, ok := e.svc.(Service)

	return ok
}
