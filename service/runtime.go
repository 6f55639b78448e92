package service

import (
	"github.com/sirupsen/logrus"

	"fastfcgi/fastcgi"
)

// ManagerService adapts a fastcgi.Manager into a Service the container can
// drive alongside any other plugin: Init receives its logger through the
// container's reflection-based resolution and builds the transceiver and
// manager (it takes no other services), Serve runs the manager's event loop
// until Stop is called.
type ManagerService struct {
	listenFD int
	factory  fastcgi.Factory

	mgr *fastcgi.Manager
	log logrus.FieldLogger
}

// NewManagerService returns a Service wrapping a FastCGI manager that will
// listen on listenFD (already bound and listening by the parent server)
// and build a fresh request hook set per inbound request via factory.
func NewManagerService(listenFD int, factory fastcgi.Factory) *ManagerService {
	return &ManagerService{listenFD: listenFD, factory: factory}
}

// Init satisfies the container's reflection-based Init convention: the
// logger parameter is resolved automatically, matching every other plugin
// in this container.
func (s *ManagerService) Init(log logrus.FieldLogger) (bool, error) {
	s.log = log

	t, err := fastcgi.NewTransceiver(s.listenFD, nil)
	if err != nil {
		return false, err
	}
	mgr := fastcgi.NewManager(t, s.factory, log)
	t.SetPusher(mgr)
	s.mgr = mgr
	return true, nil
}

// Serve runs the manager's event loop. It blocks until Stop is called.
func (s *ManagerService) Serve() error {
	s.mgr.Handler()
	return nil
}

// Stop requests a clean shutdown of the manager's event loop.
func (s *ManagerService) Stop() {
	s.mgr.Stop()
}
