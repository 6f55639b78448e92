package service

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errNoConfig = fmt.Errorf("no config has been provided")

// InitMethod is the name of the reflection-resolved lifecycle method every
// registered service may optionally implement.
const InitMethod = "Init"

// Service can serve. Services can provide an Init method which must return
// a (bool, error) signature and may accept the container, the configured
// logger, or any other already-initialized service as arguments.
type Service interface {
	// Serve serves. For ManagerService this blocks running the
	// manager's event loop until Stop is called.
	Serve() error

	// Stop stops the service.
	Stop()
}

// Container drives the FastCGI runtime's plugin set: the manager service
// that owns the transceiver/manager pair plus whatever companion services
// (config introspection, admin endpoints) an embedding application
// registers alongside it.
type Container interface {
	// Register adds a new service to the container under the given name.
	Register(name string, service interface{})

	// Init configures every registered service against cfg.
	Init(cfg Config) error

	// Has reports whether service has been registered.
	Has(service string) bool

	// Get returns the service instance by its name, or nil if not found,
	// along with its current status.
	Get(service string) (svc interface{}, status int)

	// Serve runs every configured, servable service.
	Serve() error

	// Stop stops all active services.
	Stop()

	// List returns the registered service names.
	List() []string
}

// Config provides the ability to slice configuration sections and
// unmarshal configuration data into a struct.
type Config interface {
	// Get returns a nested config section (sub-map), or nil if not found.
	Get(service string) Config

	// Unmarshal unmarshals config data into out.
	Unmarshal(out interface{}) error
}

// serviceResult is what a running service reports back to the container
// once its Serve call returns: err is nil on a clean stop, non-nil on a
// service-originated failure.
type serviceResult struct {
	name string
	err  error
}

type container struct {
	mu       sync.Mutex
	log      logrus.FieldLogger
	services []*service

	results chan serviceResult
}

// NewContainer constructs an empty container logging through log.
func NewContainer(log logrus.FieldLogger) Container {
	return &container{
		log:      log,
		services: make([]*service, 0),
		results:  make(chan serviceResult, 1),
	}
}

func (c *container) Register(name string, serviceItem interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services = append(c.services, &service{
		name:   name,
		svc:    serviceItem,
		status: StatusInactive,
	})
}

func (c *container) Has(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.services {
		if e.name == target {
			return true
		}
	}

	return false
}

func (c *container) Get(target string) (svc interface{}, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.services {
		if e.name == target {
			return e.svc, e.getStatus()
		}
	}

	return nil, StatusUndefined
}

func (c *container) Init(cfg Config) error {
	for _, e := range c.services {
		if e.getStatus() >= StatusOK {
			return fmt.Errorf("service [%s] has already been configured", e.name)
		}

		// inject service dependencies
		if ok, err := c.initService(e.svc, cfg.Get(e.name)); err != nil {
			// soft error (skipping)
			if err == errNoConfig {
				c.log.Debugf("[%s]: disabled", e.name)
				continue
			}

			return errors.Wrap(err, fmt.Sprintf("[%s]", e.name))
		} else if ok {
			e.setStatus(StatusOK)
		} else {
			c.log.Debugf("[%s]: disabled", e.name)
		}
	}

	return nil
}

func (c *container) Serve() error {
	var running = 0

	for _, e := range c.services {
		if e.hasStatus(StatusOK) && e.canServe() {
			running++
			c.log.Debugf("[%s]: started", e.name)
			go func(e *service) {
				e.setStatus(StatusServing)
				defer e.setStatus(StatusStopped)

				c.results <- serviceResult{name: e.name, err: e.svc.(Service).Serve()}
			}(e)
		}
	}

	if running == 0 {
		return nil
	}

	for result := range c.results {
		if result.err == nil {
			// the manager (or whichever service reported first) stopped
			// cleanly; return without stopping the rest.
			break
		}

		c.log.Errorf("[%s]: %s", result.name, result.err)
		c.Stop()

		return errors.Wrap(result.err, fmt.Sprintf("[%s]", result.name))
	}

	return nil
}

func (c *container) Stop() {
	for _, e := range c.services {
		if e.hasStatus(StatusServing) {
			e.setStatus(StatusStopping)
			e.svc.(Service).Stop()
			e.setStatus(StatusStopped)

			c.log.Debugf("[%s]: stopped", e.name)
		}
	}
}

func (c *container) List() []string {
	names := make([]string, 0, len(c.services))
	for _, e := range c.services {
		names = append(names, e.name)
	}

	return names
}

func (c *container) initService(s interface{}, segment Config) (bool, error) {
	r := reflect.TypeOf(s)

	m, ok := r.MethodByName(InitMethod)
	if !ok {
		return true, nil
	}

	if err := c.verifySignature(m); err != nil {
		return false, err
	}

	values, err := c.resolveValues(s, m, segment)
	if err != nil {
		return false, err
	}

	out := m.Func.Call(values)

	if out[1].IsNil() {
		return out[0].Bool(), nil
	}

	return out[0].Bool(), out[1].Interface().(error)
}

func (c *container) resolveValues(s interface{}, m reflect.Method, cfg Config) (values []reflect.Value, err error) {
	for i := 0; i < m.Type.NumIn(); i++ {
		v := m.Type.In(i)

		switch {
		case v.ConvertibleTo(reflect.ValueOf(s).Type()): // service itself
			values = append(values, reflect.ValueOf(s))

		case v.Implements(reflect.TypeOf((*Container)(nil)).Elem()): // container
			values = append(values, reflect.ValueOf(c))

		case v.Implements(reflect.TypeOf((*logrus.StdLogger)(nil)).Elem()),
			v.Implements(reflect.TypeOf((*logrus.FieldLogger)(nil)).Elem()),
			v.ConvertibleTo(reflect.ValueOf(c.log).Type()): // logger
			values = append(values, reflect.ValueOf(c.log))

		case v.Implements(reflect.TypeOf((*Config)(nil)).Elem()): // config section
			if cfg == nil {
				return nil, errNoConfig
			}
			values = append(values, reflect.ValueOf(cfg))

		default: // dependency on another service (resolves to nil if not found)
			value, err := c.resolveValue(v)
			if err != nil {
				return nil, err
			}

			values = append(values, value)
		}
	}

	return
}

func (c *container) verifySignature(m reflect.Method) error {
	if m.Type.NumOut() != 2 {
		return fmt.Errorf("method Init must have exactly 2 return values")
	}

	if m.Type.Out(0).Kind() != reflect.Bool {
		return fmt.Errorf("first return value of Init method must be bool type")
	}

	if !m.Type.Out(1).Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		return fmt.Errorf("second return value of Init method must be error type")
	}

	return nil
}

func (c *container) resolveValue(v reflect.Type) (reflect.Value, error) {
	value := reflect.Value{}
	for _, e := range c.services {
		if !e.hasStatus(StatusOK) {
			continue
		}

		if v.Kind() == reflect.Interface && reflect.TypeOf(e.svc).Implements(v) {
			if value.IsValid() {
				return value, fmt.Errorf("ambiguous dependency `%s`", v)
			}

			value = reflect.ValueOf(e.svc)
		}

		if v.ConvertibleTo(reflect.ValueOf(e.svc).Type()) {
			if value.IsValid() {
				return value, fmt.Errorf("ambiguous dependency `%s`", v)
			}

			value = reflect.ValueOf(e.svc)
		}
	}

	if !value.IsValid() {
		// the caller's Init method is responsible for checking validity
		// before using an unresolved optional dependency.
		value = reflect.New(v).Elem()
	}

	return value, nil
}
