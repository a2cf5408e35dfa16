package device

import (
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Opener creates the Device for a port. It is called at most once per port
// while the port is registered.
type Opener func(port string) (*Device, error)

// Registry hands out one Device per physical port, so logical sub-devices
// that share a port always share its lock.
type Registry struct {
	devices *xsync.MapOf[string, *Device]
	log     *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		devices: xsync.NewMapOf[string, *Device](),
		log:     log,
	}
}

// Open returns the registered Device for port, creating it with open if
// the port is not registered yet.
func (r *Registry) Open(port string, open Opener) (*Device, error) {
	var openErr error
	dev, loaded := r.devices.LoadOrTryCompute(port, func() (*Device, bool) {
		d, err := open(port)
		if err != nil {
			openErr = err
			return nil, true
		}
		return d, false
	})
	if openErr != nil {
		return nil, fmt.Errorf("open %s: %w", port, openErr)
	}

	if !loaded {
		r.log.Info("device opened", zap.String("port", port))
	}
	return dev, nil
}

// Get returns the Device registered for port.
func (r *Registry) Get(port string) (*Device, bool) {
	return r.devices.Load(port)
}

// Close closes and forgets the Device for port. Closing an unknown port is
// not an error.
func (r *Registry) Close(port string) error {
	dev, ok := r.devices.LoadAndDelete(port)
	if !ok {
		return nil
	}
	r.log.Info("device closed", zap.String("port", port))
	return dev.Close()
}

// CloseAll closes every registered Device.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, port := range r.Ports() {
		if err := r.Close(port); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", port, err))
		}
	}
	return errors.Join(errs...)
}

// Ports returns the registered port names in sorted order.
func (r *Registry) Ports() []string {
	ports := make([]string, 0, r.devices.Size())
	r.devices.Range(func(port string, _ *Device) bool {
		ports = append(ports, port)
		return true
	})
	sort.Strings(ports)
	return ports
}
