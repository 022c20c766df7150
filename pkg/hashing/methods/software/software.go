// Package software is the reference backend: one worker, inline dispatch,
// always available.
package software

import (
	"fmt"
	"sync"

	"equihasher/internal/workpool"
	"equihasher/pkg/hashing/core"
	"equihasher/pkg/hashing/hardware"
)

// PlatformID is the registry key of the software backend.
const PlatformID uint32 = 1

// SoftwareMethod implements core.Backend with a single-worker dispatcher
type SoftwareMethod struct {
	mutex sync.RWMutex
	caps  *core.Capabilities
	open  int
}

// NewSoftwareMethod creates a new software backend
func NewSoftwareMethod() *SoftwareMethod {
	return &SoftwareMethod{}
}

// Name returns the registry name of the backend
func (m *SoftwareMethod) Name() string {
	return "software"
}

// IsAvailable returns true; the software backend runs anywhere
func (m *SoftwareMethod) IsAvailable() bool {
	return true
}

// Devices returns the host as device 0
func (m *SoftwareMethod) Devices() ([]*core.DeviceInfo, error) {
	host := hardware.DetectHost()
	host.ID = 0
	host.Name = "software reference (" + host.Name + ")"
	host.ComputeUnits = 1
	return []*core.DeviceInfo{host}, nil
}

// NewDispatcher returns an inline dispatcher; opts.Workers is ignored
func (m *SoftwareMethod) NewDispatcher(deviceID uint32, _ core.DispatchOptions) (core.Dispatcher, error) {
	if deviceID != 0 {
		return nil, fmt.Errorf("software backend has no device %d", deviceID)
	}

	m.mutex.Lock()
	m.open++
	m.mutex.Unlock()

	return &dispatcher{pool: workpool.NewPool(1), method: m}, nil
}

// OpenDispatchers returns how many dispatchers have not been shut down
func (m *SoftwareMethod) OpenDispatchers() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.open
}

// GetCapabilities returns the capabilities and performance characteristics
func (m *SoftwareMethod) GetCapabilities() *core.Capabilities {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.caps == nil {
		m.caps = &core.Capabilities{
			Name:          "software",
			PlatformID:    PlatformID,
			Parallel:      false,
			Workers:       1,
			Deterministic: true,
		}
	}

	return m.caps
}

type dispatcher struct {
	pool   *workpool.Pool
	method *SoftwareMethod
	once   sync.Once
}

func (d *dispatcher) Workers() int {
	return 1
}

func (d *dispatcher) Dispatch(workSize uint64, do func(workIndex uint64, worker int) error) error {
	return d.pool.Dispatch(workSize, do)
}

func (d *dispatcher) Shutdown() error {
	d.once.Do(func() {
		d.method.mutex.Lock()
		d.method.open--
		d.method.mutex.Unlock()
	})
	return d.pool.Shutdown()
}
