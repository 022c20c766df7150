// Package cpu is the parallel host backend: work-items are spread over one
// goroutine per logical CPU.
package cpu

import (
	"fmt"
	"strconv"
	"sync"

	"equihasher/internal/workpool"
	"equihasher/pkg/hashing/core"
	"equihasher/pkg/hashing/hardware"
)

// PlatformID is the registry key of the cpu backend.
const PlatformID uint32 = 0

// CPUMethod implements core.Backend over the host's cores
type CPUMethod struct {
	mutex   sync.RWMutex
	caps    *core.Capabilities
	devices []*core.DeviceInfo
}

// NewCPUMethod creates a new cpu backend
func NewCPUMethod() *CPUMethod {
	return &CPUMethod{}
}

// Name returns the registry name of the backend
func (m *CPUMethod) Name() string {
	return "cpu"
}

// IsAvailable returns true when the host exposes at least one core
func (m *CPUMethod) IsAvailable() bool {
	return workpool.GOMAXPROCS > 0
}

// Devices returns the host as device 0. The probe runs once; memory
// figures are refreshed on every call.
func (m *CPUMethod) Devices() ([]*core.DeviceInfo, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.devices == nil {
		host := hardware.DetectHost()
		host.ID = 0
		host.Metadata["gomaxprocs"] = strconv.Itoa(workpool.GOMAXPROCS)
		m.devices = []*core.DeviceInfo{host}
	} else if avail, err := hardware.AvailableMemory(); err == nil {
		m.devices[0].AvailableMemory = avail
	}

	return m.devices, nil
}

// NewDispatcher returns a pool of opts.Workers workers, or one per usable
// CPU when unset
func (m *CPUMethod) NewDispatcher(deviceID uint32, opts core.DispatchOptions) (core.Dispatcher, error) {
	if deviceID != 0 {
		return nil, fmt.Errorf("cpu backend has no device %d", deviceID)
	}
	return workpool.NewPool(opts.Workers), nil
}

// GetCapabilities returns the capabilities and performance characteristics
func (m *CPUMethod) GetCapabilities() *core.Capabilities {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.caps == nil {
		m.caps = &core.Capabilities{
			Name:       "cpu",
			PlatformID: PlatformID,
			Parallel:   true,
			Workers:    workpool.GOMAXPROCS,
			// results are sorted, but drops depend on scheduling
			Deterministic: false,
		}
	}

	return m.caps
}
