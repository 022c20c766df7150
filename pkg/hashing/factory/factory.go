package factory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"equihasher/pkg/hashing/core"
	"equihasher/pkg/hashing/hardware"
	"equihasher/pkg/hashing/methods/cpu"
	"equihasher/pkg/hashing/methods/software"
)

// ErrUnknownPlatform is the cause wrapped when no backend has a platform id.
var ErrUnknownPlatform = errors.New("no backend registered for platform")

// BackendFactory maps platform ids to backends. Backends are registered
// once at startup and looked up when a device context is opened.
type BackendFactory struct {
	mu             sync.RWMutex
	backends       map[uint32]core.Backend
	preferredOrder []uint32
}

// NewBackendFactory returns an empty factory.
func NewBackendFactory() *BackendFactory {
	return &BackendFactory{
		backends: make(map[uint32]core.Backend),
	}
}

// NewDefaultFactory registers the built-in backends: cpu on platform 0 and
// software on platform 1.
func NewDefaultFactory() *BackendFactory {
	f := NewBackendFactory()
	_ = f.Register(cpu.PlatformID, cpu.NewCPUMethod())
	_ = f.Register(software.PlatformID, software.NewSoftwareMethod())
	return f
}

// Register binds b to platformID. A platform id can be bound once.
func (f *BackendFactory) Register(platformID uint32, b core.Backend) error {
	if b == nil {
		return fmt.Errorf("register platform %d: nil backend", platformID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.backends[platformID]; ok {
		return fmt.Errorf("platform %d already bound to %s", platformID, existing.Name())
	}
	f.backends[platformID] = b
	f.preferredOrder = append(f.preferredOrder, platformID)
	return nil
}

// Backend returns the backend registered for platformID.
func (f *BackendFactory) Backend(platformID uint32) (core.Backend, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	b, ok := f.backends[platformID]
	if !ok {
		return nil, core.NewError(core.ErrorDeviceInit, ErrUnknownPlatform, "open platform %d", platformID).
			WithContext("platform_id", platformID)
	}
	return b, nil
}

// Platforms returns the registered platform ids in ascending order.
func (f *BackendFactory) Platforms() []uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]uint32, 0, len(f.backends))
	for id := range f.backends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetPreferredOrder sets the order BestPlatform tries platforms in.
// Platforms left out keep registration order after the listed ones.
func (f *BackendFactory) SetPreferredOrder(order []uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[uint32]bool, len(order))
	next := make([]uint32, 0, len(f.backends))
	for _, id := range order {
		if _, ok := f.backends[id]; ok && !seen[id] {
			next = append(next, id)
			seen[id] = true
		}
	}
	for _, id := range f.preferredOrder {
		if !seen[id] {
			next = append(next, id)
			seen[id] = true
		}
	}
	f.preferredOrder = next
}

// BestPlatform returns the first available platform in preferred order.
func (f *BackendFactory) BestPlatform() (uint32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, id := range f.preferredOrder {
		if f.backends[id].IsAvailable() {
			return id, nil
		}
	}
	return 0, core.NewError(core.ErrorDeviceInit, nil, "no available backend")
}

// Open resolves platformID and opens a device context on deviceID.
func (f *BackendFactory) Open(platformID, deviceID uint32, p core.Params, opts hardware.Options) (*hardware.Context, error) {
	b, err := f.Backend(platformID)
	if err != nil {
		return nil, err
	}
	return hardware.Open(b, deviceID, p, opts)
}

// GetDetectionReport probes every backend and reports its status
func (f *BackendFactory) GetDetectionReport() *DetectionReport {
	f.mu.RLock()
	order := append([]uint32(nil), f.preferredOrder...)
	backends := make(map[uint32]core.Backend, len(f.backends))
	for id, b := range f.backends {
		backends[id] = b
	}
	f.mu.RUnlock()

	list := make([]core.Backend, 0, len(order))
	for _, id := range order {
		list = append(list, backends[id])
	}

	detector := hardware.NewDeviceDetector()
	detected := detector.DetectAvailableMethods(list...)

	report := &DetectionReport{
		Platforms:    make([]*PlatformStatus, 0, len(order)),
		BestPlatform: -1,
		Total:        len(order),
	}

	for priority, id := range order {
		b := backends[id]
		available := detected[b.Name()]

		report.Platforms = append(report.Platforms, &PlatformStatus{
			PlatformID:   id,
			Name:         b.Name(),
			Available:    available,
			Priority:     priority,
			Capabilities: detector.GetCapabilities(b.Name()),
			Devices:      detector.GetDevices(b.Name()),
			Description:  getMethodDescription(b.Name()),
		})

		if available {
			report.AvailableCount++
			if report.BestPlatform < 0 {
				report.BestPlatform = int64(id)
			}
		}
	}

	return report
}

// getMethodDescription returns a human-readable description for a backend
func getMethodDescription(name string) string {
	descriptions := map[string]string{
		"cpu":      "Parallel host backend, one worker per logical CPU",
		"software": "Single-worker reference backend, inline dispatch",
	}

	if desc, exists := descriptions[name]; exists {
		return desc
	}
	return "Unknown backend"
}

// DetectionReport contains the results of backend detection
type DetectionReport struct {
	Platforms      []*PlatformStatus `json:"platforms"`
	BestPlatform   int64             `json:"best_platform"`
	Total          int               `json:"total"`
	AvailableCount int               `json:"available_count"`
}

// PlatformStatus describes the status of a single backend
type PlatformStatus struct {
	PlatformID   uint32             `json:"platform_id"`
	Name         string             `json:"name"`
	Available    bool               `json:"available"`
	Priority     int                `json:"priority"`
	Capabilities *core.Capabilities `json:"capabilities"`
	Devices      []*core.DeviceInfo `json:"devices,omitempty"`
	Description  string             `json:"description"`
}
