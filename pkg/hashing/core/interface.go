package core

// Backend defines the interface every compute platform driver implements.
// A backend enumerates its devices and hands out dispatchers bound to one of
// them; the device context owns the dispatcher afterwards.
type Backend interface {
	// Name returns the short registry name of the backend, e.g. "cpu"
	Name() string

	// IsAvailable returns true if the backend can open devices on this host
	IsAvailable() bool

	// Devices lists the devices the backend can bind to, indexed by device id
	Devices() ([]*DeviceInfo, error)

	// NewDispatcher reserves the device and returns a work-item dispatcher
	NewDispatcher(deviceID uint32, opts DispatchOptions) (Dispatcher, error)

	// GetCapabilities returns the capabilities and performance characteristics
	GetCapabilities() *Capabilities
}

// Dispatcher runs work-items on a device. Dispatch blocks until every item
// has completed or one returned an error.
type Dispatcher interface {
	// Workers is the number of work-items that may run at once
	Workers() int

	// Dispatch calls do for every workIndex in [0, workSize); worker is the
	// index of the executing worker in [0, Workers())
	Dispatch(workSize uint64, do func(workIndex uint64, worker int) error) error

	// Shutdown releases the device; the dispatcher is unusable afterwards
	Shutdown() error
}

// DispatchOptions tunes a dispatcher when it is created.
type DispatchOptions struct {
	// Workers overrides the backend's default parallelism when positive
	Workers int
}

// Capabilities describes the capabilities of a compute backend
type Capabilities struct {
	// Name of the backend
	Name string `json:"name"`

	// Platform id the backend is registered under
	PlatformID uint32 `json:"platform_id"`

	// Whether the backend runs work-items concurrently
	Parallel bool `json:"parallel"`

	// Default number of concurrent work-items
	Workers int `json:"workers"`

	// Whether results are independent of scheduling
	Deterministic bool `json:"deterministic"`

	// Reason for unavailability (if applicable)
	Reason string `json:"reason,omitempty"`
}

// DeviceInfo contains device-specific information
type DeviceInfo struct {
	// Device id within its platform
	ID uint32 `json:"id"`

	// Human readable model name
	Name string `json:"name"`

	// Number of compute units (logical cores for host devices)
	ComputeUnits int `json:"compute_units"`

	// Physical cores, when known
	PhysicalCores int `json:"physical_cores,omitempty"`

	// Total and currently available memory in bytes
	TotalMemory     uint64 `json:"total_memory"`
	AvailableMemory uint64 `json:"available_memory"`

	// Additional device metadata
	Metadata map[string]string `json:"metadata,omitempty"`
}
