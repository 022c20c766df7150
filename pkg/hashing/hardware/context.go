package hardware

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"equihasher/pkg/hashing/collide"
	"equihasher/pkg/hashing/core"
)

// Options configures a device context.
type Options struct {
	// Workers overrides the backend's default parallelism when positive
	Workers int

	// Collide tunes the workspace tables
	Collide collide.Config

	// MemoryBudget caps the workspace size in bytes; zero uses the
	// device's available memory
	MemoryBudget uint64

	Logger *logrus.Entry
}

// Context owns one device: its dispatcher and every buffer a search needs.
// Everything is reserved in Open; later stages borrow from it.
type Context struct {
	mu sync.Mutex

	backend    core.Backend
	info       *core.DeviceInfo
	params     core.Params
	dispatcher core.Dispatcher
	workspace  *collide.Workspace
	log        *logrus.Entry

	closed bool
}

// Open binds deviceID of backend and reserves the workspace for params.
// Every failure is an ErrDeviceInit.
func Open(b core.Backend, deviceID uint32, p core.Params, opts Options) (*Context, error) {
	if b == nil {
		return nil, core.NewError(core.ErrorDeviceInit, nil, "no backend")
	}

	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"backend": b.Name(), "device": deviceID})

	if err := p.Validate(); err != nil {
		return nil, core.NewError(core.ErrorDeviceInit, err, "open %s device %d", b.Name(), deviceID)
	}
	if !b.IsAvailable() {
		reason := b.GetCapabilities().Reason
		return nil, core.NewError(core.ErrorDeviceInit, errors.New(reason), "backend %s unavailable", b.Name())
	}

	devices, err := b.Devices()
	if err != nil {
		return nil, core.NewError(core.ErrorDeviceInit, err, "enumerate %s devices", b.Name())
	}
	if int(deviceID) >= len(devices) {
		return nil, core.NewError(core.ErrorDeviceInit, nil,
			"%s has no device %d (%d found)", b.Name(), deviceID, len(devices)).
			WithContext("device_id", deviceID)
	}
	info := devices[deviceID]

	dispatcher, err := b.NewDispatcher(deviceID, core.DispatchOptions{Workers: opts.Workers})
	if err != nil {
		return nil, core.NewError(core.ErrorDeviceInit, err, "reserve %s device %d", b.Name(), deviceID)
	}

	size := collide.EstimateSize(p, opts.Collide, dispatcher.Workers())
	budget := opts.MemoryBudget
	if budget == 0 {
		budget = info.AvailableMemory
	}
	if budget > 0 && size > budget {
		_ = dispatcher.Shutdown()
		return nil, core.NewError(core.ErrorDeviceInit, nil,
			"workspace needs %d MiB, device has %d MiB", size>>20, budget>>20).
			WithContext("workspace_bytes", size).
			WithContext("budget_bytes", budget)
	}

	ws, err := collide.NewWorkspace(p, opts.Collide, dispatcher.Workers())
	if err != nil {
		_ = dispatcher.Shutdown()
		return nil, core.NewError(core.ErrorDeviceInit, err, "allocate workspace")
	}

	log.WithFields(logrus.Fields{
		"params":          p.String(),
		"workers":         dispatcher.Workers(),
		"workspace_bytes": size,
	}).Info("device context opened")

	return &Context{
		backend:    b,
		info:       info,
		params:     p,
		dispatcher: dispatcher,
		workspace:  ws,
		log:        log,
	}, nil
}

// Info describes the bound device.
func (c *Context) Info() *core.DeviceInfo {
	return c.info
}

// Params returns the parameters the workspace was sized for.
func (c *Context) Params() core.Params {
	return c.params
}

// Workers is the dispatcher's parallelism.
func (c *Context) Workers() int {
	return c.dispatcher.Workers()
}

// Builder returns a collision-tree builder bound to this device.
func (c *Context) Builder() (*collide.Builder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, core.ErrAlreadyClosed
	}

	b, err := collide.NewBuilder(c.workspace, c.dispatcher)
	if err != nil {
		return nil, err
	}
	return b.WithLogger(c.log), nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the workspace and the device. Later calls do nothing.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.workspace.Release()
	err := c.dispatcher.Shutdown()
	c.log.Info("device context closed")
	if err != nil {
		return core.NewError(core.ErrorDeviceInit, err, "shutdown %s device %d", c.backend.Name(), c.info.ID)
	}
	return nil
}
