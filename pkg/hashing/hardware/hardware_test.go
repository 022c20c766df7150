package hardware

import (
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equihasher/internal/workpool"
	"equihasher/pkg/hashing/collide"
	"equihasher/pkg/hashing/core"
)

func stubProbes(t *testing.T, avail uint64, memErr error) {
	t.Helper()
	oldCounts, oldInfo, oldMem := cpuCounts, cpuInfo, virtualMemory
	t.Cleanup(func() {
		cpuCounts, cpuInfo, virtualMemory = oldCounts, oldInfo, oldMem
	})

	cpuCounts = func(logical bool) (int, error) {
		if logical {
			return 8, nil
		}
		return 4, nil
	}
	cpuInfo = func() ([]cpu.InfoStat, error) {
		return []cpu.InfoStat{{ModelName: " Test CPU 9000 ", VendorID: "TestVendor"}}, nil
	}
	virtualMemory = func() (*mem.VirtualMemoryStat, error) {
		if memErr != nil {
			return nil, memErr
		}
		return &mem.VirtualMemoryStat{Total: 2 * avail, Available: avail}, nil
	}
}

type fakeBackend struct {
	available bool
	devices   []*core.DeviceInfo
	devErr    error
	shutdowns int
}

func (f *fakeBackend) Name() string      { return "fake" }
func (f *fakeBackend) IsAvailable() bool { return f.available }

func (f *fakeBackend) Devices() ([]*core.DeviceInfo, error) {
	return f.devices, f.devErr
}

func (f *fakeBackend) NewDispatcher(deviceID uint32, opts core.DispatchOptions) (core.Dispatcher, error) {
	return &countingPool{Pool: workpool.NewPool(max(opts.Workers, 1)), owner: f}, nil
}

func (f *fakeBackend) GetCapabilities() *core.Capabilities {
	c := &core.Capabilities{Name: "fake", PlatformID: 7}
	if !f.available {
		c.Reason = "switched off"
	}
	return c
}

type countingPool struct {
	*workpool.Pool
	owner *fakeBackend
}

func (p *countingPool) Shutdown() error {
	p.owner.shutdowns++
	return p.Pool.Shutdown()
}

func hostDevice(avail uint64) []*core.DeviceInfo {
	return []*core.DeviceInfo{{ID: 0, Name: "host", ComputeUnits: 2, AvailableMemory: avail}}
}

func TestDetectHost(t *testing.T) {
	stubProbes(t, 1<<30, nil)

	info := DetectHost()
	assert.Equal(t, "Test CPU 9000", info.Name)
	assert.Equal(t, 8, info.ComputeUnits)
	assert.Equal(t, 4, info.PhysicalCores)
	assert.Equal(t, uint64(1<<30), info.AvailableMemory)
	assert.Equal(t, uint64(2<<30), info.TotalMemory)
	assert.Equal(t, "TestVendor", info.Metadata["vendor"])

	avail, err := AvailableMemory()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<30), avail)
}

func TestDetectHostDegrades(t *testing.T) {
	stubProbes(t, 0, errors.New("no /proc"))

	info := DetectHost()
	assert.Zero(t, info.AvailableMemory)
	assert.Equal(t, "no /proc", info.Metadata["memory_error"])

	_, err := AvailableMemory()
	assert.Error(t, err)
}

func TestDeviceDetector(t *testing.T) {
	d := NewDeviceDetector()
	methods := d.DetectAvailableMethods(
		&fakeBackend{available: true, devices: hostDevice(1 << 30)},
	)
	assert.Equal(t, map[string]bool{"fake": true}, methods)
	assert.Len(t, d.GetDevices("fake"), 1)
	assert.Equal(t, uint32(7), d.GetCapabilities("fake").PlatformID)
	assert.Equal(t, "Unknown method", d.GetCapabilities("nope").Reason)

	summary := d.GetDetectionSummary()
	assert.Contains(t, summary, "fake")
	assert.Contains(t, summary, "AVAILABLE")
	assert.Contains(t, summary, "Available: 1")

	d = NewDeviceDetector()
	d.DetectAvailableMethods(&fakeBackend{available: true, devErr: errors.New("bus error")})
	assert.NotNil(t, d.GetAllCapabilities()["fake"])
	assert.Equal(t, "bus error", d.GetCapabilities("fake").Reason)
	assert.Contains(t, d.GetDetectionSummary(), "UNAVAILABLE")
}

func TestOpenAndClose(t *testing.T) {
	b := &fakeBackend{available: true, devices: hostDevice(1 << 30)}
	p := core.Params{N: 48, K: 5}

	ctx, err := Open(b, 0, p, Options{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, ctx.Workers())
	assert.Equal(t, p, ctx.Params())
	assert.Equal(t, "host", ctx.Info().Name)
	ws := ctx.workspace
	require.NotNil(t, ws)
	assert.False(t, ws.Released())

	builder, err := ctx.Builder()
	require.NoError(t, err)
	assert.NotNil(t, builder)

	require.NoError(t, ctx.Close())
	assert.True(t, ctx.Closed())
	assert.True(t, ws.Released())
	assert.Equal(t, 1, b.shutdowns)

	// second close is a no-op
	require.NoError(t, ctx.Close())
	assert.Equal(t, 1, b.shutdowns)

	_, err = ctx.Builder()
	assert.ErrorIs(t, err, core.ErrAlreadyClosed)
}

func TestOpenFailures(t *testing.T) {
	p := core.Params{N: 48, K: 5}

	tests := []struct {
		name    string
		backend core.Backend
		device  uint32
		params  core.Params
		opts    Options
	}{
		{"nil backend", nil, 0, p, Options{}},
		{"unavailable", &fakeBackend{devices: hostDevice(1 << 30)}, 0, p, Options{}},
		{"enumerate error", &fakeBackend{available: true, devErr: errors.New("bus")}, 0, p, Options{}},
		{"unknown device", &fakeBackend{available: true, devices: hostDevice(1 << 30)}, 3, p, Options{}},
		{"invalid params", &fakeBackend{available: true, devices: hostDevice(1 << 30)}, 0, core.Params{N: 200, K: 8}, Options{}},
		{"over budget", &fakeBackend{available: true, devices: hostDevice(1 << 30)}, 0, p, Options{MemoryBudget: 1024}},
		{"device memory", &fakeBackend{available: true, devices: hostDevice(4096)}, 0, p, Options{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.backend, tt.device, tt.params, tt.opts)
			assert.ErrorIs(t, err, core.ErrDeviceInit)
		})
	}
}

func TestOpenReleasesDispatcherOnBudgetFailure(t *testing.T) {
	b := &fakeBackend{available: true, devices: hostDevice(1 << 30)}
	_, err := Open(b, 0, core.Params{N: 48, K: 5}, Options{MemoryBudget: 1})
	require.Error(t, err)
	assert.Equal(t, 1, b.shutdowns)

	var serr *core.SolverError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, uint64(1), serr.Context["budget_bytes"])
	assert.Equal(t, collide.EstimateSize(core.Params{N: 48, K: 5}, collide.Config{}, 1), serr.Context["workspace_bytes"])
}
