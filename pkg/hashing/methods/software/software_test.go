package software

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equihasher/pkg/hashing/core"
)

func TestSoftwareMethod(t *testing.T) {
	m := NewSoftwareMethod()
	assert.Equal(t, "software", m.Name())
	assert.True(t, m.IsAvailable())

	caps := m.GetCapabilities()
	assert.Equal(t, PlatformID, caps.PlatformID)
	assert.True(t, caps.Deterministic)
	assert.False(t, caps.Parallel)

	devs, err := m.Devices()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, 1, devs[0].ComputeUnits)
	assert.Contains(t, devs[0].Name, "software reference")
}

func TestSoftwareDispatcher(t *testing.T) {
	m := NewSoftwareMethod()

	_, err := m.NewDispatcher(1, core.DispatchOptions{})
	assert.Error(t, err)

	d, err := m.NewDispatcher(0, core.DispatchOptions{Workers: 8})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Workers())
	assert.Equal(t, 1, m.OpenDispatchers())

	var order []uint64
	require.NoError(t, d.Dispatch(5, func(workIndex uint64, worker int) error {
		assert.Zero(t, worker)
		order = append(order, workIndex)
		return nil
	}))
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, order)

	require.NoError(t, d.Shutdown())
	require.NoError(t, d.Shutdown())
	assert.Zero(t, m.OpenDispatchers())
	assert.Error(t, d.Dispatch(1, func(uint64, int) error { return nil }))
}
