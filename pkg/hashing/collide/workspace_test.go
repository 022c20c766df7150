package collide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equihasher/pkg/hashing/core"
)

func TestReferenceLayout(t *testing.T) {
	l := computeLayout(core.Reference, DefaultConfig())
	assert.Equal(t, 1<<20, l.rows)
	assert.Equal(t, 16, l.slots)
	assert.Equal(t, 1<<21, l.leaves)
	assert.Equal(t, int(float64(1<<21)*1.5)+entrySlack, l.capacity)

	// c = 24 overflows the row index into wider buckets
	l = computeLayout(core.Params{N: 144, K: 5}, DefaultConfig())
	assert.Equal(t, 1<<20, l.rows)
	assert.Equal(t, 32*8, l.slots)
}

func TestWorkspaceLayout(t *testing.T) {
	p := core.Params{N: 96, K: 5}
	ws, err := NewWorkspace(p, Config{}, 4)
	require.NoError(t, err)
	defer ws.Release()

	rows, slots := ws.Buckets()
	assert.Equal(t, 1<<16, rows)
	assert.Equal(t, 16, slots)
	assert.Equal(t, int(float64(1<<17)*1.5)+entrySlack, ws.Capacity())
	assert.Equal(t, DefaultConfig(), ws.Config())
	assert.Equal(t, 4, ws.Workers())
	assert.Equal(t, p, ws.Params())
	assert.Equal(t, EstimateSize(p, Config{}, 4), ws.Size())
}

func TestWorkspaceSmallBuckets(t *testing.T) {
	// c = 8 fits entirely in the bucket index
	ws, err := NewWorkspace(core.Params{N: 48, K: 5}, Config{RowsLog: 20, SlotOverhead: 4}, 1)
	require.NoError(t, err)

	rows, slots := ws.Buckets()
	assert.Equal(t, 256, rows)
	assert.Equal(t, 8, slots)
	assert.Len(t, ws.refs, 5)
	assert.Nil(t, ws.refs[0])
}

func TestWorkspaceSizeGrowsWithWorkers(t *testing.T) {
	p := core.Params{N: 96, K: 5}
	assert.Greater(t, EstimateSize(p, Config{}, 8), EstimateSize(p, Config{}, 1))
	assert.Greater(t, EstimateSize(core.Reference, Config{}, 1), uint64(300<<20))
}

func TestWorkspaceRelease(t *testing.T) {
	ws, err := NewWorkspace(core.Params{N: 48, K: 5}, Config{}, 1)
	require.NoError(t, err)

	assert.False(t, ws.Released())
	ws.Release()
	assert.True(t, ws.Released())
	ws.Release()
	assert.Nil(t, ws.bucketSlots)
}

func TestNewWorkspaceErrors(t *testing.T) {
	_, err := NewWorkspace(core.Params{N: 200, K: 8}, Config{}, 1)
	assert.ErrorIs(t, err, core.ErrInvalidParams)

	_, err = NewWorkspace(core.Reference, Config{}, 0)
	assert.Error(t, err)
}
