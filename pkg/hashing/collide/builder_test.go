package collide

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equihasher/internal/workpool"
	"equihasher/pkg/hashing/bits"
	"equihasher/pkg/hashing/blake"
	"equihasher/pkg/hashing/core"
)

func testHeader(nonce uint32) []byte {
	h := make([]byte, core.HeaderLength)
	for i := 0; i < core.NonceOffset; i++ {
		h[i] = byte(i)
	}
	binary.LittleEndian.PutUint32(h[core.NonceOffset:], nonce)
	return h
}

func run(t *testing.T, p core.Params, cfg Config, workers int, input []byte) ([][]uint32, *Stats) {
	t.Helper()

	ws, err := NewWorkspace(p, cfg, workers)
	require.NoError(t, err)
	defer ws.Release()

	b, err := NewBuilder(ws, workpool.NewPool(workers))
	require.NoError(t, err)

	h, err := blake.NewIndexedHasher(p, input)
	require.NoError(t, err)

	sols, stats, err := b.Run(h)
	require.NoError(t, err)
	return sols, stats
}

func encodeAll(t *testing.T, p core.Params, sols [][]uint32) []string {
	t.Helper()
	out := make([]string, 0, len(sols))
	for _, s := range sols {
		enc, err := bits.EncodeSolution(p, s)
		require.NoError(t, err)
		out = append(out, hex.EncodeToString(enc))
	}
	return out
}

func TestBuilderZcashVector(t *testing.T) {
	p := core.Params{N: 96, K: 5}
	input := append([]byte("block header"), make([]byte, 32)...)

	sols, stats := run(t, p, Config{}, 4, input)
	require.False(t, stats.Dropped())

	assert.Equal(t, []string{
		"01e87ba770e9de1c04b26e6eb92f6561840c85f1c258f47f88f31eada2112cfadcc2022b5fba0788522d70638d209cbe108e792209fe6acd749d49f3dec3cfc35ef9cc86",
		"01f811da10f2ee05f079fe59ee7a5776bb71f073e7e12b7e0927d75dd5ae9307e0420fe1d6e716094e66a74fdcc71ae463cd8e31f0e81995981781d697cc1aba985ff2b3",
		"027f691d2750ff2e726827f6228e51dbd21df4e7d06f559c92c5b9be2bee82edcfb50999c52a93ef5380b4a075d17315c9b67e1e5843262171beac884126a04a13876cf6",
		"07c46a5127455acae412536a6a15e538f0340c1b599f94ffe95506f7bd6db9e7f81007d6ce795295f64693c1846922f875e6270af3a409610b1555122d8c16a65a3f4d2b",
		"0ba915599105b90751724e61cecbc9b03d0ee1b2e10a555b781926a4db0738adf1182ac8ee0827f1767b65557df9de083796b738acbc2b6fb359f695ca260271a32fa9ca",
	}, encodeAll(t, p, sols))

	assert.Equal(t, uint32(976), sols[0][0])
	assert.Len(t, stats.Rounds, int(p.K)+1)
}

func TestBuilderSmallParams(t *testing.T) {
	p := core.Params{N: 48, K: 5}

	tests := []struct {
		nonce uint32
		want  []string
	}{
		{0, []string{"10b2693a82b7d0c2a63de461fd643639893328a5dd3465d715b12b3353dd4ff644467fb6"}},
		{1, []string{}},
		{2, []string{"03e885b5137eba73cd164f93b6b32c16076d102819b28abe1abf8c114888af35a4464b56"}},
		{3, []string{
			"0bf9830562cfe613de29a51b9c02a6b293bc1452caf9a40c3b1fda374dd83f15caf6e9bb",
			"0cc41532d4926e79d5186709cdb1958dc1d90e1a5015b5cbc1aeea14c6261c051d4b2fa1",
		}},
	}

	for _, tt := range tests {
		sols, stats := run(t, p, Config{}, 2, testHeader(tt.nonce))
		require.False(t, stats.Dropped(), "nonce %d", tt.nonce)
		assert.Equal(t, tt.want, encodeAll(t, p, sols), "nonce %d", tt.nonce)
	}
}

func TestBuilderOrientation(t *testing.T) {
	p := core.Params{N: 48, K: 5}
	sols, _ := run(t, p, Config{}, 1, testHeader(0))
	require.Len(t, sols, 1)

	// at every level the left subtree starts below the right one
	s := sols[0]
	for size := 1; size < len(s); size *= 2 {
		for i := 0; i < len(s); i += 2 * size {
			assert.Less(t, s[i], s[i+size])
		}
	}
}

func TestBuilderWorkerCountIndependent(t *testing.T) {
	p := core.Params{N: 48, K: 5}
	for nonce := uint32(0); nonce < 6; nonce++ {
		serial, _ := run(t, p, Config{}, 1, testHeader(nonce))
		parallel, _ := run(t, p, Config{}, 8, testHeader(nonce))
		assert.Equal(t, serial, parallel, "nonce %d", nonce)
	}
}

func TestBuilderCountsDrops(t *testing.T) {
	p := core.Params{N: 48, K: 5}
	_, stats := run(t, p, Config{SlotOverhead: 1}, 2, testHeader(0))
	assert.True(t, stats.Dropped())

	var bucketDrops uint64
	for _, r := range stats.Rounds {
		bucketDrops += r.BucketDrops
	}
	assert.NotZero(t, bucketDrops)

	input := append([]byte("block header"), make([]byte, 32)...)
	sols, stats := run(t, core.Params{N: 96, K: 5}, Config{MaxCandidates: 1}, 2, input)
	assert.Equal(t, 1, stats.Candidates)
	assert.NotZero(t, stats.CandidateDrops)
	assert.LessOrEqual(t, len(sols), 1)
	assert.True(t, stats.Dropped())
}

func TestBuilderRejectsMismatch(t *testing.T) {
	ws, err := NewWorkspace(core.Params{N: 48, K: 5}, Config{}, 2)
	require.NoError(t, err)

	_, err = NewBuilder(ws, workpool.NewPool(3))
	assert.ErrorIs(t, err, core.ErrDeviceInit)

	b, err := NewBuilder(ws, workpool.NewPool(2))
	require.NoError(t, err)

	h, err := blake.NewIndexedHasher(core.Params{N: 96, K: 5}, testHeader(0))
	require.NoError(t, err)
	_, _, err = b.Run(h)
	assert.ErrorIs(t, err, core.ErrInvalidParams)

	ws.Release()
	h, err = blake.NewIndexedHasher(core.Params{N: 48, K: 5}, testHeader(0))
	require.NoError(t, err)
	_, _, err = b.Run(h)
	assert.ErrorIs(t, err, core.ErrAlreadyClosed)

	_, err = NewBuilder(ws, workpool.NewPool(1))
	assert.ErrorIs(t, err, core.ErrAlreadyClosed)
}
