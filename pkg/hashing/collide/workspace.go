package collide

import (
	"fmt"

	"equihasher/pkg/hashing/core"
)

// Config tunes the device-side tables. Every table is sized once from
// these values when the workspace is created.
type Config struct {
	// RowsLog caps the number of bucket index bits; buckets = 2^min(c, RowsLog)
	RowsLog int `json:"rows_log"`

	// SlotOverhead multiplies the expected bucket load to get slots per bucket
	SlotOverhead int `json:"slot_overhead"`

	// EntryCapacityFactor sizes each round's entry table relative to the
	// leaf count
	EntryCapacityFactor float64 `json:"entry_capacity_factor"`

	// MaxCandidates bounds the final-round collisions kept per search
	MaxCandidates int `json:"max_candidates"`
}

const (
	defaultRowsLog       = 20
	defaultSlotOverhead  = 8
	defaultEntryFactor   = 1.5
	defaultMaxCandidates = 256

	// entrySlack keeps small parameter sets, whose round sizes swing
	// widely, from overflowing
	entrySlack = 4096
)

// DefaultConfig returns the tuning used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		RowsLog:             defaultRowsLog,
		SlotOverhead:        defaultSlotOverhead,
		EntryCapacityFactor: defaultEntryFactor,
		MaxCandidates:       defaultMaxCandidates,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RowsLog <= 0 {
		c.RowsLog = d.RowsLog
	}
	if c.SlotOverhead <= 0 {
		c.SlotOverhead = d.SlotOverhead
	}
	if c.EntryCapacityFactor <= 0 {
		c.EntryCapacityFactor = d.EntryCapacityFactor
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	return c
}

// slotEntry is one bucket slot staged for sorting: the full collision
// segment and the entry it belongs to.
type slotEntry struct {
	key   uint32
	entry uint32
}

// Workspace holds every table the builder touches during a search.
// Round r entries live in hashes[r&1]/first[r&1]; refs[r] keeps, for every
// round r entry, the two round r-1 entries it was built from, so index paths
// are only materialized for final candidates.
type Workspace struct {
	params core.Params
	cfg    Config

	leaves   int
	capacity int
	rowBits  int
	rows     int
	slots    int
	workers  int

	hashes [2][]byte
	first  [2][]uint32
	refs   [][]uint32

	bucketCounts []uint32
	bucketSlots  []uint32

	scratch [][]slotEntry
	xorBuf  [][]byte

	candidates []uint32

	released bool
}

type layout struct {
	leaves, capacity, rowBits, rows, slots int
}

func computeLayout(p core.Params, cfg Config) layout {
	c := p.CollisionBitLength()
	rowBits := min(c, cfg.RowsLog)
	leaves := p.LeafCount()

	return layout{
		leaves:   leaves,
		capacity: max(int(float64(leaves)*cfg.EntryCapacityFactor), leaves) + entrySlack,
		rowBits:  rowBits,
		rows:     1 << rowBits,
		slots:    (1 << (c + 1 - rowBits)) * cfg.SlotOverhead,
	}
}

// EstimateSize returns the bytes NewWorkspace would reserve.
func EstimateSize(p core.Params, cfg Config, workers int) uint64 {
	cfg = cfg.withDefaults()
	l := computeLayout(p, cfg)
	workers = max(workers, 1)

	// entry tables, both halves of the ping-pong
	size := uint64(2 * l.capacity * p.HashLength())
	size += uint64(2*l.capacity) * 4
	size += uint64(p.K-1) * uint64(2*l.capacity) * 4

	// buckets
	size += uint64(l.rows) * 4
	size += uint64(l.rows*l.slots) * 4

	size += uint64(workers) * uint64(l.slots*8+p.HashLength())
	size += uint64(2*cfg.MaxCandidates) * 4
	return size
}

// NewWorkspace reserves all tables for params with room for workers
// concurrent work-items.
func NewWorkspace(p core.Params, cfg Config, workers int) (*Workspace, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		return nil, fmt.Errorf("workspace needs at least one worker, got %d", workers)
	}

	cfg = cfg.withDefaults()
	l := computeLayout(p, cfg)
	if uint64(l.capacity) >= 1<<32 {
		return nil, fmt.Errorf("entry capacity %d does not fit 32-bit references", l.capacity)
	}

	w := &Workspace{
		params:   p,
		cfg:      cfg,
		leaves:   l.leaves,
		capacity: l.capacity,
		rowBits:  l.rowBits,
		rows:     l.rows,
		slots:    l.slots,
		workers:  workers,
	}

	for i := range w.hashes {
		w.hashes[i] = make([]byte, l.capacity*p.HashLength())
		w.first[i] = make([]uint32, l.capacity)
	}

	w.refs = make([][]uint32, p.K)
	for r := 1; r < int(p.K); r++ {
		w.refs[r] = make([]uint32, 2*l.capacity)
	}

	w.bucketCounts = make([]uint32, l.rows)
	w.bucketSlots = make([]uint32, l.rows*l.slots)

	w.scratch = make([][]slotEntry, workers)
	w.xorBuf = make([][]byte, workers)
	for i := 0; i < workers; i++ {
		w.scratch[i] = make([]slotEntry, l.slots)
		w.xorBuf[i] = make([]byte, p.HashLength())
	}

	w.candidates = make([]uint32, 2*cfg.MaxCandidates)
	return w, nil
}

// Params returns the parameters the workspace was sized for.
func (w *Workspace) Params() core.Params {
	return w.params
}

// Config returns the effective tuning, defaults applied.
func (w *Workspace) Config() Config {
	return w.cfg
}

// Workers is the number of concurrent work-items the scratch space covers.
func (w *Workspace) Workers() int {
	return w.workers
}

// Capacity is the maximum number of entries kept per round.
func (w *Workspace) Capacity() int {
	return w.capacity
}

// Buckets returns the bucket count and the slots per bucket.
func (w *Workspace) Buckets() (rows, slots int) {
	return w.rows, w.slots
}

// Size returns the bytes reserved by the workspace.
func (w *Workspace) Size() uint64 {
	return EstimateSize(w.params, w.cfg, w.workers)
}

// Released reports whether Release was called.
func (w *Workspace) Released() bool {
	return w.released
}

// Release drops every table. Calling it again is a no-op.
func (w *Workspace) Release() {
	if w.released {
		return
	}
	w.released = true

	w.hashes = [2][]byte{}
	w.first = [2][]uint32{}
	w.refs = nil
	w.bucketCounts = nil
	w.bucketSlots = nil
	w.scratch = nil
	w.xorBuf = nil
	w.candidates = nil
}
