// Package collide builds the Equihash collision tree: leaf hashes are
// bucketed on successive collision segments, colliding pairs are merged
// round by round, and the last round yields candidate index sets.
package collide

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"slices"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"equihasher/pkg/hashing/blake"
	"equihasher/pkg/hashing/core"
)

// work-item granularity for each stage
const (
	hashChunk   = 1 << 10
	bucketChunk = 1 << 12
	rowChunk    = 1 << 8
)

// RoundStats records what one round kept and dropped.
type RoundStats struct {
	Round int `json:"round"`

	// Entries produced by the round (leaves for round 0)
	Entries int `json:"entries"`

	// BucketDrops counts entries that found their bucket full
	BucketDrops uint64 `json:"bucket_drops"`

	// EntryDrops counts colliding pairs that found the entry table full
	EntryDrops uint64 `json:"entry_drops"`
}

// Stats summarizes one search. Any non-zero drop counter means the search
// may have missed solutions.
type Stats struct {
	Rounds []RoundStats `json:"rounds"`

	Candidates        int    `json:"candidates"`
	CandidateDrops    uint64 `json:"candidate_drops"`
	DuplicateRejected int    `json:"duplicate_rejected"`
}

// Dropped reports whether any table overflowed during the search.
func (s *Stats) Dropped() bool {
	if s.CandidateDrops > 0 {
		return true
	}
	for _, r := range s.Rounds {
		if r.BucketDrops > 0 || r.EntryDrops > 0 {
			return true
		}
	}
	return false
}

// Builder runs the collision search on a workspace through a dispatcher.
type Builder struct {
	params   core.Params
	ws       *Workspace
	dispatch core.Dispatcher
	log      *logrus.Entry
}

// NewBuilder binds a workspace to the dispatcher that will run its
// work-items. The dispatcher must not use more workers than the workspace
// has scratch space for.
func NewBuilder(ws *Workspace, d core.Dispatcher) (*Builder, error) {
	if ws.Released() {
		return nil, core.ErrAlreadyClosed
	}
	if d.Workers() > ws.Workers() {
		return nil, core.NewError(core.ErrorDeviceInit, nil,
			"dispatcher runs %d workers, workspace sized for %d", d.Workers(), ws.Workers())
	}

	return &Builder{
		params:   ws.Params(),
		ws:       ws,
		dispatch: d,
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}, nil
}

// WithLogger sets the entry per-round progress is logged to at debug level.
func (b *Builder) WithLogger(log *logrus.Entry) *Builder {
	if log != nil {
		b.log = log
	}
	return b
}

// Run searches for index sets whose leaf hashes XOR to zero. Candidates are
// returned in tree order with duplicate-index sets removed; they still need
// full validation. Candidates are sorted so that the output is independent
// of scheduling whenever nothing was dropped.
func (b *Builder) Run(h *blake.IndexedHasher) ([][]uint32, *Stats, error) {
	if b.ws.Released() {
		return nil, nil, core.ErrAlreadyClosed
	}
	if h.Params() != b.params {
		return nil, nil, core.NewError(core.ErrorInvalidParams, nil,
			"hasher built for %s, workspace for %s", h.Params(), b.params)
	}

	stats := &Stats{Rounds: make([]RoundStats, 0, b.params.K+1)}

	if err := b.hashLeaves(h); err != nil {
		return nil, nil, err
	}
	stats.Rounds = append(stats.Rounds, RoundStats{Round: 0, Entries: b.ws.leaves})

	k := int(b.params.K)
	cb := b.params.CollisionByteLength()
	count := b.ws.leaves
	for r := 1; r <= k; r++ {
		cur := (r - 1) & 1
		stride := b.params.HashLength() - (r-1)*cb

		rs := RoundStats{Round: r}
		var err error
		rs.BucketDrops, err = b.bucket(cur, count, stride)
		if err != nil {
			return nil, nil, err
		}

		if r < k {
			count, rs.EntryDrops, err = b.collide(r, cur, stride)
			if err != nil {
				return nil, nil, err
			}
			rs.Entries = count
		} else {
			var found int
			found, stats.CandidateDrops, err = b.final(cur, stride)
			if err != nil {
				return nil, nil, err
			}
			rs.Entries = found
			stats.Candidates = found
		}

		b.log.WithFields(logrus.Fields{
			"round":        r,
			"entries":      rs.Entries,
			"bucket_drops": rs.BucketDrops,
			"entry_drops":  rs.EntryDrops,
		}).Debug("collision round complete")
		stats.Rounds = append(stats.Rounds, rs)
	}

	solutions := b.expandCandidates(stats)
	return solutions, stats, nil
}

// hashLeaves fills round 0: leaf i sits at entry i.
func (b *Builder) hashLeaves(h *blake.IndexedHasher) error {
	groups := h.Groups()
	per := b.params.IndicesPerHashOutput()
	stride := b.params.HashLength()
	hashes := b.ws.hashes[0]
	first := b.ws.first[0]

	streams := make([]*blake.Stream, b.dispatch.Workers())
	items := (uint64(groups) + hashChunk - 1) / hashChunk

	return b.dispatch.Dispatch(items, func(item uint64, worker int) error {
		s := streams[worker]
		if s == nil {
			var err error
			if s, err = h.NewStream(); err != nil {
				return err
			}
			streams[worker] = s
		}

		start := int(item) * hashChunk
		end := min(start+hashChunk, groups)
		for g := start; g < end; g++ {
			leaf := g * per
			n := s.ExpandGroup(uint32(g), hashes[leaf*stride:])
			for j := 0; j < n; j++ {
				first[leaf+j] = uint32(leaf + j)
			}
		}
		return nil
	})
}

// segment reads the leading collision segment of an entry as an integer.
func segment(hash []byte, cb int) uint32 {
	var v uint32
	for _, c := range hash[:cb] {
		v = v<<8 | uint32(c)
	}
	return v
}

// bucket distributes the count entries of ping-pong half cur over the
// bucket table by the top bits of their leading segment.
func (b *Builder) bucket(cur, count, stride int) (uint64, error) {
	ws := b.ws
	cb := b.params.CollisionByteLength()
	shift := b.params.CollisionBitLength() - ws.rowBits
	slots := uint32(ws.slots)
	hashes := ws.hashes[cur]

	clear(ws.bucketCounts)

	var dropped atomic.Uint64
	items := (uint64(count) + bucketChunk - 1) / bucketChunk

	err := b.dispatch.Dispatch(items, func(item uint64, _ int) error {
		start := int(item) * bucketChunk
		end := min(start+bucketChunk, count)
		for e := start; e < end; e++ {
			row := segment(hashes[e*stride:], cb) >> shift
			pos := atomic.AddUint32(&ws.bucketCounts[row], 1) - 1
			if pos >= slots {
				dropped.Add(1)
				continue
			}
			ws.bucketSlots[row*slots+pos] = uint32(e)
		}
		return nil
	})
	return dropped.Load(), err
}

// forEachRun sorts each bucket by its full leading segment and calls pair
// for every two entries sharing it.
func (b *Builder) forEachRun(cur, stride int, pair func(worker int, a, c uint32) error) error {
	ws := b.ws
	cb := b.params.CollisionByteLength()
	hashes := ws.hashes[cur]
	items := (uint64(ws.rows) + rowChunk - 1) / rowChunk

	return b.dispatch.Dispatch(items, func(item uint64, worker int) error {
		scratch := ws.scratch[worker]

		start := int(item) * rowChunk
		end := min(start+rowChunk, ws.rows)
		for row := start; row < end; row++ {
			m := min(int(ws.bucketCounts[row]), ws.slots)
			if m < 2 {
				continue
			}

			base := row * ws.slots
			for i := 0; i < m; i++ {
				e := ws.bucketSlots[base+i]
				scratch[i] = slotEntry{key: segment(hashes[int(e)*stride:], cb), entry: e}
			}
			run := scratch[:m]
			slices.SortFunc(run, func(x, y slotEntry) int {
				return cmp.Compare(x.key, y.key)
			})

			for i := 0; i < m; {
				j := i + 1
				for j < m && run[j].key == run[i].key {
					j++
				}
				for x := i; x < j; x++ {
					for y := x + 1; y < j; y++ {
						if err := pair(worker, run[x].entry, run[y].entry); err != nil {
							return err
						}
					}
				}
				i = j
			}
		}
		return nil
	})
}

// collide merges colliding pairs of round r-1 into round r entries, dropping
// the collided segment. Pairs whose remainder is zero, or whose subtrees start
// at the same leaf, cannot lead to a valid solution and are skipped.
func (b *Builder) collide(r, cur, stride int) (int, uint64, error) {
	ws := b.ws
	cb := b.params.CollisionByteLength()
	next := cur ^ 1
	outStride := stride - cb

	src := ws.hashes[cur]
	dst := ws.hashes[next]
	srcFirst := ws.first[cur]
	dstFirst := ws.first[next]
	refs := ws.refs[r]
	capacity := uint32(ws.capacity)

	var produced atomic.Uint32
	var dropped atomic.Uint64

	err := b.forEachRun(cur, stride, func(worker int, a, c uint32) error {
		fa, fc := srcFirst[a], srcFirst[c]
		if fa == fc {
			return nil
		}
		if fa > fc {
			a, c = c, a
			fa = fc
		}

		ha := src[int(a)*stride+cb : int(a+1)*stride]
		hc := src[int(c)*stride+cb : int(c+1)*stride]
		xor := ws.xorBuf[worker][:outStride]
		var acc byte
		for i := range xor {
			xor[i] = ha[i] ^ hc[i]
			acc |= xor[i]
		}
		if acc == 0 {
			return nil
		}

		idx := produced.Add(1) - 1
		if idx >= capacity {
			dropped.Add(1)
			return nil
		}

		copy(dst[int(idx)*outStride:], xor)
		dstFirst[idx] = fa
		refs[2*idx] = a
		refs[2*idx+1] = c
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return int(min(produced.Load(), capacity)), dropped.Load(), nil
}

// final pairs round K-1 entries that collide on both remaining segments.
func (b *Builder) final(cur, stride int) (int, uint64, error) {
	ws := b.ws
	cb := b.params.CollisionByteLength()
	src := ws.hashes[cur]
	srcFirst := ws.first[cur]
	limit := uint32(ws.cfg.MaxCandidates)

	var found atomic.Uint32
	var dropped atomic.Uint64

	err := b.forEachRun(cur, stride, func(_ int, a, c uint32) error {
		fa, fc := srcFirst[a], srcFirst[c]
		if fa == fc {
			return nil
		}
		if !bytes.Equal(src[int(a)*stride+cb:int(a+1)*stride], src[int(c)*stride+cb:int(c+1)*stride]) {
			return nil
		}
		if fa > fc {
			a, c = c, a
		}

		idx := found.Add(1) - 1
		if idx >= limit {
			dropped.Add(1)
			return nil
		}
		ws.candidates[2*idx] = a
		ws.candidates[2*idx+1] = c
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return int(min(found.Load(), limit)), dropped.Load(), nil
}

// expandCandidates walks the reference tables back to the leaves and keeps
// every candidate whose indices are pairwise distinct.
func (b *Builder) expandCandidates(stats *Stats) [][]uint32 {
	k := int(b.params.K)
	width := b.params.SolutionWidth()
	half := width / 2

	out := make([][]uint32, 0, stats.Candidates)
	seen := make([]uint32, width)
	for i := 0; i < stats.Candidates; i++ {
		indices := make([]uint32, width)
		b.expand(k-1, b.ws.candidates[2*i], indices[:half])
		b.expand(k-1, b.ws.candidates[2*i+1], indices[half:])

		copy(seen, indices)
		slices.Sort(seen)
		if hasAdjacentDuplicate(seen) {
			stats.DuplicateRejected++
			continue
		}
		out = append(out, indices)
	}

	slices.SortFunc(out, compareIndices)
	return out
}

// expand writes the leaves under round r entry e into out.
func (b *Builder) expand(r int, e uint32, out []uint32) {
	if r == 0 {
		out[0] = e
		return
	}
	half := len(out) / 2
	refs := b.ws.refs[r]
	b.expand(r-1, refs[2*e], out[:half])
	b.expand(r-1, refs[2*e+1], out[half:])
}

func hasAdjacentDuplicate(sorted []uint32) bool {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return true
		}
	}
	return false
}

// compareIndices orders index sets lexicographically.
func compareIndices(a, b []uint32) int {
	return slices.Compare(a, b)
}

// IndexKey renders an index set as a map key.
func IndexKey(indices []uint32) string {
	buf := make([]byte, 4*len(indices))
	for i, v := range indices {
		binary.BigEndian.PutUint32(buf[4*i:], v)
	}
	return string(buf)
}
