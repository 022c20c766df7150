// Package solver is the public face of the Equihash engine: it binds a
// device, runs the search for a header and keeps up to MaxSolutions
// validated, encoded solutions for retrieval.
package solver

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/tmthrgd/go-hex"
	"golang.org/x/crypto/blake2b"

	"equihasher/internal/config"
	"equihasher/internal/logging"
	"equihasher/pkg/hashing/bits"
	"equihasher/pkg/hashing/blake"
	"equihasher/pkg/hashing/collide"
	"equihasher/pkg/hashing/core"
	"equihasher/pkg/hashing/factory"
	"equihasher/pkg/hashing/hardware"
	"equihasher/pkg/hashing/validate"
)

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateClosed
)

type options struct {
	params       core.Params
	workers      int
	cacheSize    int
	collide      collide.Config
	memoryBudget uint64
	logger       *logrus.Logger
	factory      *factory.BackendFactory
}

// Option customizes Open.
type Option func(*options)

// WithParams selects the Equihash parameters; the default is (200,9).
func WithParams(p core.Params) Option {
	return func(o *options) { o.params = p }
}

// WithWorkers overrides the backend's parallelism.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithCacheSize keeps the results of the last n headers; 0 disables.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithCollideConfig tunes the collision tables.
func WithCollideConfig(c collide.Config) Option {
	return func(o *options) { o.collide = c }
}

// WithMemoryBudget caps the device workspace in bytes.
func WithMemoryBudget(b uint64) Option {
	return func(o *options) { o.memoryBudget = b }
}

// WithLogger sets the logger; the default is the logrus standard logger.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFactory resolves platforms through f instead of the built-in backends.
func WithFactory(f *factory.BackendFactory) Option {
	return func(o *options) { o.factory = f }
}

type cachedResult struct {
	solutions [][]byte
	stats     *collide.Stats
}

// Solver owns one device context and the solution buffers. Calls are
// serialized; a zero Solver is not ready and rejects every call.
type Solver struct {
	mu    sync.Mutex
	state state

	params    core.Params
	device    *hardware.Context
	validator *validate.Validator
	log       *logrus.Entry

	buffers [core.MaxSolutions][]byte
	staging [core.MaxSolutions][]byte
	count   int

	lastStats *collide.Stats
	cache     *lru.Cache[[32]byte, cachedResult]

	// accept is the final authority on candidates
	accept func(header []byte, indices []uint32) bool
}

// Open binds deviceID on platformID and reserves every buffer a search
// needs. Any failure is an ErrDeviceInit.
func Open(platformID, deviceID uint32, verbose bool, opts ...Option) (*Solver, error) {
	o := options{params: core.Reference}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		o.factory = factory.NewDefaultFactory()
	}

	log := logging.Component(o.logger, "solver", verbose).WithField("platform", platformID)

	ctx, err := o.factory.Open(platformID, deviceID, o.params, hardware.Options{
		Workers:      o.workers,
		Collide:      o.collide,
		MemoryBudget: o.memoryBudget,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	v, err := validate.New(o.params)
	if err != nil {
		_ = ctx.Close()
		return nil, core.NewError(core.ErrorDeviceInit, err, "build validator")
	}

	s := &Solver{
		state:     stateReady,
		params:    o.params,
		device:    ctx,
		validator: v,
		log:       log,
	}
	s.accept = s.validator.Validate

	if o.cacheSize > 0 {
		s.cache, err = lru.New[[32]byte, cachedResult](o.cacheSize)
		if err != nil {
			_ = ctx.Close()
			return nil, core.NewError(core.ErrorDeviceInit, err, "create solution cache")
		}
	}

	size := o.params.SolutionByteLength()
	for i := range s.buffers {
		s.buffers[i] = make([]byte, size)
		s.staging[i] = make([]byte, size)
	}

	log.WithFields(logrus.Fields{
		"params":  o.params.String(),
		"device":  ctx.Info().Name,
		"workers": ctx.Workers(),
		"cache":   o.cacheSize,
	}).Info("solver ready")

	return s, nil
}

// New opens a solver from a loaded configuration.
func New(cfg *config.SolverConfig) (*Solver, error) {
	if cfg == nil {
		cfg = config.DefaultSolverConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.NewError(core.ErrorDeviceInit, err, "invalid configuration")
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, core.NewError(core.ErrorDeviceInit, err, "configure logging")
	}

	f := factory.NewDefaultFactory()
	if len(cfg.PreferredOrder) > 0 {
		f.SetPreferredOrder(cfg.PreferredOrder)
	}

	return Open(cfg.PlatformID, cfg.DeviceID, cfg.Verbose,
		WithParams(cfg.Params),
		WithWorkers(cfg.Workers),
		WithCacheSize(cfg.CacheSize),
		WithCollideConfig(cfg.Collide),
		WithMemoryBudget(cfg.MemoryBudget()),
		WithLogger(logger),
		WithFactory(f),
	)
}

func (s *Solver) checkState() error {
	switch s.state {
	case stateUninitialized:
		return core.ErrNotReady
	case stateClosed:
		return core.ErrAlreadyClosed
	}
	return nil
}

// FindSolutions searches header for solutions and stores up to
// MaxSolutions of them, replacing the previous results. It returns how many
// were stored. The header must be exactly core.HeaderLength bytes. On error
// the previous results are left untouched.
func (s *Solver) FindSolutions(header []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(); err != nil {
		return 0, err
	}
	if err := core.CheckHeaderLength(header); err != nil {
		return 0, err
	}

	key := blake2b.Sum256(header)
	log := s.log.WithField("header", hex.EncodeToString(key[:8]))

	if s.cache != nil {
		if hit, ok := s.cache.Get(key); ok {
			for i, sol := range hit.solutions {
				copy(s.buffers[i], sol)
			}
			s.count = len(hit.solutions)
			s.lastStats = hit.stats
			log.WithField("solutions", s.count).Debug("cache hit")
			return s.count, nil
		}
	}

	start := time.Now()

	builder, err := s.device.Builder()
	if err != nil {
		return 0, err
	}
	hasher, err := blake.NewIndexedHasher(s.params, header)
	if err != nil {
		return 0, err
	}
	candidates, stats, err := builder.Run(hasher)
	if err != nil {
		return 0, err
	}

	n, rejected, err := s.publish(header, candidates)
	if err != nil {
		return 0, err
	}
	s.lastStats = stats

	fields := logrus.Fields{
		"candidates": len(candidates),
		"rejected":   rejected,
		"solutions":  n,
		"elapsed":    time.Since(start).String(),
	}
	if stats.Dropped() {
		var bucket, entry uint64
		for _, r := range stats.Rounds {
			bucket += r.BucketDrops
			entry += r.EntryDrops
		}
		fields["bucket_drops"] = bucket
		fields["entry_drops"] = entry
		fields["candidate_drops"] = stats.CandidateDrops
	}
	log.WithFields(fields).Debug("search complete")

	if s.cache != nil {
		saved := make([][]byte, n)
		for i := range saved {
			saved[i] = append([]byte(nil), s.buffers[i]...)
		}
		s.cache.Add(key, cachedResult{solutions: saved, stats: stats})
	}

	return n, nil
}

// publish validates candidates in order, encodes the accepted ones into
// the staging buffers and swaps them in once all of them are written.
func (s *Solver) publish(header []byte, candidates [][]uint32) (int, int, error) {
	seen := make(map[string]struct{}, len(candidates))
	n, rejected := 0, 0

	for _, indices := range candidates {
		if n == core.MaxSolutions {
			break
		}

		key := collide.IndexKey(indices)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if !s.accept(header, indices) {
			rejected++
			continue
		}
		if err := bits.EncodeSolutionTo(s.params, indices, s.staging[n]); err != nil {
			return 0, 0, err
		}
		n++
	}

	s.buffers, s.staging = s.staging, s.buffers
	s.count = n
	return n, rejected, nil
}

// GetSolution returns a copy of solution slot index. Slots at or past the
// last count hold stale or zero data.
func (s *Solver) GetSolution(index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(); err != nil {
		return nil, err
	}
	if index < 0 || index >= core.MaxSolutions {
		return nil, core.NewError(core.ErrorIndexOutOfRange, nil,
			"solution index %d outside [0, %d)", index, core.MaxSolutions).
			WithContext("index", index)
	}

	return append([]byte(nil), s.buffers[index]...), nil
}

// Close releases the device. Calling it again returns nil.
func (s *Solver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateReady {
		s.state = stateClosed
		return nil
	}
	s.state = stateClosed

	if s.cache != nil {
		s.cache.Purge()
	}
	return s.device.Close()
}

// Params returns the Equihash parameters of the solver.
func (s *Solver) Params() core.Params {
	return s.params
}

// MaxSolutions is the number of solution slots.
func (s *Solver) MaxSolutions() int {
	return core.MaxSolutions
}

// SolutionLength is the size in bytes of one encoded solution.
func (s *Solver) SolutionLength() int {
	return s.params.SolutionByteLength()
}

// Device describes the bound device, or nil for a zero Solver.
func (s *Solver) Device() *core.DeviceInfo {
	if s.device == nil {
		return nil
	}
	return s.device.Info()
}

// LastStats returns the search statistics of the last FindSolutions call.
func (s *Solver) LastStats() *collide.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}
