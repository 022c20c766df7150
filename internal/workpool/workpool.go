// Package workpool splits indexed work-items across goroutines.
package workpool

import (
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// GOMAXPROCS is the default parallelism.
var GOMAXPROCS = min(runtime.GOMAXPROCS(0), runtime.NumCPU())

// Resolve turns a requested worker count into an actual one. Zero or
// negative values mean GOMAXPROCS reduced by that many, never below one.
func Resolve(routines int) int {
	if routines <= 0 {
		return min(GOMAXPROCS, max(GOMAXPROCS+routines, 1))
	}
	return routines
}

// SplitWork calls do for every workIndex in [0, workSize) on up to routines
// goroutines. init runs once per routine before any work starts and may be
// nil. After the first error no new work-items are started and that error
// is returned.
func SplitWork(routines int, workSize uint64, do func(workIndex uint64, routineIndex int) error, init func(routines, routineIndex int) error) error {
	routines = Resolve(routines)

	if routines == 1 {
		// do not spawn goroutines if we have a single worker
		if init != nil {
			if err := init(routines, 0); err != nil {
				return err
			}
		}

		for workIndex := uint64(0); workIndex < workSize; workIndex++ {
			if err := do(workIndex, 0); err != nil {
				return err
			}
		}
		return nil
	}

	if workSize < uint64(routines) {
		routines = int(workSize)
	}

	if init != nil {
		for routineIndex := 0; routineIndex < routines; routineIndex++ {
			if err := init(routines, routineIndex); err != nil {
				return err
			}
		}
	}

	var counter atomic.Uint64
	var failed atomic.Bool
	var eg errgroup.Group

	for routineIndex := 0; routineIndex < routines; routineIndex++ {
		routineIndex := routineIndex
		eg.Go(func() error {
			for !failed.Load() {
				workIndex := counter.Add(1)
				if workIndex > workSize {
					return nil
				}

				if err := do(workIndex-1, routineIndex); err != nil {
					failed.Store(true)
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

// ErrClosed is returned by Dispatch after Shutdown.
var ErrClosed = errors.New("workpool: closed")

// Pool is a fixed-width dispatcher over SplitWork.
type Pool struct {
	workers int
	closed  atomic.Bool
}

// NewPool returns a pool of Resolve(workers) workers.
func NewPool(workers int) *Pool {
	return &Pool{workers: Resolve(workers)}
}

// Workers is the number of concurrent work-items.
func (p *Pool) Workers() int {
	return p.workers
}

// Dispatch runs do for every index in [0, workSize) and waits for them.
func (p *Pool) Dispatch(workSize uint64, do func(workIndex uint64, worker int) error) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return SplitWork(p.workers, workSize, do, nil)
}

// Shutdown makes later dispatches fail.
func (p *Pool) Shutdown() error {
	p.closed.Store(true)
	return nil
}
