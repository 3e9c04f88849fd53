package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// IndexedFunc is the unit of work for ForEachParallel.
type IndexedFunc func(ctx context.Context, i int) error

// ForEachParallel calls f for every i in [0, n) on at most limit goroutines (ParallelFactor
// when limit <= 0). A failing call does not stop the others; all errors are combined.
// Panics are captured and reported as errors.
func ForEachParallel(ctx context.Context, n, limit int, f IndexedFunc) error {
	if limit <= 0 {
		limit = ParallelFactor
	}
	var (
		mu      sync.Mutex
		bigErr  error
		workers errgroup.Group
	)
	storeError := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		bigErr = multierr.Append(bigErr, err)
	}
	workers.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		workers.Go(func() error {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					storeError(fmt.Errorf("got panic running work item %d in parallel: %v", i, thePanic))
				}
			}()
			if err := ctx.Err(); err != nil {
				storeError(err)
				return nil
			}
			if err := f(ctx, i); err != nil {
				storeError(err)
			}
			return nil
		})
	}
	//nolint:errcheck
	workers.Wait()
	return bigErr
}
