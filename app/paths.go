// Package app provides the calibration and recommendation services that
// compose the pure domain functions with logging, metrics and parallel
// execution.
package app

import (
	"runtime"
	"sync"
)

// Simulation path purposes. Each consumer of Monte-Carlo paths draws from
// its own seed stream so adding paths to one never perturbs the other.
const (
	streamResample = 1
	streamRanking  = 2
)

// pathSeed derives an independent per-path seed from a base seed using the
// splitmix64 finalizer. Every path gets its own generator, so parallel
// execution is deterministic without locking a shared source.
func pathSeed(base uint64, stream, path int) uint64 {
	z := base + uint64(stream)<<32 + uint64(path+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// runPaths maps path indices [0, paths) over a fixed-size worker pool.
// fn must only write to per-path state; no two invocations share anything.
func runPaths(paths, workers int, fn func(path int)) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > paths {
		workers = paths
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for path := range jobs {
				fn(path)
			}
		}()
	}
	for path := 0; path < paths; path++ {
		jobs <- path
	}
	close(jobs)
	wg.Wait()
}
