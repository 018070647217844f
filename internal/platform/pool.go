package platform

import (
	"context"
	"sync"
)

// forEach runs fn for every index in [0, n) on at most workers goroutines and
// returns once all calls finished. The first error by index wins.
func forEach(ctx context.Context, n, workers int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	type result struct {
		idx int
		err error
	}

	jobs := make(chan int)
	results := make(chan result, n)

	workerCount := workers
	if workerCount > n {
		workerCount = n
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: idx, err: err}
					continue
				}
				results <- result{idx: idx, err: fn(idx)}
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	close(results)

	errs := make([]error, n)
	for res := range results {
		errs[res.idx] = res.err
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
