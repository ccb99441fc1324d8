package loader

import "sync"

// dispatch runs work for each of n jobs with at most maxConcurrency at a
// time. start is consulted before each job acquires a slot; when it returns
// false the job is skipped and reported with skipped set.
func dispatch(n, maxConcurrency int, start func(index int) bool, work func(index int), skipped func(index int)) {
	if maxConcurrency <= 0 {
		maxConcurrency = n
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, maxConcurrency)

	for i := 0; i < n; i++ {
		// Acquire semaphore before spawning so jobs start in order
		semaphore <- struct{}{}
		if !start(i) {
			<-semaphore
			skipped(i)
			continue
		}

		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() { <-semaphore }()
			work(index)
		}(i)
	}

	wg.Wait()
}
