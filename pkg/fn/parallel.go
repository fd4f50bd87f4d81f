package fn

import "sync"

// ParMap applies f to every element with at most workers goroutines and
// returns the outputs in input order. workers <= 0 removes the bound.
func ParMap[T, U any](in []T, workers int, f func(T) U) []U {
	out := make([]U, len(in))
	if len(in) == 0 {
		return out
	}
	if workers <= 0 || workers > len(in) {
		workers = len(in)
	}

	slots := make(chan struct{}, workers)
	var wg sync.WaitGroup
	wg.Add(len(in))
	for i := range in {
		slots <- struct{}{}
		go func(i int) {
			defer func() { <-slots; wg.Done() }()
			out[i] = f(in[i])
		}(i)
	}
	wg.Wait()
	return out
}

// ParMapResult is ParMap for Result-returning functions.
func ParMapResult[T, U any](in []T, workers int, f func(T) Result[U]) []Result[U] {
	return ParMap(in, workers, f)
}
