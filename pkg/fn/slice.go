package fn

// Map applies f to every element and returns the results in order.
func Map[T, U any](in []T, f func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}

// FilterMap applies f and keeps the values f accepts. The result is nil
// when nothing passes.
func FilterMap[T, U any](in []T, f func(T) (U, bool)) []U {
	var out []U
	for _, v := range in {
		if u, ok := f(v); ok {
			out = append(out, u)
		}
	}
	return out
}

// FlatMap applies f to every element and concatenates the result slices.
func FlatMap[T, U any](in []T, f func(T) []U) []U {
	var out []U
	for _, v := range in {
		out = append(out, f(v)...)
	}
	return out
}

// UniqueBy drops elements whose key was already seen, keeping first
// occurrences in their original order.
func UniqueBy[T any, K comparable](in []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(in))
	out := in[:0:0]
	for _, v := range in {
		k := key(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Chunk splits in into consecutive slices of at most n elements. The
// chunks alias the input. n <= 0 returns nil.
func Chunk[T any](in []T, n int) [][]T {
	if n <= 0 {
		return nil
	}
	out := make([][]T, 0, (len(in)+n-1)/n)
	for n < len(in) {
		out = append(out, in[:n:n])
		in = in[n:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}
	return out
}
