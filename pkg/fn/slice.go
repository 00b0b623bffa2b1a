package fn

// FilterMap applies f and keeps results where ok is true.
func FilterMap[T, U any](items []T, f func(T) (U, bool)) []U {
	var out []U
	for _, v := range items {
		if u, ok := f(v); ok {
			out = append(out, u)
		}
	}
	return out
}

// Chunk splits items into batches of at most n. Returns nil if n <= 0.
func Chunk[T any](items []T, n int) [][]T {
	if n <= 0 {
		return nil
	}
	var out [][]T
	for len(items) > n {
		out = append(out, items[:n:n])
		items = items[n:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// Unique drops repeated elements, keeping the first occurrence.
func Unique[T comparable](items []T) []T {
	seen := make(map[T]struct{}, len(items))
	var out []T
	for _, v := range items {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Group is the set of items sharing one key.
type Group[K comparable, T any] struct {
	Key   K
	Items []T
}

// GroupBy buckets items by key. Groups come back in the order their key
// first appears and items keep their relative order.
func GroupBy[K comparable, T any](items []T, key func(T) K) []Group[K, T] {
	idx := map[K]int{}
	var out []Group[K, T]
	for _, v := range items {
		k := key(v)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Group[K, T]{Key: k})
		}
		out[i].Items = append(out[i].Items, v)
	}
	return out
}
