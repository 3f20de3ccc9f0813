// Package set provides a minimal generic set.
package set

type Set[T comparable] map[T]struct{}

func New[T comparable]() Set[T] {
	return make(Set[T])
}

func FromSlice[T comparable](items []T) Set[T] {
	result := make(Set[T], len(items))
	for _, item := range items {
		result[item] = struct{}{}
	}
	return result
}

func (s Set[T]) Include(value T) bool {
	_, found := s[value]
	return found
}

func (s Set[T]) Insert(value T) {
	s[value] = struct{}{}
}

func (s Set[T]) Slice() []T {
	result := make([]T, 0, len(s))
	for item := range s {
		result = append(result, item)
	}
	return result
}
