package store

import "github.com/viant/memlease/service/dao"

type storeOptions[T any] struct {
	less   func(a, b *T) bool
	filter func(*T, []*dao.Parameter) bool
}

// Option customises a store.
type Option[T any] func(o *storeOptions[T])

// WithOrder sets the List ordering.
func WithOrder[T any](less func(a, b *T) bool) Option[T] {
	return func(o *storeOptions[T]) {
		o.less = less
	}
}

// WithFilter sets the List parameter filter.
func WithFilter[T any](filter func(*T, []*dao.Parameter) bool) Option[T] {
	return func(o *storeOptions[T]) {
		o.filter = filter
	}
}
