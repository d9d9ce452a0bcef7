// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync"

// ObjectPool hands out reusable objects. Implementations must tolerate Put
// of any value previously returned by Get, in any order.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool is a sync.Pool-backed ObjectPool.
type SyncPool[T any] struct {
	p sync.Pool
}

// NewSyncPool creates a SyncPool whose Get falls back to newFn when the
// pool is empty.
func NewSyncPool[T any](newFn func() T) *SyncPool[T] {
	return &SyncPool[T]{
		p: sync.Pool{New: func() any { return newFn() }},
	}
}

func (sp *SyncPool[T]) Get() T  { return sp.p.Get().(T) }
func (sp *SyncPool[T]) Put(v T) { sp.p.Put(v) }
