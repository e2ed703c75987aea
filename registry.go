package netmux

import "sync"

// Register is the shared, ref-counted entry a ResourceRegistry hands out. It
// owns the resource and the closer that releases it. Destruction is
// deferred until the last handle drops: the reactor thread may hold one
// while a producer thread concurrently calls Controller.remove, and the
// underlying Close only happens once both let go.
type Register[T any] struct {
	mu       sync.Mutex
	resource T
	refs     int
	closer   func(T) error
	closed   bool
}

func newRegister[T any](resource T, closer func(T) error) *Register[T] {
	return &Register[T]{resource: resource, refs: 1, closer: closer}
}

// Resource returns the wrapped resource. Valid for the lifetime of this
// handle; callers must not retain it past Release.
func (r *Register[T]) Resource() T { return r.resource }

// acquire increments the ref-count; Get uses it to hand a caller its own
// handle alongside the one the registry's map keeps.
func (r *Register[T]) acquire() *Register[T] {
	r.mu.Lock()
	r.refs++
	r.mu.Unlock()
	return r
}

// Release drops one reference, closing the underlying resource once the
// count reaches zero.
func (r *Register[T]) Release() error {
	r.mu.Lock()
	r.refs--
	doClose := r.refs <= 0 && !r.closed
	if doClose {
		r.closed = true
	}
	r.mu.Unlock()
	if doClose && r.closer != nil {
		return r.closer(r.resource)
	}
	return nil
}

// ResourceRegistry owns every live resource of one kind (Remote or Local)
// for one adapter, keyed by ResourceId. Lookups never block a concurrent
// send on the same id: the map itself is guarded by a RWMutex, but the
// entries it stores are ref-counted handles, not the resources themselves.
type ResourceRegistry[T any] struct {
	mu      sync.RWMutex
	entries map[ResourceId]*Register[T]
}

// NewResourceRegistry builds an empty registry.
func NewResourceRegistry[T any]() *ResourceRegistry[T] {
	return &ResourceRegistry[T]{entries: make(map[ResourceId]*Register[T])}
}

// Register inserts resource under id, taking ownership. Atomic with respect
// to concurrent Get calls: once this returns, Get(id) succeeds; before it
// returns, no poll event targeting id can reach a not-yet-registered entry,
// because the write lock is held for the whole insert.
func (r *ResourceRegistry[T]) Register(id ResourceId, resource T, closer func(T) error) {
	reg := newRegister(resource, closer)
	r.mu.Lock()
	r.entries[id] = reg
	r.mu.Unlock()
}

// Get returns a ref-counted handle to the resource registered under id, or
// false if no such id is currently registered. The caller must call
// Release when done with the handle.
func (r *ResourceRegistry[T]) Get(id ResourceId) (*Register[T], bool) {
	r.mu.RLock()
	reg, ok := r.entries[id]
	if ok {
		reg.acquire()
	}
	r.mu.RUnlock()
	return reg, ok
}

// Deregister removes id from the map and releases the registry's own
// reference. It returns true if id was present. The actual Close only runs
// once every other outstanding handle (e.g. one held by the reactor thread
// mid-receive) has also been released.
func (r *ResourceRegistry[T]) Deregister(id ResourceId) bool {
	r.mu.Lock()
	reg, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if ok {
		_ = reg.Release()
	}
	return ok
}

// Range calls f for every currently registered (id, resource) pair. f must
// not mutate the registry.
func (r *ResourceRegistry[T]) Range(f func(id ResourceId, resource T)) {
	r.mu.RLock()
	snapshot := make(map[ResourceId]*Register[T], len(r.entries))
	for id, reg := range r.entries {
		snapshot[id] = reg
	}
	r.mu.RUnlock()
	for id, reg := range snapshot {
		f(id, reg.Resource())
	}
}

// Len reports the number of currently registered resources.
func (r *ResourceRegistry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
