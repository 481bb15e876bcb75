package cache

import (
	"sync"
)

// IdentityCache memoizes invocation results by workspace identity for the
// lifetime of a process (immutable store) or a build (mutable store). The
// first caller for an identity computes; concurrent callers wait for it.
type IdentityCache struct {
	mu      sync.Mutex
	entries map[string]*future
	closed  bool
}

type future struct {
	done   chan struct{}
	result Result
	err    error
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{entries: make(map[string]*future)}
}

// GetOrCompute returns the memoized result for identity, running compute if
// no caller has yet. computed reports whether this call ran compute. An error
// from compute is handed to the waiting callers but not memoized, so a later
// call retries.
func (c *IdentityCache) GetOrCompute(identity string, compute func() (Result, error)) (res Result, computed bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, false, infraErr("lookup", identity, ErrClosed)
	}
	if f, ok := c.entries[identity]; ok {
		c.mu.Unlock()
		<-f.done
		return f.result, false, f.err
	}
	f := &future{done: make(chan struct{})}
	c.entries[identity] = f
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			f.err = infraErr("compute", identity, panicError(r))
			c.forget(identity, f)
			close(f.done)
			panic(r)
		}
	}()

	f.result, f.err = compute()
	if f.err != nil {
		c.forget(identity, f)
	}
	close(f.done)
	return f.result, true, f.err
}

// Forget drops a completed entry, e.g. after its workspace was pruned.
func (c *IdentityCache) Forget(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.entries[identity]; ok {
		select {
		case <-f.done:
			delete(c.entries, identity)
		default:
		}
	}
}

// Len is the number of memoized or in-flight identities.
func (c *IdentityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close rejects further lookups and releases memoized results. In-flight
// computations still complete for their waiters.
func (c *IdentityCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entries = make(map[string]*future)
}

func (c *IdentityCache) forget(identity string, f *future) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[identity] == f {
		delete(c.entries, identity)
	}
}
