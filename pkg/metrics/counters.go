// Package metrics holds the process usage counters. Counters are an
// explicitly constructed component handed to request handling; there is
// no package-level state.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counters is a set of named monotonic counters safe for concurrent
// use. Increments are atomic; Snapshot is best-effort and not a
// consistent cut across counters.
type Counters struct {
	values sync.Map // string -> *int64
}

func NewCounters() *Counters {
	return &Counters{}
}

// Increment adds one to the named counter, creating it at zero first.
func (c *Counters) Increment(key string) {
	c.Add(key, 1)
}

// Add adds delta to the named counter.
func (c *Counters) Add(key string, delta int64) {
	v, ok := c.values.Load(key)
	if !ok {
		v, _ = c.values.LoadOrStore(key, new(int64))
	}
	atomic.AddInt64(v.(*int64), delta)
}

// Get returns the current value of the named counter.
func (c *Counters) Get(key string) int64 {
	v, ok := c.values.Load(key)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	c.values.Range(func(key, v interface{}) bool {
		out[key.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// Keys returns the counter names in sorted order.
func (c *Counters) Keys() []string {
	var keys []string
	c.values.Range(func(key, _ interface{}) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
