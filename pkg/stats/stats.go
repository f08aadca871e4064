// Package stats keeps call accounting for the broker.
//
// Every call is counted three ways: by method name, by "caller:method" and
// by "caller:callee". For each key the counters track the number of calls in
// flight (balance), the cumulative number of calls (total) and the cumulative
// number of error replies (err), together with the time total and err were
// last incremented.
//
// A Stats value belongs to one broker. Updates come from the broker's event
// loop; a single mutex lets the metrics exporter read snapshots concurrently.
package stats

import (
	"sync"
	"time"
)

// Slice names one of the three ways a call is keyed
type Slice string

const (
	SliceMethod       Slice = "method"
	SliceCallerMethod Slice = "caller_method"
	SliceCallerCallee Slice = "caller_callee"
)

// Slices lists every slice in a stable order
var Slices = []Slice{SliceMethod, SliceCallerMethod, SliceCallerCallee}

// Call identifies the parties of one call. Method is the bare method name,
// without the callee prefix.
type Call struct {
	Caller string
	Callee string
	Method string
}

// Key returns the counter key of the call in the given slice
func (c Call) Key(slice Slice) string {
	switch slice {
	case SliceCallerMethod:
		return c.Caller + ":" + c.Method
	case SliceCallerCallee:
		return c.Caller + ":" + c.Callee
	default:
		return c.Method
	}
}

// Counter is the state of one key
type Counter struct {
	Balance int64
	Total   int64
	Err     int64
	TotalAt time.Time
	ErrAt   time.Time
}

// Stats holds the counters of one broker
type Stats struct {
	mu       sync.Mutex
	counters map[Slice]map[string]*Counter
	dropped  map[string]int64
	now      func() time.Time
}

// New creates an empty set of counters
func New() *Stats {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Stats {
	s := &Stats{
		counters: make(map[Slice]map[string]*Counter, len(Slices)),
		dropped:  make(map[string]int64),
		now:      now,
	}
	for _, slice := range Slices {
		s.counters[slice] = make(map[string]*Counter)
	}
	return s
}

func (s *Stats) counterLocked(slice Slice, key string) *Counter {
	c, ok := s.counters[slice][key]
	if !ok {
		c = &Counter{}
		s.counters[slice][key] = c
	}
	return c
}

// Invoked records an outgoing call: balance and total go up for every slice
func (s *Stats) Invoked(call Call) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, slice := range Slices {
		c := s.counterLocked(slice, call.Key(slice))
		c.Balance++
		c.Total++
		c.TotalAt = now
	}
}

// Resolved records the reply to a call: balance goes down for every slice and
// err goes up when the reply carried an error
func (s *Stats) Resolved(call Call, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, slice := range Slices {
		c := s.counterLocked(slice, call.Key(slice))
		c.Balance--
		if failed {
			c.Err++
			c.ErrAt = now
		}
	}
}

// Dropped counts a line or reply the broker discarded, keyed by reason
func (s *Stats) Dropped(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[reason]++
}

// Get returns a copy of the counter for a key
func (s *Stats) Get(slice Slice, key string) (Counter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[slice][key]
	if !ok {
		return Counter{}, false
	}
	return *c, true
}

// Snapshot returns a deep, point-in-time copy of every counter
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Balance: newFamily(),
		Total:   newFamily(),
		Err:     newFamily(),
		TotalAt: newTimeFamily(),
		ErrAt:   newTimeFamily(),
		Dropped: make(map[string]int64, len(s.dropped)),
	}
	for _, slice := range Slices {
		for key, c := range s.counters[slice] {
			snap.Balance.set(slice, key, c.Balance)
			snap.Total.set(slice, key, c.Total)
			snap.Err.set(slice, key, c.Err)
			if !c.TotalAt.IsZero() {
				snap.TotalAt.set(slice, key, c.TotalAt)
			}
			if !c.ErrAt.IsZero() {
				snap.ErrAt.set(slice, key, c.ErrAt)
			}
		}
	}
	for reason, n := range s.dropped {
		snap.Dropped[reason] = n
	}
	return snap
}
