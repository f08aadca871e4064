package broker

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/nano-cluster/nano-compose/pkg/stats"
)

// pendingCall correlates an outstanding call id with the call it belongs to
type pendingCall struct {
	ID        json.RawMessage
	Caller    string
	Callee    string
	Method    string
	Call      stats.Call
	Accounted bool
	CreatedAt time.Time
}

// pendingTable maps call ids to outstanding calls. Ids form one namespace
// shared by every caller.
type pendingTable struct {
	calls map[string]pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]pendingCall)}
}

func (t *pendingTable) Len() int {
	return len(t.calls)
}

func (t *pendingTable) Lookup(key string) (pendingCall, bool) {
	pc, ok := t.calls[key]
	return pc, ok
}

// Put records a call, returning the entry it replaced, if any
func (t *pendingTable) Put(key string, pc pendingCall) (pendingCall, bool) {
	prev, existed := t.calls[key]
	t.calls[key] = pc
	return prev, existed
}

// Take removes and returns the entry for key
func (t *pendingTable) Take(key string) (pendingCall, bool) {
	pc, ok := t.calls[key]
	if ok {
		delete(t.calls, key)
	}
	return pc, ok
}

// keysWhere returns matching keys, oldest first
func (t *pendingTable) keysWhere(match func(pendingCall) bool) []string {
	var keys []string
	for key, pc := range t.calls {
		if match(pc) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := t.calls[keys[i]], t.calls[keys[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return keys[i] < keys[j]
	})
	return keys
}

// ByCallee returns the keys of calls waiting on a reply from callee
func (t *pendingTable) ByCallee(callee string) []string {
	return t.keysWhere(func(pc pendingCall) bool { return pc.Callee == callee })
}

// OlderThan returns the keys of calls created before cutoff
func (t *pendingTable) OlderThan(cutoff time.Time) []string {
	return t.keysWhere(func(pc pendingCall) bool { return pc.CreatedAt.Before(cutoff) })
}
