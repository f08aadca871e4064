package stats

import "time"

// Family holds one counter kind for every slice
type Family struct {
	Method       map[string]int64 `json:"method"`
	CallerMethod map[string]int64 `json:"caller_method"`
	CallerCallee map[string]int64 `json:"caller_callee"`
}

func newFamily() Family {
	return Family{
		Method:       make(map[string]int64),
		CallerMethod: make(map[string]int64),
		CallerCallee: make(map[string]int64),
	}
}

func (f Family) slice(slice Slice) map[string]int64 {
	switch slice {
	case SliceCallerMethod:
		return f.CallerMethod
	case SliceCallerCallee:
		return f.CallerCallee
	default:
		return f.Method
	}
}

func (f Family) set(slice Slice, key string, v int64) {
	f.slice(slice)[key] = v
}

// Get returns the value for a key in a slice
func (f Family) Get(slice Slice, key string) int64 {
	return f.slice(slice)[key]
}

// TimeFamily holds last-update times for every slice
type TimeFamily struct {
	Method       map[string]time.Time `json:"method"`
	CallerMethod map[string]time.Time `json:"caller_method"`
	CallerCallee map[string]time.Time `json:"caller_callee"`
}

func newTimeFamily() TimeFamily {
	return TimeFamily{
		Method:       make(map[string]time.Time),
		CallerMethod: make(map[string]time.Time),
		CallerCallee: make(map[string]time.Time),
	}
}

func (f TimeFamily) slice(slice Slice) map[string]time.Time {
	switch slice {
	case SliceCallerMethod:
		return f.CallerMethod
	case SliceCallerCallee:
		return f.CallerCallee
	default:
		return f.Method
	}
}

func (f TimeFamily) set(slice Slice, key string, t time.Time) {
	f.slice(slice)[key] = t
}

// Get returns the time for a key in a slice
func (f TimeFamily) Get(slice Slice, key string) (time.Time, bool) {
	t, ok := f.slice(slice)[key]
	return t, ok
}

// Snapshot is the value returned by _admin.get_stats
type Snapshot struct {
	Balance Family           `json:"balance"`
	Total   Family           `json:"total"`
	Err     Family           `json:"err"`
	TotalAt TimeFamily       `json:"total_at"`
	ErrAt   TimeFamily       `json:"err_at"`
	Dropped map[string]int64 `json:"dropped"`
}
