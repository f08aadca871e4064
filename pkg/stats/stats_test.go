package stats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCallKeys(t *testing.T) {
	call := Call{Caller: "alpha", Callee: "beta", Method: "ping"}
	assert.Equal(t, "ping", call.Key(SliceMethod))
	assert.Equal(t, "alpha:ping", call.Key(SliceCallerMethod))
	assert.Equal(t, "alpha:beta", call.Key(SliceCallerCallee))
}

func TestBalanceTotalErrInvariant(t *testing.T) {
	s := New()
	call := Call{Caller: "alpha", Callee: "beta", Method: "ping"}

	const invokes = 7
	outcomes := []bool{false, true, false, true} // four resolves, two with errors
	for i := 0; i < invokes; i++ {
		s.Invoked(call)
	}
	for _, failed := range outcomes {
		s.Resolved(call, failed)
	}

	for _, slice := range Slices {
		c, ok := s.Get(slice, call.Key(slice))
		require.True(t, ok, "slice %s", slice)
		assert.Equal(t, int64(invokes-len(outcomes)), c.Balance, "balance %s", slice)
		assert.Equal(t, int64(invokes), c.Total, "total %s", slice)
		assert.Equal(t, int64(2), c.Err, "err %s", slice)
	}
}

func TestSlicesAreIndependent(t *testing.T) {
	s := New()
	s.Invoked(Call{Caller: "alpha", Callee: "beta", Method: "ping"})
	s.Invoked(Call{Caller: "gamma", Callee: "beta", Method: "ping"})
	s.Invoked(Call{Caller: "alpha", Callee: "delta", Method: "ping"})

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.Total.Get(SliceMethod, "ping"))
	assert.Equal(t, int64(2), snap.Total.Get(SliceCallerMethod, "alpha:ping"))
	assert.Equal(t, int64(1), snap.Total.Get(SliceCallerMethod, "gamma:ping"))
	assert.Equal(t, int64(1), snap.Total.Get(SliceCallerCallee, "alpha:beta"))
	assert.Equal(t, int64(1), snap.Total.Get(SliceCallerCallee, "alpha:delta"))
	assert.Equal(t, int64(1), snap.Total.Get(SliceCallerCallee, "gamma:beta"))
}

func TestTimestamps(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	s := newWithClock(clock.now)
	call := Call{Caller: "alpha", Callee: "beta", Method: "ping"}

	s.Invoked(call)
	invokedAt := clock.t

	clock.advance(time.Second)
	s.Resolved(call, false)

	snap := s.Snapshot()
	at, ok := snap.TotalAt.Get(SliceMethod, "ping")
	require.True(t, ok)
	assert.Equal(t, invokedAt, at)
	_, ok = snap.ErrAt.Get(SliceMethod, "ping")
	assert.False(t, ok, "err_at must stay unset until an error is counted")

	clock.advance(time.Second)
	s.Invoked(call)
	clock.advance(time.Second)
	s.Resolved(call, true)

	snap = s.Snapshot()
	at, _ = snap.TotalAt.Get(SliceCallerCallee, "alpha:beta")
	assert.Equal(t, invokedAt.Add(2*time.Second), at)
	errAt, ok := snap.ErrAt.Get(SliceCallerCallee, "alpha:beta")
	require.True(t, ok)
	assert.Equal(t, invokedAt.Add(3*time.Second), errAt)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New()
	call := Call{Caller: "alpha", Callee: "beta", Method: "ping"}
	s.Invoked(call)
	s.Dropped("malformed")

	snap := s.Snapshot()
	snap.Total.Method["ping"] = 100
	snap.Dropped["malformed"] = 100

	s.Invoked(call)
	again := s.Snapshot()
	assert.Equal(t, int64(2), again.Total.Get(SliceMethod, "ping"))
	assert.Equal(t, int64(1), again.Dropped["malformed"])
	assert.Equal(t, int64(100), snap.Total.Get(SliceMethod, "ping"))
}

func TestSnapshotJSONShape(t *testing.T) {
	s := New()
	s.Invoked(Call{Caller: "alpha", Callee: "beta", Method: "ping"})

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, family := range []string{"balance", "total", "err", "total_at", "err_at"} {
		require.Contains(t, decoded, family)
		for _, slice := range []string{"method", "caller_method", "caller_callee"} {
			assert.Contains(t, decoded[family], slice, "%s.%s", family, slice)
		}
	}
	assert.Equal(t, float64(1), decoded["balance"]["method"].(map[string]any)["ping"])
}

func TestGetUnknownKey(t *testing.T) {
	s := New()
	_, ok := s.Get(SliceMethod, "nothing")
	assert.False(t, ok)
}

func TestCollector(t *testing.T) {
	s := New()
	call := Call{Caller: "alpha", Callee: "beta", Method: "ping"}
	s.Invoked(call)
	s.Invoked(call)
	s.Resolved(call, true)
	s.Dropped("unknown_id")

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(NewCollector(s, "nano_compose")))

	families, err := registry.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += lp.GetName() + "=" + lp.GetValue() + ","
			}
			var v float64
			switch {
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			}
			values[mf.GetName()+"{"+labels+"}"] = v
		}
	}

	assert.Equal(t, float64(1), values["nano_compose_calls_in_flight{key=ping,slice=method,}"])
	assert.Equal(t, float64(2), values["nano_compose_calls_total{key=alpha:beta,slice=caller_callee,}"])
	assert.Equal(t, float64(1), values["nano_compose_calls_errors_total{key=alpha:ping,slice=caller_method,}"])
	assert.Equal(t, float64(1), values["nano_compose_broker_dropped_total{reason=unknown_id,}"])
}
