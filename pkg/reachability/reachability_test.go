package reachability_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-mediacache/pkg/reachability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_NotifiesOnChangeOnly(t *testing.T) {
	v := reachability.NewValue(reachability.Unreachable)
	var calls atomic.Int32
	var last atomic.Value
	cancel := v.Subscribe(func(s reachability.State) {
		calls.Add(1)
		last.Store(s)
	})
	defer cancel()

	v.Set(reachability.Unreachable)
	assert.Equal(t, int32(0), calls.Load(), "setting the same state must not notify")

	v.Set(reachability.Reachable)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, reachability.Reachable, last.Load())
	assert.Equal(t, reachability.Reachable, v.Current())
}

func TestValue_UnsubscribeStopsNotifications(t *testing.T) {
	v := reachability.NewValue(reachability.Reachable)
	var calls atomic.Int32
	cancel := v.Subscribe(func(reachability.State) { calls.Add(1) })
	require.Equal(t, 1, v.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, v.Subscribers())

	v.Set(reachability.Unreachable)
	assert.Equal(t, int32(0), calls.Load())
}

func TestValue_SubscriberMayCallBack(t *testing.T) {
	// Subscribers run outside the lock, so re-entering the Value must not deadlock.
	v := reachability.NewValue(reachability.Unreachable)
	var seen reachability.State
	var cancel func()
	cancel = v.Subscribe(func(reachability.State) {
		seen = v.Current()
		cancel()
	})

	v.Set(reachability.Reachable)
	assert.Equal(t, reachability.Reachable, seen)
	assert.Equal(t, 0, v.Subscribers())
}

func TestValue_ConcurrentUse(t *testing.T) {
	v := reachability.NewValue(reachability.Unreachable)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c := v.Subscribe(func(reachability.State) {})
			c()
		}(i)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				v.Set(reachability.Reachable)
			} else {
				v.Set(reachability.Unreachable)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, v.Subscribers())
}

func TestState(t *testing.T) {
	assert.Equal(t, "reachable", reachability.Reachable.String())
	assert.Equal(t, "unreachable", reachability.Unreachable.String())

	s, ok := reachability.ParseState("reachable")
	assert.True(t, ok)
	assert.Equal(t, reachability.Reachable, s)
	_, ok = reachability.ParseState("maybe")
	assert.False(t, ok)
}
