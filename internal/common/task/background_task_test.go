package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	clock "k8s.io/utils/clock/testing"
)

func TestBackgroundTaskManager_RunsOnInterval(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Now())
	manager := NewBackgroundTaskManagerWithClock("test_", fakeClock, prometheus.NewRegistry())

	var calls atomic.Int32
	manager.Register(func() { calls.Add(1) }, time.Minute, "counter")

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)

	fakeClock.Step(time.Minute)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	timedOut := manager.StopAll(time.Second)
	assert.False(t, timedOut)
}

func TestBackgroundTaskManager_StopAllIsIdempotent(t *testing.T) {
	manager := NewBackgroundTaskManagerWithClock("test_", clock.NewFakeClock(time.Now()), prometheus.NewRegistry())
	manager.Register(func() {}, time.Hour, "noop")
	assert.False(t, manager.StopAll(time.Second))
	assert.False(t, manager.StopAll(time.Second))
}
