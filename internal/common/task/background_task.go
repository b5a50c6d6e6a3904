package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

type task struct {
	function    func()
	interval    time.Duration
	name        string
	stopChannel chan struct{}
}

// BackgroundTaskManager runs registered functions on a fixed interval until StopAll is called.
// It is not threadsafe and should only be accessed from a single goroutine.
type BackgroundTaskManager struct {
	tasks    []*task
	clock    clock.Clock
	latency  *prometheus.HistogramVec
	wg       *sync.WaitGroup
	stopOnce sync.Once
}

func NewBackgroundTaskManager(metricsPrefix string) *BackgroundTaskManager {
	return NewBackgroundTaskManagerWithClock(metricsPrefix, clock.RealClock{}, prometheus.DefaultRegisterer)
}

func NewBackgroundTaskManagerWithClock(metricsPrefix string, clk clock.Clock, registerer prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks: []*task{},
		clock: clk,
		latency: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricsPrefix + "background_task_latency_seconds",
				Help:    "Background task latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			},
			[]string{"task"}),
		wg: &sync.WaitGroup{},
	}
}

// Register runs backgroundTask immediately and then once every interval.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, name string) {
	t := &task{
		function:    backgroundTask,
		interval:    interval,
		name:        name,
		stopChannel: make(chan struct{}),
	}
	m.start(t)
	m.tasks = append(m.tasks, t)
}

// StopAll signals every task to stop and waits up to timeout for them to finish.
// Returns true if the timeout was reached.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopOnce.Do(func() {
		for _, t := range m.tasks {
			close(t.stopChannel)
		}
	})
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) start(t *task) {
	observer := m.latency.WithLabelValues(t.name)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			start := m.clock.Now()
			t.function()
			observer.Observe(m.clock.Since(start).Seconds())

			select {
			case <-m.clock.After(t.interval):
			case <-t.stopChannel:
				log.Debugf("Background task %s stopped", t.name)
				return
			}
		}
	}()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}
