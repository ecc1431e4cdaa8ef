package janitor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// task is one named periodic job
type task struct {
	name     string
	interval time.Duration
	run      func() error
}

// Janitor runs periodic cleanup tasks until stopped.
// A failing or panicking cycle is logged and the task keeps its schedule.
type Janitor struct {
	logger   *zap.Logger
	tasks    []task
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
	mutex    sync.Mutex
}

// New creates a Janitor that logs through logger; a nil logger disables logging
func New(logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Every registers fn to run on the given interval. Must be called before Start.
func (j *Janitor) Every(name string, interval time.Duration, fn func() error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.tasks = append(j.tasks, task{name: name, interval: interval, run: fn})
}

// Start launches one goroutine per registered task
func (j *Janitor) Start() {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.started {
		return
	}
	j.started = true

	for _, t := range j.tasks {
		j.wg.Add(1)
		go j.loop(t)
	}

	j.logger.Info("Background cleanup routines started", zap.Int("task_count", len(j.tasks)))
}

// Stop signals all tasks to exit and waits for them
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
	j.wg.Wait()
}

func (j *Janitor) loop(t task) {
	defer j.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	j.logger.Debug("Starting cleanup routine",
		zap.String("task", t.name),
		zap.Duration("interval", t.interval),
	)

	for {
		select {
		case <-ticker.C:
			if err := j.runCycle(t); err != nil {
				j.logger.Error("Cleanup cycle failed",
					zap.String("task", t.name),
					zap.Error(err),
				)
			}
		case <-j.stopCh:
			return
		}
	}
}

// runCycle converts a panic into an error so the loop always reschedules
func (j *Janitor) runCycle(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", t.name, r)
		}
	}()
	return t.run()
}
