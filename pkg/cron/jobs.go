package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/robfig/cron/v3"
)

// JobFunc is the body of a scheduled job
type JobFunc func(ctx context.Context) error

var (
	ErrJobExists   = errors.New("job already exists")
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job already in progress")
)

type job struct {
	name     string
	schedule string
	entry    cron.EntryID
	fn       JobFunc

	running  bool
	runs     int
	failures int
	lastRun  time.Time
	lastErr  error
}

// JobStatus describes a scheduled job
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

// JobManager runs named jobs on cron schedules (with a seconds field).
// A job never overlaps with itself; a tick that finds it running is skipped.
type JobManager struct {
	cron   *cron.Cron
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mutex sync.RWMutex
	jobs  map[string]*job
}

// NewJobManager creates a stopped job manager
func NewJobManager(logger logging.Logger) *JobManager {
	if logger == nil {
		logger = logging.NullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger.With(logging.String("component", "cron")),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// Add schedules fn under name
func (m *JobManager) Add(name, schedule string, fn JobFunc) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}

	j := &job{name: name, schedule: schedule, fn: fn}
	entryID, err := m.cron.AddFunc(schedule, func() { m.run(j) })
	if err != nil {
		return fmt.Errorf("failed to schedule job '%s': %w", name, err)
	}
	j.entry = entryID
	m.jobs[name] = j

	m.logger.Info("Scheduled job",
		logging.String("job", name),
		logging.String("schedule", schedule))
	return nil
}

// Remove unschedules the job, a run in progress finishes
func (m *JobManager) Remove(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	m.cron.Remove(j.entry)
	delete(m.jobs, name)
	return nil
}

// RunNow runs the job on the calling goroutine
func (m *JobManager) RunNow(name string) error {
	m.mutex.RLock()
	j, ok := m.jobs[name]
	m.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !m.run(j) {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return j.lastErr
}

// run executes the job unless it is already running and reports whether it ran
func (m *JobManager) run(j *job) bool {
	m.mutex.Lock()
	if j.running {
		m.mutex.Unlock()
		m.logger.Debug("Job already in progress, skipping", logging.String("job", j.name))
		return false
	}
	j.running = true
	m.mutex.Unlock()

	start := time.Now()
	err := j.fn(m.ctx)

	m.mutex.Lock()
	j.running = false
	j.runs++
	j.lastRun = start
	j.lastErr = err
	if err != nil {
		j.failures++
	}
	m.mutex.Unlock()

	if err != nil {
		m.logger.Warn("Job failed",
			logging.String("job", j.name),
			logging.Error(err))
	} else {
		m.logger.Debug("Job completed",
			logging.String("job", j.name),
			logging.Duration("took", time.Since(start)))
	}
	return true
}

// Start starts the scheduler
func (m *JobManager) Start() {
	m.cron.Start()
}

// Stop stops the scheduler, cancels the context given to jobs and waits
// for running jobs to return
func (m *JobManager) Stop() {
	done := m.cron.Stop()
	m.cancel()
	<-done.Done()
	m.logger.Info("Job manager stopped")
}

// IsRunning returns whether the job is currently in progress
func (m *JobManager) IsRunning(name string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	j, ok := m.jobs[name]
	return ok && j.running
}

// NextRun returns the next scheduled run of the job, zero when the
// scheduler is stopped or the job is unknown
func (m *JobManager) NextRun(name string) time.Time {
	m.mutex.RLock()
	j, ok := m.jobs[name]
	m.mutex.RUnlock()
	if !ok {
		return time.Time{}
	}
	return m.cron.Entry(j.entry).Next
}

// Status returns the status of every job sorted by name
func (m *JobManager) Status() []JobStatus {
	m.mutex.RLock()
	out := make([]JobStatus, 0, len(m.jobs))
	entries := make([]cron.EntryID, 0, len(m.jobs))
	for _, j := range m.jobs {
		s := JobStatus{
			Name:     j.name,
			Schedule: j.schedule,
			Running:  j.running,
			Runs:     j.runs,
			Failures: j.failures,
			LastRun:  j.lastRun,
		}
		if j.lastErr != nil {
			s.LastError = j.lastErr.Error()
		}
		out = append(out, s)
		entries = append(entries, j.entry)
	}
	m.mutex.RUnlock()

	for i := range out {
		out[i].NextRun = m.cron.Entry(entries[i]).Next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
