// Package cron runs the periodic maintenance jobs of the chat.
package cron

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"anonchat/internal/errorx"
	"anonchat/internal/logger"
)

// ErrUnknownJob is returned for job names that were never registered.
var ErrUnknownJob = errors.New("unknown job")

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a named task run on a cron expression.
type Job struct {
	Name string
	// Expression uses six fields, seconds first, or a descriptor such as
	// "@daily".
	Expression string
	Run        func(ctx context.Context) error
}

// JobInfo describes the state of a registered job.
type JobInfo struct {
	Name       string
	Expression string
	Next       time.Time
	LastRun    time.Time
	LastErr    error
}

type entry struct {
	job     Job
	id      cron.EntryID
	mu      sync.Mutex // held while the job runs
	lastRun time.Time
	lastErr error
}

// Scheduler manages cron jobs
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	jobs    map[string]*entry
	mu      sync.RWMutex
	running bool
}

// NewScheduler creates a new cron scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{})),
		timeout: DefaultJobTimeout,
		jobs:    make(map[string]*entry),
	}
}

// ValidateExpression reports whether expr is a valid schedule.
func ValidateExpression(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Register adds or replaces a job.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if err := ValidateExpression(job.Expression); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove existing entry if present
	if old, ok := s.jobs[job.Name]; ok {
		s.cron.Remove(old.id)
	}

	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Expression, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.execute(ctx, e, true)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	e.id = id
	s.jobs[job.Name] = e
	return nil
}

// Reschedule changes the expression of a registered job.
func (s *Scheduler) Reschedule(name, expression string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if e.job.Expression == expression {
		return nil
	}
	job := e.job
	job.Expression = expression
	if err := s.Register(job); err != nil {
		return err
	}
	logger.Infof("cron: %s rescheduled to %q", name, expression)
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
	}
}

// Start runs every job once and then begins the schedule. The scheduler
// stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.RunAll(ctx); err != nil {
		logger.Warnf("cron: startup run: %v", err)
	}

	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logger.Infof("cron: scheduler started with %d jobs", len(s.Jobs()))
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	logger.Infof("cron: scheduler stopped")
}

// RunNow runs one job immediately and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, e, false)
}

// RunAll runs every job once, in name order, and joins their errors.
func (s *Scheduler) RunAll(ctx context.Context) error {
	var errs []error
	for _, info := range s.Jobs() {
		if err := s.RunNow(ctx, info.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Jobs lists the registered jobs in name order.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		e.mu.Lock()
		info := JobInfo{
			Name:       e.job.Name,
			Expression: e.job.Expression,
			LastRun:    e.lastRun,
			LastErr:    e.lastErr,
		}
		e.mu.Unlock()
		if s.running {
			info.Next = s.cron.Entry(e.id).Next
		} else if sched, err := parser.Parse(e.job.Expression); err == nil {
			info.Next = sched.Next(time.Now())
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// execute runs a job unless it is already running. Scheduled runs skip
// silently; manual runs wait.
func (s *Scheduler) execute(ctx context.Context, e *entry, scheduled bool) error {
	if scheduled {
		if !e.mu.TryLock() {
			logger.Debugf("cron: %s still running, skipped", e.job.Name)
			return nil
		}
	} else {
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	start := time.Now()
	logger.Debugf("cron: running %s", e.job.Name)
	err := errorx.HandleWithRecovery(func() error { return e.job.Run(ctx) })
	e.lastRun = start
	e.lastErr = err
	if err != nil {
		logger.Errorf("cron: %s failed after %s: %v", e.job.Name, time.Since(start).Round(time.Millisecond), err)
		return fmt.Errorf("%s: %w", e.job.Name, err)
	}
	return nil
}

// cronLogger routes robfig/cron diagnostics to the logger package.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
