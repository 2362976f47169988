// Package scheduler runs named background jobs on fixed intervals or on cron
// expressions such as a daily wall-clock time. All scheduled work is driven from Go since the API
// process is already long-running.
//
// A Scheduler is constructed once in main and owns its jobs. Each job runs in
// its own goroutine, so a slow or failing job never delays the others, and a
// task error or panic is recorded without unscheduling the next run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrJobBusy      = errors.New("job is already running")
	ErrStopping     = errors.New("scheduler is stopping")
)

// Task is the unit of scheduled work. The context is cancelled when the job
// is stopped.
type Task func(ctx context.Context) error

// --------------------------------------------------------------------------
// Schedules
// --------------------------------------------------------------------------

// Schedule computes the next run strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

type every time.Duration

// Every fires at a fixed interval measured from the previous fire.
func Every(d time.Duration) Schedule { return every(d) }

func (e every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }
func (e every) String() string                 { return "every " + time.Duration(e).String() }

type cronSchedule struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

// Cron fires on a standard five-field cron expression ("0 2 * * *"),
// evaluated in loc (UTC when nil).
func Cron(expr string, loc *time.Location) (Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return cronSchedule{expr: expr, sched: sched, loc: loc}, nil
}

func (c cronSchedule) Next(after time.Time) time.Time { return c.sched.Next(after.In(c.loc)) }
func (c cronSchedule) String() string                 { return fmt.Sprintf("cron %q %s", c.expr, c.loc) }

type daily struct {
	cronSchedule
	hour, minute int
}

// DailyAt fires once a day at hour:minute in loc (UTC when nil). It panics
// when hour or minute is out of range.
func DailyAt(hour, minute int, loc *time.Location) Schedule {
	c, err := Cron(fmt.Sprintf("%d %d * * *", minute, hour), loc)
	if err != nil {
		panic(fmt.Sprintf("scheduler: DailyAt(%d, %d): %v", hour, minute, err))
	}
	return daily{cronSchedule: c.(cronSchedule), hour: hour, minute: minute}
}

func (d daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", d.hour, d.minute, d.loc)
}

// --------------------------------------------------------------------------
// Jobs
// --------------------------------------------------------------------------

// Job is a handle to one registered task.
type Job struct {
	name     string
	schedule Schedule
	task     Task

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	active   bool
	runs     int
	failures int
	lastRun  time.Time
	lastDur  time.Duration
	nextRun  time.Time
	lastErr  error
}

// Name returns the job's registered name.
func (j *Job) Name() string { return j.name }

// Status is a point-in-time view of a job.
type Status struct {
	Name         string     `json:"name"`
	Schedule     string     `json:"schedule"`
	Running      bool       `json:"running"`
	Executing    bool       `json:"executing"`
	Runs         int        `json:"runs"`
	Failures     int        `json:"failures"`
	LastRun      *time.Time `json:"lastRun,omitempty"`
	LastDuration string     `json:"lastDuration,omitempty"`
	NextRun      *time.Time `json:"nextRun,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

func (j *Job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{
		Name:      j.name,
		Schedule:  j.schedule.String(),
		Running:   j.cancel != nil,
		Executing: j.active,
		Runs:      j.runs,
		Failures:  j.failures,
	}
	if !j.lastRun.IsZero() {
		t := j.lastRun
		st.LastRun = &t
		st.LastDuration = j.lastDur.Round(time.Millisecond).String()
	}
	if j.cancel != nil && !j.nextRun.IsZero() {
		t := j.nextRun
		st.NextRun = &t
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// Scheduler owns a set of named jobs.
type Scheduler struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	jobs     map[string]*Job
	wg       sync.WaitGroup
	stopping bool
	base     context.Context // cancelled by StopAll; bounds manual runs
	cancel   context.CancelFunc
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*Job),
		base:   base,
		cancel: cancel,
	}
}

// Add registers a stopped job.
func (s *Scheduler) Add(name string, schedule Schedule, task Task) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	j := &Job{name: name, schedule: schedule, task: task}
	s.jobs[name] = j
	return j, nil
}

func (s *Scheduler) job(name string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j, nil
}

// Start begins scheduling a job. Starting a running job is a no-op.
func (s *Scheduler) Start(name string) error {
	j, err := s.job(name)
	if err != nil {
		return err
	}
	s.start(j)
	return nil
}

func (s *Scheduler) start(j *Job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	j.nextRun = j.schedule.Next(s.now())

	s.wg.Add(1)
	go s.runLoop(ctx, j, j.done)
	s.logger.Info("Job scheduled", "job", j.name, "schedule", j.schedule.String(), "next_run", j.nextRun)
}

// Stop cancels a job's schedule and waits for an in-progress run to return.
func (s *Scheduler) Stop(name string) error {
	j, err := s.job(name)
	if err != nil {
		return err
	}
	s.stop(j)
	return nil
}

func (s *Scheduler) stop(j *Job) {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Job stopped", "job", j.name)
}

// Remove stops and unregisters a job.
func (s *Scheduler) Remove(name string) error {
	j, err := s.job(name)
	if err != nil {
		return err
	}
	s.stop(j)
	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
	return nil
}

// StartAll starts every registered job. It also re-opens a scheduler that
// was stopped with StopAll.
func (s *Scheduler) StartAll() {
	s.mu.Lock()
	if s.stopping {
		s.stopping = false
		s.base, s.cancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()
	for _, j := range s.snapshot() {
		s.start(j)
	}
}

// StopAll stops every job, cancels manual runs and blocks until all running
// tasks have returned. Trigger fails with ErrStopping from here on.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.stopping = true
	s.cancel()
	s.mu.Unlock()

	for _, j := range s.snapshot() {
		s.stop(j)
	}
	s.wg.Wait()
}

// Trigger runs a job once, synchronously, outside its schedule. It returns
// ErrJobBusy when the job is executing already and ErrStopping once StopAll
// has begun. The run is cancelled when ctx ends or the scheduler stops.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrStopping
	}
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.wg.Add(1)
	base := s.base
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(base, cancel)
	defer stop()

	return s.execute(ctx, j, "manual")
}

// Status reports every job, sorted by name.
func (s *Scheduler) Status() []Status {
	jobs := s.snapshot()
	out := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.status())
	}
	return out
}

// JobStatus reports a single job.
func (s *Scheduler) JobStatus(name string) (Status, error) {
	j, err := s.job(name)
	if err != nil {
		return Status{}, err
	}
	return j.status(), nil
}

func (s *Scheduler) snapshot() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].name < out[b].name })
	return out
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

func (s *Scheduler) runLoop(ctx context.Context, j *Job, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	for {
		j.mu.Lock()
		next := j.nextRun
		j.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.execute(ctx, j, "schedule"); errors.Is(err, ErrJobBusy) {
			s.logger.Warn("Skipping scheduled run, previous run still active", "job", j.name)
		}

		j.mu.Lock()
		j.nextRun = j.schedule.Next(s.now())
		j.mu.Unlock()
	}
}

func (s *Scheduler) execute(ctx context.Context, j *Job, trigger string) (err error) {
	j.mu.Lock()
	if j.active {
		j.mu.Unlock()
		return ErrJobBusy
	}
	j.active = true
	j.mu.Unlock()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		dur := time.Since(start)

		j.mu.Lock()
		j.active = false
		j.runs++
		j.lastRun = start
		j.lastDur = dur
		j.lastErr = err
		if err != nil {
			j.failures++
		}
		j.mu.Unlock()

		if err != nil {
			s.logger.Error("Job failed", "job", j.name, "trigger", trigger, "duration", dur.Round(time.Millisecond), "error", err)
			return
		}
		s.logger.Info("Job finished", "job", j.name, "trigger", trigger, "duration", dur.Round(time.Millisecond))
	}()

	return j.task(ctx)
}
