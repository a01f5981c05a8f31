// Package scheduler runs the periodic background tasks of the controller on
// a go-quartz scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/reugn/go-quartz/quartz"

	"github.com/kilianp07/hems/core/logger"
	"github.com/kilianp07/hems/core/monitoring"
)

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context) error

// ErrUnknownTask is returned by RunNow for a name never added.
var ErrUnknownTask = errors.New("unknown task")

// Trigger kinds reported by Tasks.
const (
	TypeCron     = "cron"
	TypeInterval = "interval"
)

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Schedule string `json:"schedule"`
}

// Config holds the task schedules. Cron expressions use six fields, the
// first one being seconds.
type Config struct {
	SOCMorningCron  string `json:"soc_morning_cron"`
	SOCEveningCron  string `json:"soc_evening_cron"`
	ForecastCron    string `json:"forecast_cron"`
	PricesCron      string `json:"prices_cron"`
	TaskTimeoutSecs int    `json:"task_timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SOCMorningCron == "" {
		c.SOCMorningCron = "0 0 8 * * *"
	}
	if c.SOCEveningCron == "" {
		c.SOCEveningCron = "0 1 22 * * *"
	}
	if c.ForecastCron == "" {
		c.ForecastCron = "0 0 * * * *"
	}
	if c.PricesCron == "" {
		c.PricesCron = "0 0 * * * *"
	}
	if c.TaskTimeoutSecs == 0 {
		c.TaskTimeoutSecs = 30
	}
}

// Validate parses every cron expression.
func (c Config) Validate() error {
	for name, expr := range map[string]string{
		"soc_morning_cron": c.SOCMorningCron,
		"soc_evening_cron": c.SOCEveningCron,
		"forecast_cron":    c.ForecastCron,
		"prices_cron":      c.PricesCron,
	} {
		if _, err := quartz.NewCronTrigger(expr); err != nil {
			return fmt.Errorf("tasks: %s: %w", name, err)
		}
	}
	if c.TaskTimeoutSecs < 0 {
		return fmt.Errorf("tasks: task_timeout_seconds must not be negative")
	}
	return nil
}

var taskRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hems_task_runs_total",
	Help: "Number of scheduled task executions by outcome",
}, []string{"task", "result"})

func init() {
	prometheus.MustRegister(taskRuns)
}

type entry struct {
	job     *taskJob
	trigger quartz.Trigger
	info    TaskInfo
}

// Scheduler wraps a quartz scheduler. Tasks added before Start are
// scheduled when it starts.
type Scheduler struct {
	sched   quartz.Scheduler
	log     logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending []entry
	tasks   []entry
	byName  map[string]*taskJob
}

// New creates a stopped scheduler. timeout bounds a single task run; zero
// means no bound.
func New(log logger.Logger, timeout time.Duration) (*Scheduler, error) {
	sched, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{sched: sched, log: log, timeout: timeout, byName: make(map[string]*taskJob)}, nil
}

// AddCron runs fn on a cron schedule.
func (s *Scheduler) AddCron(name, expr string, fn TaskFunc) error {
	trigger, err := quartz.NewCronTrigger(expr)
	if err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}
	return s.add(TaskInfo{Name: name, Type: TypeCron, Schedule: expr}, trigger, fn)
}

// AddInterval runs fn every d.
func (s *Scheduler) AddInterval(name string, d time.Duration, fn TaskFunc) error {
	if d <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	return s.add(TaskInfo{Name: name, Type: TypeInterval, Schedule: d.String()}, quartz.NewSimpleTrigger(d), fn)
}

func (s *Scheduler) add(info TaskInfo, trigger quartz.Trigger, fn TaskFunc) error {
	e := entry{
		job:     &taskJob{name: info.Name, fn: fn, log: s.log, timeout: s.timeout},
		trigger: trigger,
		info:    info,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byName[info.Name]; dup {
		return fmt.Errorf("task %s: already added", info.Name)
	}
	if s.sched.IsStarted() {
		if err := s.schedule(e); err != nil {
			return err
		}
	} else {
		s.pending = append(s.pending, e)
	}
	s.tasks = append(s.tasks, e)
	s.byName[info.Name] = e.job
	return nil
}

// Tasks lists the registered tasks in the order they were added.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, len(s.tasks))
	for i, e := range s.tasks {
		out[i] = e.info
	}
	return out
}

func (s *Scheduler) schedule(e entry) error {
	detail := quartz.NewJobDetail(e.job, quartz.NewJobKey(e.job.name))
	if err := s.sched.ScheduleJob(detail, e.trigger); err != nil {
		return fmt.Errorf("schedule %s: %w", e.job.name, err)
	}
	return nil
}

// Start runs the scheduler until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Start(ctx)
	for _, e := range s.pending {
		if err := s.schedule(e); err != nil {
			return err
		}
		s.log.Infof("scheduled task %s (%s)", e.job.name, e.trigger.Description())
	}
	s.pending = nil
	return nil
}

// RunNow executes the task called name once, synchronously, whether or not
// the scheduler is started.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return job.Execute(ctx)
}

// Stop stops the scheduler and waits for running tasks.
func (s *Scheduler) Stop(ctx context.Context) {
	s.sched.Stop()
	s.sched.Wait(ctx)
}

// taskJob adapts a TaskFunc to quartz.Job.
type taskJob struct {
	name    string
	fn      TaskFunc
	log     logger.Logger
	timeout time.Duration
}

func (j *taskJob) Description() string { return j.name }

func (j *taskJob) Execute(ctx context.Context) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			j.log.Errorf("task %s: %v", j.name, err)
			monitoring.CaptureException(err, map[string]string{"module": "scheduler", "task": j.name})
		}
		taskRuns.WithLabelValues(j.name, result).Inc()
	}()
	defer monitoring.RecoverAndLog(func(e error) { err = e })
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	return j.fn(ctx)
}
