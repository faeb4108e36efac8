package risk

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// JobFunc is a scheduled unit of work.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule string
	fn       JobFunc
	running  atomic.Bool
}

// Scheduler runs batch jobs on cron schedules. A run that is still in
// progress when its next tick fires (or when RunNow is called) is skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler. Schedules use the six-field format with
// seconds. timeout bounds each run; zero means 30 minutes.
func NewScheduler(timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	log := zap.L().With(zap.String("component", "risk.scheduler"))
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{log})),
		timeout: timeout,
		log:     log,
		jobs:    make(map[string]*job),
	}
}

// Add registers a job. An empty schedule registers it for RunNow only.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return eris.Errorf("risk: job %q already registered", name)
	}
	j := &job{name: name, schedule: schedule, fn: fn}
	if schedule != "" {
		if _, err := s.cron.AddFunc(schedule, func() { s.run(j) }); err != nil {
			return eris.Wrapf(err, "risk: schedule job %q", name)
		}
	}
	s.jobs[name] = j
	return nil
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Strings("jobs", s.Jobs()))
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunNow triggers a job in the background. Returns false when the job is
// unknown or already running.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if j.running.Load() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(j)
	}()
	return true
}

func (s *Scheduler) run(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		jobRuns.WithLabelValues(j.name, "skipped").Inc()
		s.log.Info("job still running, skipping", zap.String("job", j.name))
		return
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	s.log.Info("job started", zap.String("job", j.name))
	if err := j.fn(ctx); err != nil {
		jobRuns.WithLabelValues(j.name, "error").Inc()
		s.log.Error("job failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	jobRuns.WithLabelValues(j.name, "ok").Inc()
	s.log.Info("job finished", zap.String("job", j.name), zap.Duration("elapsed", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
