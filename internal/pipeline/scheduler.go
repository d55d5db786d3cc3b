package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"csgo-quant/internal/metrics"
)

// Job 一个调度任务
type Job func(ctx context.Context) error

// JobStatus 任务最近一次运行状态
type JobStatus struct {
	Name       string        `json:"name"`
	Pending    bool          `json:"pending"`
	Running    bool          `json:"running"`
	LastStart  time.Time     `json:"last_start,omitempty"`
	LastEnd    time.Time     `json:"last_end,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	LastElapse time.Duration `json:"last_elapsed"`
	Runs       int           `json:"runs"`
}

type registered struct {
	job     Job
	timeout time.Duration
	status  JobStatus
}

// Scheduler 单一有序任务队列，由一个 worker 顺序执行。
// 每种任务只占一个槽位：已在排队或运行中的任务再次触发时直接丢弃。
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*registered
	pending map[string]bool
	queue   chan string
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewScheduler(m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    make(map[string]*registered),
		pending: make(map[string]bool),
		queue:   make(chan string, 32),
		metrics: m,
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
	}
}

// Register 注册任务，timeout 为单次运行上限，0 表示不限
func (s *Scheduler) Register(name string, job Job, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &registered{job: job, timeout: timeout, status: JobStatus{Name: name}}
}

// Trigger 将任务放入队列。任务未注册、已在队列或运行中时返回 false
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; !ok {
		s.logger.Warn("trigger of unknown job", "job", name)
		return false
	}
	if s.pending[name] {
		s.logger.Info("job already queued or running, skipped", "job", name)
		if s.metrics != nil {
			s.metrics.JobsSkipped.WithLabelValues(name).Inc()
		}
		return false
	}
	select {
	case s.queue <- name:
		s.pending[name] = true
		return true
	default:
		s.logger.Warn("job queue full", "job", name)
		if s.metrics != nil {
			s.metrics.JobsSkipped.WithLabelValues(name).Inc()
		}
		return false
	}
}

// Run 顺序执行队列中的任务，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-s.queue:
			s.runOne(ctx, name)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, name string) {
	s.mu.Lock()
	r := s.jobs[name]
	r.status.Running = true
	r.status.LastStart = s.now()
	s.mu.Unlock()

	jctx := ctx
	cancel := func() {}
	if r.timeout > 0 {
		jctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	start := time.Now()
	err := s.safeRun(jctx, name, r.job)
	cancel()
	elapsed := time.Since(start)

	s.mu.Lock()
	r.status.Running = false
	r.status.LastEnd = s.now()
	r.status.LastElapse = elapsed
	r.status.Runs++
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
	delete(s.pending, name)
	s.mu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Error("job failed", "job", name, "elapsed", elapsed, "error", err)
	} else {
		s.logger.Info("job finished", "job", name, "elapsed", elapsed)
	}
	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(name, status).Inc()
		s.metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

func (s *Scheduler) safeRun(ctx context.Context, name string, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
	}()
	return job(ctx)
}

// Status 全部任务状态，按名称排序
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for name, r := range s.jobs {
		st := r.status
		st.Pending = s.pending[name] && !st.Running
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Every 每隔 interval 触发一次，启动时立即触发一次
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration) {
	go func() {
		s.Trigger(name)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Trigger(name)
			}
		}
	}()
}

// DailyAt 每天本地时间 hh:mm 触发
func (s *Scheduler) DailyAt(ctx context.Context, name, at string) error {
	hour, minute, err := ParseClock(at)
	if err != nil {
		return err
	}
	go func() {
		for {
			wait := NextDaily(s.now(), hour, minute).Sub(s.now())
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.Trigger(name)
			}
		}
	}()
	return nil
}

// ParseClock 解析 "HH:MM"
func ParseClock(at string) (int, int, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q: %w", at, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextDaily 严格晚于 now 的下一个 hh:mm
func NextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
