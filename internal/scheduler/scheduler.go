package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/internal/store"
	"github.com/rendis/agentwave/pkg/schema"
)

// DefaultInterval is how often the store is polled for due schedules.
const DefaultInterval = 60 * time.Second

// Run statuses recorded on a schedule.
const (
	StatusSuccess = "success"
	StatusPartial = "partial" // some agents failed or were skipped
	StatusAborted = "aborted"
	StatusError   = "error"
)

// TemplateRunner runs a stored template. Satisfied by service.Service.
type TemplateRunner interface {
	RunTemplate(ctx context.Context, name string, version int, vars map[string]any) (*engine.RunResult, error)
}

// Scheduler polls the store for due schedules and runs their templates.
type Scheduler struct {
	store    store.ScheduleStore
	runner   TemplateRunner
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a Scheduler. A non-positive interval uses DefaultInterval.
func New(s store.ScheduleStore, runner TemplateRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: interval,
		logger:   logger.With("component", "scheduler"),
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// Add validates cronExpr and stores an enabled schedule whose first run is
// the next cron tick.
func (s *Scheduler) Add(ctx context.Context, templateName string, version int, cronExpr string, session map[string]any) (*store.Schedule, error) {
	if templateName == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "schedule needs a template name")
	}
	next, err := s.NextRun(cronExpr, s.now())
	if err != nil {
		return nil, err
	}
	sch := &store.Schedule{
		ID:              uuid.NewString(),
		TemplateName:    templateName,
		TemplateVersion: version,
		CronExpression:  cronExpr,
		Session:         session,
		Enabled:         true,
		NextRunAt:       &next,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		return nil, err
	}
	return sch, nil
}

// Start launches the polling loop. It runs one tick immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every enabled schedule whose next run is due. Schedules already
// running are skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list schedules", "error", err)
		return
	}

	now := s.now()
	for _, sch := range schedules {
		if sch.NextRunAt != nil && sch.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sch.ID) {
			continue
		}
		if err := s.run(ctx, sch, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to run schedule", "schedule_id", sch.ID, "error", err)
		}
		s.release(sch.ID)
	}
}

func (s *Scheduler) run(ctx context.Context, sch *store.Schedule, now time.Time) error {
	s.logger.InfoContext(ctx, "running schedule", "schedule_id", sch.ID, "template", sch.TemplateName)

	res, err := s.runner.RunTemplate(ctx, sch.TemplateName, sch.TemplateVersion, sch.Session)
	status := runStatus(res, err)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled run failed", "schedule_id", sch.ID, "status", status, "error", err)
	}

	next, nerr := s.NextRun(sch.CronExpression, now)
	if nerr != nil {
		return nerr
	}
	return s.store.UpdateSchedule(ctx, sch.ID, store.ScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
	})
}

func runStatus(res *engine.RunResult, err error) string {
	switch {
	case res != nil && res.Status == schema.RunStatusAborted:
		return StatusAborted
	case err != nil:
		return StatusError
	case res != nil && (len(res.FailedAgents) > 0 || len(res.SkippedAgents) > 0):
		return StatusPartial
	default:
		return StatusSuccess
	}
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// NextRun returns the first tick of cronExpr after from.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return sched.Next(from), nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
	return nil
}
