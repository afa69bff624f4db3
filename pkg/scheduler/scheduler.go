// Package scheduler runs workflows on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrDuplicateID     = errors.New("schedule already registered")
)

// Schedule runs WorkflowID whenever CronExpr fires. CronExpr accepts the
// standard five fields and descriptors such as "@hourly" or "@every 5m".
type Schedule struct {
	ID         string
	WorkflowID string
	CronExpr   string
}

// ParseSchedule parses "workflowId=cron expression". The schedule id is the
// workflow id.
func ParseSchedule(spec string) (Schedule, error) {
	workflowID, expr, ok := strings.Cut(spec, "=")
	workflowID = strings.TrimSpace(workflowID)
	expr = strings.TrimSpace(expr)

	if !ok || workflowID == "" || expr == "" {
		return Schedule{}, fmt.Errorf("%w: %q, expected workflowId=cron", ErrInvalidSchedule, spec)
	}

	schedule := Schedule{ID: workflowID, WorkflowID: workflowID, CronExpr: expr}

	return schedule, schedule.Validate()
}

func (s Schedule) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSchedule)
	}

	if s.WorkflowID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidSchedule)
	}

	if _, err := cron.ParseStandard(s.CronExpr); err != nil {
		return fmt.Errorf("%w: cron expression %q: %w", ErrInvalidSchedule, s.CronExpr, err)
	}

	return nil
}

// Callback is invoked each time a schedule fires. firedAt is in UTC.
type Callback func(ctx context.Context, schedule Schedule, firedAt time.Time) error

// Scheduler owns one cron runner. A run that is still going when its
// schedule fires again is skipped.
type Scheduler struct {
	cron     *cron.Cron
	callback Callback
	logger   *slog.Logger

	mu      sync.Mutex
	ids     map[string]cron.EntryID
	ctx     context.Context
	started bool
}

func New(logger *slog.Logger, callback Callback) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		callback: callback,
		logger:   logger,
		ids:      make(map[string]cron.EntryID),
		ctx:      context.Background(),
	}
}

// Add registers a schedule. Schedules may be added before or after Start.
func (s *Scheduler) Add(schedule Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[schedule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, schedule.ID)
	}

	id, err := s.cron.AddFunc(schedule.CronExpr, func() { s.run(schedule) })
	if err != nil {
		return fmt.Errorf("failed to add cron job for schedule %s: %w", schedule.ID, err)
	}

	s.ids[schedule.ID] = id

	s.logger.Info("Schedule added", "schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID, "cron", schedule.CronExpr)

	return nil
}

// Remove unregisters a schedule; unknown ids are ignored.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.ids[id]; ok {
		s.cron.Remove(entry)
		delete(s.ids, id)
	}
}

// Next returns when a schedule fires next. It is zero before Start.
func (s *Scheduler) Next(id string) time.Time {
	s.mu.Lock()
	entry, ok := s.ids[id]
	s.mu.Unlock()

	if !ok {
		return time.Time{}
	}

	return s.cron.Entry(entry).Next
}

// Start begins firing schedules. Callbacks receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	s.ctx = ctx
	s.started = true
	s.cron.Start()

	s.logger.InfoContext(ctx, "Scheduler started", "schedules", len(s.ids))
}

// Stop stops firing and waits for running callbacks or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return nil
	}

	s.logger.InfoContext(ctx, "Stopping scheduler")

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(schedule Schedule) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	firedAt := time.Now().UTC()
	logger := s.logger.With("schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID)

	logger.InfoContext(ctx, "Schedule fired")

	if err := s.callback(ctx, schedule, firedAt); err != nil {
		logger.ErrorContext(ctx, "Scheduled execution failed", "error", err)
	}
}
