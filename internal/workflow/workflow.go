// Package workflow schedules and fires the proactive notifications sent to
// patients and physiotherapists.
//
// Entries are created when a role is first assigned and fired by Sweep, which
// claims due entries and delivers each kind's notification. An entry moves
// from pending to fired exactly once.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/delivery"
	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/store"
)

// Default local hours for each notification kind.
const (
	DefaultMorningCheckHour     = 9
	DefaultExerciseReminderHour = 18
	DefaultDailySummaryHour     = 8
)

// Notification bodies per kind.
const (
	MorningCheckMessage = "Good morning! How is your pain today on a scale of 1 to 10? " +
		"Reply with a number, or log an exercise like: squats 3x10 pain 4"
	ExerciseReminderMessage = "Time for your exercises! When you're done, log them like: squats 3x10 pain 4"
	DailySummaryMessage     = "Good morning! Reply *progress* for your patients' pain trends over the last 7 days, " +
		"*exercises* for their recent logs or *appointments* for your schedule."
)

// Message returns the notification text for kind.
func Message(kind models.WorkflowKind) (string, bool) {
	switch kind {
	case models.WorkflowMorningCheck:
		return MorningCheckMessage, true
	case models.WorkflowExerciseReminder:
		return ExerciseReminderMessage, true
	case models.WorkflowDailySummary:
		return DailySummaryMessage, true
	default:
		return "", false
	}
}

// Deliverer sends a reply to an address.
type Deliverer interface {
	Deliver(ctx context.Context, to string, raw string) delivery.Report
}

// Opts holds configuration options for the Scheduler.
type Opts struct {
	Location             *time.Location
	MorningCheckHour     int
	ExerciseReminderHour int
	DailySummaryHour     int
}

// Option defines a configuration option for the Scheduler.
type Option func(*Opts)

// WithLocation sets the time zone notification hours are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithHours overrides the local hour of each notification kind.
func WithHours(morningCheck, exerciseReminder, dailySummary int) Option {
	return func(o *Opts) {
		o.MorningCheckHour = morningCheck
		o.ExerciseReminderHour = exerciseReminder
		o.DailySummaryHour = dailySummary
	}
}

// Scheduler creates workflow entries and fires the due ones.
type Scheduler struct {
	repo      store.WorkflowRepo
	deliverer Deliverer
	cfg       Opts

	// sweepMu keeps sweeps sequential within the process.
	sweepMu sync.Mutex
}

// NewScheduler creates a Scheduler persisting to repo and sending through
// deliverer.
func NewScheduler(repo store.WorkflowRepo, deliverer Deliverer, opts ...Option) (*Scheduler, error) {
	cfg := Opts{
		Location:             time.UTC,
		MorningCheckHour:     DefaultMorningCheckHour,
		ExerciseReminderHour: DefaultExerciseReminderHour,
		DailySummaryHour:     DefaultDailySummaryHour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	for name, h := range map[string]int{
		"morning check":     cfg.MorningCheckHour,
		"exercise reminder": cfg.ExerciseReminderHour,
		"daily summary":     cfg.DailySummaryHour,
	} {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid %s hour %d: must be between 0 and 23", name, h)
		}
	}
	return &Scheduler{repo: repo, deliverer: deliverer, cfg: cfg}, nil
}

// EntriesForRole returns the entries a newly assigned role receives, all
// scheduled for the day after now in the configured location.
func (s *Scheduler) EntriesForRole(user models.User, now time.Time) []models.WorkflowEntry {
	local := now.In(s.cfg.Location)
	at := func(hour int) time.Time {
		return time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, s.cfg.Location)
	}
	switch user.Role {
	case models.RolePatient:
		return []models.WorkflowEntry{
			{UserID: user.ID, Kind: models.WorkflowMorningCheck, ScheduledAt: at(s.cfg.MorningCheckHour)},
			{UserID: user.ID, Kind: models.WorkflowExerciseReminder, ScheduledAt: at(s.cfg.ExerciseReminderHour)},
		}
	case models.RolePhysiotherapist:
		return []models.WorkflowEntry{
			{UserID: user.ID, Kind: models.WorkflowDailySummary, ScheduledAt: at(s.cfg.DailySummaryHour)},
		}
	default:
		return nil
	}
}

// ScheduleForRole persists the entries for user's role. Repeating the call on
// the same day creates nothing new.
func (s *Scheduler) ScheduleForRole(ctx context.Context, user models.User, now time.Time) (int, error) {
	entries := s.EntriesForRole(user, now)
	if len(entries) == 0 {
		slog.Debug("Scheduler.ScheduleForRole: nothing to schedule", "userID", user.ID, "role", user.Role)
		return 0, nil
	}
	n, err := s.repo.ScheduleWorkflows(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("schedule workflows for user %d: %w", user.ID, err)
	}
	slog.Info("Scheduler.ScheduleForRole: workflows scheduled", "userID", user.ID, "role", user.Role, "created", n)
	return n, nil
}

// Sweep fires every entry due at now and returns how many notifications were
// dispatched. Entries without a resolvable owner are retired and not counted.
// A failed delivery still retires its entry.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	due, err := s.repo.ClaimDueWorkflows(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("claim due workflows: %w", err)
	}
	if len(due) == 0 {
		slog.Debug("Scheduler.Sweep: nothing due", "now", now)
		return 0, nil
	}

	fired := 0
	for _, d := range due {
		if d.Phone == "" {
			slog.Warn("Scheduler.Sweep: retiring workflow without owner", "workflowID", d.ID, "userID", d.UserID, "kind", d.Kind)
			continue
		}
		body, ok := Message(d.Kind)
		if !ok {
			slog.Warn("Scheduler.Sweep: retiring workflow of unknown kind", "workflowID", d.ID, "kind", d.Kind)
			continue
		}
		report := s.deliverer.Deliver(ctx, d.Phone, body)
		if !report.OK() {
			slog.Error("Scheduler.Sweep: notification delivery failed", "workflowID", d.ID, "userID", d.UserID, "kind", d.Kind, "failed", report.Failed)
		}
		fired++
	}
	slog.Info("Scheduler.Sweep: sweep finished", "claimed", len(due), "fired", fired)
	return fired, nil
}
