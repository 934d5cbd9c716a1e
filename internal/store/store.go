// Package store provides storage backends for PhysioPipe.
//
// It includes an in-memory store for tests and DSN-less runs, and SQLite and
// PostgreSQL stores sharing one SQL implementation. Every failure returned by
// a store wraps models.ErrPersistence.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

// UserRepo persists users and their assign-once role.
type UserRepo interface {
	// GetOrCreateUser returns the user for phone, creating it on first
	// contact. created reports whether a new row was inserted.
	GetOrCreateUser(ctx context.Context, phone string) (user *models.User, created bool, err error)

	// GetUserByPhone returns nil, nil when no user has that phone.
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)

	// SetUserRole assigns role only if the user has none yet. It returns
	// false when a role was already present.
	SetUserRole(ctx context.Context, userID int64, role models.Role) (bool, error)
}

// ConversationRepo persists conversation turns.
type ConversationRepo interface {
	AddTurn(ctx context.Context, turn models.ConversationTurn) (int64, error)

	// LatestTurn returns the most recent turn for a user, or nil, nil.
	LatestTurn(ctx context.Context, userID int64) (*models.ConversationTurn, error)
}

// WorkflowRepo persists scheduled workflow entries.
type WorkflowRepo interface {
	// ScheduleWorkflows inserts entries in one transaction. Entries matching
	// an existing (user, kind, scheduled time) are skipped; the number of
	// inserted entries is returned.
	ScheduleWorkflows(ctx context.Context, entries []models.WorkflowEntry) (int, error)

	// ClaimDueWorkflows marks every pending entry with scheduled_at <= now as
	// completed and returns them, in the same transaction as the read.
	ClaimDueWorkflows(ctx context.Context, now time.Time) ([]models.DueWorkflow, error)

	ListWorkflows(ctx context.Context, userID int64) ([]models.WorkflowEntry, error)
}

// ProfileRepo persists the role-specific domain profiles.
type ProfileRepo interface {
	// GetPatientProfile returns nil, nil when the user has no patient profile.
	GetPatientProfile(ctx context.Context, userID int64) (*models.PatientProfile, error)
	// SavePatientProfile inserts or replaces the profile keyed by UserID.
	SavePatientProfile(ctx context.Context, p models.PatientProfile) (*models.PatientProfile, error)

	GetPhysiotherapistProfile(ctx context.Context, userID int64) (*models.PhysiotherapistProfile, error)
	SavePhysiotherapistProfile(ctx context.Context, p models.PhysiotherapistProfile) (*models.PhysiotherapistProfile, error)

	// ListCaseload returns the patients linked to a physiotherapist profile.
	ListCaseload(ctx context.Context, physiotherapistID int64) ([]models.CaseloadPatient, error)
}

// CareRepo persists appointments and exercise logs.
type CareRepo interface {
	AddAppointment(ctx context.Context, a models.Appointment) (int64, error)
	// UpcomingAppointments returns scheduled appointments at or after q.From,
	// earliest first.
	UpcomingAppointments(ctx context.Context, q AppointmentQuery) ([]models.Appointment, error)

	AddExerciseLog(ctx context.Context, l models.ExerciseLog) (int64, error)
	// ListExerciseLogs returns matching logs, most recent first.
	ListExerciseLogs(ctx context.Context, q ExerciseLogQuery) ([]models.ExerciseLog, error)
}

// Store is the full persistence contract used by PhysioPipe.
type Store interface {
	UserRepo
	ConversationRepo
	WorkflowRepo
	ProfileRepo
	CareRepo
	Close() error
}

// AppointmentQuery filters appointments. Zero IDs do not filter.
type AppointmentQuery struct {
	PatientID         int64
	PhysiotherapistID int64
	From              time.Time
	Limit             int
}

// ExerciseLogQuery filters exercise logs. An empty PatientIDs matches nothing.
type ExerciseLogQuery struct {
	PatientIDs []int64
	Since      time.Time
	Limit      int
}

// Opts holds configuration options for the SQL stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for the SQL stores.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// libpq key=value form
	for _, key := range []string{"host=", "dbname=", "user="} {
		if strings.Contains(dsn, key) {
			return "postgres"
		}
	}
	return "sqlite3"
}

// New opens the store matching dsn. An empty dsn yields an in-memory store.
func New(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case DetectDSNType(dsn) == "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}
