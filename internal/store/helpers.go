package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil for a zero ID so optional foreign keys stay NULL.
func nilIfZero(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

// nilIfNil dereferences an optional ID.
func nilIfNil(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

// rebind rewrites '?' placeholders to PostgreSQL's positional '$n' form.
// Queries never contain literal question marks.
func rebind(dialect, query string) string {
	if dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// persistErr wraps err so callers can match models.ErrPersistence.
func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrPersistence, op, err)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, phone_number, role, name, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var role, name sql.NullString
	if err := row.Scan(&u.ID, &u.Phone, &role, &name, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = models.ParseRole(role.String)
	u.Name = name.String
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

const turnColumns = `id, user_id, input, output, continuation_token, agent_type, created_at`

func scanTurn(row rowScanner) (*models.ConversationTurn, error) {
	var t models.ConversationTurn
	var token sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &t.Input, &t.Output, &token, &t.AgentType, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.ContinuationToken = token.String
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

const workflowColumns = `id, user_id, kind, scheduled_at, completed, created_at`

func scanWorkflow(row rowScanner) (models.WorkflowEntry, error) {
	var e models.WorkflowEntry
	var kind string
	if err := row.Scan(&e.ID, &e.UserID, &kind, &e.ScheduledAt, &e.Completed, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Kind = models.WorkflowKind(kind)
	e.ScheduledAt = e.ScheduledAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

const patientColumns = `id, user_id, medical_condition, treatment_goals, physiotherapist_id`

func scanPatient(row rowScanner, extra ...any) (*models.PatientProfile, error) {
	var p models.PatientProfile
	var condition, goals sql.NullString
	var physio sql.NullInt64
	dest := append([]any{&p.ID, &p.UserID, &condition, &goals, &physio}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.Condition = condition.String
	p.TreatmentGoals = goals.String
	if physio.Valid {
		id := physio.Int64
		p.PhysiotherapistID = &id
	}
	return &p, nil
}

const physioColumns = `id, user_id, license_number, specialization`

func scanPhysio(row rowScanner) (*models.PhysiotherapistProfile, error) {
	var p models.PhysiotherapistProfile
	var license, spec sql.NullString
	if err := row.Scan(&p.ID, &p.UserID, &license, &spec); err != nil {
		return nil, err
	}
	p.LicenseNumber = license.String
	p.Specialization = spec.String
	return &p, nil
}

const appointmentColumns = `id, patient_id, physiotherapist_id, scheduled_at, status, notes`

func scanAppointment(row rowScanner) (models.Appointment, error) {
	var a models.Appointment
	var physio sql.NullInt64
	var status string
	var notes sql.NullString
	if err := row.Scan(&a.ID, &a.PatientID, &physio, &a.ScheduledAt, &status, &notes); err != nil {
		return a, err
	}
	a.PhysiotherapistID = physio.Int64
	a.Status = models.AppointmentStatus(status)
	a.Notes = notes.String
	a.ScheduledAt = a.ScheduledAt.UTC()
	return a, nil
}

const exerciseLogColumns = `id, patient_id, exercise_name, sets, reps, pain_level, notes, logged_at`

func scanExerciseLog(row rowScanner) (models.ExerciseLog, error) {
	var l models.ExerciseLog
	var notes sql.NullString
	if err := row.Scan(&l.ID, &l.PatientID, &l.ExerciseName, &l.Sets, &l.Reps, &l.PainLevel, &notes, &l.LoggedAt); err != nil {
		return l, err
	}
	l.Notes = notes.String
	l.LoggedAt = l.LoggedAt.UTC()
	return l, nil
}
