package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

const (
	dialectSQLite   = "sqlite3"
	dialectPostgres = "postgres"
)

// sqlStore implements Store over database/sql. SQLiteStore and PostgresStore
// embed it and differ only in connection setup and placeholder style.
type sqlStore struct {
	db      *sql.DB
	dialect string
	name    string // used as the log prefix
}

func (s *sqlStore) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *sqlStore) GetOrCreateUser(ctx context.Context, phone string) (*models.User, bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO users (phone_number, created_at) VALUES (?, ?) ON CONFLICT (phone_number) DO NOTHING`),
		phone, time.Now().UTC())
	if err != nil {
		slog.Error(s.name+".GetOrCreateUser: insert failed", "error", err, "phone", phone)
		return nil, false, persistErr("insert user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, persistErr("insert user", err)
	}
	u, err := s.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if u == nil {
		return nil, false, persistErr("load user", models.ErrNotFound)
	}
	if n > 0 {
		slog.Debug(s.name+".GetOrCreateUser: created user", "userID", u.ID, "phone", phone)
	}
	return u, n > 0, nil
}

func (s *sqlStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE phone_number = ?`), phone)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetUserByPhone: query failed", "error", err, "phone", phone)
		return nil, persistErr("load user", err)
	}
	return u, nil
}

func (s *sqlStore) SetUserRole(ctx context.Context, userID int64, role models.Role) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET role = ? WHERE id = ? AND role IS NULL`), string(role), userID)
	if err != nil {
		slog.Error(s.name+".SetUserRole: update failed", "error", err, "userID", userID)
		return false, persistErr("set role", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("set role", err)
	}
	slog.Debug(s.name+".SetUserRole", "userID", userID, "role", role, "assigned", n > 0)
	return n > 0, nil
}

func (s *sqlStore) AddTurn(ctx context.Context, turn models.ConversationTurn) (int64, error) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO conversation_turns (user_id, input, output, continuation_token, agent_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		turn.UserID, turn.Input, turn.Output, nilIfEmpty(turn.ContinuationToken), turn.AgentType, turn.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		slog.Error(s.name+".AddTurn: insert failed", "error", err, "userID", turn.UserID)
		return 0, persistErr("insert turn", err)
	}
	return id, nil
}

func (s *sqlStore) LatestTurn(ctx context.Context, userID int64) (*models.ConversationTurn, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+turnColumns+` FROM conversation_turns WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`),
		userID)
	t, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".LatestTurn: query failed", "error", err, "userID", userID)
		return nil, persistErr("load latest turn", err)
	}
	return t, nil
}

func (s *sqlStore) ScheduleWorkflows(ctx context.Context, entries []models.WorkflowEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("begin schedule", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inserted := 0
	for _, e := range entries {
		res, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO workflow_entries (user_id, kind, scheduled_at, completed, created_at)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT (user_id, kind, scheduled_at) DO NOTHING`),
			e.UserID, string(e.Kind), e.ScheduledAt.UTC(), false, now)
		if err != nil {
			slog.Error(s.name+".ScheduleWorkflows: insert failed", "error", err, "userID", e.UserID, "kind", e.Kind)
			return 0, persistErr("insert workflow", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, persistErr("insert workflow", err)
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, persistErr("commit schedule", err)
	}
	slog.Debug(s.name+".ScheduleWorkflows", "requested", len(entries), "inserted", inserted)
	return inserted, nil
}

func (s *sqlStore) ClaimDueWorkflows(ctx context.Context, now time.Time) ([]models.DueWorkflow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin claim", err)
	}
	defer tx.Rollback()

	query := `SELECT w.id, w.user_id, w.kind, w.scheduled_at, w.completed, w.created_at, COALESCE(u.phone_number, '')
		 FROM workflow_entries w LEFT JOIN users u ON u.id = w.user_id
		 WHERE w.completed = ? AND w.scheduled_at <= ?
		 ORDER BY w.scheduled_at, w.id`
	if s.dialect == dialectPostgres {
		query += ` FOR UPDATE OF w SKIP LOCKED`
	}
	rows, err := tx.QueryContext(ctx, s.q(query), false, now.UTC())
	if err != nil {
		slog.Error(s.name+".ClaimDueWorkflows: query failed", "error", err)
		return nil, persistErr("query due workflows", err)
	}
	var due []models.DueWorkflow
	for rows.Next() {
		var d models.DueWorkflow
		var kind string
		if err := rows.Scan(&d.ID, &d.UserID, &kind, &d.ScheduledAt, &d.Completed, &d.CreatedAt, &d.Phone); err != nil {
			rows.Close()
			return nil, persistErr("scan due workflow", err)
		}
		d.Kind = models.WorkflowKind(kind)
		d.ScheduledAt = d.ScheduledAt.UTC()
		d.CreatedAt = d.CreatedAt.UTC()
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, persistErr("iterate due workflows", err)
	}
	rows.Close()

	claimed := due[:0]
	for _, d := range due {
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE workflow_entries SET completed = ?, completed_at = ? WHERE id = ? AND completed = ?`),
			true, now.UTC(), d.ID, false)
		if err != nil {
			slog.Error(s.name+".ClaimDueWorkflows: mark completed failed", "error", err, "id", d.ID)
			return nil, persistErr("complete workflow", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		d.Completed = true
		claimed = append(claimed, d)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit claim", err)
	}
	slog.Debug(s.name+".ClaimDueWorkflows", "claimed", len(claimed))
	return claimed, nil
}

func (s *sqlStore) ListWorkflows(ctx context.Context, userID int64) ([]models.WorkflowEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+workflowColumns+` FROM workflow_entries WHERE user_id = ? ORDER BY scheduled_at, id`), userID)
	if err != nil {
		return nil, persistErr("query workflows", err)
	}
	defer rows.Close()
	var out []models.WorkflowEntry
	for rows.Next() {
		e, err := scanWorkflow(rows)
		if err != nil {
			return nil, persistErr("scan workflow", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate workflows", err)
	}
	return out, nil
}

func (s *sqlStore) GetPatientProfile(ctx context.Context, userID int64) (*models.PatientProfile, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+patientColumns+` FROM patient_profiles WHERE user_id = ?`), userID)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("load patient profile", err)
	}
	return p, nil
}

func (s *sqlStore) SavePatientProfile(ctx context.Context, p models.PatientProfile) (*models.PatientProfile, error) {
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO patient_profiles (user_id, medical_condition, treatment_goals, physiotherapist_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   medical_condition = excluded.medical_condition,
		   treatment_goals = excluded.treatment_goals,
		   physiotherapist_id = excluded.physiotherapist_id
		 RETURNING id`),
		p.UserID, nilIfEmpty(p.Condition), nilIfEmpty(p.TreatmentGoals), nilIfNil(p.PhysiotherapistID),
	).Scan(&p.ID)
	if err != nil {
		slog.Error(s.name+".SavePatientProfile: upsert failed", "error", err, "userID", p.UserID)
		return nil, persistErr("save patient profile", err)
	}
	return &p, nil
}

func (s *sqlStore) GetPhysiotherapistProfile(ctx context.Context, userID int64) (*models.PhysiotherapistProfile, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+physioColumns+` FROM physiotherapist_profiles WHERE user_id = ?`), userID)
	p, err := scanPhysio(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("load physiotherapist profile", err)
	}
	return p, nil
}

func (s *sqlStore) SavePhysiotherapistProfile(ctx context.Context, p models.PhysiotherapistProfile) (*models.PhysiotherapistProfile, error) {
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO physiotherapist_profiles (user_id, license_number, specialization)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   license_number = excluded.license_number,
		   specialization = excluded.specialization
		 RETURNING id`),
		p.UserID, nilIfEmpty(p.LicenseNumber), nilIfEmpty(p.Specialization),
	).Scan(&p.ID)
	if err != nil {
		slog.Error(s.name+".SavePhysiotherapistProfile: upsert failed", "error", err, "userID", p.UserID)
		return nil, persistErr("save physiotherapist profile", err)
	}
	return &p, nil
}

func (s *sqlStore) ListCaseload(ctx context.Context, physiotherapistID int64) ([]models.CaseloadPatient, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT p.id, p.user_id, p.medical_condition, p.treatment_goals, p.physiotherapist_id, u.phone_number, u.name
		 FROM patient_profiles p JOIN users u ON u.id = p.user_id
		 WHERE p.physiotherapist_id = ? ORDER BY p.id`), physiotherapistID)
	if err != nil {
		return nil, persistErr("query caseload", err)
	}
	defer rows.Close()
	var out []models.CaseloadPatient
	for rows.Next() {
		var phone string
		var name sql.NullString
		p, err := scanPatient(rows, &phone, &name)
		if err != nil {
			return nil, persistErr("scan caseload", err)
		}
		out = append(out, models.CaseloadPatient{PatientProfile: *p, Phone: phone, Name: name.String})
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate caseload", err)
	}
	return out, nil
}

func (s *sqlStore) AddAppointment(ctx context.Context, a models.Appointment) (int64, error) {
	if a.Status == "" {
		a.Status = models.AppointmentScheduled
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO appointments (patient_id, physiotherapist_id, scheduled_at, status, notes)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		a.PatientID, nilIfZero(a.PhysiotherapistID), a.ScheduledAt.UTC(), string(a.Status), nilIfEmpty(a.Notes),
	).Scan(&id)
	if err != nil {
		slog.Error(s.name+".AddAppointment: insert failed", "error", err, "patientID", a.PatientID)
		return 0, persistErr("insert appointment", err)
	}
	return id, nil
}

func (s *sqlStore) UpcomingAppointments(ctx context.Context, q AppointmentQuery) ([]models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE status = ? AND scheduled_at >= ?`
	args := []any{string(models.AppointmentScheduled), q.From.UTC()}
	if q.PatientID != 0 {
		query += ` AND patient_id = ?`
		args = append(args, q.PatientID)
	}
	if q.PhysiotherapistID != 0 {
		query += ` AND physiotherapist_id = ?`
		args = append(args, q.PhysiotherapistID)
	}
	query += ` ORDER BY scheduled_at, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, persistErr("query appointments", err)
	}
	defer rows.Close()
	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, persistErr("scan appointment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate appointments", err)
	}
	return out, nil
}

func (s *sqlStore) AddExerciseLog(ctx context.Context, l models.ExerciseLog) (int64, error) {
	if l.LoggedAt.IsZero() {
		l.LoggedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO exercise_logs (patient_id, exercise_name, sets, reps, pain_level, notes, logged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		l.PatientID, l.ExerciseName, l.Sets, l.Reps, l.PainLevel, nilIfEmpty(l.Notes), l.LoggedAt.UTC(),
	).Scan(&id)
	if err != nil {
		slog.Error(s.name+".AddExerciseLog: insert failed", "error", err, "patientID", l.PatientID)
		return 0, persistErr("insert exercise log", err)
	}
	return id, nil
}

func (s *sqlStore) ListExerciseLogs(ctx context.Context, q ExerciseLogQuery) ([]models.ExerciseLog, error) {
	if len(q.PatientIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + exerciseLogColumns + ` FROM exercise_logs WHERE patient_id IN (` + placeholders(len(q.PatientIDs)) + `) AND logged_at >= ?`
	args := make([]any, 0, len(q.PatientIDs)+2)
	for _, id := range q.PatientIDs {
		args = append(args, id)
	}
	args = append(args, q.Since.UTC())
	query += ` ORDER BY logged_at DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, persistErr("query exercise logs", err)
	}
	defer rows.Close()
	var out []models.ExerciseLog
	for rows.Next() {
		l, err := scanExerciseLog(rows)
		if err != nil {
			return nil, persistErr("scan exercise log", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate exercise logs", err)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
