package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps everything in process memory. It is safe for
// concurrent use and is used in tests and when no database is configured.
type InMemoryStore struct {
	mu sync.Mutex

	nextID   int64
	users    map[int64]*models.User
	phones   map[string]int64
	turns    []models.ConversationTurn
	entries  []models.WorkflowEntry
	patients map[int64]*models.PatientProfile         // keyed by user ID
	physios  map[int64]*models.PhysiotherapistProfile // keyed by user ID
	appts    []models.Appointment
	logs     []models.ExerciseLog
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[int64]*models.User),
		phones:   make(map[string]int64),
		patients: make(map[int64]*models.PatientProfile),
		physios:  make(map[int64]*models.PhysiotherapistProfile),
	}
}

func (s *InMemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore) GetOrCreateUser(ctx context.Context, phone string) (*models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.phones[phone]; ok {
		u := *s.users[id]
		return &u, false, nil
	}
	u := &models.User{ID: s.id(), Phone: phone, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	s.phones[phone] = u.ID
	cp := *u
	return &cp, true, nil
}

func (s *InMemoryStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.phones[phone]
	if !ok {
		return nil, nil
	}
	u := *s.users[id]
	return &u, nil
}

func (s *InMemoryStore) SetUserRole(ctx context.Context, userID int64, role models.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.HasRole() {
		return false, nil
	}
	u.Role = role
	return true, nil
}

func (s *InMemoryStore) AddTurn(ctx context.Context, turn models.ConversationTurn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn.ID = s.id()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns = append(s.turns, turn)
	return turn.ID, nil
}

func (s *InMemoryStore) LatestTurn(ctx context.Context, userID int64) (*models.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.ConversationTurn
	for i := range s.turns {
		t := s.turns[i]
		if t.UserID != userID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) ||
			(t.CreatedAt.Equal(latest.CreatedAt) && t.ID > latest.ID) {
			latest = &t
		}
	}
	return latest, nil
}

func (s *InMemoryStore) ScheduleWorkflows(ctx context.Context, entries []models.WorkflowEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, e := range entries {
		if s.hasWorkflow(e) {
			continue
		}
		e.ID = s.id()
		e.Completed = false
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		s.entries = append(s.entries, e)
		inserted++
	}
	return inserted, nil
}

func (s *InMemoryStore) hasWorkflow(e models.WorkflowEntry) bool {
	for _, existing := range s.entries {
		if existing.UserID == e.UserID && existing.Kind == e.Kind && existing.ScheduledAt.Equal(e.ScheduledAt) {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) ClaimDueWorkflows(ctx context.Context, now time.Time) ([]models.DueWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.DueWorkflow
	for i := range s.entries {
		e := &s.entries[i]
		if e.Completed || e.ScheduledAt.After(now) {
			continue
		}
		e.Completed = true
		d := models.DueWorkflow{WorkflowEntry: *e}
		if u, ok := s.users[e.UserID]; ok {
			d.Phone = u.Phone
		}
		due = append(due, d)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due, nil
}

func (s *InMemoryStore) ListWorkflows(ctx context.Context, userID int64) ([]models.WorkflowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WorkflowEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, nil
}

func (s *InMemoryStore) GetPatientProfile(ctx context.Context, userID int64) (*models.PatientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) SavePatientProfile(ctx context.Context, p models.PatientProfile) (*models.PatientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.patients[p.UserID]; ok {
		p.ID = existing.ID
	} else {
		p.ID = s.id()
	}
	s.patients[p.UserID] = &p
	cp := p
	return &cp, nil
}

func (s *InMemoryStore) GetPhysiotherapistProfile(ctx context.Context, userID int64) (*models.PhysiotherapistProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.physios[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) SavePhysiotherapistProfile(ctx context.Context, p models.PhysiotherapistProfile) (*models.PhysiotherapistProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.physios[p.UserID]; ok {
		p.ID = existing.ID
	} else {
		p.ID = s.id()
	}
	s.physios[p.UserID] = &p
	cp := p
	return &cp, nil
}

func (s *InMemoryStore) ListCaseload(ctx context.Context, physiotherapistID int64) ([]models.CaseloadPatient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CaseloadPatient
	for _, p := range s.patients {
		if p.PhysiotherapistID == nil || *p.PhysiotherapistID != physiotherapistID {
			continue
		}
		c := models.CaseloadPatient{PatientProfile: *p}
		if u, ok := s.users[p.UserID]; ok {
			c.Phone = u.Phone
			c.Name = u.Name
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) AddAppointment(ctx context.Context, a models.Appointment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	if a.Status == "" {
		a.Status = models.AppointmentScheduled
	}
	s.appts = append(s.appts, a)
	return a.ID, nil
}

func (s *InMemoryStore) UpcomingAppointments(ctx context.Context, q AppointmentQuery) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Appointment
	for _, a := range s.appts {
		if a.Status != models.AppointmentScheduled || a.ScheduledAt.Before(q.From) {
			continue
		}
		if q.PatientID != 0 && a.PatientID != q.PatientID {
			continue
		}
		if q.PhysiotherapistID != 0 && a.PhysiotherapistID != q.PhysiotherapistID {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) AddExerciseLog(ctx context.Context, l models.ExerciseLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.id()
	if l.LoggedAt.IsZero() {
		l.LoggedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, l)
	return l.ID, nil
}

func (s *InMemoryStore) ListExerciseLogs(ctx context.Context, q ExerciseLogQuery) ([]models.ExerciseLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]bool, len(q.PatientIDs))
	for _, id := range q.PatientIDs {
		wanted[id] = true
	}
	var out []models.ExerciseLog
	for _, l := range s.logs {
		if !wanted[l.PatientID] || l.LoggedAt.Before(q.Since) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LoggedAt.Equal(out[j].LoggedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LoggedAt.After(out[j].LoggedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
