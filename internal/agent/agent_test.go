package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/genai"
	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/store"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// newUser creates a user with role in s.
func newUser(t *testing.T, s *store.InMemoryStore, phone string, role models.Role) models.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := s.GetOrCreateUser(ctx, phone)
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if role != "" {
		if _, err := s.SetUserRole(ctx, u.ID, role); err != nil {
			t.Fatalf("SetUserRole: %v", err)
		}
		u.Role = role
	}
	return *u
}

func TestPatientAgent_MissingProfileShortCircuits(t *testing.T) {
	s := store.NewInMemoryStore()
	gen := genai.NewMockClient()
	a := NewPatientAgent(s, gen, WithClock(fixedClock))
	user := newUser(t, s, "15550000001", models.RolePatient)

	for _, text := range []string{"when is my appointment?", "how is my progress?"} {
		reply, err := a.Handle(context.Background(), user, text)
		if err != nil {
			t.Fatalf("Handle(%q): %v", text, err)
		}
		if reply != patientProfilePrompt {
			t.Errorf("Handle(%q) = %q, want the profile setup prompt", text, reply)
		}
	}
	if gen.Calls() != 0 {
		t.Errorf("expected no generation calls, got %d", gen.Calls())
	}
}

func TestPatientAgent_ExerciseLogCreatesProfile(t *testing.T) {
	s := store.NewInMemoryStore()
	a := NewPatientAgent(s, genai.NewMockClient(), WithClock(fixedClock))
	user := newUser(t, s, "15550000002", models.RolePatient)
	ctx := context.Background()

	reply, err := a.Handle(ctx, user, "log squats 3x10 pain 4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Logged *squats*") {
		t.Errorf("unexpected reply %q", reply)
	}

	p, err := s.GetPatientProfile(ctx, user.ID)
	if err != nil || p == nil {
		t.Fatalf("expected a lazily created profile, got %+v err=%v", p, err)
	}
	logs, _ := s.ListExerciseLogs(ctx, store.ExerciseLogQuery{PatientIDs: []int64{p.ID}})
	if len(logs) != 1 || logs[0].PainLevel != 4 || !logs[0].LoggedAt.Equal(testNow) {
		t.Errorf("unexpected stored logs %+v", logs)
	}

	reply, err = a.Handle(ctx, user, "show my exercises")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "squats 3x10, pain 4/10 (10 Mar)") {
		t.Errorf("expected recent log listing, got %q", reply)
	}
}

func TestPatientAgent_RejectsOutOfRangePain(t *testing.T) {
	s := store.NewInMemoryStore()
	a := NewPatientAgent(s, genai.NewMockClient(), WithClock(fixedClock))
	user := newUser(t, s, "15550000003", models.RolePatient)

	reply, err := a.Handle(context.Background(), user, "squats 3x10 pain 11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(reply, "Pain level must be between 1 and 10") {
		t.Errorf("unexpected reply %q", reply)
	}
	if p, _ := s.GetPatientProfile(context.Background(), user.ID); p != nil {
		t.Error("invalid log must not create a profile")
	}
}

func TestPatientAgent_ProgressMean(t *testing.T) {
	s := store.NewInMemoryStore()
	a := NewPatientAgent(s, genai.NewMockClient(), WithClock(fixedClock))
	user := newUser(t, s, "15550000004", models.RolePatient)
	ctx := context.Background()

	p, _ := s.SavePatientProfile(ctx, models.PatientProfile{UserID: user.ID})

	reply, err := a.Handle(ctx, user, "how is my progress?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(reply, "You haven't logged any exercises in the last 7 days") {
		t.Errorf("empty window should give the qualitative prompt, got %q", reply)
	}

	for _, l := range []models.ExerciseLog{
		{PatientID: p.ID, ExerciseName: "bridges", PainLevel: 7, LoggedAt: testNow.Add(-24 * time.Hour)},
		{PatientID: p.ID, ExerciseName: "bridges", PainLevel: 4, LoggedAt: testNow.Add(-48 * time.Hour)},
		{PatientID: p.ID, ExerciseName: "bridges", PainLevel: 10, LoggedAt: testNow.Add(-8 * 24 * time.Hour)},
	} {
		s.AddExerciseLog(ctx, l)
	}

	reply, err = a.Handle(ctx, user, "how is my progress?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Your average pain over the last 7 days is 5.5/10 across 2 logged exercises."
	if reply != want {
		t.Errorf("got %q, want %q", reply, want)
	}
}

func TestPatientAgent_Appointments(t *testing.T) {
	s := store.NewInMemoryStore()
	a := NewPatientAgent(s, genai.NewMockClient(), WithClock(fixedClock))
	user := newUser(t, s, "15550000005", models.RolePatient)
	ctx := context.Background()
	p, _ := s.SavePatientProfile(ctx, models.PatientProfile{UserID: user.ID})

	reply, _ := a.Handle(ctx, user, "any appointments?")
	if reply != "You have no upcoming appointments." {
		t.Errorf("unexpected reply %q", reply)
	}

	s.AddAppointment(ctx, models.Appointment{PatientID: p.ID, ScheduledAt: time.Date(2025, 3, 11, 10, 30, 0, 0, time.UTC), Notes: "knee review"})
	s.AddAppointment(ctx, models.Appointment{PatientID: p.ID, ScheduledAt: testNow.Add(-time.Hour)})

	reply, _ = a.Handle(ctx, user, "any appointments?")
	want := "Your upcoming appointments:\n- Tue 11 Mar 2025 10:30 (knee review)"
	if reply != want {
		t.Errorf("got %q, want %q", reply, want)
	}
}

func TestPatientAgent_BookAppointment(t *testing.T) {
	s := store.NewInMemoryStore()
	a := NewPatientAgent(s, genai.NewMockClient(), WithClock(fixedClock))
	user := newUser(t, s, "15550000011", models.RolePatient)
	physioUser := newUser(t, s, "15550000201", models.RolePhysiotherapist)
	ctx := context.Background()
	if _, err := s.SavePhysiotherapistProfile(ctx, models.PhysiotherapistProfile{UserID: physioUser.ID}); err != nil {
		t.Fatalf("SavePhysiotherapistProfile: %v", err)
	}

	reply, _ := a.Handle(ctx, user, "book 2025-03-12 09:15 knee review")
	if reply != patientProfilePrompt {
		t.Errorf("booking without a profile: got %q", reply)
	}

	if _, err := s.SavePatientProfile(ctx, models.PatientProfile{UserID: user.ID}); err != nil {
		t.Fatalf("SavePatientProfile: %v", err)
	}
	reply, _ = a.Handle(ctx, user, "book 2025-03-12 09:15 knee review")
	if !strings.HasPrefix(reply, "Link your physiotherapist") {
		t.Errorf("booking without a physiotherapist: got %q", reply)
	}

	if _, err := a.Handle(ctx, user, "physio: +15550000201"); err != nil {
		t.Fatalf("linking physiotherapist: %v", err)
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"past", "book 2025-03-09 09:00", "Appointments must be in the future. Try: " + bookingHint},
		{"impossible date", "book 2025-02-30 09:00", "That date or time doesn't exist. Try: " + bookingHint},
		{"booked", "book 2025-03-12 09:15 knee review", "Booked: Wed 12 Mar 2025 09:15 (knee review). Your physiotherapist will see it in their schedule."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := a.Handle(ctx, user, tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reply != tt.want {
				t.Errorf("got %q, want %q", reply, tt.want)
			}
		})
	}

	reply, _ = a.Handle(ctx, user, "any appointments?")
	if want := "Your upcoming appointments:\n- Wed 12 Mar 2025 09:15 (knee review)"; reply != want {
		t.Errorf("got %q, want %q", reply, want)
	}

	physio := NewPhysiotherapistAgent(s, genai.NewMockClient(), WithClock(fixedClock))
	reply, _ = physio.Handle(ctx, physioUser, "my schedule")
	if !strings.Contains(reply, "Wed 12 Mar 2025 09:15 (knee review)") {
		t.Errorf("physiotherapist schedule should list the booking, got %q", reply)
	}
}

func TestPatientAgent_FreeFormUsesGenerator(t *testing.T) {
	s := store.NewInMemoryStore()
	gen := genai.NewMockClient(genai.Result{Text: "Try gentle stretching.", ContinuationToken: "resp_1"})
	a := NewPatientAgent(s, gen, WithClock(fixedClock))
	user := newUser(t, s, "15550000006", models.RolePatient)

	reply, err := a.Handle(context.Background(), user, "What should I eat before training?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Try gentle stretching." {
		t.Errorf("unexpected reply %q", reply)
	}
	req := gen.Requests[0]
	if req.SystemInstruction != PatientInstruction || req.ContinuationToken != "" || req.WebAugmented {
		t.Errorf("unexpected generation request %+v", req)
	}
}

func TestPatientAgent_SetupLinksPhysiotherapist(t *testing.T) {
	s := store.NewInMemoryStore()
	a := NewPatientAgent(s, genai.NewMockClient(), WithClock(fixedClock))
	ctx := context.Background()
	physio := newUser(t, s, "15559990000", models.RolePhysiotherapist)
	patient := newUser(t, s, "15550000007", models.RolePatient)

	if reply, _ := a.Handle(ctx, patient, "physio: +1 555 000 1111"); !strings.HasPrefix(reply, "I couldn't find a physiotherapist") {
		t.Errorf("unknown number should be rejected, got %q", reply)
	}
	if reply, _ := a.Handle(ctx, patient, "condition: tennis elbow"); !strings.Contains(reply, "tennis elbow") {
		t.Errorf("unexpected reply %q", reply)
	}
	if reply, _ := a.Handle(ctx, patient, "Physio: +1 (555) 999-0000"); !strings.HasPrefix(reply, "You're now linked") {
		t.Errorf("unexpected reply %q", reply)
	}

	pp, _ := s.GetPhysiotherapistProfile(ctx, physio.ID)
	p, _ := s.GetPatientProfile(ctx, patient.ID)
	if pp == nil || p.PhysiotherapistID == nil || *p.PhysiotherapistID != pp.ID {
		t.Fatalf("patient not linked: %+v physio=%+v", p, pp)
	}
	if p.Condition != "tennis elbow" {
		t.Errorf("condition lost on relink: %+v", p)
	}
}

func TestPhysiotherapistAgent_Caseload(t *testing.T) {
	s := store.NewInMemoryStore()
	a := NewPhysiotherapistAgent(s, genai.NewMockClient(), WithClock(fixedClock))
	ctx := context.Background()
	physio := newUser(t, s, "15559990001", models.RolePhysiotherapist)

	if reply, _ := a.Handle(ctx, physio, "progress report"); reply != physioProfilePrompt {
		t.Errorf("expected the profile prompt, got %q", reply)
	}
	if reply, _ := a.Handle(ctx, physio, "license: PT-77"); !strings.Contains(reply, "PT-77") {
		t.Errorf("unexpected reply %q", reply)
	}
	if reply, _ := a.Handle(ctx, physio, "progress report"); reply != emptyCaseloadReply {
		t.Errorf("expected the empty caseload reply, got %q", reply)
	}

	pp, _ := s.GetPhysiotherapistProfile(ctx, physio.ID)
	alice := newUser(t, s, "15550000101", models.RolePatient)
	bob := newUser(t, s, "15550000102", models.RolePatient)
	ap, _ := s.SavePatientProfile(ctx, models.PatientProfile{UserID: alice.ID, PhysiotherapistID: &pp.ID})
	s.SavePatientProfile(ctx, models.PatientProfile{UserID: bob.ID, PhysiotherapistID: &pp.ID})

	s.AddExerciseLog(ctx, models.ExerciseLog{PatientID: ap.ID, ExerciseName: "lunges", Sets: 3, Reps: 8, PainLevel: 3, LoggedAt: testNow.Add(-time.Hour)})
	s.AddExerciseLog(ctx, models.ExerciseLog{PatientID: ap.ID, ExerciseName: "lunges", Sets: 3, Reps: 8, PainLevel: 6, LoggedAt: testNow.Add(-2 * time.Hour)})
	s.AddAppointment(ctx, models.Appointment{PatientID: ap.ID, PhysiotherapistID: pp.ID, ScheduledAt: time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)})

	reply, err := a.Handle(ctx, physio, "progress report")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Average pain over the last 7 days:\n- +15550000101: 4.5/10 (2 logs)\n- +15550000102: no logs in the last 7 days"
	if reply != want {
		t.Errorf("got %q, want %q", reply, want)
	}

	reply, _ = a.Handle(ctx, physio, "recent exercises")
	if !strings.Contains(reply, "+15550000101: lunges 3x8, pain 3/10") {
		t.Errorf("unexpected log listing %q", reply)
	}

	reply, _ = a.Handle(ctx, physio, "my schedule")
	if reply != "Your upcoming appointments:\n- Wed 12 Mar 2025 09:00 with +15550000101" {
		t.Errorf("unexpected appointment listing %q", reply)
	}
}

func TestRouter(t *testing.T) {
	s := store.NewInMemoryStore()
	gen := genai.NewMockClient()
	gen.Err = errors.New("quota exceeded")
	r := NewRouter(NewPatientAgent(s, gen), NewPhysiotherapistAgent(s, gen))
	ctx := context.Background()

	resp := r.Route(ctx, models.User{ID: 99}, "hello")
	if resp.Text != OnboardingQuestion || resp.AgentType != models.AgentTypeOnboarding {
		t.Errorf("user without role should get onboarding, got %+v", resp)
	}

	patient := newUser(t, s, "15550000201", models.RolePatient)
	resp = r.Route(ctx, patient, "What should I eat before training?")
	if resp.Text != ApologyReply || resp.AgentType != models.AgentTypePatient {
		t.Errorf("generation failure should become the apology, got %+v", resp)
	}

	physio := newUser(t, s, "15550000202", models.RolePhysiotherapist)
	resp = r.Route(ctx, physio, "license: PT-9")
	if resp.AgentType != models.AgentTypePhysiotherapist {
		t.Errorf("expected physiotherapist agent, got %+v", resp)
	}
}
