// Package models defines the core data structures for PhysioPipe.
//
// It includes users and their roles, conversation turns, scheduled workflow
// entries and the physiotherapy domain records shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Role identifies which agent serves a user.
type Role string

const (
	RolePatient         Role = "patient"
	RolePhysiotherapist Role = "physiotherapist"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RolePhysiotherapist:
		return true
	default:
		return false
	}
}

// ParseRole converts a stored role value. Empty or unknown values yield "".
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return ""
	}
	return r
}

// Agent type tags recorded on each conversation turn.
const (
	AgentTypePatient         = "patient_agent"
	AgentTypePhysiotherapist = "physiotherapist_agent"
	AgentTypeAssistant       = "assistant"
	AgentTypeOnboarding      = "onboarding"
)

// User is the root entity, identified by its canonical phone number.
type User struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Role      Role      `json:"role,omitempty"` // empty until resolved, never changed afterwards
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasRole reports whether the user's role has been assigned.
func (u User) HasRole() bool {
	return u.Role != ""
}

// ConversationTurn is one immutable exchange between a user and an agent.
type ConversationTurn struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Input             string    `json:"input"`
	Output            string    `json:"output"`
	ContinuationToken string    `json:"continuation_token,omitempty"` // empty when the generator returned none
	AgentType         string    `json:"agent_type"`
	CreatedAt         time.Time `json:"created_at"`
}

// WorkflowKind enumerates the proactive notifications a user can receive.
type WorkflowKind string

const (
	WorkflowMorningCheck     WorkflowKind = "morning_check"
	WorkflowExerciseReminder WorkflowKind = "exercise_reminder"
	WorkflowDailySummary     WorkflowKind = "daily_summary"
)

// WorkflowEntry is a one-shot scheduled notification. Completed flips to true
// exactly once, when the sweep fires it.
type WorkflowEntry struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	Kind        WorkflowKind `json:"kind"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	Completed   bool         `json:"completed"`
	CreatedAt   time.Time    `json:"created_at"`
}

// DueWorkflow is a claimed workflow entry joined with its owner's address.
// Phone is empty when the owner can no longer be resolved.
type DueWorkflow struct {
	WorkflowEntry
	Phone string `json:"phone,omitempty"`
}

// PatientProfile holds patient-specific state. PhysiotherapistID links the
// patient into a physiotherapist's caseload.
type PatientProfile struct {
	ID                int64  `json:"id"`
	UserID            int64  `json:"user_id"`
	Condition         string `json:"condition,omitempty"`
	TreatmentGoals    string `json:"treatment_goals,omitempty"`
	PhysiotherapistID *int64 `json:"physiotherapist_id,omitempty"`
}

// PhysiotherapistProfile holds practitioner-specific state.
type PhysiotherapistProfile struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	LicenseNumber  string `json:"license_number,omitempty"`
	Specialization string `json:"specialization,omitempty"`
}

// CaseloadPatient is a patient profile with the owning user's contact details.
type CaseloadPatient struct {
	PatientProfile
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// Label returns a human-readable identifier for the patient.
func (c CaseloadPatient) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return "+" + c.Phone
}

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is a session between a patient and a physiotherapist.
type Appointment struct {
	ID                int64             `json:"id"`
	PatientID         int64             `json:"patient_id"`
	PhysiotherapistID int64             `json:"physiotherapist_id"`
	ScheduledAt       time.Time         `json:"scheduled_at"`
	Status            AppointmentStatus `json:"status"`
	Notes             string            `json:"notes,omitempty"`
}

// ExerciseLog is a single exercise entry reported by a patient.
type ExerciseLog struct {
	ID           int64     `json:"id"`
	PatientID    int64     `json:"patient_id"`
	ExerciseName string    `json:"exercise_name"`
	Sets         int       `json:"sets"`
	Reps         int       `json:"reps"`
	PainLevel    int       `json:"pain_level"` // 1-10 scale
	Notes        string    `json:"notes,omitempty"`
	LoggedAt     time.Time `json:"logged_at"`
}

// Pain level bounds for exercise logs.
const (
	MinPainLevel = 1
	MaxPainLevel = 10
)

// InboundMessage is a message received from a user over any transport.
type InboundMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Error taxonomy shared by the collaborators. Implementations wrap these so
// callers can classify failures with errors.Is.
var (
	ErrGeneration  = errors.New("text generation failed")
	ErrTransport   = errors.New("message transport failed")
	ErrPersistence = errors.New("persistence failed")
	ErrNotFound    = errors.New("not found")
)
