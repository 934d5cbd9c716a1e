// Package agent implements role resolution, the role-specific conversational
// agents and the single-agent assistant mode.
//
// Agents answer from stored state where they can (appointments, exercise
// logs, pain averages) and fall back to text generation for free-form
// questions. Missing roles and missing profiles are ordinary branches that
// produce a prompt, never an error.
package agent

import (
	"context"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/store"
)

// Fixed replies shared by the agents and the engine.
const (
	ApologyReply = "I apologize, but I couldn't generate a proper response. Please try again."

	FallbackReply = "Sorry, something went wrong on our side. Please try again in a moment."

	OnboardingQuestion = "Welcome to PhysioPipe! Are you a *patient* looking for help with pain or an injury, " +
		"or a *physiotherapist* managing a caseload? Tell me a little about yourself so I can set things up."
)

// Window used for pain averages.
const PainWindow = 7 * 24 * time.Hour

// Intent is the category an agent assigns to a message.
type Intent string

const (
	IntentProfileSetup Intent = "profile_setup"
	IntentAppointment  Intent = "appointment"
	IntentExercise     Intent = "exercise"
	IntentProgress     Intent = "progress"
	IntentFreeForm     Intent = "free_form"
)

// Agent is one role-specific conversational agent.
type Agent interface {
	// Type returns the agent type tag recorded on conversation turns.
	Type() string
	ClassifyIntent(text string) Intent
	Handle(ctx context.Context, user models.User, text string) (string, error)
}

// Response is what the router or assistant hands back to the engine.
type Response struct {
	Text              string
	AgentType         string
	ContinuationToken string
	// Ephemeral replies are delivered but not recorded as a turn.
	Ephemeral bool
}

// Store is the persistence the agents read and write.
type Store interface {
	store.UserRepo
	store.ProfileRepo
	store.CareRepo
}

// Opts holds configuration options for the agents.
type Opts struct {
	Location *time.Location
	Now      func() time.Time
}

// Option defines a configuration option for the agents.
type Option func(*Opts)

// WithLocation sets the time zone used to render dates.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the current time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{Location: time.UTC, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// WelcomeMessage is sent when a role is first assigned.
func WelcomeMessage(role models.Role) string {
	switch role {
	case models.RolePatient:
		return "Welcome! You're registered as a *patient*. I can help you log exercises, check your appointments " +
			"and follow your pain levels over time. I'll check in with you tomorrow morning and remind you about " +
			"your exercises in the evening.\n\n" + patientSetupHelp
	case models.RolePhysiotherapist:
		return "Welcome! You're registered as a *physiotherapist*. I can show your upcoming appointments, your " +
			"patients' recent exercise logs and their pain trends. You'll get a daily summary tomorrow morning.\n\n" +
			physioSetupHelp
	default:
		return OnboardingQuestion
	}
}
