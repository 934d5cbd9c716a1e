package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/genai"
	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/store"
)

// PatientInstruction is the system instruction for patient free-form replies.
const PatientInstruction = "You are a supportive physiotherapy assistant helping a patient recover from pain or injury. " +
	"Give safe, practical guidance on exercises, pain management and healthy recovery habits. " +
	"Never diagnose; encourage the patient to contact their physiotherapist if pain gets worse. " +
	"Keep answers short enough to read comfortably in a WhatsApp chat."

const patientSetupHelp = "Set up your profile by replying with any of:\n" +
	"- condition: <your condition>\n" +
	"- goals: <your treatment goals>\n" +
	"- physio: <your physiotherapist's phone number>\n" +
	"Log an exercise like: " + logFormatHint + "\n" +
	"Book an appointment like: " + bookingHint

const patientProfilePrompt = "I don't have a patient profile for you yet. " + patientSetupHelp

var patientSetupFields = []string{"condition:", "goals:", "physio:"}

// PatientAgent serves users with the patient role.
type PatientAgent struct {
	store      Store
	gen        genai.Generator
	classifier intentClassifier
	cfg        Opts
}

var _ Agent = (*PatientAgent)(nil)

// NewPatientAgent creates a PatientAgent.
func NewPatientAgent(st Store, gen genai.Generator, opts ...Option) *PatientAgent {
	return &PatientAgent{
		store:      st,
		gen:        gen,
		classifier: intentClassifier{setupFields: patientSetupFields},
		cfg:        applyOpts(opts),
	}
}

func (a *PatientAgent) Type() string { return models.AgentTypePatient }

func (a *PatientAgent) ClassifyIntent(text string) Intent {
	return a.classifier.classify(text)
}

// Handle answers one message. Errors wrap models.ErrGeneration or
// models.ErrPersistence; the router turns them into plain replies.
func (a *PatientAgent) Handle(ctx context.Context, user models.User, text string) (string, error) {
	intent := a.ClassifyIntent(text)
	slog.Debug("PatientAgent.Handle: classified", "userID", user.ID, "intent", intent)

	switch intent {
	case IntentProfileSetup:
		return a.setup(ctx, user, text)
	case IntentAppointment:
		return a.appointments(ctx, user, text)
	case IntentExercise:
		return a.exercise(ctx, user, text)
	case IntentProgress:
		return a.progress(ctx, user)
	default:
		res, err := a.gen.Generate(ctx, genai.Request{SystemInstruction: PatientInstruction, UserText: text})
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
}

func (a *PatientAgent) profile(ctx context.Context, user models.User) (*models.PatientProfile, error) {
	return a.store.GetPatientProfile(ctx, user.ID)
}

// ensureProfile returns the user's profile, creating an empty one if absent.
func (a *PatientAgent) ensureProfile(ctx context.Context, user models.User) (*models.PatientProfile, error) {
	p, err := a.profile(ctx, user)
	if err != nil || p != nil {
		return p, err
	}
	slog.Info("PatientAgent.ensureProfile: creating patient profile", "userID", user.ID)
	return a.store.SavePatientProfile(ctx, models.PatientProfile{UserID: user.ID})
}

func (a *PatientAgent) setup(ctx context.Context, user models.User, text string) (string, error) {
	field, value, _ := parseSetupCommand(text, patientSetupFields)
	if value == "" {
		return fmt.Sprintf("Please add a value after %q. %s", field+":", patientSetupHelp), nil
	}
	p, err := a.ensureProfile(ctx, user)
	if err != nil {
		return "", err
	}

	var reply string
	switch field {
	case "condition":
		p.Condition = value
		reply = "Got it, I've noted your condition: " + value
	case "goals":
		p.TreatmentGoals = value
		reply = "Got it, your treatment goals are: " + value
	case "physio":
		physio, msg, err := a.findPhysiotherapist(ctx, value)
		if err != nil {
			return "", err
		}
		if physio == nil {
			return msg, nil
		}
		p.PhysiotherapistID = &physio.ID
		reply = "You're now linked to your physiotherapist. They'll see your exercise logs and pain trends."
	}
	if _, err := a.store.SavePatientProfile(ctx, *p); err != nil {
		return "", err
	}
	return reply, nil
}

// findPhysiotherapist resolves a phone number to a physiotherapist profile.
// When none is found it returns nil and a message for the user.
func (a *PatientAgent) findPhysiotherapist(ctx context.Context, phone string) (*models.PhysiotherapistProfile, string, error) {
	digits := digitsOnly(phone)
	if digits == "" {
		return nil, "Please send your physiotherapist's phone number, for example: physio: +15551234567", nil
	}
	u, err := a.store.GetUserByPhone(ctx, digits)
	if err != nil {
		return nil, "", err
	}
	if u == nil || u.Role != models.RolePhysiotherapist {
		return nil, "I couldn't find a physiotherapist with that number. Ask them to message me first.", nil
	}
	p, err := a.store.GetPhysiotherapistProfile(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	if p == nil {
		if p, err = a.store.SavePhysiotherapistProfile(ctx, models.PhysiotherapistProfile{UserID: u.ID}); err != nil {
			return nil, "", err
		}
	}
	return p, "", nil
}

func (a *PatientAgent) appointments(ctx context.Context, user models.User, text string) (string, error) {
	at, notes, booking, parseErr := parseBooking(text, a.cfg.Location)
	p, err := a.profile(ctx, user)
	if err != nil {
		return "", err
	}
	if p == nil {
		return patientProfilePrompt, nil
	}
	if booking {
		if parseErr != nil {
			return "That date or time doesn't exist. Try: " + bookingHint, nil
		}
		return a.book(ctx, *p, at, notes)
	}
	appts, err := a.store.UpcomingAppointments(ctx, store.AppointmentQuery{PatientID: p.ID, From: a.cfg.Now(), Limit: 5})
	if err != nil {
		return "", err
	}
	if len(appts) == 0 {
		return "You have no upcoming appointments.", nil
	}
	var b strings.Builder
	b.WriteString("Your upcoming appointments:")
	for _, appt := range appts {
		b.WriteString("\n- " + formatAppointment(appt, a.cfg.Location))
	}
	return b.String(), nil
}

// book records an appointment with the patient's linked physiotherapist.
func (a *PatientAgent) book(ctx context.Context, p models.PatientProfile, at time.Time, notes string) (string, error) {
	if p.PhysiotherapistID == nil {
		return "Link your physiotherapist before booking, for example: physio: +15551234567", nil
	}
	if !at.After(a.cfg.Now()) {
		return "Appointments must be in the future. Try: " + bookingHint, nil
	}
	appt := models.Appointment{
		PatientID:         p.ID,
		PhysiotherapistID: *p.PhysiotherapistID,
		ScheduledAt:       at,
		Status:            models.AppointmentScheduled,
		Notes:             notes,
	}
	if _, err := a.store.AddAppointment(ctx, appt); err != nil {
		return "", err
	}
	slog.Info("PatientAgent.book: appointment booked", "patientID", p.ID, "physiotherapistID", appt.PhysiotherapistID, "at", at)
	return "Booked: " + formatAppointment(appt, a.cfg.Location) + ". Your physiotherapist will see it in their schedule.", nil
}

func (a *PatientAgent) exercise(ctx context.Context, user models.User, text string) (string, error) {
	if entry, ok := parseExerciseLog(text); ok {
		if !validPain(entry.PainLevel) {
			return fmt.Sprintf("Pain level must be between %d and %d. Try: %s", models.MinPainLevel, models.MaxPainLevel, logFormatHint), nil
		}
		p, err := a.ensureProfile(ctx, user)
		if err != nil {
			return "", err
		}
		entry.PatientID = p.ID
		entry.LoggedAt = a.cfg.Now()
		if _, err := a.store.AddExerciseLog(ctx, entry); err != nil {
			return "", err
		}
		return fmt.Sprintf("Logged *%s*: %dx%d, pain %d/10. Keep it up!", entry.ExerciseName, entry.Sets, entry.Reps, entry.PainLevel), nil
	}

	p, err := a.profile(ctx, user)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "You haven't logged any exercises yet. Log one like this: " + logFormatHint, nil
	}
	logs, err := a.store.ListExerciseLogs(ctx, store.ExerciseLogQuery{PatientIDs: []int64{p.ID}, Limit: 5})
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "You haven't logged any exercises yet. Log one like this: " + logFormatHint, nil
	}
	var b strings.Builder
	b.WriteString("Your recent exercises:")
	for _, l := range logs {
		b.WriteString("\n- " + formatLog(l, a.cfg.Location))
	}
	b.WriteString("\n\nLog another like this: " + logFormatHint)
	return b.String(), nil
}

func (a *PatientAgent) progress(ctx context.Context, user models.User) (string, error) {
	p, err := a.profile(ctx, user)
	if err != nil {
		return "", err
	}
	if p == nil {
		return patientProfilePrompt, nil
	}
	logs, err := a.store.ListExerciseLogs(ctx, store.ExerciseLogQuery{PatientIDs: []int64{p.ID}, Since: a.cfg.Now().Add(-PainWindow)})
	if err != nil {
		return "", err
	}
	mean, ok := meanPain(logs)
	if !ok {
		return "You haven't logged any exercises in the last 7 days. How are you feeling today? " +
			"Log an exercise like this so we can track your progress: " + logFormatHint, nil
	}
	return fmt.Sprintf("Your average pain over the last 7 days is %s/10 across %s.",
		formatMean(mean), pluralize(len(logs), "logged exercise")), nil
}
