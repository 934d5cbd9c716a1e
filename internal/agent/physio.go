package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PhysioPipe/internal/genai"
	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/store"
)

// PhysiotherapistInstruction is the system instruction for physiotherapist
// free-form replies.
const PhysiotherapistInstruction = "You are an assistant for a practising physiotherapist. " +
	"Answer clinical and practice-management questions concisely and with professional terminology. " +
	"Flag uncertainty clearly and never replace the clinician's own judgement. " +
	"Keep answers short enough to read comfortably in a WhatsApp chat."

const physioSetupHelp = "Set up your profile by replying with any of:\n" +
	"- license: <your license number>\n" +
	"- specialization: <your specialization>\n" +
	"Patients join your caseload by sending me: physio: <your phone number>"

const physioProfilePrompt = "I don't have a physiotherapist profile for you yet. " + physioSetupHelp

var physioSetupFields = []string{"license:", "specialization:"}

// PhysiotherapistAgent serves users with the physiotherapist role. Its views
// cover the caseload: patients whose profile links to this practitioner.
type PhysiotherapistAgent struct {
	store      Store
	gen        genai.Generator
	classifier intentClassifier
	cfg        Opts
}

var _ Agent = (*PhysiotherapistAgent)(nil)

// NewPhysiotherapistAgent creates a PhysiotherapistAgent.
func NewPhysiotherapistAgent(st Store, gen genai.Generator, opts ...Option) *PhysiotherapistAgent {
	return &PhysiotherapistAgent{
		store:      st,
		gen:        gen,
		classifier: intentClassifier{setupFields: physioSetupFields},
		cfg:        applyOpts(opts),
	}
}

func (a *PhysiotherapistAgent) Type() string { return models.AgentTypePhysiotherapist }

func (a *PhysiotherapistAgent) ClassifyIntent(text string) Intent {
	return a.classifier.classify(text)
}

func (a *PhysiotherapistAgent) Handle(ctx context.Context, user models.User, text string) (string, error) {
	intent := a.ClassifyIntent(text)
	slog.Debug("PhysiotherapistAgent.Handle: classified", "userID", user.ID, "intent", intent)

	switch intent {
	case IntentProfileSetup:
		return a.setup(ctx, user, text)
	case IntentAppointment:
		return a.appointments(ctx, user)
	case IntentExercise:
		return a.recentLogs(ctx, user)
	case IntentProgress:
		return a.progress(ctx, user)
	default:
		res, err := a.gen.Generate(ctx, genai.Request{SystemInstruction: PhysiotherapistInstruction, UserText: text})
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
}

func (a *PhysiotherapistAgent) setup(ctx context.Context, user models.User, text string) (string, error) {
	field, value, _ := parseSetupCommand(text, physioSetupFields)
	if value == "" {
		return fmt.Sprintf("Please add a value after %q. %s", field+":", physioSetupHelp), nil
	}
	p, err := a.store.GetPhysiotherapistProfile(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if p == nil {
		p = &models.PhysiotherapistProfile{UserID: user.ID}
	}
	var reply string
	switch field {
	case "license":
		p.LicenseNumber = value
		reply = "Thanks, your license number is recorded: " + value
	case "specialization":
		p.Specialization = value
		reply = "Thanks, your specialization is recorded: " + value
	}
	if _, err := a.store.SavePhysiotherapistProfile(ctx, *p); err != nil {
		return "", err
	}
	return reply, nil
}

// caseload returns the profile and its patients. A nil profile means the
// caller should prompt for setup.
func (a *PhysiotherapistAgent) caseload(ctx context.Context, user models.User) (*models.PhysiotherapistProfile, []models.CaseloadPatient, error) {
	p, err := a.store.GetPhysiotherapistProfile(ctx, user.ID)
	if err != nil || p == nil {
		return nil, nil, err
	}
	patients, err := a.store.ListCaseload(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	return p, patients, nil
}

func labels(patients []models.CaseloadPatient) (map[int64]string, []int64) {
	byID := make(map[int64]string, len(patients))
	ids := make([]int64, 0, len(patients))
	for _, p := range patients {
		byID[p.ID] = p.Label()
		ids = append(ids, p.ID)
	}
	return byID, ids
}

func (a *PhysiotherapistAgent) appointments(ctx context.Context, user models.User) (string, error) {
	p, patients, err := a.caseload(ctx, user)
	if err != nil {
		return "", err
	}
	if p == nil {
		return physioProfilePrompt, nil
	}
	appts, err := a.store.UpcomingAppointments(ctx, store.AppointmentQuery{PhysiotherapistID: p.ID, From: a.cfg.Now(), Limit: 10})
	if err != nil {
		return "", err
	}
	if len(appts) == 0 {
		return "You have no upcoming appointments.", nil
	}
	names, _ := labels(patients)
	var b strings.Builder
	b.WriteString("Your upcoming appointments:")
	for _, appt := range appts {
		line := "\n- " + formatAppointment(appt, a.cfg.Location)
		if name, ok := names[appt.PatientID]; ok {
			line += " with " + name
		}
		b.WriteString(line)
	}
	return b.String(), nil
}

func (a *PhysiotherapistAgent) recentLogs(ctx context.Context, user models.User) (string, error) {
	p, patients, err := a.caseload(ctx, user)
	if err != nil {
		return "", err
	}
	if p == nil {
		return physioProfilePrompt, nil
	}
	if len(patients) == 0 {
		return emptyCaseloadReply, nil
	}
	names, ids := labels(patients)
	logs, err := a.store.ListExerciseLogs(ctx, store.ExerciseLogQuery{PatientIDs: ids, Limit: 10})
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "None of your patients have logged exercises yet.", nil
	}
	var b strings.Builder
	b.WriteString("Recent exercise logs from your patients:")
	for _, l := range logs {
		b.WriteString("\n- " + names[l.PatientID] + ": " + formatLog(l, a.cfg.Location))
	}
	return b.String(), nil
}

func (a *PhysiotherapistAgent) progress(ctx context.Context, user models.User) (string, error) {
	p, patients, err := a.caseload(ctx, user)
	if err != nil {
		return "", err
	}
	if p == nil {
		return physioProfilePrompt, nil
	}
	if len(patients) == 0 {
		return emptyCaseloadReply, nil
	}
	_, ids := labels(patients)
	logs, err := a.store.ListExerciseLogs(ctx, store.ExerciseLogQuery{PatientIDs: ids, Since: a.cfg.Now().Add(-PainWindow)})
	if err != nil {
		return "", err
	}
	byPatient := make(map[int64][]models.ExerciseLog, len(patients))
	for _, l := range logs {
		byPatient[l.PatientID] = append(byPatient[l.PatientID], l)
	}

	var b strings.Builder
	b.WriteString("Average pain over the last 7 days:")
	for _, patient := range patients {
		line := "\n- " + patient.Label() + ": "
		if mean, ok := meanPain(byPatient[patient.ID]); ok {
			line += fmt.Sprintf("%s/10 (%s)", formatMean(mean), pluralize(len(byPatient[patient.ID]), "log"))
		} else {
			line += "no logs in the last 7 days"
		}
		b.WriteString(line)
	}
	return b.String(), nil
}

const emptyCaseloadReply = "No patients are linked to you yet. Patients can join your caseload by sending me: physio: <your phone number>"
