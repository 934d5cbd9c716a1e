package agent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

var (
	appointmentKeywords = []string{"appointment", "appointments", "booking", "book", "schedule", "session", "visit"}
	exerciseKeywords    = []string{"exercise", "exercises", "log", "sets", "reps", "workout", "did"}
	progressKeywords    = []string{"progress", "pain", "improvement", "better", "worse", "summary", "report"}
)

// intentClassifier checks keyword sets in a fixed priority order. Both agents
// compose one, differing only in their profile setup commands.
type intentClassifier struct {
	setupFields []string // lower-case "field:" prefixes
}

func (c intentClassifier) classify(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if _, _, ok := parseSetupCommand(lower, c.setupFields); ok {
		return IntentProfileSetup
	}
	if containsAny(lower, appointmentKeywords) {
		return IntentAppointment
	}
	if containsAny(lower, exerciseKeywords) {
		return IntentExercise
	}
	if _, ok := parseExerciseLog(text); ok {
		return IntentExercise
	}
	if containsAny(lower, progressKeywords) {
		return IntentProgress
	}
	return IntentFreeForm
}

// parseSetupCommand recognises "field: value" where field is one of fields.
// The returned field has no colon.
func parseSetupCommand(text string, fields []string) (field, value string, ok bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, f := range fields {
		if strings.HasPrefix(lower, f) {
			return strings.TrimSuffix(f, ":"), strings.TrimSpace(trimmed[len(f):]), true
		}
	}
	return "", "", false
}

// exerciseLogPattern matches "<name> <sets>x<reps> pain <n> [notes]", with an
// optional leading "log", "logged" or "did".
var exerciseLogPattern = regexp.MustCompile(`(?i)^\s*(?:(?:log|logged|did)\s+)?(.+?)\s+(\d{1,3})\s*x\s*(\d{1,4})\s+pain\s*:?\s*(\d{1,2})\b\s*(.*)$`)

// parseExerciseLog extracts an exercise log from text. The pain level is not
// range-checked here.
func parseExerciseLog(text string) (models.ExerciseLog, bool) {
	m := exerciseLogPattern.FindStringSubmatch(text)
	if m == nil {
		return models.ExerciseLog{}, false
	}
	sets, _ := strconv.Atoi(m[2])
	reps, _ := strconv.Atoi(m[3])
	pain, _ := strconv.Atoi(m[4])
	return models.ExerciseLog{
		ExerciseName: strings.TrimSpace(m[1]),
		Sets:         sets,
		Reps:         reps,
		PainLevel:    pain,
		Notes:        strings.TrimSpace(m[5]),
	}, true
}

// bookingPattern matches "book <YYYY-MM-DD> <HH:MM> [notes]".
var bookingPattern = regexp.MustCompile(`(?i)^\s*book\s+(\d{4}-\d{2}-\d{2})\s+(\d{1,2}:\d{2})\b\s*(.*)$`)

const bookingLayout = "2006-01-02 15:04"

// parseBooking extracts a booking request, reading the date and time in loc.
// matched reports whether text has the booking shape; err is set when the
// date or time does not exist.
func parseBooking(text string, loc *time.Location) (at time.Time, notes string, matched bool, err error) {
	m := bookingPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, "", false, nil
	}
	at, err = time.ParseInLocation(bookingLayout, m[1]+" "+m[2], loc)
	return at, strings.TrimSpace(m[3]), true, err
}

// validPain reports whether level is on the 1-10 scale.
func validPain(level int) bool {
	return level >= models.MinPainLevel && level <= models.MaxPainLevel
}
