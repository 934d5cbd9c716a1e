package agent

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

const (
	appointmentLayout = "Mon 2 Jan 2006 15:04"
	logDateLayout     = "2 Jan"
	logFormatHint     = "squats 3x10 pain 4"
	bookingHint       = "book 2025-06-02 10:30 knee review"
)

// meanPain returns the arithmetic mean pain level of logs. ok is false for an
// empty slice.
func meanPain(logs []models.ExerciseLog) (mean float64, ok bool) {
	if len(logs) == 0 {
		return 0, false
	}
	sum := 0
	for _, l := range logs {
		sum += l.PainLevel
	}
	return float64(sum) / float64(len(logs)), true
}

// formatMean renders a mean with at most two decimals and no trailing zeros.
func formatMean(mean float64) string {
	s := strconv.FormatFloat(mean, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func formatLog(l models.ExerciseLog, loc *time.Location) string {
	s := fmt.Sprintf("%s %dx%d, pain %d/10 (%s)", l.ExerciseName, l.Sets, l.Reps, l.PainLevel, l.LoggedAt.In(loc).Format(logDateLayout))
	if l.Notes != "" {
		s += " " + l.Notes
	}
	return s
}

func formatAppointment(a models.Appointment, loc *time.Location) string {
	s := a.ScheduledAt.In(loc).Format(appointmentLayout)
	if a.Notes != "" {
		s += " (" + a.Notes + ")"
	}
	return s
}

func pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// digitsOnly keeps the decimal digits of s.
func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
