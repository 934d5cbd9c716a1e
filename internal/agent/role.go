package agent

import (
	"strings"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

// Outcome is the result kind of a role decision.
type Outcome int

const (
	// Undetermined means no keyword matched; ask the user.
	Undetermined Outcome = iota
	// Unchanged means the user already had a role.
	Unchanged
	// Assigned means a role was inferred from the message and should be
	// persisted by the caller.
	Assigned
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Assigned:
		return "assigned"
	default:
		return "undetermined"
	}
}

// RoleDecision is the output of ResolveRole.
type RoleDecision struct {
	Outcome Outcome
	Role    models.Role
}

var (
	patientKeywords = []string{
		"patient", "pain", "injury", "injured", "hurt", "therapy", "recovery", "rehab", "sore", "ache",
	}
	physiotherapistKeywords = []string{
		"physiotherapist", "physio", "therapist", "clinic", "practitioner", "caseload", "clinician",
	}
)

// ResolveRole confirms an existing role or infers one from text. Patient
// keywords are checked before physiotherapist keywords and the first match
// wins. It has no side effects.
func ResolveRole(user models.User, text string) RoleDecision {
	if user.HasRole() {
		return RoleDecision{Outcome: Unchanged, Role: user.Role}
	}
	lower := strings.ToLower(text)
	if containsAny(lower, patientKeywords) {
		return RoleDecision{Outcome: Assigned, Role: models.RolePatient}
	}
	if containsAny(lower, physiotherapistKeywords) {
		return RoleDecision{Outcome: Assigned, Role: models.RolePhysiotherapist}
	}
	return RoleDecision{Outcome: Undetermined}
}

// containsAny reports whether lower contains any keyword as a substring.
func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
