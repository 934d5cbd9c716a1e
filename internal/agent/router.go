package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

// Router dispatches a message to the agent registered for the user's role.
type Router struct {
	agents map[models.Role]Agent
}

// NewRouter creates a Router with the patient and physiotherapist agents.
func NewRouter(patient, physiotherapist Agent) *Router {
	return &Router{agents: map[models.Role]Agent{
		models.RolePatient:         patient,
		models.RolePhysiotherapist: physiotherapist,
	}}
}

// Route never returns an error: a missing role yields the onboarding
// question and agent failures become fixed plain-language replies.
func (r *Router) Route(ctx context.Context, user models.User, text string) Response {
	a, ok := r.agents[user.Role]
	if !ok || a == nil {
		slog.Debug("Router.Route: no agent for role", "userID", user.ID, "role", user.Role)
		return Response{Text: OnboardingQuestion, AgentType: models.AgentTypeOnboarding}
	}

	reply, err := a.Handle(ctx, user, text)
	if err != nil {
		return Response{Text: recoverReply(err, "Router.Route", user), AgentType: a.Type()}
	}
	return Response{Text: reply, AgentType: a.Type()}
}

// recoverReply logs err and picks the user-facing fallback for it.
func recoverReply(err error, where string, user models.User) string {
	if errors.Is(err, models.ErrGeneration) {
		slog.Warn(where+": generation failed, sending apology", "userID", user.ID, "error", err)
		return ApologyReply
	}
	slog.Error(where+": agent failed", "userID", user.ID, "error", err)
	return FallbackReply
}
