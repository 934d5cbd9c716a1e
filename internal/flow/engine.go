// Package flow orchestrates a single inbound message end to end: user lookup,
// role resolution, agent dispatch, turn persistence and reply delivery. It
// also exposes the workflow sweep to the HTTP and CLI triggers.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/agent"
	"github.com/BTreeMap/PhysioPipe/internal/delivery"
	"github.com/BTreeMap/PhysioPipe/internal/messaging"
	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/store"
	"github.com/BTreeMap/PhysioPipe/internal/workflow"
)

// Mode selects how messages are answered.
type Mode string

const (
	// ModeAgents resolves a role per user and routes to the role's agent.
	ModeAgents Mode = "agents"
	// ModeAssistant answers every message with the single continuation
	// threaded assistant.
	ModeAssistant Mode = "assistant"
)

// ParseMode validates a configured mode name. Empty selects ModeAgents.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAgents, nil
	case ModeAgents, ModeAssistant:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeAgents, ModeAssistant)
	}
}

var (
	// ErrInvalidSender is returned when the sender address has no usable
	// phone number.
	ErrInvalidSender = errors.New("invalid sender")
	// ErrEmptyMessage is returned for a message without text.
	ErrEmptyMessage = errors.New("empty message")
)

// Deliverer sends a reply to an address.
type Deliverer interface {
	Deliver(ctx context.Context, to string, raw string) delivery.Report
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Mode      Mode
	Router    *agent.Router
	Assistant *agent.Assistant
	Workflows *workflow.Scheduler
	Now       func() time.Time
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithMode selects the answering mode.
func WithMode(m Mode) Option {
	return func(o *Opts) {
		o.Mode = m
	}
}

// WithRouter sets the role router used in ModeAgents.
func WithRouter(r *agent.Router) Option {
	return func(o *Opts) {
		o.Router = r
	}
}

// WithAssistant sets the assistant used in ModeAssistant.
func WithAssistant(a *agent.Assistant) Option {
	return func(o *Opts) {
		o.Assistant = a
	}
}

// WithWorkflows sets the scheduler that receives new role assignments and
// runs sweeps.
func WithWorkflows(s *workflow.Scheduler) Option {
	return func(o *Opts) {
		o.Workflows = s
	}
}

// WithClock overrides the current time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Engine handles inbound messages. It is safe for concurrent use; persisted
// entities are the only shared state.
type Engine struct {
	store     store.Store
	deliverer Deliverer
	cfg       Opts
}

// NewEngine creates an Engine. The component required by the selected mode
// must be provided.
func NewEngine(st store.Store, deliverer Deliverer, opts ...Option) (*Engine, error) {
	cfg := Opts{Mode: ModeAgents, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if st == nil || deliverer == nil {
		return nil, fmt.Errorf("engine requires a store and a deliverer")
	}
	switch cfg.Mode {
	case ModeAgents:
		if cfg.Router == nil {
			return nil, fmt.Errorf("mode %q requires a router", cfg.Mode)
		}
	case ModeAssistant:
		if cfg.Assistant == nil {
			return nil, fmt.Errorf("mode %q requires an assistant", cfg.Mode)
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	slog.Debug("NewEngine created", "mode", cfg.Mode, "workflows", cfg.Workflows != nil)
	return &Engine{store: st, deliverer: deliverer, cfg: cfg}, nil
}

// Mode returns the answering mode.
func (e *Engine) Mode() Mode {
	return e.cfg.Mode
}

// HandleIncoming answers body from sender, records the turn and delivers the
// reply. The reply text is returned. Persistence and delivery failures are
// logged and do not fail the call; an error means the message was rejected.
func (e *Engine) HandleIncoming(ctx context.Context, sender, body string) (string, error) {
	phone, err := messaging.CanonicalizePhone(sender)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSender, err)
	}
	text := strings.TrimSpace(body)
	if text == "" {
		return "", ErrEmptyMessage
	}

	user, created, err := e.store.GetOrCreateUser(ctx, phone)
	if err != nil {
		slog.Error("Engine.HandleIncoming: loading user failed", "phone", phone, "error", err)
		e.deliver(ctx, phone, agent.FallbackReply)
		return agent.FallbackReply, nil
	}
	if created {
		slog.Info("Engine.HandleIncoming: new user", "userID", user.ID, "phone", phone)
	}

	var resp agent.Response
	if e.cfg.Mode == ModeAssistant {
		resp = e.cfg.Assistant.Reply(ctx, *user, text)
	} else {
		resp = e.respond(ctx, *user, text)
	}

	if resp.Ephemeral {
		slog.Debug("Engine.HandleIncoming: ephemeral reply not recorded", "userID", user.ID, "agentType", resp.AgentType)
	} else {
		turn := models.ConversationTurn{
			UserID:            user.ID,
			Input:             text,
			Output:            resp.Text,
			ContinuationToken: resp.ContinuationToken,
			AgentType:         resp.AgentType,
			CreatedAt:         e.cfg.Now().UTC(),
		}
		if _, err := e.store.AddTurn(ctx, turn); err != nil {
			slog.Error("Engine.HandleIncoming: recording turn failed", "userID", user.ID, "error", err)
		}
	}

	e.deliver(ctx, phone, resp.Text)
	return resp.Text, nil
}

// HandleInbound adapts HandleIncoming to messaging.InboundHandler.
func (e *Engine) HandleInbound(ctx context.Context, msg models.InboundMessage) error {
	_, err := e.HandleIncoming(ctx, msg.From, msg.Body)
	return err
}

// respond resolves the user's role and produces the agent reply.
func (e *Engine) respond(ctx context.Context, user models.User, text string) agent.Response {
	decision := agent.ResolveRole(user, text)
	slog.Debug("Engine.respond: role decision", "userID", user.ID, "outcome", decision.Outcome, "role", decision.Role)

	switch decision.Outcome {
	case agent.Undetermined:
		return agent.Response{Text: agent.OnboardingQuestion, AgentType: models.AgentTypeOnboarding}
	case agent.Assigned:
		return e.assign(ctx, user, decision.Role, text)
	default:
		return e.cfg.Router.Route(ctx, user, text)
	}
}

// assign persists an inferred role and welcomes the user. If another request
// assigned a role first, the stored role wins and the message is routed.
func (e *Engine) assign(ctx context.Context, user models.User, role models.Role, text string) agent.Response {
	ok, err := e.store.SetUserRole(ctx, user.ID, role)
	if err != nil {
		slog.Error("Engine.assign: saving role failed", "userID", user.ID, "role", role, "error", err)
		return agent.Response{Text: agent.FallbackReply, AgentType: models.AgentTypeOnboarding}
	}
	if !ok {
		current, err := e.store.GetUserByPhone(ctx, user.Phone)
		if err != nil || current == nil || !current.HasRole() {
			slog.Error("Engine.assign: reloading user failed", "userID", user.ID, "error", err)
			return agent.Response{Text: agent.FallbackReply, AgentType: models.AgentTypeOnboarding}
		}
		slog.Debug("Engine.assign: role already set", "userID", user.ID, "role", current.Role)
		return e.cfg.Router.Route(ctx, *current, text)
	}

	user.Role = role
	slog.Info("Engine.assign: role assigned", "userID", user.ID, "role", role)
	if e.cfg.Workflows != nil {
		if _, err := e.cfg.Workflows.ScheduleForRole(ctx, user, e.cfg.Now()); err != nil {
			slog.Error("Engine.assign: scheduling workflows failed", "userID", user.ID, "error", err)
		}
	}
	return agent.Response{Text: agent.WelcomeMessage(role), AgentType: agentTypeFor(role)}
}

func agentTypeFor(role models.Role) string {
	if role == models.RolePhysiotherapist {
		return models.AgentTypePhysiotherapist
	}
	return models.AgentTypePatient
}

func (e *Engine) deliver(ctx context.Context, phone, text string) {
	if report := e.deliverer.Deliver(ctx, phone, text); !report.OK() {
		slog.Error("Engine.deliver: reply not fully delivered", "phone", phone, "parts", report.Parts, "failed", report.Failed)
	}
}

// RunDueWorkflows fires every workflow entry due now.
func (e *Engine) RunDueWorkflows(ctx context.Context) (int, error) {
	if e.cfg.Workflows == nil {
		slog.Debug("Engine.RunDueWorkflows: no workflow scheduler configured")
		return 0, nil
	}
	return e.cfg.Workflows.Sweep(ctx, e.cfg.Now())
}
