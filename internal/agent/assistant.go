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

// Policy decides which messages the assistant accepts.
type Policy string

const (
	// PolicyAcceptAll answers every message.
	PolicyAcceptAll Policy = "accept-all"
	// PolicyFinanceOnly refuses messages without a finance keyword.
	PolicyFinanceOnly Policy = "finance-only"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAcceptAll, nil
	case PolicyAcceptAll, PolicyFinanceOnly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown policy %q (want %q or %q)", s, PolicyAcceptAll, PolicyFinanceOnly)
	}
}

// AssistantInstruction is the default system instruction in assistant mode.
const AssistantInstruction = "You're a helpful investor, a serial founder and you've sold many startups. " +
	"You understand nothing but business. You are here to give advice on business."

// RefusalReply is returned verbatim for non-finance messages under
// PolicyFinanceOnly.
const RefusalReply = "Sorry, I can only help with stock market and financial questions. " +
	"Ask me about a company's earnings, dividends or share price."

var financeKeywords = []string{
	"stock", "share", "financial", "earnings", "revenue", "profit", "market cap",
	"dividend", "pe ratio", "eps", "ticker", "nasdaq", "nyse", "dow", "sp500",
}

// IsFinanceQuery reports whether text mentions a finance or markets term.
func IsFinanceQuery(text string) bool {
	return containsAny(strings.ToLower(text), financeKeywords)
}

// Assistant is the single-agent mode: every message goes to the generator,
// threaded through the continuation token of the user's latest turn.
type Assistant struct {
	turns       store.ConversationRepo
	gen         genai.Generator
	policy      Policy
	instruction string
}

// NewAssistant creates an Assistant. An empty instruction selects
// AssistantInstruction.
func NewAssistant(turns store.ConversationRepo, gen genai.Generator, policy Policy, instruction string) *Assistant {
	if policy == "" {
		policy = PolicyAcceptAll
	}
	if instruction == "" {
		instruction = AssistantInstruction
	}
	return &Assistant{turns: turns, gen: gen, policy: policy, instruction: instruction}
}

// Reply answers text for user. A refusal is marked Ephemeral so it is not
// recorded. When generation fails the apology is returned without a token,
// so the next call starts a fresh thread.
func (a *Assistant) Reply(ctx context.Context, user models.User, text string) Response {
	finance := IsFinanceQuery(text)
	if a.policy == PolicyFinanceOnly && !finance {
		slog.Debug("Assistant.Reply: refusing non-finance message", "userID", user.ID)
		return Response{Text: RefusalReply, AgentType: models.AgentTypeAssistant, Ephemeral: true}
	}

	req := genai.Request{SystemInstruction: a.instruction, UserText: text, WebAugmented: finance}
	latest, err := a.turns.LatestTurn(ctx, user.ID)
	if err != nil {
		slog.Error("Assistant.Reply: loading latest turn failed, continuing without context", "userID", user.ID, "error", err)
	} else if latest != nil {
		req.ContinuationToken = latest.ContinuationToken
	}

	res, err := a.gen.Generate(ctx, req)
	if err != nil {
		return Response{Text: recoverReply(err, "Assistant.Reply", user), AgentType: models.AgentTypeAssistant}
	}
	slog.Debug("Assistant.Reply: generated", "userID", user.ID, "continued", req.ContinuationToken != "", "web", finance)
	return Response{Text: res.Text, AgentType: models.AgentTypeAssistant, ContinuationToken: res.ContinuationToken}
}
