package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/PhysioPipe/internal/genai"
	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/store"
)

func TestIsFinanceQuery(t *testing.T) {
	tests := map[string]bool{
		"What's the PE ratio of ACME?":  true,
		"NASDAQ closed higher":          true,
		"tell me about market cap":      true,
		"Quarterly EARNINGS next week?": true,
		"hello":                         false,
		"how do I stretch my hamstring": false,
	}
	for text, want := range tests {
		if got := IsFinanceQuery(text); got != want {
			t.Errorf("IsFinanceQuery(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyAcceptAll {
		t.Errorf("empty policy should default to accept-all, got %q err=%v", p, err)
	}
	if p, err := ParsePolicy("Finance-Only"); err != nil || p != PolicyFinanceOnly {
		t.Errorf("got %q err=%v", p, err)
	}
	if _, err := ParsePolicy("everything"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestAssistant_FinanceOnlyRefusal(t *testing.T) {
	s := store.NewInMemoryStore()
	gen := genai.NewMockClient(genai.Result{Text: "unused", ContinuationToken: "T1"})
	a := NewAssistant(s, gen, PolicyFinanceOnly, "")

	resp := a.Reply(context.Background(), models.User{ID: 1}, "hello")
	if resp.Text != RefusalReply || !resp.Ephemeral {
		t.Errorf("expected ephemeral refusal, got %+v", resp)
	}
	if gen.Calls() != 0 {
		t.Errorf("refusal must not call the generator, got %d calls", gen.Calls())
	}
}

func TestAssistant_ContinuationThreading(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	u, _, _ := s.GetOrCreateUser(ctx, "15550000301")
	s.AddTurn(ctx, models.ConversationTurn{UserID: u.ID, Input: "hi", Output: "hello", ContinuationToken: "T", AgentType: models.AgentTypeAssistant})

	gen := genai.NewMockClient(genai.Result{Text: "ACME pays a dividend.", ContinuationToken: "T'"})
	a := NewAssistant(s, gen, PolicyAcceptAll, "")

	resp := a.Reply(ctx, *u, "Does ACME pay a dividend?")
	if resp.Text != "ACME pays a dividend." || resp.ContinuationToken != "T'" || resp.Ephemeral {
		t.Errorf("unexpected response %+v", resp)
	}
	req := gen.Requests[0]
	if req.ContinuationToken != "T" {
		t.Errorf("expected previous token T, got %q", req.ContinuationToken)
	}
	if !req.WebAugmented {
		t.Error("finance query should enable web augmentation")
	}
	if req.SystemInstruction != AssistantInstruction {
		t.Errorf("unexpected instruction %q", req.SystemInstruction)
	}
}

func TestAssistant_GenerationFailureDropsToken(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	u, _, _ := s.GetOrCreateUser(ctx, "15550000302")

	gen := genai.NewMockClient()
	gen.Err = errors.New("timeout")
	a := NewAssistant(s, gen, PolicyAcceptAll, "")

	resp := a.Reply(ctx, *u, "how do I grow revenue?")
	if resp.Text != ApologyReply || resp.ContinuationToken != "" || resp.Ephemeral {
		t.Errorf("expected persisted apology without token, got %+v", resp)
	}
	if gen.Requests[0].ContinuationToken != "" {
		t.Error("first call must not carry a token")
	}
}

func TestAssistant_NonFinanceIsNotWebAugmented(t *testing.T) {
	gen := genai.NewMockClient(genai.Result{Text: "Focus on customers.", ContinuationToken: "T1"})
	a := NewAssistant(store.NewInMemoryStore(), gen, PolicyAcceptAll, "custom")

	a.Reply(context.Background(), models.User{ID: 7}, "how do I hire well?")
	if gen.Requests[0].WebAugmented || gen.Requests[0].SystemInstruction != "custom" {
		t.Errorf("unexpected request %+v", gen.Requests[0])
	}
}
