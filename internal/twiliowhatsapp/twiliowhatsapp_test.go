package twiliowhatsapp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/PhysioPipe/internal/models"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeMessageAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeMessageAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestAddress(t *testing.T) {
	tests := map[string]string{
		"15551234567":           "whatsapp:+15551234567",
		"+15551234567":          "whatsapp:+15551234567",
		"whatsapp:+15551234567": "whatsapp:+15551234567",
	}
	for in, want := range tests {
		if got := Address(in); got != want {
			t.Errorf("Address(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClient_SendMessage(t *testing.T) {
	api := &fakeMessageAPI{}
	c := &Client{api: api, from: Address("+14155238886")}

	if err := c.SendMessage(context.Background(), "15551234567", "Hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected 1 request, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.To != "whatsapp:+15551234567" || *p.From != "whatsapp:+14155238886" || *p.Body != "Hello" {
		t.Errorf("unexpected params to=%q from=%q body=%q", *p.To, *p.From, *p.Body)
	}
}

func TestClient_SendMessageError(t *testing.T) {
	c := &Client{api: &fakeMessageAPI{err: errors.New("boom")}, from: Address("1")}
	err := c.SendMessage(context.Background(), "15551234567", "Hello")
	if !errors.Is(err, models.ErrTransport) || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected wrapped transport error, got %v", err)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(WithFromNumber("+1")); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without sending number")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromNumber("whatsapp:+14155238886"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.from != "whatsapp:+14155238886" {
		t.Errorf("unexpected from %q", c.from)
	}
}

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.FailOn = func(to, body string) bool { return body == "fail" }

	if err := mock.SendMessage(ctx, "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.SendMessage(ctx, "12345", "fail"); !errors.Is(err, models.ErrTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].Body != "Hello Test" {
		t.Errorf("unexpected sent messages %+v", sent)
	}
}
