// Package twiliowhatsapp wraps the Twilio API for WhatsApp delivery in PhysioPipe.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// AddressPrefix marks WhatsApp addresses in Twilio's API and webhooks.
const AddressPrefix = "whatsapp:"

// Sender sends a single WhatsApp text message.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// messageAPI is the part of the Twilio REST client we use.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending WhatsApp number, with or without the
// "whatsapp:" prefix.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	api  messageAPI
	from string // "whatsapp:+1234567890"
}

var _ Sender = (*Client)(nil)

// NewClient creates a Twilio-backed Sender.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("sending WhatsApp number must be provided")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{api: rest.Api, from: Address(cfg.FromNumber)}, nil
}

// Address converts a phone number to Twilio's "whatsapp:+<digits>" form.
func Address(phone string) string {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), AddressPrefix)
	return AddressPrefix + "+" + strings.TrimPrefix(phone, "+")
}

// SendMessage sends a WhatsApp message using Twilio API. Failures wrap
// models.ErrTransport.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(Address(to))
	params.SetFrom(c.from)
	params.SetBody(body)

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendMessage: Twilio request failed", "to", to, "error", err)
		return fmt.Errorf("%w: send to %s: %w", models.ErrTransport, to, err)
	}
	if msg != nil && msg.Sid != nil {
		slog.Debug("Client.SendMessage: message queued", "to", to, "sid", *msg.Sid)
	}
	return nil
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records messages instead of sending them. FailOn makes sends
// to matching bodies fail, for exercising partial delivery.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	FailOn       func(to, body string) bool
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOn != nil && m.FailOn(to, body) {
		return fmt.Errorf("%w: mock failure", models.ErrTransport)
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
