package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio REST API. Inbound
// messages arrive through the HTTP webhook rather than the Inbound channel.
type TwilioService struct {
	client  twiliowhatsapp.Sender // real Twilio client or MockClient
	inbound chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a TwilioService over client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start is a no-op for Twilio.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	return nil
}

// SendMessage canonicalizes the recipient and sends via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return fmt.Errorf("%w: %w", models.ErrTransport, ErrServiceStopped)
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// ParseTwilioWebhook reads the From and Body form fields of a Twilio
// webhook and canonicalizes the sender.
func ParseTwilioWebhook(r *http.Request) (models.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return models.InboundMessage{}, fmt.Errorf("parse webhook form: %w", err)
	}
	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		return models.InboundMessage{}, fmt.Errorf("webhook missing From or Body")
	}
	phone, err := CanonicalizePhone(from)
	if err != nil {
		return models.InboundMessage{}, err
	}
	return models.InboundMessage{From: phone, Body: body, Time: time.Now().Unix()}, nil
}
