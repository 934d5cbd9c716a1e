package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/whatsapp"
)

// whatsAppClient is the part of whatsapp.Client the service needs.
type whatsAppClient interface {
	SendMessage(ctx context.Context, to string, body string) error
	OnMessage(h whatsapp.MessageHandler)
}

// WhatsAppService implements Service using the whatsmeow-based client.
type WhatsAppService struct {
	client  whatsAppClient
	inbound chan models.InboundMessage

	mu      sync.RWMutex
	started bool
	stopped bool
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a WhatsAppService wrapping client.
func NewWhatsAppService(client whatsAppClient) *WhatsAppService {
	return &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start subscribes to inbound text messages.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.client.OnMessage(s.receive)
	slog.Debug("WhatsAppService.Start: inbound handler registered")
	return nil
}

func (s *WhatsAppService) receive(from, body string, at time.Time) {
	phone, err := CanonicalizePhone(from)
	if err != nil {
		slog.Warn("WhatsAppService.receive: dropping message from invalid sender", "from", from, "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	emit(s.inbound, models.InboundMessage{From: phone, Body: body, Time: at.Unix()})
}

func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return fmt.Errorf("%w: %w", models.ErrTransport, ErrServiceStopped)
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}
