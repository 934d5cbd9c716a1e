// Package messaging adapts the WhatsApp transports to a common Service used
// by the delivery pipeline and the inbound message loop.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize is the buffer size of inbound channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound event may block
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted canonical phone number
	MinPhoneDigits = 6
	// DefaultInboundConcurrency bounds how many inbound messages are
	// handled at once
	DefaultInboundConcurrency = 16
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the digits-only form of a
	// recipient address.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbound returns a channel of messages received from users.
	Inbound() <-chan models.InboundMessage
}

// CanonicalizePhone strips a "whatsapp:" prefix and every non-digit.
func CanonicalizePhone(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:"), "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", raw)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}

// InboundHandler processes one inbound message.
type InboundHandler func(ctx context.Context, msg models.InboundMessage) error

// Listen feeds every message from svc to handle until ctx is cancelled or
// the inbound channel closes. Up to concurrency messages are handled at once
// (DefaultInboundConcurrency when not positive); Listen returns after the
// in-flight handlers finish. Handler errors are logged and do not stop the
// loop.
func Listen(ctx context.Context, svc Service, handle InboundHandler, concurrency int) {
	if concurrency <= 0 {
		concurrency = DefaultInboundConcurrency
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	defer g.Wait()

	slog.Info("messaging.Listen: inbound loop started", "concurrency", concurrency)
	for {
		select {
		case <-ctx.Done():
			slog.Info("messaging.Listen: stopping", "reason", ctx.Err())
			return
		case msg, ok := <-svc.Inbound():
			if !ok {
				slog.Info("messaging.Listen: inbound channel closed")
				return
			}
			g.Go(func() error {
				if err := handle(ctx, msg); err != nil {
					slog.Error("messaging.Listen: handler failed", "from", msg.From, "error", err)
				}
				return nil
			})
		}
	}
}

// emit pushes msg onto ch, dropping it when the channel stays full.
func emit(ch chan<- models.InboundMessage, msg models.InboundMessage) bool {
	select {
	case ch <- msg:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging.emit: inbound channel blocked, dropping message", "from", msg.From)
		return false
	}
}
