// Package whatsapp wraps the whatsmeow client for direct WhatsApp delivery
// and inbound message events in PhysioPipe.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/BTreeMap/PhysioPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow device database
	DefaultSQLitePath = "/var/lib/physiopipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users
	JIDSuffix = types.DefaultUserServer
)

// MessageHandler receives inbound text messages. from is the sender's phone
// number in digits.
type MessageHandler func(from, body string, at time.Time)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device store connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the pairing code as text.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client wraps the whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client

	mu       sync.RWMutex
	handlers []MessageHandler
}

// NewClient opens the device store, logs in if needed and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient: options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
	}
	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("whatsapp.NewClient: SQLite DSN has no foreign_keys parameter; whatsmeow expects them enabled",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("whatsapp.NewClient: device store init failed", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	c := &Client{waClient: whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))}
	c.waClient.AddEventHandler(c.handleEvent)

	if c.waClient.Store.ID == nil {
		if err := c.login(ctx, cfg); err != nil {
			return nil, err
		}
	} else if err := c.waClient.Connect(); err != nil {
		slog.Error("whatsapp.NewClient: connect failed", "error", err)
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("whatsapp.NewClient: connected")
	return c, nil
}

func (c *Client) login(ctx context.Context, cfg Opts) error {
	slog.Info("Client.login: WhatsApp login required; starting pairing flow")
	qrChan, _ := c.waClient.GetQRChannel(ctx)
	if err := c.waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("Client.login: login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// OnMessage registers a handler for inbound text messages.
func (c *Client) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) handleEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok || msg.Info.IsFromMe || msg.Info.IsGroup {
		return
	}
	text, ok := extractText(msg.Message)
	if !ok {
		slog.Debug("Client.handleEvent: ignoring non-text message", "from", msg.Info.Sender.User)
		return
	}
	c.dispatch(msg.Info.Sender.User, text, msg.Info.Timestamp)
}

func (c *Client) dispatch(from, body string, at time.Time) {
	c.mu.RLock()
	handlers := append([]MessageHandler(nil), c.handlers...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(from, body, at)
	}
}

// extractText returns the plain text of a conversation or extended text
// message.
func extractText(m *waE2E.Message) (string, bool) {
	if m == nil {
		return "", false
	}
	if m.Conversation != nil {
		return m.GetConversation(), true
	}
	if ext := m.GetExtendedTextMessage(); ext != nil && ext.Text != nil {
		return ext.GetText(), true
	}
	return "", false
}

// SendMessage sends a text message to a phone number given as digits.
// Failures wrap models.ErrTransport.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return fmt.Errorf("%w: whatsapp client not initialized", models.ErrTransport)
	}
	to = strings.TrimPrefix(to, "+")
	if to == "" {
		return fmt.Errorf("%w: recipient cannot be empty", models.ErrTransport)
	}
	if body == "" {
		return fmt.Errorf("%w: message body cannot be empty", models.ErrTransport)
	}

	jid := types.NewJID(to, JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("Client.SendMessage: send failed", "error", err, "to", to)
		return fmt.Errorf("%w: send to %s: %w", models.ErrTransport, to, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", to, "body_length", len(body))
	return nil
}

// Disconnect closes the connection to WhatsApp.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}
