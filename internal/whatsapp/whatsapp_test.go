package whatsapp

import (
	"context"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func strPtr(s string) *string { return &s }

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
		ok   bool
	}{
		{"nil", nil, "", false},
		{"conversation", &waE2E.Message{Conversation: strPtr("my knee hurts")}, "my knee hurts", true},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: strPtr("physio here")}}, "physio here", true},
		{"media only", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractText(tt.msg)
			if got != tt.want || ok != tt.ok {
				t.Errorf("extractText() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestHandleEventDispatchesTextMessages(t *testing.T) {
	c := &Client{}
	var got []string
	c.OnMessage(func(from, body string, at time.Time) {
		got = append(got, from+":"+body)
	})

	sender := types.NewJID("15551234567", JIDSuffix)
	incoming := &events.Message{
		Info:    types.MessageInfo{MessageSource: types.MessageSource{Sender: sender, Chat: sender}, Timestamp: time.Now()},
		Message: &waE2E.Message{Conversation: strPtr("hello")},
	}
	c.handleEvent(incoming)

	own := &events.Message{
		Info:    types.MessageInfo{MessageSource: types.MessageSource{Sender: sender, Chat: sender, IsFromMe: true}},
		Message: &waE2E.Message{Conversation: strPtr("echo")},
	}
	c.handleEvent(own)
	c.handleEvent(&events.Connected{})

	if len(got) != 1 || got[0] != "15551234567:hello" {
		t.Errorf("unexpected dispatched messages %v", got)
	}
}

func TestOptions(t *testing.T) {
	opts := &Opts{}
	WithDBDSN("/tmp/test.db")(opts)
	WithQRCodeOutput("/tmp/qr.txt")(opts)
	WithNumericCode()(opts)
	if opts.DBDSN != "/tmp/test.db" || opts.QRPath != "/tmp/qr.txt" || !opts.NumericCode {
		t.Errorf("options not applied: %+v", opts)
	}
}

func TestSendMessageWithoutConnection(t *testing.T) {
	c := &Client{}
	if err := c.SendMessage(context.Background(), "15551234567", "hi"); err == nil {
		t.Error("expected error from unconnected client")
	}
}
