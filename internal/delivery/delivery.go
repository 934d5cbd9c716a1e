// Package delivery sends generated replies through the messaging transport.
//
// A reply is formatted for WhatsApp, split into transport-sized parts, tagged
// with "part i/N" markers when it spans several messages and sent strictly in
// sequence with a pause between parts.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/textfmt"
)

const (
	// DefaultMaxLength is the largest body sent in a single message.
	DefaultMaxLength = 1500
	// DefaultChunkDelay is the pause between consecutive parts of one reply.
	DefaultChunkDelay = time.Second
	// maxResplits bounds how often the part prefix reservation is recomputed.
	maxResplits = 3
)

// Sender sends a single message body to a recipient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Report summarizes a delivery attempt.
type Report struct {
	Parts  int `json:"parts"`
	Failed int `json:"failed"`
}

// OK reports whether every part was handed to the transport.
func (r Report) OK() bool {
	return r.Failed == 0
}

// Opts holds configuration options for the Pipeline.
type Opts struct {
	MaxLength  int
	ChunkDelay time.Duration
}

// Option defines a configuration option for the Pipeline.
type Option func(*Opts)

// WithMaxLength sets the maximum body length per message, part marker included.
func WithMaxLength(n int) Option {
	return func(o *Opts) {
		o.MaxLength = n
	}
}

// WithChunkDelay sets the pause between consecutive parts. Zero disables it.
func WithChunkDelay(d time.Duration) Option {
	return func(o *Opts) {
		o.ChunkDelay = d
	}
}

// Pipeline formats, chunks and sends replies.
type Pipeline struct {
	sender    Sender
	maxLength int
	delay     time.Duration
}

// NewPipeline creates a Pipeline sending through sender.
func NewPipeline(sender Sender, opts ...Option) *Pipeline {
	cfg := Opts{MaxLength: DefaultMaxLength, ChunkDelay: DefaultChunkDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	slog.Debug("NewPipeline created", "maxLength", cfg.MaxLength, "chunkDelay", cfg.ChunkDelay)
	return &Pipeline{sender: sender, maxLength: cfg.MaxLength, delay: cfg.ChunkDelay}
}

// Parts formats raw text and returns the message bodies that Deliver would
// send, part markers included.
func (p *Pipeline) Parts(raw string) []string {
	formatted := textfmt.Format(raw)
	chunks := textfmt.Split(formatted, p.maxLength)
	if len(chunks) <= 1 {
		return chunks
	}

	// Reserve room for the marker and split again; a larger part count can
	// widen the marker, so repeat until the count is stable.
	for i := 0; i < maxResplits; i++ {
		reserve := len(partPrefix(len(chunks), len(chunks)))
		resplit := textfmt.Split(formatted, p.maxLength-reserve)
		if len(resplit) == len(chunks) {
			chunks = resplit
			break
		}
		chunks = resplit
	}

	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = partPrefix(i+1, len(chunks)) + c
	}
	return parts
}

// Deliver sends raw text to the recipient. A failed part is logged and the
// remaining parts are still attempted. Cancelling ctx stops the delivery
// between parts; unsent parts are counted as failed.
func (p *Pipeline) Deliver(ctx context.Context, to string, raw string) Report {
	parts := p.Parts(raw)
	report := Report{Parts: len(parts)}
	if len(parts) == 0 {
		slog.Debug("Pipeline.Deliver: nothing to send", "to", to)
		return report
	}

	for i, body := range parts {
		if i > 0 && p.delay > 0 {
			if err := sleep(ctx, p.delay); err != nil {
				report.Failed += len(parts) - i
				slog.Warn("Pipeline.Deliver: delivery interrupted", "to", to, "sent", i, "parts", len(parts), "error", err)
				return report
			}
		}
		if err := p.sender.SendMessage(ctx, to, body); err != nil {
			report.Failed++
			slog.Error("Pipeline.Deliver: part send failed", "to", to, "part", i+1, "parts", len(parts), "error", err)
			continue
		}
		slog.Debug("Pipeline.Deliver: part sent", "to", to, "part", i+1, "parts", len(parts), "length", len(body))
	}

	slog.Info("Pipeline.Deliver: delivery finished", "to", to, "parts", report.Parts, "failed", report.Failed)
	return report
}

func partPrefix(i, n int) string {
	return fmt.Sprintf("part %d/%d\n", i, n)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
