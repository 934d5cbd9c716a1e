// Package genai provides text generation over the OpenAI Responses API.
//
// A continuation token is the ID of the previous response; passing it back
// as previous_response_id lets the provider keep the conversation state.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// Defaults used when the corresponding option is not set.
const (
	DefaultModel           = "gpt-4o-mini"
	DefaultMaxOutputTokens = 1000
	DefaultTemperature     = 0.5
	MaxTemperature         = 2.0
)

var (
	// ErrNoAPIKey is returned by NewClient when no API key was given.
	ErrNoAPIKey = errors.New("OpenAI API key not set")
	// ErrEmptyResponse is returned when the provider answered with no text.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Request is a single generation call.
type Request struct {
	SystemInstruction string
	UserText          string
	ContinuationToken string // previous response ID, empty to start fresh
	WebAugmented      bool   // enable the web search tool
}

// Result carries the generated text and the token for the next turn.
type Result struct {
	Text              string
	ContinuationToken string
}

// Generator is the contract the agents depend on.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// responsesService is the subset of the SDK's Responses service we call.
type responsesService interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey          string
	Model           string
	BaseURL         string
	Timeout         time.Duration
	MaxOutputTokens int64
	Temperature     *float64 // nil selects DefaultTemperature
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMaxOutputTokens caps the length of each reply.
func WithMaxOutputTokens(n int64) Option {
	return func(o *Opts) { o.MaxOutputTokens = n }
}

// WithTemperature sets the sampling temperature. Zero is honoured.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = &t }
}

// Client implements Generator over the Responses API.
type Client struct {
	svc         responsesService
	model       string
	timeout     time.Duration
	maxTokens   int64
	temperature float64
}

var _ Generator = (*Client)(nil)

// NewClient builds a Client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if temperature < 0 || temperature > MaxTemperature {
		return nil, fmt.Errorf("temperature %v out of range [0, %v]", temperature, MaxTemperature)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(trimmed))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "timeout", cfg.Timeout)

	return &Client{
		svc:         &cli.Responses,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxOutputTokens,
		temperature: temperature,
	}, nil
}

// Generate calls the model once. Failures wrap models.ErrGeneration.
func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	slog.Debug("Client.Generate: calling model", "model", c.model,
		"continued", req.ContinuationToken != "", "web", req.WebAugmented)
	resp, err := c.svc.New(ctx, c.buildParams(req))
	if err != nil {
		slog.Error("Client.Generate: request failed", "error", err)
		return Result{}, fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	if resp == nil {
		return Result{}, fmt.Errorf("%w: %w", models.ErrGeneration, ErrEmptyResponse)
	}
	text := strings.TrimSpace(outputText(resp))
	if text == "" {
		slog.Warn("Client.Generate: empty output", "responseID", resp.ID)
		return Result{}, fmt.Errorf("%w: %w", models.ErrGeneration, ErrEmptyResponse)
	}
	return Result{Text: text, ContinuationToken: resp.ID}, nil
}

func (c *Client) buildParams(req Request) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(req.UserText)},
	}
	if c.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(c.maxTokens)
	}
	params.Temperature = openai.Float(c.temperature)
	if req.SystemInstruction != "" {
		params.Instructions = openai.String(req.SystemInstruction)
	}
	if req.ContinuationToken != "" {
		params.PreviousResponseID = openai.String(req.ContinuationToken)
	}
	if req.WebAugmented {
		params.Tools = []responses.ToolUnionParam{{
			OfWebSearchPreview: &responses.WebSearchToolParam{Type: responses.WebSearchToolTypeWebSearchPreview},
		}}
	}
	return params
}

// outputText concatenates the output_text parts of every message item.
func outputText(resp *responses.Response) string {
	var b strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}
