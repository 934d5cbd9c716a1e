// Package config loads PhysioPipe settings from the environment and an
// optional .env file.
//
// Every setting is read as PHYSIOPIPE_<NAME>. Provider credentials and the
// database URL also fall back to their conventional unprefixed names
// (OPENAI_API_KEY, TWILIO_ACCOUNT_SID, DATABASE_URL and so on).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/BTreeMap/PhysioPipe/internal/agent"
	"github.com/BTreeMap/PhysioPipe/internal/flow"
	"github.com/BTreeMap/PhysioPipe/internal/genai"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PHYSIOPIPE"

// DefaultDBFileName is the SQLite database created in the state directory
// when no database URL is configured.
const DefaultDBFileName = "physiopipe.db"

// Transport names.
const (
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

// Config is the complete process configuration.
type Config struct {
	Mode                 string `envconfig:"MODE" default:"agents"`
	Policy               string `envconfig:"POLICY" default:"accept-all"`
	AssistantInstruction string `envconfig:"ASSISTANT_INSTRUCTION"`

	StateDir    string `envconfig:"STATE_DIR" default:"/var/lib/physiopipe"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	APIAddr     string `envconfig:"API_ADDR" default:":8080"`

	Transport        string `envconfig:"TRANSPORT" default:"twilio"`
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioNumber     string `envconfig:"TWILIO_NUMBER"`
	WhatsAppDBDSN    string `envconfig:"WHATSAPP_DB_DSN"`
	WhatsAppQROutput string `envconfig:"WHATSAPP_QR_OUTPUT"`

	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel       string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
	MaxOutputTokens   int64         `envconfig:"MAX_OUTPUT_TOKENS" default:"1000"`
	Temperature       float64       `envconfig:"TEMPERATURE" default:"0.5"`

	MaxMessageLength int           `envconfig:"MAX_MESSAGE_LENGTH" default:"1500"`
	ChunkDelay       time.Duration `envconfig:"CHUNK_DELAY" default:"1s"`

	Timezone             string `envconfig:"TIMEZONE" default:"UTC"`
	MorningCheckHour     int    `envconfig:"MORNING_CHECK_HOUR" default:"9"`
	ExerciseReminderHour int    `envconfig:"EXERCISE_REMINDER_HOUR" default:"18"`
	DailySummaryHour     int    `envconfig:"DAILY_SUMMARY_HOUR" default:"8"`
	SweepSchedule        string `envconfig:"SWEEP_SCHEDULE" default:"* * * * *"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
}

// Load reads envFile (or ./.env when envFile is empty and the file exists)
// into the environment without overriding variables that are already set,
// then processes the environment into a Config.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
		slog.Debug("config.Load: env file loaded", "path", envFile)
	} else if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
		slog.Debug("config.Load: no .env file found")
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that envconfig cannot.
func (c *Config) Validate() error {
	var errs []error
	if _, err := flow.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := agent.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Transport) {
	case TransportTwilio, TransportWhatsmeow:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, TransportTwilio, TransportWhatsmeow))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, fmt.Errorf("max message length must be positive, got %d", c.MaxMessageLength))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("generation timeout must be positive, got %s", c.GenerationTimeout))
	}
	if c.Temperature < 0 || c.Temperature > genai.MaxTemperature {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and %v, got %v", genai.MaxTemperature, c.Temperature))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DatabaseDSN returns the application database DSN, defaulting to a SQLite
// file in the state directory.
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// WhatsAppDSN returns the whatsmeow device store DSN. It shares the
// application database unless configured separately.
func (c *Config) WhatsAppDSN() string {
	if c.WhatsAppDBDSN != "" {
		return c.WhatsAppDBDSN
	}
	return c.DatabaseDSN()
}
