package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/PhysioPipe/internal/config"
	"github.com/BTreeMap/PhysioPipe/internal/flow"
	"github.com/BTreeMap/PhysioPipe/internal/lockfile"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Mode:                 "agents",
		Policy:               "accept-all",
		StateDir:             filepath.Join(dir, "state"),
		DatabaseURL:          filepath.Join(dir, "state", "physiopipe.db"),
		APIAddr:              "127.0.0.1:0",
		Transport:            config.TransportTwilio,
		TwilioAccountSID:     "AC00000000000000000000000000000000",
		TwilioAuthToken:      "token",
		TwilioNumber:         "+15550000000",
		OpenAIAPIKey:         "sk-test",
		OpenAIModel:          "gpt-4o-mini",
		GenerationTimeout:    time.Second,
		MaxOutputTokens:      1000,
		Temperature:          0.5,
		MaxMessageLength:     1500,
		Timezone:             "UTC",
		MorningCheckHour:     9,
		ExerciseReminderHour: 18,
		DailySummaryHour:     8,
		LogLevel:             "info",
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "sweep"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered: %v", name, err)
		}
	}
	serveCmd, _, _ := root.Find([]string{"serve"})
	for _, flag := range []string{"api-addr", "mode", "policy", "transport", "qr-output", "numeric-code", "no-cron"} {
		if serveCmd.Flags().Lookup(flag) == nil {
			t.Errorf("serve is missing --%s", flag)
		}
	}
	for _, flag := range []string{"env", "state-dir", "db-dsn", "log-level"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("root is missing --%s", flag)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := testConfig(t)
	applyOverrides(cfg,
		&rootFlags{stateDir: "/srv/physio", logLevel: "debug"},
		&serveFlags{mode: "assistant", policy: "finance-only"},
	)
	if cfg.StateDir != "/srv/physio" || cfg.LogLevel != "debug" || cfg.Mode != "assistant" || cfg.Policy != "finance-only" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.APIAddr != "127.0.0.1:0" || cfg.Transport != config.TransportTwilio {
		t.Errorf("empty flags must not override: %+v", cfg)
	}

	applyOverrides(cfg, nil, nil)
}

func TestBuildApp(t *testing.T) {
	cfg := testConfig(t)
	a, err := buildApp(context.Background(), cfg, buildOpts{})
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	if a.engine.Mode() != flow.ModeAgents {
		t.Errorf("unexpected mode %q", a.engine.Mode())
	}

	// A second process on the same state directory must be refused.
	if _, err := buildApp(context.Background(), cfg, buildOpts{}); err == nil {
		t.Error("second buildApp should fail while the lock is held")
	} else {
		var lockErr *lockfile.LockError
		if !errors.As(err, &lockErr) {
			t.Errorf("expected *lockfile.LockError, got %T", err)
		}
	}

	a.Close()
	again, err := buildApp(context.Background(), cfg, buildOpts{})
	if err != nil {
		t.Fatalf("buildApp after Close: %v", err)
	}
	again.Close()
}

func TestBuildApp_AssistantMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "assistant"
	a, err := buildApp(context.Background(), cfg, buildOpts{})
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()
	if a.engine.Mode() != flow.ModeAssistant {
		t.Errorf("unexpected mode %q", a.engine.Mode())
	}
}

func TestBuildApp_MissingCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAIAPIKey = ""
	if _, err := buildApp(context.Background(), cfg, buildOpts{}); err == nil {
		t.Error("expected error without an OpenAI key")
	}
	// The failed build must release the lock.
	cfg.OpenAIAPIKey = "sk-test"
	cfg.TwilioAuthToken = ""
	if _, err := buildApp(context.Background(), cfg, buildOpts{}); err == nil {
		t.Error("expected error without Twilio credentials")
	}
	cfg.TwilioAuthToken = "token"
	a, err := buildApp(context.Background(), cfg, buildOpts{})
	if err != nil {
		t.Fatalf("lock leaked by failed builds: %v", err)
	}
	a.Close()
}

func TestSweepOnce_EmptyDatabase(t *testing.T) {
	n, err := sweepOnce(context.Background(), testConfig(t))
	if err != nil || n != 0 {
		t.Errorf("n=%d err=%v", n, err)
	}
}
