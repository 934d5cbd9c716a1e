package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/PhysioPipe/internal/agent"
	"github.com/BTreeMap/PhysioPipe/internal/api"
	"github.com/BTreeMap/PhysioPipe/internal/config"
	"github.com/BTreeMap/PhysioPipe/internal/delivery"
	"github.com/BTreeMap/PhysioPipe/internal/flow"
	"github.com/BTreeMap/PhysioPipe/internal/genai"
	"github.com/BTreeMap/PhysioPipe/internal/lockfile"
	"github.com/BTreeMap/PhysioPipe/internal/messaging"
	"github.com/BTreeMap/PhysioPipe/internal/scheduler"
	"github.com/BTreeMap/PhysioPipe/internal/store"
	"github.com/BTreeMap/PhysioPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/PhysioPipe/internal/whatsapp"
	"github.com/BTreeMap/PhysioPipe/internal/workflow"
)

type buildOpts struct {
	qrOutput    string
	numericCode bool
	cron        bool
}

// app holds the collaborators built once per process.
type app struct {
	cfg       *config.Config
	lock      *lockfile.Lock
	store     store.Store
	messaging messaging.Service
	whatsapp  *whatsapp.Client
	engine    *flow.Engine
	location  *time.Location
}

// buildApp takes the state directory lock and wires every component from cfg.
// The returned app must be closed.
func buildApp(ctx context.Context, cfg *config.Config, opts buildOpts) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.lock, err = lockfile.AcquireLock(cfg.StateDir); err != nil {
		return nil, err
	}
	if a.location, err = cfg.Location(); err != nil {
		return nil, err
	}
	if a.store, err = store.New(cfg.DatabaseDSN()); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if a.messaging, err = a.buildTransport(ctx, opts); err != nil {
		return nil, err
	}

	gen, err := genai.NewClient(
		genai.WithAPIKey(cfg.OpenAIAPIKey),
		genai.WithModel(cfg.OpenAIModel),
		genai.WithBaseURL(cfg.OpenAIBaseURL),
		genai.WithTimeout(cfg.GenerationTimeout),
		genai.WithMaxOutputTokens(cfg.MaxOutputTokens),
		genai.WithTemperature(cfg.Temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("create text generation client: %w", err)
	}

	pipeline := delivery.NewPipeline(a.messaging,
		delivery.WithMaxLength(cfg.MaxMessageLength),
		delivery.WithChunkDelay(cfg.ChunkDelay),
	)
	workflows, err := workflow.NewScheduler(a.store, pipeline,
		workflow.WithLocation(a.location),
		workflow.WithHours(cfg.MorningCheckHour, cfg.ExerciseReminderHour, cfg.DailySummaryHour),
	)
	if err != nil {
		return nil, err
	}

	mode, _ := flow.ParseMode(cfg.Mode)
	policy, _ := agent.ParsePolicy(cfg.Policy)
	engineOpts := []flow.Option{flow.WithMode(mode), flow.WithWorkflows(workflows)}
	switch mode {
	case flow.ModeAssistant:
		engineOpts = append(engineOpts, flow.WithAssistant(agent.NewAssistant(a.store, gen, policy, cfg.AssistantInstruction)))
	default:
		agentOpts := []agent.Option{agent.WithLocation(a.location)}
		engineOpts = append(engineOpts, flow.WithRouter(agent.NewRouter(
			agent.NewPatientAgent(a.store, gen, agentOpts...),
			agent.NewPhysiotherapistAgent(a.store, gen, agentOpts...),
		)))
	}
	if a.engine, err = flow.NewEngine(a.store, pipeline, engineOpts...); err != nil {
		return nil, err
	}
	slog.Info("buildApp: components ready", "mode", mode, "transport", cfg.Transport, "policy", policy)
	return a, nil
}

func (a *app) buildTransport(ctx context.Context, opts buildOpts) (messaging.Service, error) {
	cfg := a.cfg
	if strings.EqualFold(cfg.Transport, config.TransportWhatsmeow) {
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN())}
		qrOutput := opts.qrOutput
		if qrOutput == "" {
			qrOutput = cfg.WhatsAppQROutput
		}
		if qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(qrOutput))
		}
		if opts.numericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, fmt.Errorf("create WhatsApp client: %w", err)
		}
		a.whatsapp = client
		return messaging.NewWhatsAppService(client), nil
	}

	client, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFromNumber(cfg.TwilioNumber),
	)
	if err != nil {
		return nil, fmt.Errorf("create Twilio client: %w", err)
	}
	return messaging.NewTwilioService(client), nil
}

// Close releases everything buildApp acquired, in reverse order.
func (a *app) Close() {
	if a.whatsapp != nil {
		a.whatsapp.Disconnect()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("app.Close: closing store failed", "error", err)
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			slog.Error("app.Close: releasing lock failed", "error", err)
		}
	}
}

// serve runs the HTTP API, the inbound message loop and the cron sweep until
// ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, opts buildOpts) error {
	a, err := buildApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.messaging.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer a.messaging.Stop()

	g, gctx := errgroup.WithContext(ctx)

	server := api.NewServer(a.engine, api.WithAddr(cfg.APIAddr))
	g.Go(func() error {
		return server.Run(gctx)
	})

	g.Go(func() error {
		messaging.Listen(gctx, a.messaging, a.engine.HandleInbound, messaging.DefaultInboundConcurrency)
		return nil
	})

	if opts.cron && cfg.SweepSchedule != "" {
		// Claimed entries are retired whether or not they were sent, so a
		// running sweep finishes even when shutdown begins.
		sweepCtx := context.WithoutCancel(gctx)
		cron := scheduler.NewScheduler(scheduler.WithLocation(a.location))
		err := cron.AddJob("workflow-sweep", cfg.SweepSchedule, func() {
			if _, err := a.engine.RunDueWorkflows(sweepCtx); err != nil {
				slog.Error("serve: scheduled sweep failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
		// Catch up on entries that came due while the process was down.
		if n, err := a.engine.RunDueWorkflows(sweepCtx); err != nil {
			slog.Error("serve: startup sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("serve: startup sweep fired overdue workflows", "count", n)
		}
		cron.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-cron.Stop().Done()
			return nil
		})
	} else {
		slog.Info("serve: in-process sweep disabled; trigger POST /workflows/run or the sweep command")
	}

	slog.Info("serve: PhysioPipe running", "addr", cfg.APIAddr, "mode", a.engine.Mode())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("serve: PhysioPipe stopped")
	return nil
}

// sweepOnce fires the due workflows and returns how many were sent.
func sweepOnce(ctx context.Context, cfg *config.Config) (int, error) {
	a, err := buildApp(ctx, cfg, buildOpts{})
	if err != nil {
		return 0, err
	}
	defer a.Close()
	return a.engine.RunDueWorkflows(ctx)
}
