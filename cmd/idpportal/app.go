package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/agents"
	"github.com/opentalon/idpportal/internal/api"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/events"
	"github.com/opentalon/idpportal/internal/metrics"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
	"github.com/opentalon/idpportal/internal/scheduler"
	"github.com/opentalon/idpportal/internal/state"
	"github.com/opentalon/idpportal/internal/state/cache"
	"github.com/opentalon/idpportal/internal/state/store"
)

const pruneInterval = time.Hour

// app is the wired portal: providers, persistence, agents and the
// supervisor. Close releases everything it opened.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	promReg    *prometheus.Registry
	metrics    *metrics.Metrics
	store      state.Store
	pruner     state.Pruner
	checks     map[string]api.Check
	registry   *orchestrator.Registry
	regErrors  []error
	supervisor *orchestrator.Supervisor
	sched      *scheduler.Scheduler
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		promReg: prometheus.NewRegistry(),
		checks:  make(map[string]api.Check),
	}
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.promReg)

	ref, llm, err := newLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	pub, err := newPublisher(cfg.Events)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, pub.Close)

	var notifier scheduler.Notifier
	if cfg.Backends.Slack.Token != "" {
		slack, err := agents.NewSlackClient(cfg.Backends.Slack)
		if err != nil {
			a.Close()
			return nil, err
		}
		notifier = slack
	}
	a.sched = scheduler.NewWithPolicy(notifier, cfg.Database.DataDir, logger.Named("scheduler"), cfg.Scheduler)

	guard := orchestrator.NewGuard()
	guard.Timeout = cfg.Orchestrator.ToolTimeoutDuration()
	if cfg.Orchestrator.MaxToolOutput > 0 {
		guard.MaxResponseBytes = cfg.Orchestrator.MaxToolOutput
	}
	env := &orchestrator.Env{
		Config:  cfg,
		LLM:     llm,
		Model:   ref.Model(),
		Logger:  logger.Named("agents"),
		Metrics: a.metrics,
		Guard:   guard,
	}
	a.registry = orchestrator.NewRegistry(env)
	a.regErrors = a.registry.RegisterAll(agents.Catalog(a.sched))
	logger.Info("agents registered",
		zap.Strings("agents", a.registry.List()),
		zap.Int("skipped", len(a.regErrors)))

	parser := orchestrator.StrictParser
	if cfg.Orchestrator.LenientDecisions {
		parser = orchestrator.LenientParser
	}
	a.supervisor = orchestrator.NewSupervisor(llm, a.registry,
		orchestrator.WithModel(ref.Model()),
		orchestrator.WithMaxTokens(cfg.Orchestrator.MaxTokens),
		orchestrator.WithTemperature(cfg.Orchestrator.Temperature),
		orchestrator.WithMaxIterations(cfg.Orchestrator.MaxIterations),
		orchestrator.WithParser(parser),
		orchestrator.WithRules(cfg.Orchestrator.Rules),
		orchestrator.WithObserver(state.NewRecorder(a.store, cfg.Database.MaxMessages, logger.Named("state"))),
		orchestrator.WithObserver(events.NewObserver(pub, logger.Named("events"))),
		orchestrator.WithLogger(logger.Named("supervisor")),
		orchestrator.WithMetrics(a.metrics),
	)
	return a, nil
}

// newLLM builds every configured provider and returns the one the
// orchestrator model points at.
func newLLM(ctx context.Context, cfg *config.Config) (provider.ModelRef, provider.Provider, error) {
	ref, err := provider.ParseModelRef(cfg.Orchestrator.Model)
	if err != nil {
		return "", nil, err
	}
	reg := provider.NewRegistry()
	for id, pc := range cfg.Models.Providers {
		p, err := provider.FromConfig(ctx, provider.ProviderConfig{
			ID:        id,
			BaseURL:   pc.BaseURL,
			APIKey:    pc.APIKey,
			API:       pc.API,
			Bedrock:   pc.Bedrock,
			AWSRegion: pc.AWSRegion,
			Models:    modelInfos(id, pc.Models),
		})
		if err != nil {
			return "", nil, fmt.Errorf("provider %s: %w", id, err)
		}
		if err := reg.Register(p); err != nil {
			return "", nil, err
		}
	}
	p, err := reg.GetForModel(ref)
	if err != nil {
		return "", nil, fmt.Errorf("orchestrator.model %s: %w", ref, err)
	}
	return ref, p, nil
}

func modelInfos(providerID string, defs []config.ModelDefinition) []provider.ModelInfo {
	out := make([]provider.ModelInfo, 0, len(defs))
	for _, d := range defs {
		info := provider.ModelInfo{
			ID:            d.ID,
			Name:          d.Name,
			ProviderID:    providerID,
			ContextWindow: d.ContextWindow,
			MaxTokens:     d.MaxTokens,
		}
		if d.Tools {
			info.Features = append(info.Features, provider.FeatureTools)
		}
		if d.Reasoning {
			info.Features = append(info.Features, provider.FeatureReasoning)
		}
		out = append(out, info)
	}
	return out
}

// openStore picks the transcript store for database.driver and puts the
// Redis cache in front of it when redis.addr is set.
func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Database.Driver == "memory" {
		a.store = state.NewMemoryStore()
	} else {
		db, err := store.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.checks["database"] = db.Ping
		cs := store.NewConversationStore(db, cfg.Database.MaxMessages, cfg.Database.MaxIdleDays)
		a.store = cs
		if cfg.Database.MaxIdleDays > 0 {
			a.pruner = cs
		}
	}

	if cfg.Redis.Addr == "" {
		return nil
	}
	client, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)
	cached := cache.Wrap(a.store, client, cfg.Redis.TTLDuration(), a.logger.Named("cache"))
	a.checks["cache"] = cached.Ping
	a.store = cached
	if a.pruner != nil {
		a.pruner = cached
	}
	return nil
}

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if cfg.URL == "" {
		return events.Nop{}, nil
	}
	return events.NewAMQPPublisher(cfg)
}

// prune deletes idle conversations every pruneInterval until ctx ends.
func (a *app) prune(ctx context.Context) error {
	if a.pruner == nil {
		return nil
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ids, err := a.pruner.PruneIdle(ctx)
			if err != nil {
				a.logger.Warn("pruning conversations", zap.Error(err))
			}
			if len(ids) > 0 {
				a.logger.Info("pruned idle conversations", zap.Int("count", len(ids)))
			}
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
