package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lbartoszcze/autolife/internal/api"
	"github.com/lbartoszcze/autolife/internal/config"
	"github.com/lbartoszcze/autolife/internal/events"
	"github.com/lbartoszcze/autolife/internal/heuristics"
	"github.com/lbartoszcze/autolife/internal/orchestrator"
	"github.com/lbartoszcze/autolife/internal/ratelimit"
	"github.com/lbartoszcze/autolife/internal/safety"
	"github.com/lbartoszcze/autolife/internal/trace"
)

// #region app

// app is the wired runtime for one command invocation.
type app struct {
	orch    *orchestrator.Orchestrator
	store   ratelimit.Store
	log     *trace.FileRecorder
	index   *trace.SQLiteIndex // nil unless trace_index is set
	closers []func() error
}

// traces returns the fastest available trace lookup.
func (a *app) traces() api.TraceFinder {
	if a.index != nil {
		return a.index
	}
	return a.log
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newApp wires stores, recorders, the safety policy, the stage catalog and
// the event publisher from cfg.
func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{log: trace.NewFileRecorder(cfg.StateRoot)}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	// 1. Pacing store
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := ratelimit.OpenSQLite(cfg.StateRoot, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		a.store = ratelimit.NewFileStore(cfg.StateRoot, logger)
	}

	// 2. Trace log, optionally mirrored into the SQLite index
	var rec trace.Recorder = a.log
	if cfg.TraceIndex {
		idx, err := trace.OpenIndex(cfg.StateRoot)
		if err != nil {
			return nil, fmt.Errorf("open trace index: %w", err)
		}
		a.index = idx
		a.closers = append(a.closers, idx.Close)
		rec = trace.Multi{a.log, idx}
	}

	// 3. Safety policy
	filter := safety.Default()
	if cfg.SafetyPolicy != "" {
		p, err := safety.LoadPolicy(cfg.SafetyPolicy)
		if err != nil {
			return nil, err
		}
		if filter, err = safety.NewFilter(p); err != nil {
			return nil, err
		}
	}

	// 4. Analysis stages
	catalog := heuristics.DefaultCatalog()
	if cfg.Catalog != "" {
		c, err := heuristics.LoadCatalog(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	// 5. Event publisher
	var pub events.Publisher = events.Nop{}
	if cfg.NatsURL != "" {
		np, err := events.ConnectNATS(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			return nil, err
		}
		pub = np
		a.closers = append(a.closers, np.Close)
	}

	a.orch = orchestrator.New(heuristics.New(catalog), a.store, rec,
		orchestrator.WithLogger(logger),
		orchestrator.WithLimits(cfg.Limits()),
		orchestrator.WithSafetyFilter(filter),
		orchestrator.WithPublisher(pub),
		orchestrator.WithDefaultTopic(cfg.DefaultTopic),
		orchestrator.WithFallback(cfg.FallbackEnabled),
	)
	ok = true
	return a, nil
}

// #endregion app
