package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/clock/system"
	idgen "github.com/JakeFAU/notecrawler/internal/id/uuid"
	"github.com/JakeFAU/notecrawler/internal/progress"
)

// Options wires the collaborators of an Engine. Proxies may be nil when the
// run does not use a proxy; Progress, Clock, IDs and Logger are optional.
type Options struct {
	Proxies   ProxyProvisioner
	Browser   SessionBootstrapper
	NewClient ClientFactory
	Sink      ResultSink
	Progress  progress.Emitter
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
}

// Engine runs one crawl: bootstrap, then the flow selected by the mode.
type Engine struct {
	cfg       Config
	proxies   ProxyProvisioner
	browser   SessionBootstrapper
	newClient ClientFactory
	sink      ResultSink
	progress  progress.Emitter
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger

	closeOnce sync.Once
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config, opts Options) (*Engine, error) {
	cfg.Keywords = normalizeList(cfg.Keywords)
	cfg.NoteIDs = normalizeList(cfg.NoteIDs)
	cfg.CreatorIDs = normalizeList(cfg.CreatorIDs)
	if cfg.Sort == "" {
		cfg.Sort = SortGeneral
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	if opts.Browser == nil {
		return nil, errors.New("session bootstrapper is required")
	}
	if opts.NewClient == nil {
		return nil, errors.New("client factory is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("result sink is required")
	}
	if cfg.ProxyEnabled && opts.Proxies == nil {
		return nil, errors.New("proxy provisioner is required when proxies are enabled")
	}
	e := &Engine{
		cfg:       cfg,
		proxies:   opts.Proxies,
		browser:   opts.Browser,
		newClient: opts.NewClient,
		sink:      opts.Sink,
		progress:  opts.Progress,
		clock:     opts.Clock,
		ids:       opts.IDs,
		logger:    opts.Logger,
	}
	if e.progress == nil {
		e.progress = progress.Discard
	}
	if e.clock == nil {
		e.clock = system.New()
	}
	if e.ids == nil {
		e.ids = idgen.New()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// Config returns the normalized configuration the engine runs with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run bootstraps the session and executes the configured mode. It returns
// the run ID so callers can correlate progress events.
func (e *Engine) Run(ctx context.Context) (uuid.UUID, error) {
	runID, err := e.ids.NewRawID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	logger := e.logger.With(zap.String("run_id", runID.String()), zap.String("mode", string(e.cfg.Mode)))
	report := func(evt progress.Event) {
		evt.RunID = runID
		evt.Mode = string(e.cfg.Mode)
		if evt.TS.IsZero() {
			evt.TS = e.clock.Now()
		}
		e.progress.Emit(evt)
	}

	started := e.clock.Now()
	report(progress.Event{Stage: progress.StageRunStart, TS: started})
	logger.Info("crawl run starting")

	err = e.run(ctx, logger, report)
	dur := e.clock.Now().Sub(started)
	if err != nil {
		report(progress.Event{Stage: progress.StageRunError, Dur: dur, Note: err.Error()})
		logger.Error("crawl run failed", zap.Error(err), zap.Duration("dur", dur))
		return runID, err
	}
	report(progress.Event{Stage: progress.StageRunDone, Dur: dur})
	logger.Info("crawl run finished", zap.Duration("dur", dur))
	return runID, nil
}

func (e *Engine) run(ctx context.Context, logger *zap.Logger, report func(progress.Event)) error {
	session, err := e.bootstrap(ctx)
	if err != nil {
		return err
	}
	flow, err := e.flow(&pipeline{cfg: e.cfg, sink: e.sink, logger: logger, report: report})
	if err != nil {
		return err
	}
	return flow.Run(ctx, session)
}

// flow maps the configured mode to its pipeline.
func (e *Engine) flow(p *pipeline) (Flow, error) {
	switch e.cfg.Mode {
	case ModeSearch:
		return searchFlow{p}, nil
	case ModeDetail:
		return detailFlow{p}, nil
	case ModeCreator:
		return creatorFlow{p}, nil
	default:
		return nil, fmt.Errorf("unknown crawl mode %q", e.cfg.Mode)
	}
}

// Close releases the browser session. It is safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		if cerr := e.browser.Close(ctx); cerr != nil {
			err = fmt.Errorf("close session: %w", cerr)
		}
	})
	return err
}
