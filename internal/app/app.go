// Package app builds the long-lived services of a notecrawler process and
// runs crawls against them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/api"
	"github.com/JakeFAU/notecrawler/internal/clock/system"
	"github.com/JakeFAU/notecrawler/internal/config"
	"github.com/JakeFAU/notecrawler/internal/crawler"
	idgen "github.com/JakeFAU/notecrawler/internal/id/uuid"
	"github.com/JakeFAU/notecrawler/internal/progress"
	progresssinks "github.com/JakeFAU/notecrawler/internal/progress/sinks"
	"github.com/JakeFAU/notecrawler/internal/proxy"
	"github.com/JakeFAU/notecrawler/internal/publisher"
	gcppublisher "github.com/JakeFAU/notecrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/notecrawler/internal/session"
	"github.com/JakeFAU/notecrawler/internal/storage"
	"github.com/JakeFAU/notecrawler/internal/xhs"
)

const shutdownTimeout = 10 * time.Second

// Browser is a session bootstrapper that can also sign API requests.
type Browser interface {
	crawler.SessionBootstrapper
	xhs.Signer
}

// Options overrides the collaborators Build would otherwise construct from
// configuration. Every field is optional.
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Sink       crawler.ResultSink
	Proxies    crawler.ProxyProvisioner
	NewBrowser func() Browser
	NewClient  func(signer xhs.Signer) crawler.ClientFactory
}

type closer struct {
	name  string
	close func() error
}

// App holds the shared services of the process: progress hub, result sink,
// proxy pool and the factories for per-run browser sessions.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	hub     *progress.Hub
	status  *progresssinks.StatusSink
	sink    crawler.ResultSink
	proxies crawler.ProxyProvisioner

	newBrowser func() Browser
	newClient  func(signer xhs.Signer) crawler.ClientFactory
	closers    []closer

	mu      sync.Mutex
	running bool
	runs    sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{
		cfg:        cfg,
		logger:     logger,
		newBrowser: opts.NewBrowser,
		newClient:  opts.NewClient,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
	a.logger.Info("building application dependencies",
		zap.String("mode", cfg.Crawler.Mode),
		zap.String("sink", cfg.Sink.Provider),
		zap.Bool("proxy", cfg.Proxy.Enabled),
	)

	if err := a.setupProgress(opts.Registerer); err != nil {
		a.abort()
		return nil, err
	}
	if err := a.setupSink(ctx, opts.Sink); err != nil {
		a.abort()
		return nil, err
	}
	if err := a.setupProxies(opts.Proxies); err != nil {
		a.abort()
		return nil, err
	}
	if a.newBrowser == nil {
		browserCfg := cfg.Browser()
		browserLogger := logger.Named("session")
		a.newBrowser = func() Browser { return session.New(browserCfg, browserLogger) }
	}
	if a.newClient == nil {
		clientCfg := cfg.Client()
		clientLogger := logger.Named("xhs")
		a.newClient = func(signer xhs.Signer) crawler.ClientFactory {
			return xhs.Factory(clientCfg, signer, clientLogger)
		}
	}
	return a, nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.status = progresssinks.NewStatusSink()
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")},
		a.status,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	return nil
}

func (a *App) setupSink(ctx context.Context, override crawler.ResultSink) error {
	sink := override
	if sink == nil {
		opened, err := storage.Open(ctx, a.cfg.Storage(), a.logger.Named("storage"))
		if err != nil {
			return fmt.Errorf("result sink init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "result sink", close: opened.Close})
		sink = opened
	}
	if a.cfg.Sink.PubSubProject != "" && a.cfg.Sink.PubSubTopic != "" {
		pub, err := gcppublisher.Open(ctx, a.cfg.Sink.PubSubProject, a.cfg.Sink.PubSubTopic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "pubsub publisher", close: pub.Close})
		a.logger.Info("Pub/Sub save notifications enabled",
			zap.String("project", a.cfg.Sink.PubSubProject),
			zap.String("topic", a.cfg.Sink.PubSubTopic),
		)
		sink = publisher.NewNotifyingSink(sink, pub, a.cfg.Sink.PubSubTopic, a.logger.Named("notify"))
	}
	a.sink = sink
	return nil
}

func (a *App) setupProxies(override crawler.ProxyProvisioner) error {
	if override != nil {
		a.proxies = override
		return nil
	}
	if !a.cfg.Proxy.Enabled {
		return nil
	}
	var (
		provider proxy.Provider
		err      error
	)
	switch a.cfg.Proxy.Provider {
	case "static":
		provider, err = proxy.NewStaticProvider(a.cfg.Proxy.Endpoints)
	case "extract":
		provider, err = proxy.NewExtractProvider(proxy.ExtractConfig{
			URL:      a.cfg.Proxy.ExtractURL,
			User:     a.cfg.Proxy.User,
			Password: a.cfg.Proxy.Password,
		})
	default:
		err = fmt.Errorf("unknown provider %q", a.cfg.Proxy.Provider)
	}
	if err != nil {
		return fmt.Errorf("proxy provider init failed: %w", err)
	}
	var cache proxy.Cache
	if a.cfg.Proxy.RedisAddr != "" {
		rc := proxy.NewRedisCache(a.cfg.Proxy.RedisAddr, a.cfg.Proxy.RedisPrefix, a.cfg.Proxy.CacheTTL)
		a.closers = append(a.closers, closer{name: "proxy cache", close: rc.Close})
		cache = rc
	}
	var validator proxy.Validator
	if a.cfg.Proxy.Validate {
		validator = proxy.HTTPValidator{ProbeURL: a.cfg.Proxy.ProbeURL}
	}
	a.proxies = proxy.NewPool(a.cfg.Pool(), provider, cache, validator, a.logger.Named("proxy"))
	a.logger.Info("proxy pool initialized",
		zap.String("provider", a.cfg.Proxy.Provider),
		zap.Int("pool_count", a.cfg.Proxy.PoolCount),
		zap.Bool("redis_cache", cache != nil),
	)
	return nil
}

// Status exposes the folded status of every run this process has executed.
func (a *App) Status() api.StatusReader {
	return a.status
}

// Crawl executes the configured crawl and blocks until it ends.
func (a *App) Crawl(ctx context.Context) (uuid.UUID, error) {
	cfg, err := a.cfg.Engine()
	if err != nil {
		return uuid.Nil, err
	}
	if !a.claim() {
		return uuid.Nil, api.ErrBusy
	}
	defer a.release()
	return a.execute(ctx, cfg, idgen.New())
}

// Start implements api.Runner. It applies req over the configured crawl and
// runs it in the background; only one run executes at a time.
func (a *App) Start(_ context.Context, req api.RunRequest) (uuid.UUID, error) {
	cfg, err := a.cfg.Engine()
	if err != nil {
		return uuid.Nil, err
	}
	cfg, err = applyRequest(cfg, req)
	if err != nil {
		return uuid.Nil, err
	}
	ids, err := idgen.Reserve()
	if err != nil {
		return uuid.Nil, fmt.Errorf("reserve run id: %w", err)
	}
	if !a.claim() {
		return uuid.Nil, api.ErrBusy
	}
	go func() {
		defer a.release()
		runID, err := a.execute(a.baseCtx, cfg, ids)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("background run failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}()
	return ids.ID(), nil
}

func (a *App) claim() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return false
	}
	a.running = true
	a.runs.Add(1)
	return true
}

func (a *App) release() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.runs.Done()
}

func (a *App) execute(ctx context.Context, cfg crawler.Config, ids crawler.IDGenerator) (uuid.UUID, error) {
	browser := a.newBrowser()
	var signer xhs.Signer = xhs.NopSigner{}
	if a.cfg.Session.Sign {
		signer = browser
	}
	engine, err := crawler.NewEngine(cfg, crawler.Options{
		Proxies:   a.proxies,
		Browser:   browser,
		NewClient: a.newClient(signer),
		Sink:      a.sink,
		Progress:  a.hub,
		Clock:     system.New(),
		IDs:       ids,
		Logger:    a.logger.Named("engine"),
	})
	if err != nil {
		return uuid.Nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := engine.Close(closeCtx); cerr != nil {
			a.logger.Warn("failed to close engine", zap.Error(cerr))
		}
	}()
	return engine.Run(ctx)
}

// applyRequest overlays the non-zero fields of req onto cfg and validates
// the result.
func applyRequest(cfg crawler.Config, req api.RunRequest) (crawler.Config, error) {
	if strings.TrimSpace(req.Mode) != "" {
		mode, err := crawler.ParseMode(req.Mode)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = mode
	}
	if req.Keywords != nil {
		cfg.Keywords = crawler.SplitList(strings.Join(req.Keywords, ","))
	}
	if req.NoteIDs != nil {
		cfg.NoteIDs = crawler.SplitList(strings.Join(req.NoteIDs, ","))
	}
	if req.CreatorIDs != nil {
		cfg.CreatorIDs = crawler.SplitList(strings.Join(req.CreatorIDs, ","))
	}
	if req.MaxNotes != nil {
		cfg.MaxNotes = *req.MaxNotes
	}
	if req.EnableComments != nil {
		cfg.EnableComments = *req.EnableComments
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Serve runs the operator API on cfg.Server.Addr until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	srv := a.newHTTPServer()
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// ServeInBackground starts the operator API and returns a function that
// stops it. It is a no-op when the server is disabled.
func (a *App) ServeInBackground() func(context.Context) {
	if !a.cfg.Server.Enabled {
		return func(context.Context) {}
	}
	ctx, cancel := context.WithCancel(a.baseCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Serve(ctx); err != nil {
			a.logger.Warn("background server stopped", zap.Error(err))
		}
	}()
	return func(stopCtx context.Context) {
		cancel()
		select {
		case <-done:
		case <-stopCtx.Done():
		}
	}
}

func (a *App) newHTTPServer() *http.Server {
	handler := api.NewServer(a.cfg.APIServer(), a.status, a, a.logger.Named("api")).Handler()
	return &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close cancels background runs, waits for them, then flushes progress and
// releases the sink, publisher and proxy cache.
func (a *App) Close(ctx context.Context) error {
	a.cancel()
	waited := make(chan struct{})
	go func() {
		a.runs.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		a.logger.Warn("gave up waiting for runs to finish", zap.Error(ctx.Err()))
	}

	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
		if n := a.hub.Dropped(); n > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("dropped", n))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn(c.name+" close failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) abort() {
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.Close(closeCtx)
}
