package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

const (
	defaultIndexURL     = "https://www.xiaohongshu.com"
	defaultCookieDomain = ".xiaohongshu.com"
	defaultPlatform     = "xhs"
	sessionCookie       = "web_session"
)

// Config controls the browser launch and login behavior.
type Config struct {
	Headless  bool
	UserAgent string
	// SaveLoginState keeps the Chrome profile between runs under UserDataDir.
	SaveLoginState bool
	UserDataDir    string
	Platform       string
	IndexURL       string
	CookieDomain   string
	// NavigationTimeout bounds page loads during Open and Login.
	NavigationTimeout time.Duration
	// LoginTimeout bounds how long an interactive login may take.
	LoginTimeout time.Duration
	PollInterval time.Duration
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

func (c Config) withDefaults() Config {
	if c.IndexURL == "" {
		c.IndexURL = defaultIndexURL
	}
	if c.CookieDomain == "" {
		c.CookieDomain = defaultCookieDomain
	}
	if c.Platform == "" {
		c.Platform = defaultPlatform
	}
	if c.UserDataDir == "" {
		c.UserDataDir = "browser_data"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// profileDir is the persistent Chrome profile used when login state is saved.
func (c Config) profileDir() string {
	return filepath.Join(c.UserDataDir, fmt.Sprintf("%s_user_data_dir", c.Platform))
}

// Browser implements crawler.SessionBootstrapper on top of chromedp. One
// Browser owns a single tab for the lifetime of a run.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

// New builds a Browser; Chrome is not started until Open.
func New(cfg Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg.withDefaults(), logger: logger}
}

func (b *Browser) allocatorOptions(proxy *crawler.BrowserProxy) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
	)
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.SaveLoginState {
		opts = append(opts, chromedp.UserDataDir(b.cfg.profileDir()))
	}
	if proxy != nil && proxy.Server != "" {
		opts = append(opts, chromedp.ProxyServer(proxy.Server))
	}
	return opts
}

// Open launches Chrome, prepares the tab and navigates to the index page.
func (b *Browser) Open(ctx context.Context, proxy *crawler.BrowserProxy) (crawler.SessionMaterial, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tab != nil {
		return crawler.SessionMaterial{}, errors.New("browser already open")
	}
	if b.cfg.SaveLoginState {
		if err := os.MkdirAll(b.cfg.profileDir(), 0o755); err != nil {
			return crawler.SessionMaterial{}, fmt.Errorf("create profile dir: %w", err)
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions(proxy)...)
	tab, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(b.logger.Sugar().Debugf))
	if proxy != nil && proxy.Username != "" {
		chromedp.ListenTarget(tab, proxyAuthHandler(tab, proxy, b.logger))
	}

	// The first Run starts Chrome and ties its lifetime to tab, so it must
	// not see a deadline.
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return crawler.SessionMaterial{}, fmt.Errorf("start chrome: %w", err)
	}
	navCtx, cancel := b.bounded(ctx, tab, b.cfg.NavigationTimeout)
	defer cancel()
	err := chromedp.Run(navCtx,
		b.setupAction(proxy),
		chromedp.Navigate(b.cfg.IndexURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return crawler.SessionMaterial{}, fmt.Errorf("open %s: %w", b.cfg.IndexURL, err)
	}
	b.tab, b.tabCancel, b.allocCancel = tab, tabCancel, allocCancel
	b.logger.Info("browser session opened",
		zap.Bool("headless", b.cfg.Headless),
		zap.Bool("persistent", b.cfg.SaveLoginState),
		zap.Bool("proxy", proxy != nil),
	)
	return b.cookies(ctx, tab)
}

func (b *Browser) setupAction(proxy *crawler.BrowserProxy) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if proxy != nil && proxy.Username != "" {
			if err := fetch.Enable().WithHandleAuthRequests(true).Do(ctx); err != nil {
				return fmt.Errorf("enable fetch domain: %w", err)
			}
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("add stealth script: %w", err)
		}
		// A webId cookie keeps the slider captcha away on first visit.
		if err := network.SetCookie("webId", "xxx123").
			WithDomain(b.cfg.CookieDomain).
			WithPath("/").
			Do(ctx); err != nil {
			return fmt.Errorf("set webId cookie: %w", err)
		}
		return nil
	})
}

// proxyAuthHandler answers proxy credential challenges and resumes paused
// requests. Handlers must not block the event loop, so each reply runs in
// its own goroutine.
func proxyAuthHandler(tab context.Context, proxy *crawler.BrowserProxy, logger *zap.Logger) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(tab)
				ctx := cdp.WithExecutor(tab, c.Target)
				err := fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}).Do(ctx)
				if err != nil {
					logger.Warn("proxy auth reply failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(tab)
				ctx := cdp.WithExecutor(tab, c.Target)
				if err := fetch.ContinueRequest(e.RequestID).Do(ctx); err != nil {
					logger.Debug("continue paused request failed", zap.Error(err))
				}
			}()
		}
	}
}

// Login authenticates the open tab with method and returns the new cookies.
// credential is the cookie string for cookie login and the phone number for
// phone login.
func (b *Browser) Login(ctx context.Context, method crawler.LoginMethod, credential string) (crawler.SessionMaterial, error) {
	tab, err := b.current()
	if err != nil {
		return crawler.SessionMaterial{}, err
	}
	before, err := b.cookies(ctx, tab)
	if err != nil {
		return crawler.SessionMaterial{}, err
	}
	prev := before.Get(sessionCookie)
	b.logger.Info("starting login", zap.String("method", string(method)))

	loginCtx, cancel := b.bounded(ctx, tab, b.cfg.LoginTimeout)
	defer cancel()

	switch method {
	case crawler.LoginCookie:
		err = b.loginWithCookies(loginCtx, credential)
	case crawler.LoginQRCode:
		err = b.loginWithQRCode(loginCtx)
	case crawler.LoginPhone:
		err = b.loginWithPhone(loginCtx, credential)
	default:
		return crawler.SessionMaterial{}, fmt.Errorf("unsupported login method %q", method)
	}
	if err != nil {
		return crawler.SessionMaterial{}, fmt.Errorf("%s login: %w", method, err)
	}

	if method == crawler.LoginCookie {
		return b.cookies(loginCtx, tab)
	}
	return waitForSession(loginCtx, prev, b.cfg.PollInterval, func(ctx context.Context) (crawler.SessionMaterial, error) {
		return b.cookies(ctx, tab)
	})
}

func (b *Browser) loginWithCookies(ctx context.Context, raw string) error {
	cookies := crawler.ParseCookieString(raw)
	if len(cookies) == 0 {
		return errors.New("no cookies supplied")
	}
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				if err := network.SetCookie(c.Name, c.Value).
					WithDomain(b.cfg.CookieDomain).
					WithPath("/").
					Do(ctx); err != nil {
					return fmt.Errorf("set cookie %s: %w", c.Name, err)
				}
			}
			return nil
		}),
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("inject cookies: %w", err)
	}
	return nil
}

func (b *Browser) loginWithQRCode(ctx context.Context) error {
	var (
		src string
		ok  bool
	)
	err := chromedp.Run(ctx,
		chromedp.WaitVisible("img.qrcode-img", chromedp.ByQuery),
		chromedp.AttributeValue("img.qrcode-img", "src", &src, &ok, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("find qrcode: %w", err)
	}
	if !ok || src == "" {
		return errors.New("qrcode image has no source")
	}
	path, err := writeQRCode(b.cfg.UserDataDir, src)
	if err != nil {
		b.logger.Warn("login qrcode not saved; scan it in the browser window",
			zap.Error(err),
			zap.Duration("timeout", b.cfg.LoginTimeout),
		)
		return nil
	}
	b.logger.Info("scan the login qrcode to continue",
		zap.String("qrcode_file", path),
		zap.Duration("timeout", b.cfg.LoginTimeout),
	)
	return nil
}

// writeQRCode stores the qrcode image source under dir and returns its path.
func writeQRCode(dir, src string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create qrcode dir: %w", err)
	}
	path := filepath.Join(dir, "login_qrcode.txt")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		return "", fmt.Errorf("write qrcode: %w", err)
	}
	return path, nil
}

func (b *Browser) loginWithPhone(ctx context.Context, phone string) error {
	if strings.TrimSpace(phone) == "" {
		return errors.New("phone number is required")
	}
	err := chromedp.Run(ctx,
		chromedp.WaitVisible(`input[placeholder="输入手机号"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[placeholder="输入手机号"]`, phone, chromedp.ByQuery),
		chromedp.Click(`span.code-button`, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("request sms code: %w", err)
	}
	b.logger.Info("sms code requested, finish verification in the browser",
		zap.Duration("timeout", b.cfg.LoginTimeout),
	)
	return nil
}

// waitForSession polls get until the session cookie is set and differs from
// prev.
func waitForSession(
	ctx context.Context,
	prev string,
	interval time.Duration,
	get func(context.Context) (crawler.SessionMaterial, error),
) (crawler.SessionMaterial, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		material, err := get(ctx)
		if err == nil {
			if v := material.Get(sessionCookie); v != "" && v != prev {
				return material, nil
			}
		} else if ctx.Err() == nil {
			return crawler.SessionMaterial{}, err
		}
		select {
		case <-ctx.Done():
			return crawler.SessionMaterial{}, fmt.Errorf("waiting for %s cookie: %w", sessionCookie, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Cookies exports the current cookies of the open tab.
func (b *Browser) Cookies(ctx context.Context) (crawler.SessionMaterial, error) {
	tab, err := b.current()
	if err != nil {
		return crawler.SessionMaterial{}, err
	}
	return b.cookies(ctx, tab)
}

func (b *Browser) cookies(ctx context.Context, tab context.Context) (crawler.SessionMaterial, error) {
	runCtx, cancel := b.bounded(ctx, tab, b.cfg.NavigationTimeout)
	defer cancel()
	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{b.cfg.IndexURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return crawler.SessionMaterial{}, fmt.Errorf("read cookies: %w", err)
	}
	return crawler.SessionMaterial{Cookies: toHTTPCookies(cookies)}, nil
}

// Sign runs the page's request signer for uri and payload and returns the
// signature headers.
func (b *Browser) Sign(ctx context.Context, uri string, payload any) (map[string]string, error) {
	tab, err := b.current()
	if err != nil {
		return nil, err
	}
	data := []byte("null")
	if payload != nil {
		if data, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode sign payload: %w", err)
		}
	}
	runCtx, cancel := b.bounded(ctx, tab, b.cfg.NavigationTimeout)
	defer cancel()
	var out map[string]any
	if err := chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf(signScript, uri, data), &out)); err != nil {
		return nil, fmt.Errorf("sign %s: %w", uri, err)
	}
	headers := make(map[string]string, len(out))
	for k, v := range out {
		switch k {
		case "X-s":
			headers["X-S"] = fmt.Sprint(v)
		case "X-t":
			headers["X-T"] = fmt.Sprint(v)
		}
	}
	return headers, nil
}

// Close shuts the tab and the Chrome process. It is safe to call when the
// browser was never opened.
func (b *Browser) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tab == nil {
		return nil
	}
	b.tabCancel()
	b.allocCancel()
	b.tab, b.tabCancel, b.allocCancel = nil, nil, nil
	b.logger.Info("browser session closed")
	return nil
}

func (b *Browser) current() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tab == nil {
		return nil, errors.New("browser is not open")
	}
	return b.tab, nil
}

// bounded derives a context from the browser tab that is canceled when
// either ctx ends or d elapses.
func (b *Browser) bounded(ctx, tab context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(tab, d)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil || c.Name == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 && !math.IsInf(c.Expires, 0) {
			sec, frac := math.Modf(c.Expires)
			hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		out = append(out, hc)
	}
	return out
}
