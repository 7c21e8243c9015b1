package xhs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/clock/system"
	"github.com/JakeFAU/notecrawler/internal/crawler"
	"github.com/JakeFAU/notecrawler/internal/policy/ratelimit"
)

var wallClock = system.New()

const (
	defaultBaseURL = "https://edith.xiaohongshu.com"
	defaultWebURL  = "https://www.xiaohongshu.com"
	defaultTimeout = 15 * time.Second
)

// Config controls the API client.
type Config struct {
	BaseURL   string
	WebURL    string
	UserAgent string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	RPS     float64
	Burst   int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.WebURL == "" {
		c.WebURL = defaultWebURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.WebURL = strings.TrimRight(c.WebURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Client implements crawler.RemoteClient.
type Client struct {
	cfg           Config
	logger        *zap.Logger
	signer        Signer
	limiter       *ratelimit.Limiter
	transport     http.RoundTripper
	baseCollector *colly.Collector

	mu      sync.RWMutex
	session crawler.SessionMaterial
}

var _ crawler.RemoteClient = (*Client)(nil)

// New builds a Client bound to session and, when proxy is non-nil, routed
// through it.
func New(cfg Config, session crawler.SessionMaterial, proxy *crawler.APIProxy, signer Signer, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if signer == nil {
		signer = NopSigner{}
	}
	transport := newHTTPTransport(proxy)
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(transport)
	return &Client{
		cfg:           cfg,
		logger:        logger,
		signer:        signer,
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.RPS, Burst: cfg.Burst}),
		transport:     transport,
		baseCollector: c,
		session:       session,
	}, nil
}

// Factory adapts New to crawler.ClientFactory.
func Factory(cfg Config, signer Signer, logger *zap.Logger) crawler.ClientFactory {
	return func(session crawler.SessionMaterial, proxy *crawler.APIProxy) (crawler.RemoteClient, error) {
		return New(cfg, session, proxy, signer, logger)
	}
}

// UpdateSession swaps the cookies used for subsequent requests.
func (c *Client) UpdateSession(session crawler.SessionMaterial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
}

func (c *Client) headers() http.Header {
	c.mu.RLock()
	cookie := c.session.Header()
	c.mu.RUnlock()
	h := http.Header{}
	if c.cfg.UserAgent != "" {
		h.Set("User-Agent", c.cfg.UserAgent)
	}
	if cookie != "" {
		h.Set("Cookie", cookie)
	}
	h.Set("Origin", c.cfg.WebURL)
	h.Set("Referer", c.cfg.WebURL)
	h.Set("Content-Type", "application/json;charset=UTF-8")
	return h
}

// envelope is the wrapper around every API response.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// get issues a signed GET against the API and decodes data into out.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	uri := path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	return c.call(ctx, op, http.MethodGet, uri, nil, out)
}

// post issues a signed JSON POST against the API and decodes data into out.
func (c *Client) post(ctx context.Context, op, path string, payload, out any) error {
	return c.call(ctx, op, http.MethodPost, path, payload, out)
}

func (c *Client) call(ctx context.Context, op, method, uri string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("%s: encode payload: %w", op, err)
		}
	}
	hdr := c.headers()
	sig, err := c.signer.Sign(ctx, uri, payload)
	if err != nil {
		return fmt.Errorf("%s: sign: %w: %w", op, crawler.ErrFetchFailed, err)
	}
	for k, v := range sig {
		hdr.Set(k, v)
	}

	raw, err := c.fetch(ctx, op, method, c.cfg.BaseURL+uri, body, hdr)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode envelope: %w: %w", op, crawler.ErrFetchFailed, err)
	}
	if !env.Success {
		return &crawler.FetchError{Op: op, Code: env.Code, Message: env.Msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w: %w", op, crawler.ErrFetchFailed, err)
	}
	return nil
}

// fetch runs one request through a cloned collector and returns the body.
func (c *Client) fetch(ctx context.Context, op, method, rawURL string, body []byte, hdr http.Header) ([]byte, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, crawler.ErrFetchFailed, err)
	}
	collector := c.baseCollector.Clone()
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(c.transport)

	var (
		respBody []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		respBody = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
			respBody = append([]byte(nil), r.Body...)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		done <- collector.Request(method, rawURL, reader, nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s canceled: %w", op, ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return nil, classify(op, status, respBody, err)
		}
		c.logger.Debug("api request done", zap.String("op", op), zap.Int("status", status))
		return respBody, nil
	}
}

// classify maps a transport or HTTP failure onto the crawler error taxonomy.
func classify(op string, status int, body []byte, err error) error {
	if status > 0 {
		var env envelope
		if json.Unmarshal(body, &env) == nil && env.Msg != "" {
			return &crawler.FetchError{Op: op, Code: env.Code, Message: env.Msg}
		}
		return &crawler.FetchError{Op: op, Code: status, Message: http.StatusText(status)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: timeout: %w", op, crawler.ErrFetchFailed, err)
	}
	return fmt.Errorf("%s: %w: %w", op, crawler.ErrFetchFailed, err)
}

func newHTTPTransport(proxy *crawler.APIProxy) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxy != nil && proxy.URL != nil {
		t.Proxy = http.ProxyURL(proxy.URL)
	}
	return t
}
