package proxy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

// Validator checks that an identity can reach the outside world.
type Validator interface {
	Validate(ctx context.Context, id crawler.ProxyIdentity) error
}

// PoolConfig controls the pool size.
type PoolConfig struct {
	// Count is how many identities a refill requests.
	Count int
}

// Pool implements crawler.ProxyProvisioner. Each Acquire removes the chosen
// identity from the pool.
type Pool struct {
	cfg       PoolConfig
	provider  Provider
	cache     Cache
	validator Validator
	logger    *zap.Logger
	now       func() time.Time

	mu  sync.Mutex
	ids []crawler.ProxyIdentity
}

var _ crawler.ProxyProvisioner = (*Pool)(nil)

// NewPool builds a Pool. cache and validator are optional.
func NewPool(cfg PoolConfig, provider Provider, cache Cache, validator Validator, logger *zap.Logger) *Pool {
	if cfg.Count <= 0 {
		cfg.Count = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:       cfg,
		provider:  provider,
		cache:     cache,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// Acquire returns one live identity, refilling the pool when it is empty.
// Candidates that fail validation are discarded.
func (p *Pool) Acquire(ctx context.Context) (crawler.ProxyIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dropExpired()
	if len(p.ids) == 0 {
		if err := p.refill(ctx); err != nil {
			return crawler.ProxyIdentity{}, fmt.Errorf("%w: %w", crawler.ErrProxyUnavailable, err)
		}
	}
	for len(p.ids) > 0 {
		i := rand.IntN(len(p.ids))
		id := p.ids[i]
		p.ids = append(p.ids[:i], p.ids[i+1:]...)
		if p.validator == nil {
			return id, nil
		}
		if err := p.validator.Validate(ctx, id); err != nil {
			if ctx.Err() != nil {
				return crawler.ProxyIdentity{}, fmt.Errorf("validate proxy: %w", ctx.Err())
			}
			p.logger.Warn("proxy failed validation", zap.String("proxy", id.Key()), zap.Error(err))
			continue
		}
		return id, nil
	}
	return crawler.ProxyIdentity{}, fmt.Errorf("%w: no valid identity in pool", crawler.ErrProxyUnavailable)
}

// Size reports how many identities are currently pooled.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

func (p *Pool) dropExpired() {
	now := p.now()
	kept := p.ids[:0]
	for _, id := range p.ids {
		if !id.Expired(now) {
			kept = append(kept, id)
		}
	}
	p.ids = kept
}

func (p *Pool) refill(ctx context.Context) error {
	seen := make(map[string]struct{})
	add := func(ids []crawler.ProxyIdentity) {
		now := p.now()
		for _, id := range ids {
			if _, ok := seen[id.Key()]; ok || id.Expired(now) {
				continue
			}
			seen[id.Key()] = struct{}{}
			p.ids = append(p.ids, id)
		}
	}
	if p.cache != nil {
		cached, err := p.cache.Load(ctx)
		if err != nil {
			p.logger.Warn("proxy cache load failed", zap.Error(err))
		}
		add(cached)
	}
	if missing := p.cfg.Count - len(p.ids); missing > 0 {
		fresh, err := p.provider.Fetch(ctx, missing)
		if err != nil {
			if len(p.ids) == 0 {
				return fmt.Errorf("fetch proxies: %w", err)
			}
			p.logger.Warn("proxy provider failed, using cached identities", zap.Error(err))
		}
		add(fresh)
		if p.cache != nil && len(fresh) > 0 {
			if err := p.cache.Store(ctx, fresh); err != nil {
				p.logger.Warn("proxy cache store failed", zap.Error(err))
			}
		}
	}
	if len(p.ids) == 0 {
		return fmt.Errorf("provider returned no identities")
	}
	p.logger.Info("proxy pool refilled", zap.Int("size", len(p.ids)))
	return nil
}

// HTTPValidator requests a probe URL through the identity.
type HTTPValidator struct {
	ProbeURL string
	Timeout  time.Duration
}

// Validate implements Validator.
func (v HTTPValidator) Validate(ctx context.Context, id crawler.ProxyIdentity) error {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	proxyURL := &url.URL{Scheme: "http", Host: net.JoinHostPort(id.IP, strconv.Itoa(id.Port))}
	if id.User != "" {
		proxyURL.User = url.UserPassword(id.User, id.Password)
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.ProbeURL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe through %s: %w", id.Key(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe through %s: status %d", id.Key(), resp.StatusCode)
	}
	return nil
}
