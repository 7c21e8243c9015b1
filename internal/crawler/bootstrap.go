package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// BrowserProxy is the proxy configuration handed to the browser launcher.
type BrowserProxy struct {
	Server   string
	Username string
	Password string
}

// APIProxy is the proxy used by the remote client, keyed by the identity's
// protocol.
type APIProxy struct {
	Protocol string
	URL      *url.URL
}

// FormatProxy renders one identity into the browser and API proxy forms.
func FormatProxy(id ProxyIdentity) (*BrowserProxy, *APIProxy, error) {
	if id.IP == "" || id.Port <= 0 {
		return nil, nil, fmt.Errorf("format proxy: invalid identity %q", id.Key())
	}
	scheme := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(id.Protocol)), "://")
	if scheme == "" {
		scheme = "http"
	}
	host := net.JoinHostPort(id.IP, strconv.Itoa(id.Port))
	browser := &BrowserProxy{
		Server:   scheme + "://" + host,
		Username: id.User,
		Password: id.Password,
	}
	api := &url.URL{Scheme: "http", Host: host}
	if id.User != "" {
		api.User = url.UserPassword(id.User, id.Password)
	}
	return browser, &APIProxy{Protocol: scheme, URL: api}, nil
}

// Session is the authenticated state shared read-only by every flow of a run.
type Session struct {
	Client   RemoteClient
	Material SessionMaterial
	// Proxy is nil when the run does not use a proxy.
	Proxy *ProxyIdentity
}

// bootstrap acquires the proxy, opens the browser session, builds the client
// and logs in when the liveness probe fails. Every failure is fatal.
func (e *Engine) bootstrap(ctx context.Context) (*Session, error) {
	var (
		identity     *ProxyIdentity
		browserProxy *BrowserProxy
		apiProxy     *APIProxy
	)
	if e.cfg.ProxyEnabled {
		if e.proxies == nil {
			return nil, fmt.Errorf("acquire proxy: %w: no provisioner configured", ErrProxyUnavailable)
		}
		id, err := e.proxies.Acquire(ctx)
		if err != nil {
			if !errors.Is(err, ErrProxyUnavailable) {
				err = fmt.Errorf("%w: %w", ErrProxyUnavailable, err)
			}
			return nil, fmt.Errorf("acquire proxy: %w", err)
		}
		browserProxy, apiProxy, err = FormatProxy(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProxyUnavailable, err)
		}
		identity = &id
		e.logger.Info("proxy acquired", zap.String("proxy", id.Key()), zap.String("protocol", apiProxy.Protocol))
	}

	material, err := e.browser.Open(ctx, browserProxy)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrSessionBootstrap, err)
	}
	client, err := e.newClient(material, apiProxy)
	if err != nil {
		return nil, fmt.Errorf("%w: build client: %w", ErrSessionBootstrap, err)
	}
	client = WithDeadline(client, e.cfg.RequestTimeout)

	if !client.Ping(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: ping: %w", ErrSessionBootstrap, err)
		}
		e.logger.Info("session not authenticated, logging in", zap.String("method", string(e.cfg.LoginMethod)))
		material, err = e.browser.Login(ctx, e.cfg.LoginMethod, e.cfg.credential())
		if err != nil {
			return nil, fmt.Errorf("%w: login: %w", ErrSessionBootstrap, err)
		}
		client.UpdateSession(material)
	}
	return &Session{Client: client, Material: material, Proxy: identity}, nil
}
