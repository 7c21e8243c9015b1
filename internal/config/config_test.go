package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/notecrawler/internal/crawler"
	"github.com/JakeFAU/notecrawler/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  mode: search
  keywords: "coffee, tea ,,coffee"
  start_page: 2
  max_notes: 45
  sort: popularity_descending
  max_concurrency: 6
  enable_comments: false
  request_timeout: 20s
  pacing_max: 500ms
  user_agent: test-agent
session:
  login_type: cookie
  cookies: "a1=x; web_session=y"
  headless: true
proxy:
  enabled: true
  provider: static
  pool_count: 3
  endpoints: ["http://u:p@10.0.0.1:8080", "10.0.0.2:3128"]
api:
  rps: 5
  burst: 10
sink:
  provider: sqlite
  sqlite_path: /tmp/x.db
server:
  enabled: true
  addr: ":9090"
  api_key: secret
logging:
  development: false
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	engine, err := cfg.Engine()
	require.NoError(t, err)
	require.Equal(t, crawler.ModeSearch, engine.Mode)
	require.Equal(t, []string{"coffee", "tea"}, engine.Keywords)
	require.Equal(t, 2, engine.StartPage)
	require.Equal(t, 45, engine.MaxNotes)
	require.Equal(t, crawler.SortPopularity, engine.Sort)
	require.Equal(t, 6, engine.MaxConcurrency)
	require.False(t, engine.EnableComments)
	require.Equal(t, 20*time.Second, engine.RequestTimeout)
	require.Equal(t, 500*time.Millisecond, engine.MaxPacing)
	require.True(t, engine.ProxyEnabled)
	require.Equal(t, crawler.LoginCookie, engine.LoginMethod)

	require.True(t, cfg.Browser().Headless)
	require.Equal(t, "test-agent", cfg.Browser().UserAgent)
	require.Equal(t, "test-agent", cfg.Client().UserAgent)
	require.InDelta(t, 5.0, cfg.Client().RPS, 0)
	require.Equal(t, 3, cfg.Pool().Count)
	require.Len(t, cfg.Proxy.Endpoints, 2)
	require.Equal(t, storage.ProviderSQLite, cfg.Storage().Provider)
	require.Equal(t, "secret", cfg.APIServer().APIKey)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "crawler:\n  keywords: coffee\n"))
	require.NoError(t, err)
	require.Equal(t, "search", cfg.Crawler.Mode)
	require.Equal(t, 1, cfg.Crawler.StartPage)
	require.Equal(t, 20, cfg.Crawler.MaxNotes)
	require.Equal(t, 4, cfg.Crawler.MaxConcurrency)
	require.True(t, cfg.Crawler.EnableComments)
	require.Equal(t, time.Minute, cfg.Crawler.RequestTimeout)
	require.Equal(t, time.Second, cfg.Crawler.PacingMax)
	require.Equal(t, "qrcode", cfg.Session.LoginType)
	require.True(t, cfg.Session.SaveLoginState)
	require.Equal(t, storage.ProviderJSON, cfg.Sink.Provider)
	require.Equal(t, "data/xhs", cfg.Sink.Dir)
	require.False(t, cfg.Proxy.Enabled)
	require.True(t, cfg.Logging.Development)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NOTECRAWLER_CRAWLER_MODE", "detail")
	t.Setenv("NOTECRAWLER_CRAWLER_SPECIFIED_IDS", "n1,n2")
	t.Setenv("NOTECRAWLER_SINK_PROVIDER", "postgres")
	t.Setenv("NOTECRAWLER_SINK_DSN", "postgres://localhost/xhs")

	cfg, err := Load("")
	require.NoError(t, err)
	engine, err := cfg.Engine()
	require.NoError(t, err)
	require.Equal(t, crawler.ModeDetail, engine.Mode)
	require.Equal(t, []string{"n1", "n2"}, engine.NoteIDs)
	require.Equal(t, "postgres://localhost/xhs", cfg.Storage().DSN)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Crawler: CrawlerConfig{Mode: "search", Keywords: "a", StartPage: 1, MaxConcurrency: 1},
			Session: SessionConfig{LoginType: "qrcode"},
			Sink:    SinkConfig{Provider: storage.ProviderMemory},
			Proxy:   ProxyConfig{PoolCount: 1, Provider: "static"},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"bad mode":            func(c *Config) { c.Crawler.Mode = "feed" },
		"bad sort":            func(c *Config) { c.Crawler.Sort = "random" },
		"no keywords":         func(c *Config) { c.Crawler.Keywords = " , " },
		"detail without ids":  func(c *Config) { c.Crawler.Mode = "detail" },
		"creator without ids": func(c *Config) { c.Crawler.Mode = "creator" },
		"zero concurrency":    func(c *Config) { c.Crawler.MaxConcurrency = 0 },
		"phone login":         func(c *Config) { c.Session.LoginType = "phone" },
		"cookie login":        func(c *Config) { c.Session.LoginType = "cookie" },
		"unknown login":       func(c *Config) { c.Session.LoginType = "sms" },
		"unknown sink":        func(c *Config) { c.Sink.Provider = "s3" },
		"json without dir":    func(c *Config) { c.Sink.Provider = storage.ProviderJSON },
		"sqlite without path": func(c *Config) { c.Sink.Provider = storage.ProviderSQLite },
		"postgres no dsn":     func(c *Config) { c.Sink.Provider = storage.ProviderPostgres },
		"gcs no bucket":       func(c *Config) { c.Sink.Provider = storage.ProviderGCS },
		"half pubsub":         func(c *Config) { c.Sink.PubSubTopic = "saves" },
		"static no endpoints": func(c *Config) { c.Proxy.Enabled = true },
		"extract no url": func(c *Config) {
			c.Proxy.Enabled = true
			c.Proxy.Provider = "extract"
		},
		"unknown proxy provider": func(c *Config) {
			c.Proxy.Enabled = true
			c.Proxy.Provider = "tor"
		},
		"server without addr": func(c *Config) { c.Server.Enabled = true },
		"negative rps":        func(c *Config) { c.API.RPS = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
