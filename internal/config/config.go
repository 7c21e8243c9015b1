// Package config loads and validates notecrawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/notecrawler/internal/api"
	"github.com/JakeFAU/notecrawler/internal/crawler"
	"github.com/JakeFAU/notecrawler/internal/proxy"
	"github.com/JakeFAU/notecrawler/internal/session"
	"github.com/JakeFAU/notecrawler/internal/storage"
	"github.com/JakeFAU/notecrawler/internal/xhs"
)

// EnvPrefix is prepended to every environment override, e.g.
// NOTECRAWLER_CRAWLER_MODE.
const EnvPrefix = "NOTECRAWLER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Session SessionConfig `mapstructure:"session"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	API     APIConfig     `mapstructure:"api"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs what a run crawls. List values are comma separated.
type CrawlerConfig struct {
	Mode           string        `mapstructure:"mode"`
	Keywords       string        `mapstructure:"keywords"`
	StartPage      int           `mapstructure:"start_page"`
	MaxNotes       int           `mapstructure:"max_notes"`
	Sort           string        `mapstructure:"sort"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	EnableComments bool          `mapstructure:"enable_comments"`
	SpecifiedIDs   string        `mapstructure:"specified_ids"`
	CreatorIDs     string        `mapstructure:"creator_ids"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PacingMax      time.Duration `mapstructure:"pacing_max"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SessionConfig controls the browser session and login.
type SessionConfig struct {
	LoginType         string        `mapstructure:"login_type"`
	Cookies           string        `mapstructure:"cookies"`
	Phone             string        `mapstructure:"phone"`
	Headless          bool          `mapstructure:"headless"`
	SaveLoginState    bool          `mapstructure:"save_login_state"`
	UserDataDir       string        `mapstructure:"user_data_dir"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ExecPath          string        `mapstructure:"exec_path"`
	Sign              bool          `mapstructure:"sign"`
}

// ProxyConfig controls egress proxy provisioning.
type ProxyConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Provider    string        `mapstructure:"provider"`
	PoolCount   int           `mapstructure:"pool_count"`
	Endpoints   []string      `mapstructure:"endpoints"`
	ExtractURL  string        `mapstructure:"extract_url"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Validate    bool          `mapstructure:"validate"`
	ProbeURL    string        `mapstructure:"probe_url"`
}

// APIConfig points the client at the platform's web API.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	WebURL  string        `mapstructure:"web_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
}

// SinkConfig selects where results are written and who is told about them.
type SinkConfig struct {
	Provider      string `mapstructure:"provider"`
	Dir           string `mapstructure:"dir"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	DSN           string `mapstructure:"dsn"`
	TablePrefix   string `mapstructure:"table_prefix"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Endpoint      string `mapstructure:"endpoint"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New returns a Viper instance with defaults and environment overrides
// applied. Callers may bind flags to it before calling Decode.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.mode", string(crawler.ModeSearch))
	v.SetDefault("crawler.keywords", "")
	v.SetDefault("crawler.start_page", 1)
	v.SetDefault("crawler.max_notes", 20)
	v.SetDefault("crawler.sort", string(crawler.SortGeneral))
	v.SetDefault("crawler.max_concurrency", 4)
	v.SetDefault("crawler.enable_comments", true)
	v.SetDefault("crawler.specified_ids", "")
	v.SetDefault("crawler.creator_ids", "")
	v.SetDefault("crawler.request_timeout", "60s")
	v.SetDefault("crawler.pacing_max", "1s")
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("session.login_type", string(crawler.LoginQRCode))
	v.SetDefault("session.cookies", "")
	v.SetDefault("session.phone", "")
	v.SetDefault("session.headless", false)
	v.SetDefault("session.save_login_state", true)
	v.SetDefault("session.user_data_dir", "browser_data")
	v.SetDefault("session.login_timeout", "2m")
	v.SetDefault("session.navigation_timeout", "45s")
	v.SetDefault("session.exec_path", "")
	v.SetDefault("session.sign", true)
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.provider", "static")
	v.SetDefault("proxy.pool_count", 2)
	v.SetDefault("proxy.endpoints", []string{})
	v.SetDefault("proxy.extract_url", "")
	v.SetDefault("proxy.user", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("proxy.redis_addr", "")
	v.SetDefault("proxy.redis_prefix", "notecrawler:proxy")
	v.SetDefault("proxy.cache_ttl", "10m")
	v.SetDefault("proxy.validate", false)
	v.SetDefault("proxy.probe_url", "https://httpbin.org/ip")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.web_url", "")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.rps", 2.0)
	v.SetDefault("api.burst", 2)
	v.SetDefault("sink.provider", storage.ProviderJSON)
	v.SetDefault("sink.dir", "data/xhs")
	v.SetDefault("sink.sqlite_path", "data/xhs.db")
	v.SetDefault("sink.dsn", "")
	v.SetDefault("sink.table_prefix", "xhs_")
	v.SetDefault("sink.bucket", "")
	v.SetDefault("sink.prefix", "")
	v.SetDefault("sink.endpoint", "")
	v.SetDefault("sink.pubsub_project", "")
	v.SetDefault("sink.pubsub_topic", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := c.Engine(); err != nil {
		return err
	}
	switch c.Sink.Provider {
	case storage.ProviderNone, storage.ProviderMemory:
	case storage.ProviderJSON:
		if c.Sink.Dir == "" {
			return fmt.Errorf("sink.dir is required for the json sink")
		}
	case storage.ProviderSQLite:
		if c.Sink.SQLitePath == "" {
			return fmt.Errorf("sink.sqlite_path is required for the sqlite sink")
		}
	case storage.ProviderPostgres:
		if c.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn is required for the postgres sink")
		}
	case storage.ProviderGCS:
		if c.Sink.Bucket == "" {
			return fmt.Errorf("sink.bucket is required for the gcs sink")
		}
	default:
		return fmt.Errorf("unknown sink.provider %q", c.Sink.Provider)
	}
	if (c.Sink.PubSubProject == "") != (c.Sink.PubSubTopic == "") {
		return fmt.Errorf("sink.pubsub_project and sink.pubsub_topic must be set together")
	}
	if c.Proxy.Enabled {
		switch c.Proxy.Provider {
		case "static":
			if len(c.Proxy.Endpoints) == 0 {
				return fmt.Errorf("proxy.endpoints must not be empty for the static provider")
			}
		case "extract":
			if c.Proxy.ExtractURL == "" {
				return fmt.Errorf("proxy.extract_url is required for the extract provider")
			}
		default:
			return fmt.Errorf("unknown proxy.provider %q", c.Proxy.Provider)
		}
		if c.Proxy.PoolCount <= 0 {
			return fmt.Errorf("proxy.pool_count must be > 0")
		}
	}
	if c.API.RPS < 0 {
		return fmt.Errorf("api.rps must be >= 0")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	return nil
}

// Engine converts the crawler and session sections into the engine's
// configuration.
func (c Config) Engine() (crawler.Config, error) {
	mode, err := crawler.ParseMode(c.Crawler.Mode)
	if err != nil {
		return crawler.Config{}, fmt.Errorf("crawler.mode: %w", err)
	}
	sort, err := crawler.ParseSortOrder(c.Crawler.Sort)
	if err != nil {
		return crawler.Config{}, fmt.Errorf("crawler.sort: %w", err)
	}
	cfg := crawler.Config{
		Mode:           mode,
		Keywords:       crawler.SplitList(c.Crawler.Keywords),
		StartPage:      c.Crawler.StartPage,
		MaxNotes:       c.Crawler.MaxNotes,
		Sort:           sort,
		MaxConcurrency: c.Crawler.MaxConcurrency,
		EnableComments: c.Crawler.EnableComments,
		NoteIDs:        crawler.SplitList(c.Crawler.SpecifiedIDs),
		CreatorIDs:     crawler.SplitList(c.Crawler.CreatorIDs),
		RequestTimeout: c.Crawler.RequestTimeout,
		MaxPacing:      c.Crawler.PacingMax,
		ProxyEnabled:   c.Proxy.Enabled,
		LoginMethod:    crawler.LoginMethod(strings.ToLower(strings.TrimSpace(c.Session.LoginType))),
		Cookies:        c.Session.Cookies,
		Phone:          c.Session.Phone,
	}
	if err := cfg.Validate(); err != nil {
		return crawler.Config{}, err
	}
	return cfg, nil
}

// Browser maps the session section onto the chromedp bootstrapper.
func (c Config) Browser() session.Config {
	return session.Config{
		Headless:          c.Session.Headless,
		UserAgent:         c.Crawler.UserAgent,
		SaveLoginState:    c.Session.SaveLoginState,
		UserDataDir:       c.Session.UserDataDir,
		NavigationTimeout: c.Session.NavigationTimeout,
		LoginTimeout:      c.Session.LoginTimeout,
		ExecPath:          c.Session.ExecPath,
	}
}

// Client maps the api section onto the platform client.
func (c Config) Client() xhs.Config {
	return xhs.Config{
		BaseURL:   c.API.BaseURL,
		WebURL:    c.API.WebURL,
		UserAgent: c.Crawler.UserAgent,
		Timeout:   c.API.Timeout,
		RPS:       c.API.RPS,
		Burst:     c.API.Burst,
	}
}

// Storage maps the sink section onto the storage factory.
func (c Config) Storage() storage.Config {
	return storage.Config{
		Provider:    c.Sink.Provider,
		Dir:         c.Sink.Dir,
		SQLitePath:  c.Sink.SQLitePath,
		DSN:         c.Sink.DSN,
		TablePrefix: c.Sink.TablePrefix,
		Bucket:      c.Sink.Bucket,
		Prefix:      c.Sink.Prefix,
		Endpoint:    c.Sink.Endpoint,
	}
}

// Pool maps the proxy section onto the proxy pool.
func (c Config) Pool() proxy.PoolConfig {
	return proxy.PoolConfig{Count: c.Proxy.PoolCount}
}

// APIServer maps the server section onto the operator API.
func (c Config) APIServer() api.Config {
	return api.Config{APIKey: c.Server.APIKey, RequestTimeout: c.Server.RequestTimeout}
}
