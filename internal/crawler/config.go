package crawler

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the settings for a crawl run. It is decoupled from Viper so
// the engine can be configured and tested independently.
type Config struct {
	Mode           Mode
	Keywords       []string
	StartPage      int
	MaxNotes       int
	Sort           SortOrder
	MaxConcurrency int
	EnableComments bool
	NoteIDs        []string
	CreatorIDs     []string
	// RequestTimeout bounds every remote call; zero disables the deadline.
	RequestTimeout time.Duration
	// MaxPacing is the exclusive upper bound of the random delay between
	// successive page requests of a stream.
	MaxPacing    time.Duration
	ProxyEnabled bool
	LoginMethod  LoginMethod
	Cookies      string
	Phone        string
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.max_concurrency must be > 0")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("crawler.request_timeout must be >= 0")
	}
	if c.MaxPacing < 0 {
		return fmt.Errorf("crawler.max_pacing must be >= 0")
	}
	switch c.Mode {
	case ModeSearch:
		if len(c.Keywords) == 0 {
			return fmt.Errorf("crawler.keywords must include at least one keyword in search mode")
		}
		if c.StartPage < 1 {
			return fmt.Errorf("crawler.start_page must be >= 1")
		}
	case ModeDetail:
		if len(c.NoteIDs) == 0 {
			return fmt.Errorf("crawler.specified_ids must not be empty in detail mode")
		}
	case ModeCreator:
		if len(c.CreatorIDs) == 0 {
			return fmt.Errorf("crawler.creator_ids must not be empty in creator mode")
		}
	}
	switch c.LoginMethod {
	case LoginQRCode:
	case LoginPhone:
		if strings.TrimSpace(c.Phone) == "" {
			return fmt.Errorf("session.phone must be set for phone login")
		}
	case LoginCookie:
		if strings.TrimSpace(c.Cookies) == "" {
			return fmt.Errorf("session.cookies must be set for cookie login")
		}
	default:
		return fmt.Errorf("unknown login method %q", c.LoginMethod)
	}
	return nil
}

// maxNotes applies the platform floor of one full page.
func (c Config) maxNotes() int {
	if c.MaxNotes < PerPageLimit {
		return PerPageLimit
	}
	return c.MaxNotes
}

// credential returns the login input for the configured method.
func (c Config) credential() string {
	switch c.LoginMethod {
	case LoginCookie:
		return c.Cookies
	case LoginPhone:
		return c.Phone
	default:
		return ""
	}
}

// SplitList splits a comma separated list, trimming blanks and dropping duplicates.
func SplitList(raw string) []string {
	return normalizeList(strings.Split(raw, ","))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
