package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Mode selects which pipeline a run executes.
type Mode string

// Supported crawl modes.
const (
	ModeSearch  Mode = "search"
	ModeDetail  Mode = "detail"
	ModeCreator Mode = "creator"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeSearch, ModeDetail, ModeCreator:
		return m, nil
	default:
		return "", fmt.Errorf("unknown crawl mode %q", raw)
	}
}

// SortOrder controls search result ordering.
type SortOrder string

// Search sort orders understood by the platform.
const (
	SortGeneral    SortOrder = "general"
	SortPopularity SortOrder = "popularity_descending"
	SortLatest     SortOrder = "time_descending"
)

// ParseSortOrder maps an empty value to SortGeneral.
func ParseSortOrder(raw string) (SortOrder, error) {
	switch s := SortOrder(strings.TrimSpace(raw)); s {
	case "":
		return SortGeneral, nil
	case SortGeneral, SortPopularity, SortLatest:
		return s, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", raw)
	}
}

// LoginMethod names the interactive or credential login flow.
type LoginMethod string

// Login methods supported by session bootstrappers.
const (
	LoginQRCode LoginMethod = "qrcode"
	LoginPhone  LoginMethod = "phone"
	LoginCookie LoginMethod = "cookie"
)

// PerPageLimit is the fixed number of results the platform returns per search page.
const PerPageLimit = 20

// Model types that mark query-suggestion placeholders rather than notes.
const (
	modelTypeRecQuery = "rec_query"
	modelTypeHotQuery = "hot_query"
)

// SearchItem is one entry of a search result page.
type SearchItem struct {
	ID        string `json:"id"`
	ModelType string `json:"model_type"`
	XSecToken string `json:"xsec_token,omitempty"`
}

// IsContent reports whether the item is a genuine note and not a recommendation placeholder.
func (i SearchItem) IsContent() bool {
	return i.ModelType != modelTypeRecQuery && i.ModelType != modelTypeHotQuery
}

// SearchPage is one page of keyword search results.
type SearchPage struct {
	Items   []SearchItem `json:"items"`
	HasMore bool         `json:"has_more"`
}

// Note is the detail record of a single piece of content.
type Note struct {
	NoteID         string   `json:"note_id"`
	Type           string   `json:"type"`
	Title          string   `json:"title"`
	Desc           string   `json:"desc"`
	UserID         string   `json:"user_id"`
	Nickname       string   `json:"nickname"`
	Avatar         string   `json:"avatar,omitempty"`
	PublishedAt    int64    `json:"time"`
	LastUpdateAt   int64    `json:"last_update_time"`
	LikedCount     string   `json:"liked_count"`
	CollectedCount string   `json:"collected_count"`
	CommentCount   string   `json:"comment_count"`
	ShareCount     string   `json:"share_count"`
	IPLocation     string   `json:"ip_location,omitempty"`
	ImageList      []string `json:"image_list,omitempty"`
	TagList        []string `json:"tag_list,omitempty"`
	NoteURL        string   `json:"note_url"`
}

// NoteRef identifies a note discovered on a creator timeline.
type NoteRef struct {
	NoteID    string `json:"note_id"`
	XSecToken string `json:"xsec_token,omitempty"`
}

// Comment is a single comment (top level or reply) on a note.
type Comment struct {
	CommentID       string `json:"comment_id"`
	NoteID          string `json:"note_id"`
	ParentCommentID string `json:"parent_comment_id,omitempty"`
	Content         string `json:"content"`
	UserID          string `json:"user_id"`
	Nickname        string `json:"nickname"`
	CreatedAt       int64  `json:"create_time"`
	LikeCount       string `json:"like_count"`
	SubCommentCount int    `json:"sub_comment_count"`
	IPLocation      string `json:"ip_location,omitempty"`
}

// Creator is the profile of a content creator.
type Creator struct {
	UserID      string   `json:"user_id"`
	Nickname    string   `json:"nickname"`
	Gender      string   `json:"gender,omitempty"`
	Avatar      string   `json:"avatar,omitempty"`
	Desc        string   `json:"desc,omitempty"`
	IPLocation  string   `json:"ip_location,omitempty"`
	Follows     string   `json:"follows"`
	Fans        string   `json:"fans"`
	Interaction string   `json:"interaction"`
	Tags        []string `json:"tags,omitempty"`
}

// ProxyIdentity is one egress identity handed out by a ProxyProvisioner.
type ProxyIdentity struct {
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	User      string    `json:"user"`
	Password  string    `json:"password"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the identity's lease has lapsed at now.
func (p ProxyIdentity) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Key is the natural key of an identity.
func (p ProxyIdentity) Key() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// SessionMaterial is the authentication state exported from a browser session.
type SessionMaterial struct {
	Cookies []*http.Cookie
}

// Header renders the cookies as a Cookie request header value.
func (s SessionMaterial) Header() string {
	parts := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Get returns the named cookie value, or "" when absent.
func (s SessionMaterial) Get(name string) string {
	for _, c := range s.Cookies {
		if c != nil && c.Name == name {
			return c.Value
		}
	}
	return ""
}

// ParseCookieString splits a "a=b; c=d" cookie string into cookies.
func ParseCookieString(raw string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return out
}
