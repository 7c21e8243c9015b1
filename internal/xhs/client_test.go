package xhs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

type stubSigner struct{ calls []string }

func (s *stubSigner) Sign(_ context.Context, uri string, _ any) (map[string]string, error) {
	s.calls = append(s.calls, uri)
	return map[string]string{"X-S": "sig", "X-T": "123"}, nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, WebURL: srv.URL, UserAgent: "test-agent", Timeout: 2 * time.Second},
		crawler.SessionMaterial{Cookies: crawler.ParseCookieString("a1=x; web_session=s1")}, nil, nil, nil)
	require.NoError(t, err)
	return c, srv
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "code": 0, "msg": "ok", "data": data})
}

func TestSearchNotesSendsRequest(t *testing.T) {
	t.Parallel()

	var got searchRequest
	var headers http.Header
	signer := &stubSigner{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, pathSearch, r.URL.Path)
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		writeEnvelope(w, map[string]any{
			"has_more": true,
			"items": []map[string]any{
				{"id": "n1", "model_type": "note", "xsec_token": "tok"},
				{"id": "q1", "model_type": "rec_query"},
			},
		})
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, WebURL: "https://www.example.com", UserAgent: "test-agent"},
		crawler.SessionMaterial{Cookies: crawler.ParseCookieString("web_session=s1")}, nil, signer, nil)
	require.NoError(t, err)

	page, err := c.SearchNotes(context.Background(), "coffee", 2, "")
	require.NoError(t, err)
	require.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	require.True(t, page.Items[0].IsContent())
	require.False(t, page.Items[1].IsContent())

	require.Equal(t, "coffee", got.Keyword)
	require.Equal(t, 2, got.Page)
	require.Equal(t, 20, got.PageSize)
	require.Equal(t, "general", got.Sort)
	require.NotEmpty(t, got.SearchID)

	require.Equal(t, "web_session=s1", headers.Get("Cookie"))
	require.Equal(t, "test-agent", headers.Get("User-Agent"))
	require.Equal(t, "https://www.example.com", headers.Get("Origin"))
	require.Equal(t, "https://www.example.com", headers.Get("Referer"))
	require.Equal(t, "application/json;charset=UTF-8", headers.Get("Content-Type"))
	require.Equal(t, "sig", headers.Get("X-S"))
	require.Equal(t, []string{pathSearch}, signer.calls)
}

func TestFailedEnvelopeIsFetchError(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "code": -100, "msg": "login expired"})
	}))

	_, err := c.NoteDetail(context.Background(), "n1")
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, -100, fe.Code)
	require.Equal(t, "login expired", fe.Message)
	require.ErrorIs(t, err, crawler.ErrFetchFailed)
	require.False(t, c.Ping(context.Background()))
}

func TestHTTPErrorIsItemLevel(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "captcha", 461)
	}))
	_, err := c.NoteDetail(context.Background(), "n1")
	require.True(t, crawler.IsItemLevel(err))
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, 461, fe.Code)
}

func TestTransportErrorIsFetchFailed(t *testing.T) {
	t.Parallel()

	c, srv := newTestClient(t, http.NotFoundHandler())
	srv.Close()
	_, err := c.SearchNotes(context.Background(), "k", 1, crawler.SortGeneral)
	require.ErrorIs(t, err, crawler.ErrFetchFailed)
}

func TestCanceledContextIsNotItemLevel(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeEnvelope(w, map[string]any{})
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.NoteDetail(ctx, "n1")
	require.Error(t, err)
	require.False(t, crawler.IsItemLevel(err))
}

func TestNoteDetailMapsCard(t *testing.T) {
	t.Parallel()

	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req feedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.SourceNoteID == "gone" {
			writeEnvelope(w, map[string]any{"items": []any{}})
			return
		}
		writeEnvelope(w, map[string]any{"items": []map[string]any{{
			"id": req.SourceNoteID,
			"note_card": map[string]any{
				"type":  "normal",
				"title": "",
				"desc":  "a long description",
				"time":  1700000000000,
				"user":  map[string]any{"user_id": "u1", "nickname": "nick"},
				"interact_info": map[string]any{
					"liked_count": "1.2万", "collected_count": 5, "comment_count": "7", "share_count": "0",
				},
				"image_list": []map[string]any{{"url_default": "https://img/1"}, {"url": "https://img/2"}},
				"tag_list":   []map[string]any{{"name": "coffee"}},
			},
		}}})
	}))

	note, err := c.NoteDetail(context.Background(), "n1")
	require.NoError(t, err)
	require.Equal(t, "n1", note.NoteID)
	require.Equal(t, "a long description", note.Title)
	require.Equal(t, "u1", note.UserID)
	require.Equal(t, "1.2万", note.LikedCount)
	require.Equal(t, "5", note.CollectedCount)
	require.Equal(t, []string{"https://img/1", "https://img/2"}, note.ImageList)
	require.Equal(t, []string{"coffee"}, note.TagList)
	require.Equal(t, srv.URL+"/explore/n1", note.NoteURL)

	_, err = c.NoteDetail(context.Background(), "gone")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestNoteCommentsStreamsPages(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var cursors []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, pathComments, r.URL.Path)
		require.Equal(t, "n1", r.URL.Query().Get("note_id"))
		cursor := r.URL.Query().Get("cursor")
		mu.Lock()
		cursors = append(cursors, cursor)
		mu.Unlock()
		switch cursor {
		case "":
			writeEnvelope(w, map[string]any{
				"cursor": "c2", "has_more": true,
				"comments": []map[string]any{{
					"id": "c1", "content": "hi", "sub_comment_count": "1",
					"user_info":    map[string]any{"user_id": "u1"},
					"sub_comments": []map[string]any{{"id": "c1r", "content": "re"}},
				}},
			})
		default:
			writeEnvelope(w, map[string]any{
				"cursor": "", "has_more": false,
				"comments": []map[string]any{{"id": "c2", "content": "bye", "like_count": 3}},
			})
		}
	}))

	var pages [][]crawler.Comment
	for page, err := range c.NoteComments(context.Background(), "n1", time.Millisecond) {
		require.NoError(t, err)
		pages = append(pages, page)
	}
	require.Len(t, pages, 2)
	require.Equal(t, []string{"", "c2"}, cursors)
	require.Len(t, pages[0], 2)
	require.Equal(t, "c1", pages[0][0].CommentID)
	require.Equal(t, 1, pages[0][0].SubCommentCount)
	require.Equal(t, "c1", pages[0][1].ParentCommentID)
	require.Equal(t, "n1", pages[0][1].NoteID)
	require.Equal(t, "3", pages[1][0].LikeCount)
}

func TestNoteCommentsStopsAfterError(t *testing.T) {
	t.Parallel()

	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			writeEnvelope(w, map[string]any{"cursor": "next", "has_more": true, "comments": []map[string]any{{"id": "c1"}}})
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	var saved, failures int
	for page, err := range c.NoteComments(context.Background(), "n1", 0) {
		if err != nil {
			require.True(t, crawler.IsItemLevel(err))
			failures++
			continue
		}
		saved += len(page)
	}
	require.Equal(t, 1, saved)
	require.Equal(t, 1, failures)
	require.Equal(t, 2, calls)
}

func TestCreatorNotesStreamsUntilNoMore(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathUserPosted, r.URL.Path)
		require.Equal(t, "u1", r.URL.Query().Get("user_id"))
		require.Equal(t, "30", r.URL.Query().Get("num"))
		if r.URL.Query().Get("cursor") == "" {
			writeEnvelope(w, map[string]any{"cursor": "p2", "has_more": true, "notes": []map[string]any{{"note_id": "a"}, {"note_id": "b"}}})
			return
		}
		writeEnvelope(w, map[string]any{"cursor": "p3", "has_more": false, "notes": []map[string]any{{"note_id": "c"}}})
	}))

	var ids []string
	for refs, err := range c.CreatorNotes(context.Background(), "u1", 0) {
		require.NoError(t, err)
		for _, r := range refs {
			ids = append(ids, r.NoteID)
		}
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestUpdateSessionChangesCookieHeader(t *testing.T) {
	t.Parallel()

	var cookie string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie = r.Header.Get("Cookie")
		writeEnvelope(w, map[string]any{"items": []map[string]any{{"id": "x", "model_type": "note"}}})
	}))
	require.True(t, c.Ping(context.Background()))
	require.Equal(t, "a1=x; web_session=s1", cookie)

	c.UpdateSession(crawler.SessionMaterial{Cookies: crawler.ParseCookieString("web_session=s2")})
	require.True(t, c.Ping(context.Background()))
	require.Equal(t, "web_session=s2", cookie)
}

func TestRequestsGoThroughAPIProxy(t *testing.T) {
	t.Parallel()

	var seenHost, seenAuth string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHost = r.URL.Host
		seenAuth = r.Header.Get("Proxy-Authorization")
		writeEnvelope(w, map[string]any{"items": []any{}})
	}))
	t.Cleanup(proxy.Close)
	proxyURL, err := url.Parse(proxy.URL)
	require.NoError(t, err)
	proxyURL.User = url.UserPassword("user", "pw")

	c, err := New(Config{BaseURL: "http://edith.invalid"}, crawler.SessionMaterial{},
		&crawler.APIProxy{Protocol: "http", URL: proxyURL}, nil, nil)
	require.NoError(t, err)
	_, err = c.SearchNotes(context.Background(), "k", 1, crawler.SortLatest)
	require.NoError(t, err)
	require.Equal(t, "edith.invalid", seenHost)
	require.NotEmpty(t, seenAuth)
}

func TestPaginateStopsOnRepeatedCursor(t *testing.T) {
	t.Parallel()

	calls := 0
	seq := paginate(context.Background(), 0, func(context.Context, string) ([]int, string, bool, error) {
		calls++
		return []int{calls}, "same", true, nil
	})
	var got []int
	for v, err := range seq {
		require.NoError(t, err)
		got = append(got, v...)
	}
	require.Equal(t, []int{1, 2}, got)
}

func TestPaginateHonorsEarlyBreak(t *testing.T) {
	t.Parallel()

	calls := 0
	seq := paginate(context.Background(), 0, func(_ context.Context, cursor string) ([]string, string, bool, error) {
		calls++
		return []string{cursor}, fmt.Sprintf("c%d", calls), true, nil
	})
	for range seq {
		break
	}
	require.Equal(t, 1, calls)
}

func TestFactoryBuildsClient(t *testing.T) {
	t.Parallel()

	f := Factory(Config{}, NopSigner{}, nil)
	rc, err := f(crawler.SessionMaterial{}, nil)
	require.NoError(t, err)
	require.IsType(t, &Client{}, rc)

	_, err = New(Config{BaseURL: "::bad"}, crawler.SessionMaterial{}, nil, nil, nil)
	require.Error(t, err)
}
