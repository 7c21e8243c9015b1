package crawler

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
)

type searchCall struct {
	Keyword string
	Page    int
	Sort    SortOrder
}

// fakeClient is a scripted RemoteClient. Unscripted notes resolve to a
// synthesized record so tests only describe failures.
type fakeClient struct {
	pingOK bool

	pages       map[string]map[int]SearchPage
	searchErr   map[string]error
	detailErr   map[string]error
	detailDelay time.Duration
	comments    map[string][][]Comment
	commentErr  map[string]error
	creators    map[string]*Creator
	timelines   map[string][][]NoteRef

	mu           sync.Mutex
	searches     []searchCall
	details      []string
	commentNotes []string
	// calls interleaves searches and comment streams in invocation order.
	calls        []string
	sessions     []SessionMaterial
	inFlight     atomic.Int32
	peak         atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pingOK:     true,
		pages:      map[string]map[int]SearchPage{},
		searchErr:  map[string]error{},
		detailErr:  map[string]error{},
		comments:   map[string][][]Comment{},
		commentErr: map[string]error{},
		creators:   map[string]*Creator{},
		timelines:  map[string][][]NoteRef{},
	}
}

func (c *fakeClient) Ping(context.Context) bool { return c.pingOK }

func (c *fakeClient) UpdateSession(s SessionMaterial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, s)
}

func (c *fakeClient) SearchNotes(_ context.Context, keyword string, page int, sort SortOrder) (SearchPage, error) {
	c.mu.Lock()
	c.searches = append(c.searches, searchCall{Keyword: keyword, Page: page, Sort: sort})
	c.calls = append(c.calls, fmt.Sprintf("search %s %d", keyword, page))
	c.mu.Unlock()
	if err := c.searchErr[keyword]; err != nil {
		return SearchPage{}, err
	}
	return c.pages[keyword][page], nil
}

func (c *fakeClient) NoteDetail(ctx context.Context, noteID string) (Note, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	c.mu.Lock()
	c.details = append(c.details, noteID)
	c.mu.Unlock()
	if c.detailDelay > 0 {
		select {
		case <-time.After(c.detailDelay):
		case <-ctx.Done():
			return Note{}, ctx.Err()
		}
	}
	if err := c.detailErr[noteID]; err != nil {
		return Note{}, err
	}
	return Note{NoteID: noteID, Title: "title " + noteID}, nil
}

func (c *fakeClient) CreatorInfo(_ context.Context, userID string) (*Creator, error) {
	return c.creators[userID], nil
}

func (c *fakeClient) CreatorNotes(_ context.Context, userID string, _ time.Duration) iter.Seq2[[]NoteRef, error] {
	return func(yield func([]NoteRef, error) bool) {
		for _, page := range c.timelines[userID] {
			if !yield(page, nil) {
				return
			}
		}
	}
}

func (c *fakeClient) NoteComments(_ context.Context, noteID string, _ time.Duration) iter.Seq2[[]Comment, error] {
	c.mu.Lock()
	c.commentNotes = append(c.commentNotes, noteID)
	c.calls = append(c.calls, "comments "+noteID)
	c.mu.Unlock()
	return func(yield func([]Comment, error) bool) {
		for _, page := range c.comments[noteID] {
			if !yield(page, nil) {
				return
			}
		}
		if err := c.commentErr[noteID]; err != nil {
			yield(nil, err)
		}
	}
}

func (c *fakeClient) Searches() []searchCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]searchCall(nil), c.searches...)
}

func (c *fakeClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeClient) CommentNotes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.commentNotes...)
	sort.Strings(out)
	return out
}

func (c *fakeClient) Details() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.details...)
	sort.Strings(out)
	return out
}

// memSink keys every record by its natural key.
type memSink struct {
	mu       sync.Mutex
	notes    map[string]Note
	creators map[string]Creator
	comments map[string]map[string]Comment
	err      error
}

func newMemSink() *memSink {
	return &memSink{
		notes:    map[string]Note{},
		creators: map[string]Creator{},
		comments: map[string]map[string]Comment{},
	}
}

func (s *memSink) SaveNote(_ context.Context, note Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.notes[note.NoteID] = note
	return nil
}

func (s *memSink) SaveCreator(_ context.Context, userID string, creator Creator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creators[userID] = creator
	return nil
}

func (s *memSink) SaveComments(_ context.Context, noteID string, comments []Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.comments[noteID] == nil {
		s.comments[noteID] = map[string]Comment{}
	}
	for _, c := range comments {
		s.comments[noteID][c.CommentID] = c
	}
	return nil
}

func (s *memSink) NoteIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.notes))
	for id := range s.notes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *memSink) CommentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.comments {
		n += len(m)
	}
	return n
}

// MockBootstrapper is a testify mock of SessionBootstrapper.
type MockBootstrapper struct {
	mock.Mock
}

func (m *MockBootstrapper) Open(ctx context.Context, proxy *BrowserProxy) (SessionMaterial, error) {
	args := m.Called(ctx, proxy)
	return args.Get(0).(SessionMaterial), args.Error(1)
}

func (m *MockBootstrapper) Login(ctx context.Context, method LoginMethod, credential string) (SessionMaterial, error) {
	args := m.Called(ctx, method, credential)
	return args.Get(0).(SessionMaterial), args.Error(1)
}

func (m *MockBootstrapper) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeProxies struct {
	id    ProxyIdentity
	err   error
	calls atomic.Int32
}

func (p *fakeProxies) Acquire(context.Context) (ProxyIdentity, error) {
	p.calls.Add(1)
	return p.id, p.err
}

func openBrowser() *MockBootstrapper {
	b := &MockBootstrapper{}
	b.On("Open", mock.Anything, mock.Anything).Return(SessionMaterial{Cookies: ParseCookieString("a1=x; web_session=s1")}, nil)
	b.On("Close", mock.Anything).Return(nil)
	return b
}

func baseConfig(mode Mode) Config {
	return Config{
		Mode:           mode,
		StartPage:      1,
		MaxNotes:       20,
		MaxConcurrency: 4,
		EnableComments: true,
		LoginMethod:    LoginQRCode,
	}
}

func newTestEngine(t interface{ Fatalf(string, ...any) }, cfg Config, client *fakeClient, sink *memSink, browser *MockBootstrapper) *Engine {
	e, err := NewEngine(cfg, Options{
		Browser: browser,
		NewClient: func(SessionMaterial, *APIProxy) (RemoteClient, error) {
			return client, nil
		},
		Sink: sink,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func contentPage(ids ...string) SearchPage {
	items := make([]SearchItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, SearchItem{ID: id, ModelType: "note"})
	}
	return SearchPage{Items: items, HasMore: true}
}
