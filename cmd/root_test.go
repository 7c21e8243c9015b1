package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/config"
)

type fakeApp struct {
	cfg      config.Config
	crawlErr error
	crawled  int
	served   int
	closed   int
}

func (f *fakeApp) Crawl(context.Context) (uuid.UUID, error) {
	f.crawled++
	return uuid.New(), f.crawlErr
}

func (f *fakeApp) Serve(context.Context) error {
	f.served++
	return nil
}

func (f *fakeApp) ServeInBackground() func(context.Context) {
	return func(context.Context) {}
}

func (f *fakeApp) Close(context.Context) error {
	f.closed++
	return nil
}

// withFakeApp swaps the application factory; tests using it must not run in
// parallel.
func withFakeApp(t *testing.T, fake *fakeApp) *int {
	t.Helper()
	builds := new(int)
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		*builds++
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return builds
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root, closeApp := newRootCmd(config.New())
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	require.NoError(t, closeApp())
	return err
}

func TestCrawlFlagsOverrideConfig(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	err := execute(t, "crawl", "--mode", "detail", "--ids", "a, b", "--sink", "memory", "--comments=false")
	require.NoError(t, err)
	require.Equal(t, "detail", fake.cfg.Crawler.Mode)
	require.Equal(t, "a, b", fake.cfg.Crawler.SpecifiedIDs)
	require.Equal(t, "memory", fake.cfg.Sink.Provider)
	require.False(t, fake.cfg.Crawler.EnableComments)
	require.Equal(t, 1, fake.crawled)
	require.Equal(t, 1, fake.closed)
}

func TestCrawlReadsConfigFile(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	path := filepath.Join(t.TempDir(), "crawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crawler:
  mode: search
  keywords: "coffee,tea"
  max_notes: 40
sink:
  provider: memory
`), 0o600))

	require.NoError(t, execute(t, "--config", path, "crawl", "--max-notes", "60"))
	require.Equal(t, "coffee,tea", fake.cfg.Crawler.Keywords)
	require.Equal(t, 60, fake.cfg.Crawler.MaxNotes)
}

func TestCrawlFailureStillClosesApp(t *testing.T) {
	fake := &fakeApp{crawlErr: errors.New("session bootstrap failed")}
	withFakeApp(t, fake)

	err := execute(t, "crawl", "--mode", "creator", "--creators", "u1", "--sink", "memory")
	require.ErrorContains(t, err, "run crawler")
	require.Equal(t, 1, fake.closed)
}

func TestCanceledCrawlIsNotAnError(t *testing.T) {
	fake := &fakeApp{crawlErr: context.Canceled}
	withFakeApp(t, fake)

	require.NoError(t, execute(t, "crawl", "--keywords", "coffee", "--sink", "memory"))
}

func TestInvalidConfigSkipsBuild(t *testing.T) {
	fake := &fakeApp{}
	builds := withFakeApp(t, fake)

	err := execute(t, "crawl", "--mode", "detail", "--sink", "memory")
	require.ErrorContains(t, err, "specified_ids")
	require.Zero(t, *builds)
	require.Zero(t, fake.closed)
}

func TestServeCommand(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	require.NoError(t, execute(t, "serve", "--config", writeServeConfig(t)))
	require.Equal(t, 1, fake.served)
	require.Equal(t, 1, fake.closed)
}

func writeServeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "serve.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"crawler":{"keywords":"coffee"},"sink":{"provider":"memory"}}`), 0o600))
	return path
}
