package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/notecrawler/internal/progress"
)

func TestStatusSinkAggregatesRun(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	runID := uuid.New()
	start := time.Unix(1_700_000_000, 0).UTC()
	batch := []progress.Event{
		{RunID: runID, TS: start, Stage: progress.StageRunStart, Mode: "search"},
		{RunID: runID, TS: start.Add(time.Second), Stage: progress.StageNotesSaved, Count: 5},
		{RunID: runID, TS: start.Add(2 * time.Second), Stage: progress.StagePageDone, Keyword: "a", Page: 2},
		{RunID: runID, TS: start.Add(3 * time.Second), Stage: progress.StageCommentsSaved, Count: 7},
		{RunID: runID, TS: start.Add(4 * time.Second), Stage: progress.StageKeywordAbandoned, Keyword: "b"},
		{RunID: runID, TS: start.Add(5 * time.Second), Stage: progress.StageRunError, Note: "boom"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	st, ok := sink.Get(runID)
	require.True(t, ok)
	require.Equal(t, StateFailed, st.State)
	require.Equal(t, "search", st.Mode)
	require.Equal(t, 5, st.Notes)
	require.Equal(t, 7, st.Comments)
	require.Equal(t, "a", st.Keyword)
	require.Equal(t, 2, st.Page)
	require.Equal(t, []string{"b"}, st.Abandoned)
	require.Equal(t, "boom", st.Error)
	require.Equal(t, start, st.StartedAt)
	require.Len(t, sink.List(), 1)

	_, ok = sink.Get(uuid.New())
	require.False(t, ok)
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		RunID: uuid.New(), TS: time.Now(), Stage: progress.StagePageDone, Keyword: "tea", Page: 3,
	}}))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "PAGE_DONE", fields["stage"])
	require.Equal(t, "tea", fields["keyword"])
	require.EqualValues(t, 3, fields["page"])
}
