package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/notecrawler/internal/progress"
)

// RunStatus is the aggregated view of one run.
type RunStatus struct {
	RunID     uuid.UUID `json:"run_id"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	Keyword   string    `json:"keyword,omitempty"`
	Page      int       `json:"page,omitempty"`
	Notes     int       `json:"notes"`
	Comments  int       `json:"comments"`
	Creators  int       `json:"creators"`
	Abandoned []string  `json:"abandoned_keywords,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run states reported by RunStatus.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// StatusSink folds events into per-run status snapshots.
type StatusSink struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*RunStatus
}

// NewStatusSink returns an empty StatusSink.
func NewStatusSink() *StatusSink {
	return &StatusSink{runs: make(map[uuid.UUID]*RunStatus)}
}

// Consume applies batch to the snapshots.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		st, ok := s.runs[evt.RunID]
		if !ok {
			st = &RunStatus{RunID: evt.RunID, Mode: evt.Mode, State: StateRunning, StartedAt: evt.TS}
			s.runs[evt.RunID] = st
		}
		st.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StageRunDone:
			st.State = StateDone
		case progress.StageRunError:
			st.State = StateFailed
			st.Error = evt.Note
		case progress.StagePageDone:
			st.Keyword, st.Page = evt.Keyword, evt.Page
		case progress.StageKeywordAbandoned:
			st.Abandoned = append(st.Abandoned, evt.Keyword)
		case progress.StageNotesSaved:
			st.Notes += evt.Count
		case progress.StageCommentsSaved:
			st.Comments += evt.Count
		case progress.StageCreatorSaved:
			st.Creators += evt.Count
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StatusSink) Close(context.Context) error {
	return nil
}

// Get returns a copy of the status of id.
func (s *StatusSink) Get(id uuid.UUID) (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[id]
	if !ok {
		return RunStatus{}, false
	}
	return copyStatus(st), true
}

// List returns copies of every known run, most recently started first.
func (s *StatusSink) List() []RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunStatus, 0, len(s.runs))
	for _, st := range s.runs {
		out = append(out, copyStatus(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func copyStatus(st *RunStatus) RunStatus {
	c := *st
	c.Abandoned = append([]string(nil), st.Abandoned...)
	return c
}
