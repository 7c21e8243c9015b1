// Package memory keeps crawl results in-memory for development and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

// Sink is a crawler.ResultSink backed by maps keyed on natural IDs.
type Sink struct {
	mu       sync.RWMutex
	notes    map[string]crawler.Note
	creators map[string]crawler.Creator
	comments map[string]map[string]crawler.Comment
}

var _ crawler.ResultSink = (*Sink)(nil)

// NewSink constructs an empty Sink.
func NewSink() *Sink {
	return &Sink{
		notes:    make(map[string]crawler.Note),
		creators: make(map[string]crawler.Creator),
		comments: make(map[string]map[string]crawler.Comment),
	}
}

// SaveNote stores or replaces a note.
func (s *Sink) SaveNote(_ context.Context, note crawler.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note.ImageList = slices.Clone(note.ImageList)
	note.TagList = slices.Clone(note.TagList)
	s.notes[note.NoteID] = note
	return nil
}

// SaveCreator stores or replaces a creator profile.
func (s *Sink) SaveCreator(_ context.Context, userID string, creator crawler.Creator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	creator.Tags = slices.Clone(creator.Tags)
	s.creators[userID] = creator
	return nil
}

// SaveComments merges a page of comments into the note's comment set.
func (s *Sink) SaveComments(_ context.Context, noteID string, comments []crawler.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.comments[noteID]
	if !ok {
		byID = make(map[string]crawler.Comment, len(comments))
		s.comments[noteID] = byID
	}
	for _, c := range comments {
		byID[c.CommentID] = c
	}
	return nil
}

// Note returns a stored note.
func (s *Sink) Note(noteID string) (crawler.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[noteID]
	return n, ok
}

// NoteIDs lists stored note IDs in sorted order.
func (s *Sink) NoteIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.notes))
	for id := range s.notes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Creator returns a stored creator profile.
func (s *Sink) Creator(userID string) (crawler.Creator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creators[userID]
	return c, ok
}

// Comments returns the note's comments ordered by comment ID.
func (s *Sink) Comments(noteID string) []crawler.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.comments[noteID]
	out := make([]crawler.Comment, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b crawler.Comment) int {
		return cmp.Compare(a.CommentID, b.CommentID)
	})
	return out
}
