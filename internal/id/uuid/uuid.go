// Package uuid provides run ID generators.
package uuid

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 run IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRawID returns a UUID7.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// Reserved hands out an ID that was allocated ahead of the run, so a caller
// can return it before the engine starts. Later calls fall back to next.
type Reserved struct {
	mu   sync.Mutex
	id   uuid.UUID
	used bool
	next interface {
		NewRawID() (uuid.UUID, error)
	}
}

// Reserve allocates a fresh ID and returns a generator that yields it first.
func Reserve() (*Reserved, error) {
	gen := New()
	id, err := gen.NewRawID()
	if err != nil {
		return nil, err
	}
	return &Reserved{id: id, next: gen}, nil
}

// ID returns the reserved ID.
func (r *Reserved) ID() uuid.UUID {
	return r.id
}

// NewRawID returns the reserved ID once, then fresh IDs.
func (r *Reserved) NewRawID() (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.used {
		r.used = true
		return r.id, nil
	}
	return r.next.NewRawID()
}
