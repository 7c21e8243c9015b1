// Package memory keeps published save notifications in memory for tests and
// local runs.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// PublishedMessage captures one publish call. Kind is filled from payloads
// that report an event kind.
type PublishedMessage struct {
	ID      string
	Topic   string
	Kind    string
	Payload any
}

// Publisher records every publish in order.
type Publisher struct {
	mu       sync.RWMutex
	seq      int
	messages []PublishedMessage
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	msg := PublishedMessage{Topic: topic, Payload: payload}
	if k, ok := payload.(interface{ EventKind() string }); ok {
		msg.Kind = k.EventKind()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg.ID = "memory-" + strconv.Itoa(p.seq)
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// ByKind returns the recorded publishes whose payload reported kind.
func (p *Publisher) ByKind(kind string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops every recorded publish. IDs keep increasing.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
