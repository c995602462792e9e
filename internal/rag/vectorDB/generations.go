package vectorDB

import (
	"context"
	"sync"
)

// GenerationRegistry records which chunk generation of a document is visible to readers.
// SetActive is the single atomic write that publishes a replacement.
type GenerationRegistry interface {
	ActiveAll(ctx context.Context, ns Namespace) (map[string]string, error)
	SetActive(ctx context.Context, ns Namespace, documentId, generation string) error
	Remove(ctx context.Context, ns Namespace, documentId string) error
	Purge(ctx context.Context, ns Namespace) error
}

type memoryGenerations struct {
	mu     sync.RWMutex
	active map[string]map[string]string
}

func NewMemoryGenerations() GenerationRegistry {
	return &memoryGenerations{active: make(map[string]map[string]string)}
}

func (m *memoryGenerations) ActiveAll(_ context.Context, ns Namespace) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.active[ns.project]))
	for doc, gen := range m.active[ns.project] {
		out[doc] = gen
	}
	return out, nil
}

func (m *memoryGenerations) SetActive(_ context.Context, ns Namespace, documentId, generation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.active[ns.project]
	if !ok {
		docs = make(map[string]string)
		m.active[ns.project] = docs
	}
	docs[documentId] = generation
	return nil
}

func (m *memoryGenerations) Remove(_ context.Context, ns Namespace, documentId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active[ns.project], documentId)
	return nil
}

func (m *memoryGenerations) Purge(_ context.Context, ns Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, ns.project)
	return nil
}
