package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
)

// InMemoryCatalogStore holds projects and their documents. It implements both
// commonModels.ProjectStore and commonModels.DocumentStore.
type InMemoryCatalogStore struct {
	mu       sync.RWMutex
	projects map[string]commonModels.Project
	docs     map[string]map[string]commonModels.Document
	now      func() time.Time
}

func InitInMemoryCatalogStore() *InMemoryCatalogStore {
	return &InMemoryCatalogStore{
		projects: make(map[string]commonModels.Project),
		docs:     make(map[string]map[string]commonModels.Document),
		now:      time.Now,
	}
}

func (s *InMemoryCatalogStore) CreateProject(_ context.Context, project commonModels.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.Id]; ok {
		return errProjectExists(project.Id)
	}
	s.projects[project.Id] = project
	return nil
}

func (s *InMemoryCatalogStore) GetProject(_ context.Context, projectId string) (commonModels.Project, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectId]
	return p, ok, nil
}

func (s *InMemoryCatalogStore) DeleteProject(_ context.Context, projectId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectId)
	return nil
}

func (s *InMemoryCatalogStore) CreateDocument(_ context.Context, doc commonModels.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.docs[doc.ProjectId]
	if !ok {
		docs = make(map[string]commonModels.Document)
		s.docs[doc.ProjectId] = docs
	}
	if _, exists := docs[doc.Id]; exists {
		return nil
	}
	docs[doc.Id] = doc
	return nil
}

func (s *InMemoryCatalogStore) GetDocument(_ context.Context, projectId, documentId string) (commonModels.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[projectId][documentId]
	return doc, ok, nil
}

func (s *InMemoryCatalogStore) ListDocuments(_ context.Context, projectId string) ([]commonModels.Document, error) {
	s.mu.RLock()
	out := make([]commonModels.Document, 0, len(s.docs[projectId]))
	for _, d := range s.docs[projectId] {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sortDocuments(out)
	return out, nil
}

func (s *InMemoryCatalogStore) CountIndexed(_ context.Context, projectId string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.docs[projectId] {
		if d.Status == commonModels.StatusIndexed {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryCatalogStore) Transition(_ context.Context, projectId, documentId string, from []commonModels.DocStatus, to commonModels.DocStatus, mutate func(*commonModels.Document)) (commonModels.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[projectId][documentId]
	if !ok {
		return commonModels.Document{}, ragErrors.E(ragErrors.CodeDocumentNotFound, "store.Transition", nil)
	}
	if err := doc.ApplyTransition(from, to, mutate, s.now()); err != nil {
		return doc, err
	}
	s.docs[projectId][documentId] = doc
	return doc, nil
}

func (s *InMemoryCatalogStore) DeleteDocument(_ context.Context, projectId, documentId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[projectId], documentId)
	return nil
}

func (s *InMemoryCatalogStore) DeleteProjectDocuments(_ context.Context, projectId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, projectId)
	return nil
}

func errProjectExists(projectId string) error {
	return ragErrors.Ef(ragErrors.CodeInvalidRequest, "store.CreateProject", nil, "Project %s already exists", projectId)
}

// sortDocuments orders by upload time, oldest first, then id
func sortDocuments(docs []commonModels.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.Before(docs[j].UploadedAt)
		}
		return docs[i].Id < docs[j].Id
	})
}
