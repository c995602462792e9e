package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/data/redisStore"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

// RedisCatalogStore keeps projects and documents as JSON values.
//
//	project:{p}              project record
//	project:{p}:documents    set of document ids
//	document:{p}:{d}         document record
type RedisCatalogStore struct {
	store  *redisStore.Store
	logger *logger_i.Logger
	now    func() time.Time
}

func GetRedisCatalogStore(ctx context.Context, cfg config.RedisSettings) *RedisCatalogStore {
	s := redisStore.GetRedisStore(ctx, cfg, config.RedisCatalogStore)
	if s == nil {
		return nil
	}
	return TestCatalogStore(s)
}

func TestCatalogStore(store *redisStore.Store) *RedisCatalogStore {
	return &RedisCatalogStore{
		store:  store,
		logger: logger_i.NewLogger("CatalogStore"),
		now:    time.Now,
	}
}

func projectKey(projectId string) string         { return "project:" + projectId }
func projectDocsKey(projectId string) string     { return "project:" + projectId + ":documents" }
func documentKey(projectId, docId string) string { return "document:" + projectId + ":" + docId }

func (s *RedisCatalogStore) CreateProject(ctx context.Context, project commonModels.Project) error {
	data, err := json.Marshal(project)
	if err != nil {
		return err
	}
	created, err := s.store.SetNX(ctx, projectKey(project.Id), data, 0)
	if err != nil {
		return err
	}
	if !created {
		return errProjectExists(project.Id)
	}
	s.logger.WithTrace(ctx).Debug("Project created", "projectId", project.Id)
	return nil
}

func (s *RedisCatalogStore) GetProject(ctx context.Context, projectId string) (commonModels.Project, bool, error) {
	var p commonModels.Project
	val, err := s.store.Get(ctx, projectKey(projectId))
	if s.store.IsNil(err) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	if err = json.Unmarshal([]byte(val), &p); err != nil {
		return p, false, fmt.Errorf("decode project %s: %w", projectId, err)
	}
	return p, true, nil
}

func (s *RedisCatalogStore) DeleteProject(ctx context.Context, projectId string) error {
	return s.store.Del(ctx, projectKey(projectId))
}

func (s *RedisCatalogStore) CreateDocument(ctx context.Context, doc commonModels.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	created, err := s.store.SetNX(ctx, documentKey(doc.ProjectId, doc.Id), data, 0)
	if err != nil {
		return err
	}
	if created {
		return s.store.SAdd(ctx, projectDocsKey(doc.ProjectId), doc.Id)
	}
	return nil
}

func (s *RedisCatalogStore) GetDocument(ctx context.Context, projectId, documentId string) (commonModels.Document, bool, error) {
	var doc commonModels.Document
	val, err := s.store.Get(ctx, documentKey(projectId, documentId))
	if s.store.IsNil(err) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, err
	}
	if err = json.Unmarshal([]byte(val), &doc); err != nil {
		return doc, false, fmt.Errorf("decode document %s: %w", documentId, err)
	}
	return doc, true, nil
}

func (s *RedisCatalogStore) ListDocuments(ctx context.Context, projectId string) ([]commonModels.Document, error) {
	ids, err := s.store.SMembers(ctx, projectDocsKey(projectId))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = documentKey(projectId, id)
	}
	values, err := s.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	docs := make([]commonModels.Document, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var doc commonModels.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			s.logger.WithTrace(ctx).Error("Skipping undecodable document", "projectId", projectId, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	sortDocuments(docs)
	return docs, nil
}

func (s *RedisCatalogStore) CountIndexed(ctx context.Context, projectId string) (int, error) {
	docs, err := s.ListDocuments(ctx, projectId)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		if d.Status == commonModels.StatusIndexed {
			n++
		}
	}
	return n, nil
}

// Transition runs the status check and the write under WATCH, so concurrent triggers
// across processes admit exactly one writer.
func (s *RedisCatalogStore) Transition(ctx context.Context, projectId, documentId string, from []commonModels.DocStatus, to commonModels.DocStatus, mutate func(*commonModels.Document)) (commonModels.Document, error) {
	var result commonModels.Document
	err := s.store.CompareAndSwap(ctx, documentKey(projectId, documentId), func(current string, exists bool) (string, error) {
		if !exists {
			return "", ragErrors.E(ragErrors.CodeDocumentNotFound, "store.Transition", nil)
		}
		var doc commonModels.Document
		if err := json.Unmarshal([]byte(current), &doc); err != nil {
			return "", fmt.Errorf("decode document %s: %w", documentId, err)
		}
		if err := doc.ApplyTransition(from, to, mutate, s.now()); err != nil {
			result = doc
			return "", err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return "", err
		}
		result = doc
		return string(data), nil
	})
	if err != nil {
		var rerr *ragErrors.Error
		if !errors.As(err, &rerr) {
			s.logger.WithTrace(ctx).Error("Transition failed", "documentId", documentId, "to", to, "error", err)
		}
		return result, err
	}
	s.logger.WithTrace(ctx).Debug("Document transitioned", "documentId", documentId, "to", to)
	return result, nil
}

func (s *RedisCatalogStore) DeleteDocument(ctx context.Context, projectId, documentId string) error {
	if err := s.store.Del(ctx, documentKey(projectId, documentId)); err != nil {
		return err
	}
	return s.store.SRem(ctx, projectDocsKey(projectId), documentId)
}

func (s *RedisCatalogStore) DeleteProjectDocuments(ctx context.Context, projectId string) error {
	ids, err := s.store.SMembers(ctx, projectDocsKey(projectId))
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, documentKey(projectId, id))
	}
	keys = append(keys, projectDocsKey(projectId))
	return s.store.Del(ctx, keys...)
}
