package store

import (
	"context"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/data/redisStore"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
)

// RedisGenerationStore is the vectorDB.GenerationRegistry shared by every API process.
// One hash per namespace maps document id to its active chunk generation; HSET is the
// atomic publish of a replacement.
type RedisGenerationStore struct {
	store *redisStore.Store
}

func GetRedisGenerationStore(ctx context.Context, cfg config.RedisSettings) *RedisGenerationStore {
	s := redisStore.GetRedisStore(ctx, cfg, config.RedisGenerationStore)
	if s == nil {
		return nil
	}
	return &RedisGenerationStore{store: s}
}

func TestGenerationStore(store *redisStore.Store) *RedisGenerationStore {
	return &RedisGenerationStore{store: store}
}

func generationsKey(ns vectorDB.Namespace) string { return "generations:" + ns.String() }

func (s *RedisGenerationStore) ActiveAll(ctx context.Context, ns vectorDB.Namespace) (map[string]string, error) {
	return s.store.HGetAll(ctx, generationsKey(ns))
}

func (s *RedisGenerationStore) SetActive(ctx context.Context, ns vectorDB.Namespace, documentId, generation string) error {
	return s.store.HSet(ctx, generationsKey(ns), documentId, generation)
}

func (s *RedisGenerationStore) Remove(ctx context.Context, ns vectorDB.Namespace, documentId string) error {
	return s.store.HDel(ctx, generationsKey(ns), documentId)
}

func (s *RedisGenerationStore) Purge(ctx context.Context, ns vectorDB.Namespace) error {
	return s.store.Del(ctx, generationsKey(ns))
}
