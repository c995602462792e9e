package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/data/redisStore"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

// RedisChatStore layout:
//
//	session:{s}              session record
//	session:{s}:messages     list of messages in seq order
//	session:{s}:seq          last assigned seq
//	project:{p}:sessions     set of session ids
type RedisChatStore struct {
	store  *redisStore.Store
	logger *logger_i.Logger
}

func GetRedisChatStore(ctx context.Context, cfg config.RedisSettings) *RedisChatStore {
	s := redisStore.GetRedisStore(ctx, cfg, config.RedisChatStore)
	if s == nil {
		return nil
	}
	return TestChatStore(s)
}

func TestChatStore(store *redisStore.Store) *RedisChatStore {
	return &RedisChatStore{
		store:  store,
		logger: logger_i.NewLogger("ChatStore"),
	}
}

func sessionKey(sessionId string) string         { return "session:" + sessionId }
func sessionMessagesKey(sessionId string) string { return "session:" + sessionId + ":messages" }
func sessionSeqKey(sessionId string) string      { return "session:" + sessionId + ":seq" }
func projectSessionsKey(projectId string) string { return "project:" + projectId + ":sessions" }

func (s *RedisChatStore) CreateSession(ctx context.Context, session commonModels.ChatSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	created, err := s.store.SetNX(ctx, sessionKey(session.Id), data, 0)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	s.logger.WithTrace(ctx).Debug("Created chat session", "sessionId", session.Id)
	return s.store.SAdd(ctx, projectSessionsKey(session.ProjectId), session.Id)
}

func (s *RedisChatStore) GetSession(ctx context.Context, sessionId string) (commonModels.ChatSession, bool, error) {
	var session commonModels.ChatSession
	val, err := s.store.Get(ctx, sessionKey(sessionId))
	if s.store.IsNil(err) {
		return session, false, nil
	}
	if err != nil {
		return session, false, err
	}
	if err = json.Unmarshal([]byte(val), &session); err != nil {
		return session, false, fmt.Errorf("decode session %s: %w", sessionId, err)
	}
	return session, true, nil
}

// AppendMessages reserves a seq range with INCRBY, then pushes the messages and the updated
// session record in one transaction.
func (s *RedisChatStore) AppendMessages(ctx context.Context, sessionId string, at time.Time, messages ...commonModels.ChatMessage) ([]commonModels.ChatMessage, error) {
	log := s.logger.WithTrace(ctx).With("sessionId", sessionId)

	session, found, err := s.GetSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ragErrors.E(ragErrors.CodeSessionNotFound, "store.AppendMessages", nil)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	last, err := s.store.IncrBy(ctx, sessionSeqKey(sessionId), int64(len(messages)))
	if err != nil {
		return nil, err
	}
	first := last - int64(len(messages)) + 1

	out := make([]commonModels.ChatMessage, len(messages))
	values := make([]interface{}, len(messages))
	for i, m := range messages {
		m.SessionId = sessionId
		m.Seq = first + int64(i)
		data, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out[i] = m
		values[i] = data
	}

	session.LastActivity = at
	sessionData, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if err = s.store.ListPushAndSet(ctx, sessionMessagesKey(sessionId), values, sessionKey(sessionId), sessionData); err != nil {
		log.Error("error saving chat", "error", err)
		return nil, err
	}
	log.Debug("Saved chat successfully", "firstSeq", first, "count", len(out))
	return out, nil
}

func (s *RedisChatStore) ListMessages(ctx context.Context, sessionId string, limit int) ([]commonModels.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.store.ListRange(ctx, sessionMessagesKey(sessionId), start, -1)
	if err != nil {
		s.logger.WithTrace(ctx).Error("Error getting history", "sessionId", sessionId, "error", err)
		return nil, err
	}

	out := make([]commonModels.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var m commonModels.ChatMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message in session %s: %w", sessionId, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisChatStore) DeleteProjectSessions(ctx context.Context, projectId string) error {
	ids, err := s.store.SMembers(ctx, projectSessionsKey(projectId))
	if err != nil {
		return err
	}
	keys := make([]string, 0, 3*len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id), sessionMessagesKey(id), sessionSeqKey(id))
	}
	keys = append(keys, projectSessionsKey(projectId))
	return s.store.Del(ctx, keys...)
}
