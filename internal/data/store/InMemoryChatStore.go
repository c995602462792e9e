package store

import (
	"context"
	"sync"
	"time"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
)

type InMemoryChatStore struct {
	chatLock *sync.RWMutex
	sessions map[string]commonModels.ChatSession
	chatMap  map[string][]commonModels.ChatMessage
}

func InitInMemoryChatStore() *InMemoryChatStore {
	return &InMemoryChatStore{
		chatLock: new(sync.RWMutex),
		sessions: make(map[string]commonModels.ChatSession),
		chatMap:  make(map[string][]commonModels.ChatMessage),
	}
}

func (store *InMemoryChatStore) CreateSession(ctx context.Context, session commonModels.ChatSession) error {
	store.chatLock.Lock()
	defer store.chatLock.Unlock()
	if _, ok := store.sessions[session.Id]; ok {
		return nil
	}
	store.sessions[session.Id] = session
	inMemLogger.WithTrace(ctx).Debug("Created chat session", "sessionId", session.Id)
	return nil
}

func (store *InMemoryChatStore) GetSession(_ context.Context, sessionId string) (commonModels.ChatSession, bool, error) {
	store.chatLock.RLock()
	defer store.chatLock.RUnlock()
	s, ok := store.sessions[sessionId]
	return s, ok, nil
}

func (store *InMemoryChatStore) AppendMessages(_ context.Context, sessionId string, at time.Time, messages ...commonModels.ChatMessage) ([]commonModels.ChatMessage, error) {
	store.chatLock.Lock()
	defer store.chatLock.Unlock()

	session, ok := store.sessions[sessionId]
	if !ok {
		return nil, ragErrors.E(ragErrors.CodeSessionNotFound, "store.AppendMessages", nil)
	}

	history := store.chatMap[sessionId]
	next := int64(len(history)) + 1
	out := make([]commonModels.ChatMessage, len(messages))
	for i, m := range messages {
		m.SessionId = sessionId
		m.Seq = next + int64(i)
		out[i] = m
	}
	store.chatMap[sessionId] = append(history, out...)

	session.LastActivity = at
	store.sessions[sessionId] = session
	return out, nil
}

func (store *InMemoryChatStore) ListMessages(_ context.Context, sessionId string, limit int) ([]commonModels.ChatMessage, error) {
	store.chatLock.RLock()
	defer store.chatLock.RUnlock()
	history := store.chatMap[sessionId]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]commonModels.ChatMessage, len(history))
	copy(out, history)
	return out, nil
}

func (store *InMemoryChatStore) DeleteProjectSessions(_ context.Context, projectId string) error {
	store.chatLock.Lock()
	defer store.chatLock.Unlock()
	for id, s := range store.sessions {
		if s.ProjectId == projectId {
			delete(store.sessions, id)
			delete(store.chatMap, id)
		}
	}
	return nil
}
