// Package session resolves chat sessions and packs a turn into a prompt.
package session

import (
	"context"
	"time"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/google/uuid"
)

type Kind int

const (
	New Kind = iota
	Continue
)

func (k Kind) String() string {
	if k == New {
		return "new"
	}
	return "continue"
}

// Resolution tells the caller whether Session already exists. A New session is not stored
// until its first exchange succeeds.
type Resolution struct {
	Kind    Kind
	Session commonModels.ChatSession
}

type SessionReader interface {
	GetSession(ctx context.Context, sessionId string) (commonModels.ChatSession, bool, error)
}

type Resolver struct {
	sessions SessionReader
	now      func() time.Time
}

func NewResolver(sessions SessionReader) *Resolver {
	return &Resolver{sessions: sessions, now: time.Now}
}

// Resolve continues sessionId inside projectId, or starts a new session when sessionId is empty.
// A session of another project is reported exactly like a missing one.
func (r *Resolver) Resolve(ctx context.Context, projectId, sessionId, userId string) (Resolution, error) {
	const op = "session.Resolve"
	if sessionId == "" {
		now := r.now().UTC()
		return Resolution{Kind: New, Session: commonModels.ChatSession{
			Id:           uuid.NewString(),
			ProjectId:    projectId,
			UserId:       userId,
			CreatedAt:    now,
			LastActivity: now,
		}}, nil
	}

	s, found, err := r.sessions.GetSession(ctx, sessionId)
	if err != nil {
		return Resolution{}, ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	if !found || s.ProjectId != projectId {
		return Resolution{}, ragErrors.E(ragErrors.CodeSessionNotFound, op, nil)
	}
	return Resolution{Kind: Continue, Session: s}, nil
}
