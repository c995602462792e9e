package commonModels

import (
	"context"
	"time"
)

type ProjectStore interface {
	CreateProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, projectId string) (Project, bool, error)
	DeleteProject(ctx context.Context, projectId string) error
}

// DocumentStore lookups are always project scoped: a document id from another project is not found.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, projectId, documentId string) (Document, bool, error)
	ListDocuments(ctx context.Context, projectId string) ([]Document, error)
	CountIndexed(ctx context.Context, projectId string) (int, error)
	// Transition is a compare-and-set on Status. It fails with INVALID_TRANSITION when the
	// current status is not in from, or DOCUMENT_NOT_FOUND when the document is missing.
	// mutate may change any field except Id, ProjectId and Status.
	Transition(ctx context.Context, projectId, documentId string, from []DocStatus, to DocStatus, mutate func(*Document)) (Document, error)
	DeleteDocument(ctx context.Context, projectId, documentId string) error
	DeleteProjectDocuments(ctx context.Context, projectId string) error
}

type ChatStore interface {
	CreateSession(ctx context.Context, session ChatSession) error
	GetSession(ctx context.Context, sessionId string) (ChatSession, bool, error)
	// AppendMessages assigns consecutive Seq values in argument order and sets LastActivity to at.
	AppendMessages(ctx context.Context, sessionId string, at time.Time, messages ...ChatMessage) ([]ChatMessage, error)
	// ListMessages returns the last limit messages in ascending Seq order; limit <= 0 returns all.
	ListMessages(ctx context.Context, sessionId string, limit int) ([]ChatMessage, error)
	DeleteProjectSessions(ctx context.Context, projectId string) error
}
