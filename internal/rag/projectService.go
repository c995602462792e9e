package rag

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/akolanti/GoRAG/internal/adapter/utils"
	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/ingest"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

// ProjectService manages projects and the documents inside them. Every document call checks
// the project first so a missing project never looks like a missing document.
type ProjectService interface {
	CreateProject(ctx context.Context, projectId, name string) (commonModels.Project, error)
	GetProject(ctx context.Context, projectId string) (commonModels.Project, error)
	DeleteProject(ctx context.Context, projectId string) error

	IngestDocument(ctx context.Context, req ingest.TriggerRequest) (commonModels.Document, error)
	GetDocument(ctx context.Context, projectId, documentId string) (commonModels.Document, error)
	ListDocuments(ctx context.Context, projectId string) ([]commonModels.Document, error)
	RetryDocument(ctx context.Context, projectId, documentId string) (commonModels.Document, error)
	ReindexDocument(ctx context.Context, projectId, documentId string) (commonModels.Document, error)
	DeleteDocument(ctx context.Context, projectId, documentId string) error
}

// Ingestion is satisfied by *ingest.Pipeline.
type Ingestion interface {
	Trigger(ctx context.Context, req ingest.TriggerRequest) (commonModels.Document, error)
	Retry(ctx context.Context, projectId, documentId string) (commonModels.Document, error)
	Reindex(ctx context.Context, projectId, documentId string) (commonModels.Document, error)
	DeleteDocument(ctx context.Context, projectId, documentId string) error
	RecoverInterrupted(ctx context.Context, projectId string) (int, error)
}

type ProjectDeps struct {
	Projects  commonModels.ProjectStore
	Documents commonModels.DocumentStore
	Chats     commonModels.ChatStore
	Index     vectorDB.Index
	Ingestion Ingestion
}

type projectService struct {
	projects  commonModels.ProjectStore
	documents commonModels.DocumentStore
	chats     commonModels.ChatStore
	index     vectorDB.Index
	ingestion Ingestion
	logger    *logger_i.Logger
}

func NewProjectService(deps ProjectDeps) ProjectService {
	return &projectService{
		projects:  deps.Projects,
		documents: deps.Documents,
		chats:     deps.Chats,
		index:     deps.Index,
		ingestion: deps.Ingestion,
		logger:    logger_i.NewLogger("Project Service"),
	}
}

func (p *projectService) CreateProject(ctx context.Context, projectId, name string) (commonModels.Project, error) {
	const op = "rag.CreateProject"
	if projectId == "" {
		projectId = utils.GetNewUUID()
	}
	if _, err := vectorDB.NewNamespace(projectId); err != nil {
		return commonModels.Project{}, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, err, "The project id is not valid")
	}
	if strings.TrimSpace(name) == "" {
		name = projectId
	}
	project := commonModels.Project{Id: projectId, Name: name, CreatedAt: time.Now().UTC()}
	if err := p.projects.CreateProject(ctx, project); err != nil {
		return commonModels.Project{}, storeError(op, err)
	}
	p.logger.WithTrace(ctx).Info("Project created", "projectId", projectId)
	return project, nil
}

func (p *projectService) GetProject(ctx context.Context, projectId string) (commonModels.Project, error) {
	project, found, err := p.projects.GetProject(ctx, projectId)
	if err != nil {
		return project, storeError("rag.GetProject", err)
	}
	if !found {
		return project, ragErrors.E(ragErrors.CodeProjectNotFound, "rag.GetProject", nil)
	}
	return project, nil
}

// DeleteProject purges the namespace first so no chunk outlives its project record.
// A project with a run in flight is refused; runs abandoned by a stopped process are
// recovered first and do not block it.
func (p *projectService) DeleteProject(ctx context.Context, projectId string) error {
	const op = "rag.DeleteProject"
	if _, err := p.GetProject(ctx, projectId); err != nil {
		return err
	}
	if _, err := p.ingestion.RecoverInterrupted(ctx, projectId); err != nil {
		return err
	}
	docs, err := p.documents.ListDocuments(ctx, projectId)
	if err != nil {
		return storeError(op, err)
	}
	for _, d := range docs {
		if d.Status == commonModels.StatusProcessing {
			return ragErrors.Ef(ragErrors.CodeIngestionInProgress, op, nil,
				"Document %s is still being processed", d.Id)
		}
	}

	ns, err := vectorDB.NewNamespace(projectId)
	if err != nil {
		return ragErrors.E(ragErrors.CodeInvalidRequest, op, err)
	}
	ictx, cancel := context.WithTimeout(ctx, config.IndexTimeout)
	defer cancel()
	if err := p.index.PurgeNamespace(ictx, ns); err != nil {
		return err
	}
	if err := p.documents.DeleteProjectDocuments(ctx, projectId); err != nil {
		return storeError(op, err)
	}
	if err := p.chats.DeleteProjectSessions(ctx, projectId); err != nil {
		return storeError(op, err)
	}
	if err := p.projects.DeleteProject(ctx, projectId); err != nil {
		return storeError(op, err)
	}
	p.logger.WithTrace(ctx).Info("Project deleted", "projectId", projectId, "documents", len(docs))
	return nil
}

func (p *projectService) IngestDocument(ctx context.Context, req ingest.TriggerRequest) (commonModels.Document, error) {
	if _, err := p.GetProject(ctx, req.ProjectId); err != nil {
		return commonModels.Document{}, err
	}
	return p.ingestion.Trigger(ctx, req)
}

func (p *projectService) GetDocument(ctx context.Context, projectId, documentId string) (commonModels.Document, error) {
	if _, err := p.GetProject(ctx, projectId); err != nil {
		return commonModels.Document{}, err
	}
	doc, found, err := p.documents.GetDocument(ctx, projectId, documentId)
	if err != nil {
		return doc, storeError("rag.GetDocument", err)
	}
	if !found {
		return doc, ragErrors.E(ragErrors.CodeDocumentNotFound, "rag.GetDocument", nil)
	}
	return doc, nil
}

func (p *projectService) ListDocuments(ctx context.Context, projectId string) ([]commonModels.Document, error) {
	if _, err := p.GetProject(ctx, projectId); err != nil {
		return nil, err
	}
	docs, err := p.documents.ListDocuments(ctx, projectId)
	if err != nil {
		return nil, storeError("rag.ListDocuments", err)
	}
	return docs, nil
}

func (p *projectService) RetryDocument(ctx context.Context, projectId, documentId string) (commonModels.Document, error) {
	if _, err := p.GetProject(ctx, projectId); err != nil {
		return commonModels.Document{}, err
	}
	return p.ingestion.Retry(ctx, projectId, documentId)
}

func (p *projectService) ReindexDocument(ctx context.Context, projectId, documentId string) (commonModels.Document, error) {
	if _, err := p.GetProject(ctx, projectId); err != nil {
		return commonModels.Document{}, err
	}
	return p.ingestion.Reindex(ctx, projectId, documentId)
}

func (p *projectService) DeleteDocument(ctx context.Context, projectId, documentId string) error {
	if _, err := p.GetProject(ctx, projectId); err != nil {
		return err
	}
	return p.ingestion.DeleteDocument(ctx, projectId, documentId)
}

// storeError keeps classified store errors and marks the rest internal.
func storeError(op string, err error) error {
	var re *ragErrors.Error
	if errors.As(err, &re) {
		return err
	}
	return ragErrors.E(ragErrors.CodeInternal, op, err)
}
