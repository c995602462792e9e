package mcpServer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/akolanti/GoRAG/internal/adapter"
	"github.com/akolanti/GoRAG/internal/api"
	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes the chat and document status operations as MCP tools.
type Server struct {
	chat     rag.Service
	projects rag.ProjectService
	server   *mcp.Server
	logger   *logger_i.Logger
}

type AskInput struct {
	ProjectId string `json:"project_id" jsonschema:"the project whose documents answer the question"`
	Message   string `json:"message" jsonschema:"the question"`
	SessionId string `json:"session_id,omitempty" jsonschema:"continue an earlier session; omit to start a new one"`
	UserId    string `json:"user_id,omitempty" jsonschema:"caller identity used for usage accounting"`
}

type DocumentStatusInput struct {
	ProjectId  string `json:"project_id" jsonschema:"the project to inspect"`
	DocumentId string `json:"document_id,omitempty" jsonschema:"a single document; omit to list every document"`
}

type DocumentStatus struct {
	DocumentId    string `json:"document_id"`
	Name          string `json:"doc_name,omitempty"`
	Status        string `json:"status"`
	FailureCode   string `json:"failure_code,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	ChunkCount    int    `json:"chunk_count"`
	Attempts      int    `json:"attempts"`
	IndexedAt     string `json:"indexed_at,omitempty"`
}

type DocumentStatusOutput struct {
	ProjectId string           `json:"project_id"`
	Documents []DocumentStatus `json:"documents"`
}

func New(chat rag.Service, projects rag.ProjectService) *Server {
	s := &Server{
		chat:     chat,
		projects: projects,
		server:   mcp.NewServer(&mcp.Implementation{Name: config.MCPServerName, Version: config.MCPServerVersion}, nil),
		logger:   logger_i.NewLogger("MCP"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_project",
		Description: "Answer a question from one project's indexed documents, with page citations",
	}, s.handleAsk)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "document_status",
		Description: "Show the ingestion status of one document or of every document in a project",
	}, s.handleDocumentStatus)
}

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Logger: slog.Default().With("component", "MCP transport")})
}

// Connect serves a single session over t until the client goes away.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, api.ChatResponse, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, api.ChatResponse{}, s.toolError(ctx, "ask_project",
			ragErrors.Ef(ragErrors.CodeInvalidRequest, "mcp.ask_project", nil, "message is required"))
	}
	resp, err := s.chat.Chat(ctx, rag.ChatRequest{
		ProjectId: in.ProjectId,
		SessionId: in.SessionId,
		UserId:    in.UserId,
		Message:   in.Message,
	})
	if err != nil {
		return nil, api.ChatResponse{}, s.toolError(ctx, "ask_project", err)
	}
	return nil, adapter.ToChatResponse(resp.SessionId, resp.Reply, resp.Sources, resp.IsNewSession), nil
}

func (s *Server) handleDocumentStatus(ctx context.Context, _ *mcp.CallToolRequest, in DocumentStatusInput) (*mcp.CallToolResult, DocumentStatusOutput, error) {
	var docs []commonModels.Document
	if in.DocumentId != "" {
		doc, err := s.projects.GetDocument(ctx, in.ProjectId, in.DocumentId)
		if err != nil {
			return nil, DocumentStatusOutput{}, s.toolError(ctx, "document_status", err)
		}
		docs = append(docs, doc)
	} else {
		var err error
		if docs, err = s.projects.ListDocuments(ctx, in.ProjectId); err != nil {
			return nil, DocumentStatusOutput{}, s.toolError(ctx, "document_status", err)
		}
	}

	out := DocumentStatusOutput{ProjectId: in.ProjectId, Documents: make([]DocumentStatus, len(docs))}
	for i, d := range docs {
		out.Documents[i] = DocumentStatus{
			DocumentId:    d.Id,
			Name:          d.Name,
			Status:        string(d.Status),
			FailureCode:   d.FailureCode,
			FailureReason: d.FailureReason,
			ChunkCount:    d.ChunkCount,
			Attempts:      d.Attempts,
		}
		if !d.IndexedAt.IsZero() {
			out.Documents[i].IndexedAt = d.IndexedAt.UTC().Format(time.RFC3339)
		}
	}
	return nil, out, nil
}

// toolError keeps the cause in the log and hands the client the public code and message only.
func (s *Server) toolError(ctx context.Context, tool string, err error) error {
	je := adapter.ToJobError(err)
	s.logger.WithTrace(ctx).Warn("Tool call failed", "tool", tool, "code", je.Code, "error", err)
	return fmt.Errorf("%s: %s", je.Code, je.Message)
}
