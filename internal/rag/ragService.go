package rag

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/internal/rag/llm"
	"github.com/akolanti/GoRAG/internal/rag/retrieval"
	"github.com/akolanti/GoRAG/internal/rag/session"
	"github.com/akolanti/GoRAG/internal/rag/usage"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"golang.org/x/sync/errgroup"
)

/*
ARCHITECTURE NOTE: OPAQUE INTERFACE PATTERN
---------------------------------------------------------

1. Service (Interface):
  - This is the PUBLIC contract the handlers, the worker and the MCP tools call.
  - It says what a chat turn does, not which stores or model answer it.

2. service (Private Struct):
  - Holds the state: stores, retrieval, the llm provider, the usage sink.
  - Lowercase so nothing outside reaches the dependencies directly.

3. Pointer Receiver (*service):
  - Methods on (*service) make the struct satisfy Service implicitly.

4. Dependency Injection (NewService):
  - The constructor links the private struct to the public interface, so tests
    swap any dependency for a mock without touching the callers.
*/

// Service answers questions against one project's documents.
type Service interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ProcessRequest(ctx context.Context, job jobModel.Job) jobModel.Job
}

type ChatRequest struct {
	ProjectId string
	SessionId string
	UserId    string
	Message   string
}

type ChatResponse struct {
	SessionId    string
	Reply        string
	Sources      []commonModels.Source
	IsNewSession bool
}

// Retriever is satisfied by *retrieval.Engine.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]vectorDB.Match, error)
}

type Deps struct {
	Projects  commonModels.ProjectStore
	Documents commonModels.DocumentStore
	Chats     commonModels.ChatStore
	Retriever Retriever
	LLM       llm.Provider
	Usage     usage.Sink
}

type service struct {
	projects  commonModels.ProjectStore
	documents commonModels.DocumentStore
	chats     commonModels.ChatStore
	retriever Retriever
	llm       llm.Provider
	usage     usage.Sink

	resolver  *session.Resolver
	locker    *session.KeyedLocker
	assembler *session.Assembler
	pricing   usage.Pricing

	maxTokens    int
	llmTimeout   time.Duration
	llmAttempts  int
	historyLimit int
	logger       *logger_i.Logger
}

func NewService(deps Deps, settings *config.Settings) Service {
	s := &service{
		projects:     deps.Projects,
		documents:    deps.Documents,
		chats:        deps.Chats,
		retriever:    deps.Retriever,
		llm:          deps.LLM,
		usage:        deps.Usage,
		resolver:     session.NewResolver(deps.Chats),
		locker:       session.NewKeyedLocker(),
		assembler:    session.NewAssembler(settings.Prompt),
		pricing:      usage.PricingFrom(settings.LLM),
		maxTokens:    settings.LLM.MaxTokens,
		llmTimeout:   settings.LLM.Timeout,
		llmAttempts:  settings.LLM.MaxAttempts,
		historyLimit: settings.Prompt.HistoryTurnLimit,
		logger:       logger_i.NewLogger("RAG Service"),
	}
	if s.usage == nil {
		s.usage = usage.NewLogSink()
	}
	if s.llmTimeout <= 0 {
		s.llmTimeout = config.LLMTimeout
	}
	if s.llmAttempts <= 0 {
		s.llmAttempts = config.LLMMaxAttempts
	}
	if s.historyLimit <= 0 {
		s.historyLimit = config.HistoryTurnLimit
	}
	return s
}

// Chat runs one turn. Nothing is stored unless the model produced a complete answer.
func (s *service) Chat(ctx context.Context, req ChatRequest) (resp ChatResponse, err error) {
	job := jobModel.Job{ChatId: req.SessionId, JobType: jobModel.JobTypeQuery, JobPayload: jobModel.JobPayload{
		ProjectId: req.ProjectId, UserId: req.UserId, Question: req.Message,
	}}
	start := time.Now()
	defer func() {
		code := "OK"
		if err != nil {
			code = string(ragErrors.CodeOf(err))
		}
		metrics.CaptureChatRequest(code)
		metrics.CaptureJobMetrics("chat", time.Since(start))
	}()
	return s.chat(ctx, &job)
}

// ProcessRequest is Chat for a queued job; failures are translated onto the job.
func (s *service) ProcessRequest(ctx context.Context, job jobModel.Job) jobModel.Job {
	resp, err := s.Chat(ctx, ChatRequest{
		ProjectId: job.JobPayload.ProjectId,
		SessionId: job.ChatId,
		UserId:    job.JobPayload.UserId,
		Message:   job.JobPayload.Question,
	})
	if err != nil {
		return s.jobError(ctx, job, err)
	}
	job.ChatId = resp.SessionId
	job.JobPayload.NewChat = resp.IsNewSession
	job.JobPayload.Sources = resp.Sources
	return returnOutput(job, resp.Reply)
}

func (s *service) chat(ctx context.Context, job *jobModel.Job) (ChatResponse, error) {
	const op = "rag.Chat"
	payload := job.JobPayload
	log := s.logger.WithTrace(ctx).With("projectId", payload.ProjectId)
	*job = logOutput(*job, jobModel.UserQueryInit, log)

	if strings.TrimSpace(payload.Question) == "" {
		return ChatResponse{}, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, nil, "The message is empty")
	}
	if payload.ProjectId == "" {
		return ChatResponse{}, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, nil, "project_id is required")
	}
	if err := s.requireProject(ctx, payload.ProjectId); err != nil {
		return ChatResponse{}, err
	}

	res, err := s.executeSessionStep(ctx, log, job)
	if err != nil {
		return ChatResponse{}, err
	}
	log = log.With("sessionId", res.Session.Id, "session", res.Kind)

	unlock, err := s.locker.Lock(ctx, res.Session.Id)
	if err != nil {
		return ChatResponse{}, err
	}
	defer unlock()

	indexed, err := s.documents.CountIndexed(ctx, payload.ProjectId)
	if err != nil {
		return ChatResponse{}, ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	if indexed == 0 {
		return ChatResponse{}, ragErrors.E(ragErrors.CodeNoIndexedDocuments, op, nil)
	}

	var matches []vectorDB.Match
	var history []commonModels.ChatMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		matches, err = s.executeRetrievalStep(gctx, log, job)
		return err
	})
	if res.Kind == session.Continue {
		g.Go(func() error {
			var err error
			history, err = s.executeHistoryStep(gctx, log, res.Session.Id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return ChatResponse{}, err
	}

	prompt, err := s.assembler.Assemble(payload.Question, history, matches)
	if err != nil {
		return ChatResponse{}, err
	}
	log.Debug("Prompt assembled", "chunks", len(prompt.Chunks), "history", prompt.History, "tokens", prompt.Tokens)

	if err := ctx.Err(); err != nil {
		return ChatResponse{}, ragErrors.Ef(ragErrors.CodeCanceled, op, err, "The request was canceled before the model was called")
	}

	answer, err := s.executeLLMStep(ctx, log, job, prompt)
	if err != nil {
		return ChatResponse{}, err
	}
	if err := ctx.Err(); err != nil {
		log.Info("Caller left during generation, discarding answer", "tokensOut", answer.TokensOut)
		return ChatResponse{}, ragErrors.E(ragErrors.CodeCanceled, op, err)
	}

	s.usage.Emit(ctx, usage.Event{
		ProjectId: payload.ProjectId,
		UserId:    payload.UserId,
		SessionId: res.Session.Id,
		Model:     answer.Model,
		TokensIn:  answer.TokensIn,
		TokensOut: answer.TokensOut,
		Cost:      s.pricing.Cost(answer.TokensIn, answer.TokensOut),
	})

	sources := citations(prompt.Chunks)
	if err := s.executeStoreStep(ctx, log, job, res, payload.Question, answer.Text, sources); err != nil {
		return ChatResponse{}, err
	}

	*job = logOutput(*job, jobModel.Complete, log)
	return ChatResponse{
		SessionId:    res.Session.Id,
		Reply:        answer.Text,
		Sources:      sources,
		IsNewSession: res.Kind == session.New,
	}, nil
}

func (s *service) requireProject(ctx context.Context, projectId string) error {
	_, found, err := s.projects.GetProject(ctx, projectId)
	if err != nil {
		return ragErrors.E(ragErrors.CodeInternal, "rag.requireProject", err)
	}
	if !found {
		return ragErrors.E(ragErrors.CodeProjectNotFound, "rag.requireProject", nil)
	}
	return nil
}

// isRetryableLLM skips empty completions: asking again for the same prompt rarely helps.
func isRetryableLLM(err error) bool {
	return ragErrors.IsTransient(err) && !errors.Is(err, llm.ErrEmptyCompletion)
}
