package rag

import (
	"context"
	"strings"
	"time"

	"github.com/akolanti/GoRAG/internal/adapter"
	"github.com/akolanti/GoRAG/internal/adapter/utils"
	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/internal/rag/llm"
	"github.com/akolanti/GoRAG/internal/rag/retrieval"
	"github.com/akolanti/GoRAG/internal/rag/retry"
	"github.com/akolanti/GoRAG/internal/rag/session"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

func returnOutput(job jobModel.Job, ans string) jobModel.Job {
	job.JobPayload.Answer = ans
	job.CurrentStep = jobModel.Complete
	return job
}

func logOutput(job jobModel.Job, status jobModel.InternalStatus, log *logger_i.Logger) jobModel.Job {
	job.CurrentStep = status
	log.Debug("ProcessRequest", "Current Status", job.CurrentStep)
	return job
}

func (s *service) jobError(ctx context.Context, job jobModel.Job, err error) jobModel.Job {
	log := s.logger.WithTrace(ctx).With("jobId", job.Id, "code", ragErrors.CodeOf(err), "error", err)
	switch ragErrors.KindOf(err) {
	case ragErrors.KindIntegrity, ragErrors.KindConfiguration:
		log.Error("Chat job failed", "operator_attention", true)
	case ragErrors.KindInternal, ragErrors.KindTransient:
		log.Error("Chat job failed")
	default:
		log.Info("Chat job rejected")
	}

	job.Error = adapter.ToJobError(err)
	job.Status = jobModel.JobStatusError
	job.CurrentStep = jobModel.Error
	return job
}

func (s *service) executeSessionStep(ctx context.Context, log *logger_i.Logger, job *jobModel.Job) (session.Resolution, error) {
	*job = logOutput(*job, jobModel.SessionCall, log)
	return s.resolver.Resolve(ctx, job.JobPayload.ProjectId, job.ChatId, job.JobPayload.UserId)
}

func (s *service) executeRetrievalStep(ctx context.Context, log *logger_i.Logger, job *jobModel.Job) ([]vectorDB.Match, error) {
	*job = logOutput(*job, jobModel.VectorDBCall, log)

	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("retrieval", time.Since(start)) }()

	return s.retriever.Retrieve(ctx, retrieval.Request{
		ProjectId: job.JobPayload.ProjectId,
		Query:     job.JobPayload.Question,
	})
}

func (s *service) executeHistoryStep(ctx context.Context, log *logger_i.Logger, sessionId string) ([]commonModels.ChatMessage, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("history_load", time.Since(start)) }()

	history, err := s.chats.ListMessages(ctx, sessionId, s.historyLimit)
	if err != nil {
		return nil, ragErrors.E(ragErrors.CodeInternal, "rag.history", err)
	}
	log.Debug("Loaded history", "messages", len(history))
	return history, nil
}

// executeLLMStep is detached from the caller: once dispatched the call runs to completion
// and the caller decides afterwards whether the answer is still wanted.
func (s *service) executeLLMStep(ctx context.Context, log *logger_i.Logger, job *jobModel.Job, prompt session.Prompt) (llm.Response, error) {
	const op = "rag.llm"
	*job = logOutput(*job, jobModel.LLMCall, log)

	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("llm_generation", time.Since(start)) }()

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.llmTimeout)
	defer cancel()

	var resp llm.Response
	policy := retry.Policy{
		MaxAttempts: s.llmAttempts,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Retryable:   isRetryableLLM,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn("LLM call failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	err := retry.Do(lctx, policy, func(ctx context.Context) error {
		r, err := s.llm.Generate(ctx, llm.Request{
			System:      prompt.System,
			Prompt:      prompt.Text,
			MaxTokens:   s.maxTokens,
			Temperature: config.ModelTemperature,
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(r.Text) == "" {
			return ragErrors.E(ragErrors.CodeLLMFailed, op, llm.ErrEmptyCompletion)
		}
		resp = r
		return nil
	})
	if err != nil {
		if ragErrors.CodeOf(err) == ragErrors.CodeInternal || ragErrors.CodeOf(err) == ragErrors.CodeCanceled {
			return llm.Response{}, ragErrors.E(ragErrors.CodeLLMFailed, op, err)
		}
		return llm.Response{}, err
	}
	if resp.Model == "" {
		resp.Model = s.llm.Model()
	}
	if resp.TokensIn == 0 {
		resp.TokensIn = prompt.Tokens
	}
	if resp.TokensOut == 0 {
		resp.TokensOut = session.EstimateTokens(resp.Text)
	}
	return resp, nil
}

// executeStoreStep writes the exchange even if the caller leaves now: the answer is final.
func (s *service) executeStoreStep(ctx context.Context, log *logger_i.Logger, job *jobModel.Job, res session.Resolution, question, answer string, sources []commonModels.Source) error {
	const op = "rag.store"
	*job = logOutput(*job, jobModel.StoreCall, log)

	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("chat_store", time.Since(start)) }()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.IndexTimeout)
	defer cancel()

	if res.Kind == session.New {
		if err := s.chats.CreateSession(sctx, res.Session); err != nil {
			return ragErrors.E(ragErrors.CodeInternal, op, err)
		}
	}
	now := time.Now().UTC()
	_, err := s.chats.AppendMessages(sctx, res.Session.Id, now,
		commonModels.ChatMessage{Id: utils.GetNewUUID(), SessionId: res.Session.Id, Role: commonModels.RoleUser, Content: question, CreatedAt: now},
		commonModels.ChatMessage{Id: utils.GetNewUUID(), SessionId: res.Session.Id, Role: commonModels.RoleAssistant, Content: answer, Sources: sources, CreatedAt: now},
	)
	if err != nil {
		return ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	job.ChatId = res.Session.Id
	return nil
}

// citations lists the pages the model saw, once each, in rank order.
func citations(matches []vectorDB.Match) []commonModels.Source {
	seen := make(map[commonModels.Source]bool, len(matches))
	sources := make([]commonModels.Source, 0, len(matches))
	for _, m := range matches {
		src := commonModels.Source{DocumentId: m.Chunk.DocumentId, Page: m.Chunk.PageNum}
		if seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	return sources
}
