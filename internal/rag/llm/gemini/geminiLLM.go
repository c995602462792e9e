package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/akolanti/GoRAG/internal/customHttpClient"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/llm"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type llmClient struct {
	client    *genai.Client
	modelName string
}

var logger *logger_i.Logger
var geminiClient *llmClient
var once sync.Once

// GetGeminiClient returns the process-wide Gemini provider, or nil when the client could not be created.
func GetGeminiClient(ctx context.Context, modelName string, apikey string) llm.Provider {
	once.Do(func() {
		logger = logger_i.NewLogger("llm_gemini")
		newGeminiClient(ctx, modelName, apikey)
	})

	if geminiClient == nil {
		return nil
	}
	return geminiClient
}

func newGeminiClient(ctx context.Context, modelName string, apikey string) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apikey, Backend: genai.BackendGeminiAPI, HTTPClient: customHttpClient.NewClient(0)})
	if err != nil {
		logger.Error("Error creating Gemini client", "error", err)
		return
	}
	geminiClient = &llmClient{client: c, modelName: modelName}
	logger.Debug("Gemini client created", "model", modelName)
	logger.Info("Gemini client created")
	go closeClient(ctx)
}

func (c *llmClient) Model() string { return c.modelName }

func (c *llmClient) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	log := logger.WithTrace(ctx)

	model := req.Model
	if model == "" {
		model = c.modelName
	}
	temperature := req.Temperature
	contentConfig := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       &temperature,
	}
	if req.MaxTokens > 0 {
		contentConfig.MaxOutputTokens = int32(req.MaxTokens)
	}

	result, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), contentConfig)
	if err != nil {
		log.Error("Error generating content from Gemini", "error", err)
		return llm.Response{}, classify(err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return llm.Response{}, ragErrors.E(ragErrors.CodeLLMFailed, "gemini.Generate", llm.ErrEmptyCompletion)
	}

	resp := llm.Response{Text: text, Model: model}
	if u := result.UsageMetadata; u != nil {
		resp.TokensIn = int(u.PromptTokenCount)
		resp.TokensOut = int(u.CandidatesTokenCount)
	}
	return resp, nil
}

func classify(err error) error {
	const op = "gemini.Generate"

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if ragErrors.TransientStatus(apiErr.Code) {
			return ragErrors.E(ragErrors.CodeLLMFailed, op, err)
		}
		return err
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return ragErrors.E(ragErrors.CodeLLMFailed, op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ragErrors.E(ragErrors.CodeLLMFailed, op, err)
	}
	return err
}

func closeClient(ctx context.Context) {
	<-ctx.Done()
	logger.Info("Closing Gemini client")
}
