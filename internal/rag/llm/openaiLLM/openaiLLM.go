package openaiLLM

import (
	"context"
	"errors"
	"strings"

	"github.com/akolanti/GoRAG/internal/customHttpClient"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/llm"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var logger = logger_i.NewLogger("llm_openai")

type llmClient struct {
	api       openai.Client
	modelName string
}

// New builds a chat completion provider for OpenAI or any server exposing the same API at baseURL.
func New(apiKey, baseURL, modelName string) llm.Provider {
	//retries are ours, the sdk's own would multiply them
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(customHttpClient.NewClient(0)),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	logger.Info("OpenAI client created", "model", modelName)
	return &llmClient{api: openai.NewClient(opts...), modelName: modelName}
}

func (c *llmClient) Model() string { return c.modelName }

func (c *llmClient) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.modelName
	}
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		logger.WithTrace(ctx).Error("Error generating completion from OpenAI", "error", err)
		return llm.Response{}, classify(err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return llm.Response{}, ragErrors.E(ragErrors.CodeLLMFailed, "openaiLLM.Generate", llm.ErrEmptyCompletion)
	}

	return llm.Response{
		Text:      strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:     model,
		TokensIn:  int(completion.Usage.PromptTokens),
		TokensOut: int(completion.Usage.CompletionTokens),
	}, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if ragErrors.TransientStatus(apiErr.StatusCode) {
			return ragErrors.E(ragErrors.CodeLLMFailed, "openaiLLM.Generate", err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ragErrors.E(ragErrors.CodeLLMFailed, "openaiLLM.Generate", err)
	}
	return err
}
