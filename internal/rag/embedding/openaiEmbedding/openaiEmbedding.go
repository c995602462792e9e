package openaiEmbedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/akolanti/GoRAG/internal/customHttpClient"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/embedding"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var logger = logger_i.NewLogger("openai_embedding")

type client struct {
	api       openai.Client
	model     string
	dimension int
}

// New builds an OpenAI compatible embedding provider. baseURL may point at any server speaking the same API.
func New(apiKey, baseURL, model string, dimension int) embedding.Provider {
	//retries are ours, the sdk's own would multiply them
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(customHttpClient.NewClient(0)),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	logger.Info("OpenAI Embedding client created", "model", model, "dimension", dimension)
	return &client{
		api:       openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}
}

func (c *client) Model() string  { return c.model }
func (c *client) Dimension() int { return c.dimension }

// Embed ignores the task type; OpenAI embeddings are symmetric.
func (c *client) Embed(ctx context.Context, texts []string, _ embedding.TaskType) ([][]float32, error) {
	res, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: openai.Int(int64(c.dimension)),
	})
	if err != nil {
		logger.WithTrace(ctx).Error("Error getting Embeddings from OpenAI", "error", err, "items", len(texts))
		return nil, classify(err)
	}

	data := res.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			v[j] = float32(f)
		}
		vectors[i] = v
	}
	return vectors, nil
}

func classify(err error) error {
	const op = "openaiEmbedding.Embed"

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %s", embedding.ErrRejectedInput, apiErr.Message)
		case ragErrors.TransientStatus(apiErr.StatusCode):
			return ragErrors.E(ragErrors.CodeEmbeddingFailed, op, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ragErrors.E(ragErrors.CodeEmbeddingFailed, op, err)
	}
	return err
}
