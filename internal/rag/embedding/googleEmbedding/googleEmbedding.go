package googleEmbedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/akolanti/GoRAG/internal/customHttpClient"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/embedding"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var logger *logger_i.Logger
var once sync.Once
var embeddingClient *client

type client struct {
	genAi     *genai.Client
	model     string
	dimension int32
}

func newGoogleEmbedder(ctx context.Context, modelName string, apikey string, dimension int) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apikey, Backend: genai.BackendGeminiAPI, HTTPClient: customHttpClient.NewClient(0)})
	if err != nil {
		logger.Error("Error creating Google Embedding client", "error", err)
		return
	}
	embeddingClient = &client{
		genAi:     c,
		model:     modelName,
		dimension: int32(dimension),
	}
	logger.Debug("Google Embedding model name", "model", modelName, "dimension", dimension)
	logger.Info("Google Embedding client created")
	go closeClient(ctx)
}

func closeClient(ctx context.Context) {
	<-ctx.Done()
	logger.Info("Closing Google Embedding client")
}

// GetGoogleEmbeddingClient returns the process-wide provider, or nil when the client could not be created.
func GetGoogleEmbeddingClient(ctx context.Context, modelName string, apikey string, dimension int) embedding.Provider {
	once.Do(func() {
		logger = logger_i.NewLogger("google_embedding")
		newGoogleEmbedder(ctx, modelName, apikey, dimension)
	})

	//if init still fails
	if embeddingClient == nil {
		return nil
	}
	return embeddingClient
}

func (c *client) Model() string  { return c.model }
func (c *client) Dimension() int { return int(c.dimension) }

func (c *client) Embed(ctx context.Context, texts []string, task embedding.TaskType) ([][]float32, error) {
	log := logger.WithTrace(ctx)

	res, err := c.genAi.Models.EmbedContent(ctx, c.model, getContent(texts), &genai.EmbedContentConfig{
		OutputDimensionality: &c.dimension,
		TaskType:             string(task),
	})
	if err != nil {
		log.Error("Error getting Embeddings from Google", "error", err, "items", len(texts))
		return nil, classify(err)
	}
	if res == nil {
		return nil, ragErrors.E(ragErrors.CodeEmbeddingFailed, "googleEmbedding.Embed", errors.New("empty response"))
	}

	vectors := make([][]float32, 0, len(res.Embeddings))
	for _, e := range res.Embeddings {
		if e == nil {
			vectors = append(vectors, nil)
			continue
		}
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}

func getContent(chunks []string) []*genai.Content {
	contentsToSend := make([]*genai.Content, 0, len(chunks))
	for _, chunk := range chunks {
		contentsToSend = append(contentsToSend, &genai.Content{
			Parts: []*genai.Part{{Text: chunk}},
		})
	}
	return contentsToSend
}

// classify maps genai and grpc failures onto the retry taxonomy
func classify(err error) error {
	const op = "googleEmbedding.Embed"

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusBadRequest:
			return fmt.Errorf("%w: %s", embedding.ErrRejectedInput, apiErr.Message)
		case ragErrors.TransientStatus(apiErr.Code):
			return ragErrors.E(ragErrors.CodeEmbeddingFailed, op, err)
		}
		return err
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return ragErrors.E(ragErrors.CodeEmbeddingFailed, op, err)
		case codes.InvalidArgument:
			return fmt.Errorf("%w: %s", embedding.ErrRejectedInput, s.Message())
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ragErrors.E(ragErrors.CodeEmbeddingFailed, op, err)
	}
	return err
}
