package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/internal/rag/retry"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"golang.org/x/time/rate"
)

// Rejection is one input the provider refused. Err carries CHUNK_REJECTED.
type Rejection struct {
	Index int
	Err   error
}

// BatchResult holds a vector per input; rejected inputs keep a nil slot.
type BatchResult struct {
	Vectors  [][]float32
	Rejected []Rejection
}

// Generator adds batching, retry, timeouts, rate limiting and integrity checks on top of a Provider.
type Generator struct {
	provider      Provider
	batchSize     int
	batchMaxChars int
	callTimeout   time.Duration
	policy        retry.Policy
	limiter       *rate.Limiter
	logger        *logger_i.Logger
}

type GeneratorOption func(*Generator)

func WithBatchLimits(items, chars int) GeneratorOption {
	return func(g *Generator) {
		if items > 0 {
			g.batchSize = items
		}
		if chars > 0 {
			g.batchMaxChars = chars
		}
	}
}

func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) GeneratorOption {
	return func(g *Generator) {
		g.policy.MaxAttempts = maxAttempts
		g.policy.BaseDelay = baseDelay
		g.policy.MaxDelay = maxDelay
	}
}

func WithCallTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) { g.callTimeout = d }
}

// WithRateLimit caps provider calls per second; zero or less disables the limiter.
func WithRateLimit(perSecond float64) GeneratorOption {
	return func(g *Generator) {
		if perSecond <= 0 {
			g.limiter = nil
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func NewGenerator(provider Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{
		provider:      provider,
		batchSize:     config.EmbeddingBatchSize,
		batchMaxChars: config.EmbeddingBatchMaxChars,
		callTimeout:   config.EmbeddingCallTimeout,
		policy: retry.Policy{
			MaxAttempts: config.EmbeddingMaxAttempts,
			BaseDelay:   config.EmbeddingBaseDelay,
			MaxDelay:    config.EmbeddingMaxDelay,
		},
		limiter: rate.NewLimiter(rate.Limit(config.EmbeddingRatePerSecond), 1),
		logger:  logger_i.NewLogger("embedding_generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.policy.Retryable = func(err error) bool {
		return !errors.Is(err, ErrRejectedInput) && ragErrors.IsTransient(err)
	}
	g.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.IncrementEmbeddingRetries()
		g.logger.Warn("retrying embedding call", "attempt", attempt, "wait", wait, "error", err)
	}
	return g
}

func (g *Generator) Model() string  { return g.provider.Model() }
func (g *Generator) Dimension() int { return g.provider.Dimension() }

// EmbedDocuments embeds texts for indexing. Inputs the provider refuses are reported in
// Rejected and never fail the call; every other failure does.
func (g *Generator) EmbedDocuments(ctx context.Context, texts []string) (BatchResult, error) {
	log := g.logger.WithTrace(ctx)
	result := BatchResult{Vectors: make([][]float32, len(texts))}

	for _, b := range g.batches(texts) {
		batch := texts[b.lo:b.hi]
		vectors, err := g.embedBatch(ctx, batch, TaskDocument)
		if errors.Is(err, ErrRejectedInput) {
			log.Warn("batch rejected, embedding items one at a time", "from", b.lo, "to", b.hi)
			if err := g.embedEach(ctx, texts, b, &result); err != nil {
				return BatchResult{}, err
			}
			continue
		}
		if err != nil {
			return BatchResult{}, err
		}
		copy(result.Vectors[b.lo:b.hi], vectors)
	}
	return result, nil
}

// EmbedQuery embeds a single search query.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.embedBatch(ctx, []string{text}, TaskQuery)
	if errors.Is(err, ErrRejectedInput) {
		return nil, ragErrors.E(ragErrors.CodeInvalidRequest, "embedding.EmbedQuery", err)
	}
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *Generator) embedEach(ctx context.Context, texts []string, b span, result *BatchResult) error {
	for i := b.lo; i < b.hi; i++ {
		vectors, err := g.embedBatch(ctx, texts[i:i+1], TaskDocument)
		if errors.Is(err, ErrRejectedInput) {
			result.Rejected = append(result.Rejected, Rejection{
				Index: i,
				Err:   ragErrors.E(ragErrors.CodeChunkRejected, "embedding.EmbedDocuments", err),
			})
			continue
		}
		if err != nil {
			return err
		}
		result.Vectors[i] = vectors[0]
	}
	return nil
}

func (g *Generator) embedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	const op = "embedding.embedBatch"
	var vectors [][]float32

	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("embedding", time.Since(start)) }()

	err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()

		out, err := g.provider.Embed(callCtx, texts, task)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrRejectedInput):
		return nil, err
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, ragErrors.E(ragErrors.CodeCanceled, op, err)
	default:
		return nil, ragErrors.E(ragErrors.CodeEmbeddingFailed, op, err)
	}

	if len(vectors) != len(texts) {
		return nil, ragErrors.E(ragErrors.CodeIntegrityViolation, op,
			fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(texts)))
	}
	dim := g.provider.Dimension()
	for i, v := range vectors {
		if len(v) != dim {
			return nil, ragErrors.E(ragErrors.CodeIntegrityViolation, op,
				fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim))
		}
	}
	return vectors, nil
}

type span struct{ lo, hi int }

// batches splits inputs into consecutive ranges bounded by item count and total characters.
// A single oversized input still gets its own batch.
func (g *Generator) batches(texts []string) []span {
	var out []span
	lo, chars := 0, 0
	for i, t := range texts {
		n := len(t)
		if i > lo && (i-lo >= g.batchSize || chars+n > g.batchMaxChars) {
			out = append(out, span{lo, i})
			lo, chars = i, 0
		}
		chars += n
	}
	if lo < len(texts) {
		out = append(out, span{lo, len(texts)})
	}
	return out
}
