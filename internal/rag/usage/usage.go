// Package usage records what each answered question cost.
package usage

import (
	"context"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

type Event struct {
	ProjectId string
	UserId    string
	SessionId string
	Model     string
	TokensIn  int
	TokensOut int
	Cost      float64
}

// Sink must not block the chat path for long; errors stay inside the sink.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Pricing turns token counts into a cost.
type Pricing struct {
	PerInputToken  float64
	PerOutputToken float64
}

func PricingFrom(s config.LLMSettings) Pricing {
	return Pricing{PerInputToken: s.CostPerInputToken, PerOutputToken: s.CostPerOutputToken}
}

func (p Pricing) Cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)*p.PerInputToken + float64(tokensOut)*p.PerOutputToken
}

type LogSink struct {
	logger *logger_i.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: logger_i.NewLogger("Usage")}
}

func (s *LogSink) Emit(ctx context.Context, e Event) {
	s.logger.WithTrace(ctx).Info("LLM usage",
		"projectId", e.ProjectId,
		"userId", e.UserId,
		"sessionId", e.SessionId,
		"model", e.Model,
		"tokensIn", e.TokensIn,
		"tokensOut", e.TokensOut,
		"cost", e.Cost)
}

type PrometheusSink struct{}

func (PrometheusSink) Emit(_ context.Context, e Event) {
	metrics.CaptureLLMUsage(e.TokensIn, e.TokensOut, e.Cost)
}

// Fanout sends every event to each sink in order.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, e Event) {
	for _, s := range f {
		s.Emit(ctx, e)
	}
}
