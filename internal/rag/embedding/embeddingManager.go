package embedding

import (
	"context"
	"errors"
)

type TaskType string

const (
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
)

// Provider is an embedding backend. Embed returns one vector per text, in input order.
// Errors should be classified: transient failures as ragErrors transient kinds and
// inputs the backend refuses wrapped with ErrRejectedInput.
type Provider interface {
	Embed(ctx context.Context, texts []string, task TaskType) ([][]float32, error)
	Model() string
	Dimension() int
}

// ErrRejectedInput marks a backend refusing the input itself (too long, blocked content).
// Retrying the same input will not help.
var ErrRejectedInput = errors.New("embedding: input rejected by provider")
