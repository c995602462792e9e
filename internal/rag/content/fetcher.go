// Package content opens raw document bytes named by a storage reference.
package content

import (
	"context"
	"io"
	"strings"

	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

const (
	schemeGCS  = "gs://"
	schemeFile = "file://"
)

var logger = logger_i.NewLogger("Content Fetcher")

type Fetcher interface {
	Fetch(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Router dispatches on the reference scheme. A nil gcs fetcher makes gs:// references unavailable.
type Router struct {
	local Fetcher
	gcs   Fetcher
}

func NewRouter(local, gcs Fetcher) *Router {
	return &Router{local: local, gcs: gcs}
}

func (r *Router) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	const op = "content.Fetch"
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, nil, "A storage reference is required")
	case strings.HasPrefix(ref, schemeGCS):
		if r.gcs == nil {
			return nil, ragErrors.Ef(ragErrors.CodeContentUnavailable, op, nil, "Object storage is not configured")
		}
		return r.gcs.Fetch(ctx, ref)
	case strings.HasPrefix(ref, schemeFile), !strings.Contains(ref, "://"):
		return r.local.Fetch(ctx, ref)
	default:
		return nil, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, nil, "Unsupported storage reference")
	}
}

// readCloserWithCancel releases the fetch context only when the reader is closed.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
