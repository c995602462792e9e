package content

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type GCSFetcher struct {
	client *storage.Client
}

// NewGCSFetcher uses application default credentials.
func NewGCSFetcher(ctx context.Context, opts ...option.ClientOption) (*GCSFetcher, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadOnly))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()
	return &GCSFetcher{client: client}, nil
}

func (f *GCSFetcher) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	const op = "content.GCSFetch"
	bucket, object, ok := parseGCSRef(ref)
	if !ok {
		return nil, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, nil, "Malformed object storage reference")
	}

	// the reader outlives this call, so its context is cancelled on Close
	readCtx, cancel := context.WithCancel(ctx)
	r, err := f.client.Bucket(bucket).Object(object).NewReader(readCtx)
	if err != nil {
		cancel()
		logger.WithTrace(ctx).Error("Failed to open object", "bucket", bucket, "object", object, "error", err)
		return nil, classifyGCS(op, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func parseGCSRef(ref string) (bucket, object string, ok bool) {
	rest := strings.TrimPrefix(ref, schemeGCS)
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

func classifyGCS(op string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return ragErrors.E(ragErrors.CodeContentNotFound, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return ragErrors.E(ragErrors.CodeCanceled, op, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return ragErrors.E(ragErrors.CodeContentNotFound, op, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return ragErrors.E(ragErrors.CodeContentAccessDenied, op, err)
		}
	}
	return ragErrors.E(ragErrors.CodeContentUnavailable, op, err)
}
