package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
)

// LocalFetcher reads files below root. References that resolve outside root are denied.
type LocalFetcher struct {
	root string
}

func NewLocalFetcher(root string) (*LocalFetcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve content root %s: %w", root, err)
	}
	return &LocalFetcher{root: abs}, nil
}

func (f *LocalFetcher) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	const op = "content.LocalFetch"
	if err := ctx.Err(); err != nil {
		return nil, ragErrors.E(ragErrors.CodeCanceled, op, err)
	}

	path, err := f.resolve(ref)
	if err != nil {
		logger.WithTrace(ctx).Warn("Rejected storage reference", "ref", ref, "error", err)
		return nil, ragErrors.E(ragErrors.CodeContentAccessDenied, op, err)
	}

	file, err := os.Open(path)
	switch {
	case err == nil:
		return file, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, ragErrors.E(ragErrors.CodeContentNotFound, op, err)
	case errors.Is(err, os.ErrPermission):
		return nil, ragErrors.E(ragErrors.CodeContentAccessDenied, op, err)
	default:
		return nil, ragErrors.E(ragErrors.CodeContentUnavailable, op, err)
	}
}

func (f *LocalFetcher) resolve(ref string) (string, error) {
	p := filepath.FromSlash(strings.TrimPrefix(ref, schemeFile))
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(f.root, p)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s escapes the content root", ref)
	}
	return p, nil
}
