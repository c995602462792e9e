package content

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type mockFetcher struct {
	OnFetch func(ctx context.Context, ref string) (io.ReadCloser, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	return m.OnFetch(ctx, ref)
}

func TestLocalFetcher(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "p1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "p1", "a.txt"), []byte("hello"), 0o644))

	f, err := NewLocalFetcher(root)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		ref  string
		want string
		code ragErrors.Code
	}{
		{name: "relative path", ref: "p1/a.txt", want: "hello"},
		{name: "file scheme", ref: "file://p1/a.txt", want: "hello"},
		{name: "absolute inside root", ref: filepath.Join(root, "p1", "a.txt"), want: "hello"},
		{name: "missing", ref: "p1/missing.txt", code: ragErrors.CodeContentNotFound},
		{name: "escapes root", ref: "../outside.txt", code: ragErrors.CodeContentAccessDenied},
		{name: "absolute outside root", ref: "/etc/passwd", code: ragErrors.CodeContentAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := f.Fetch(ctx, tt.ref)
			if tt.code != "" {
				assert.Equal(t, tt.code, ragErrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestRouter(t *testing.T) {
	var routed []string
	record := func(name string) Fetcher {
		return &mockFetcher{OnFetch: func(_ context.Context, ref string) (io.ReadCloser, error) {
			routed = append(routed, name+":"+ref)
			return io.NopCloser(strings.NewReader("")), nil
		}}
	}
	r := NewRouter(record("local"), record("gcs"))
	ctx := context.Background()

	for _, ref := range []string{"gs://bucket/doc.pdf", "file://doc.pdf", "doc.pdf"} {
		_, err := r.Fetch(ctx, ref)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"gcs:gs://bucket/doc.pdf", "local:file://doc.pdf", "local:doc.pdf"}, routed)

	_, err := r.Fetch(ctx, "s3://bucket/doc.pdf")
	assert.Equal(t, ragErrors.CodeInvalidRequest, ragErrors.CodeOf(err))

	_, err = r.Fetch(ctx, "  ")
	assert.Equal(t, ragErrors.CodeInvalidRequest, ragErrors.CodeOf(err))

	noGCS := NewRouter(record("local"), nil)
	_, err = noGCS.Fetch(ctx, "gs://bucket/doc.pdf")
	assert.Equal(t, ragErrors.CodeContentUnavailable, ragErrors.CodeOf(err))
	assert.True(t, ragErrors.IsTransient(err))
}

func TestParseGCSRef(t *testing.T) {
	bucket, object, ok := parseGCSRef("gs://docs/p1/handbook.pdf")
	assert.True(t, ok)
	assert.Equal(t, "docs", bucket)
	assert.Equal(t, "p1/handbook.pdf", object)

	for _, bad := range []string{"gs://", "gs://bucket", "gs://bucket/", "gs:///object"} {
		_, _, ok := parseGCSRef(bad)
		assert.False(t, ok, bad)
	}
}

func TestClassifyGCS(t *testing.T) {
	tests := []struct {
		err  error
		want ragErrors.Code
	}{
		{storage.ErrObjectNotExist, ragErrors.CodeContentNotFound},
		{storage.ErrBucketNotExist, ragErrors.CodeContentNotFound},
		{&googleapi.Error{Code: http.StatusForbidden}, ragErrors.CodeContentAccessDenied},
		{&googleapi.Error{Code: http.StatusUnauthorized}, ragErrors.CodeContentAccessDenied},
		{&googleapi.Error{Code: http.StatusServiceUnavailable}, ragErrors.CodeContentUnavailable},
		{errors.New("connection reset"), ragErrors.CodeContentUnavailable},
		{context.Canceled, ragErrors.CodeCanceled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ragErrors.CodeOf(classifyGCS("op", tt.err)), "%v", tt.err)
	}
}
