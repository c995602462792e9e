package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/akolanti/GoRAG/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs ragctl against srv and returns what it printed.
func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	projectName, documentName, documentId, storageRef, sessionId, async = "", "", "", "", "", false

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--server", srv.URL, "--token", "secret"}, args...))
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "project")
	assert.Contains(t, names, "document")
	assert.Contains(t, names, "ask")
	assert.Contains(t, names, "job")
}

func TestProjectCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req api.CreateProjectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, api.CreateProjectRequest{ProjectId: "handbooks", Name: "HR"}, req)
		writeJSON(w, http.StatusCreated, api.ProjectResponse{ProjectId: req.ProjectId, Name: req.Name, CreatedAt: time.Now()})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "project", "create", "handbooks", "--name", "HR")
	require.NoError(t, err)
	assert.Contains(t, out, "Created project handbooks")
}

func TestProjectDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/projects/handbooks", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out, err := execute(t, srv, "project", "delete", "handbooks")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted project handbooks")
}

func TestDocumentIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/documents/d1/ingest", r.URL.Path)
		var req api.IngestDocumentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gs://docs/handbook.pdf", req.StorageReference)
		writeJSON(w, http.StatusAccepted, api.DocumentResponse{DocumentId: "d1", ProjectId: "p1", Status: "PROCESSING", Attempts: 1})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "document", "ingest", "p1", "d1", "--ref", "gs://docs/handbook.pdf")
	require.NoError(t, err)
	assert.Contains(t, out, "Document: d1")
	assert.Contains(t, out, "PROCESSING")
}

func TestDocumentUpload(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "policy.txt")
	require.NoError(t, os.WriteFile(file, []byte("Refunds within thirty days."), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/documents", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "policy.txt", r.FormValue("document_name"))
		assert.Empty(t, r.FormValue("document_id"))

		f, _, err := r.FormFile("document")
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)
		assert.Equal(t, "Refunds within thirty days.", string(content))

		writeJSON(w, http.StatusAccepted, api.DocumentResponse{DocumentId: "generated", ProjectId: "p1", Name: "policy.txt", Status: "PROCESSING"})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "document", "upload", "p1", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Name:     policy.txt")
}

func TestDocumentList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, http.StatusOK, api.DocumentListResponse{ProjectId: "p1", Documents: []api.DocumentResponse{
			{DocumentId: "d1", Status: "INDEXED", ChunkCount: 12},
			{DocumentId: "d2", Status: "FAILED", FailureCode: "CORRUPT_DOCUMENT"},
		}})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "document", "list", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "chunks=12")
	assert.Contains(t, out, "Total: 2 documents")
}

func TestDocumentActions(t *testing.T) {
	tests := []struct {
		action string
		method string
		path   string
	}{
		{"retry", http.MethodPost, "/projects/p1/documents/d1/retry"},
		{"reindex", http.MethodPost, "/projects/p1/documents/d1/reindex"},
		{"status", http.MethodGet, "/projects/p1/documents/d1"},
		{"delete", http.MethodDelete, "/projects/p1/documents/d1"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			var gotMethod, gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod, gotPath = r.Method, r.URL.Path
				if r.Method == http.MethodDelete {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				writeJSON(w, http.StatusAccepted, api.DocumentResponse{DocumentId: "d1", ProjectId: "p1", Status: "PROCESSING"})
			}))
			defer srv.Close()

			_, err := execute(t, srv, "document", tt.action, "p1", "d1")
			require.NoError(t, err)
			assert.Equal(t, tt.method, gotMethod)
			assert.Equal(t, tt.path, gotPath)
		})
	}
}

func TestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/chat", r.URL.Path)
		var req api.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is the refund window?", req.Message)
		assert.Equal(t, "s-1", req.SessionId)
		writeJSON(w, http.StatusOK, api.ChatResponse{
			SessionId: "s-1",
			Reply:     "Thirty days [1].",
			Sources:   []api.Source{{DocumentId: "d1", Page: 4}},
		})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "ask", "p1", "what", "is", "the", "refund", "window?", "--session", "s-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Thirty days [1].")
	assert.Contains(t, out, "[1] d1 p.4")
	assert.Contains(t, out, "Session: s-1")
}

func TestAsk_Async(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/chat/jobs", r.URL.Path)
		writeJSON(w, http.StatusAccepted, api.InitJobResponse{Id: "job-7", StatusURL: "/status/job-7"})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "ask", "p1", "hello", "--async")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued job job-7")
}

func TestServerErrorsAreReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: &api.JobOutgoingError{
			Code: http.StatusNotFound, ErrCode: "PROJECT_NOT_FOUND", Message: "Project not found",
		}})
	}))
	defer srv.Close()

	_, err := execute(t, srv, "document", "list", "missing")
	require.Error(t, err)
	assert.Equal(t, "PROJECT_NOT_FOUND: Project not found", err.Error())
}

func TestDocumentStatus_RequiresTwoArgs(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := execute(t, srv, "document", "status", "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg(s)")
}
