package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/akolanti/GoRAG/internal/adapter"
	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
)

const maxJSONBody = 1 << 20

func writeJsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log the error but can't send a clean status code now
		logRH.Error("Error encoding response", "error", err)
	}
}

// writeError sends the translated failure. Details stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	res := adapter.ToErrorResponse(err)
	log := logRH.WithTrace(r.Context()).With("code", res.Error.ErrCode, "path", r.URL.Path, "error", err)
	if res.Error.Code >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Info("Request rejected")
	}
	writeJsonResponse(w, res.Error.Code, res)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	defer func() {
		if err := r.Body.Close(); err != nil {
			logRH.Error("Couldn't close the request body", "error", err)
		}
	}()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(into); err != nil {
		logRH.WithTrace(r.Context()).Warn("Bad request body", "error", err)
		WriteErrorResponse(w, http.StatusBadRequest, "", "Bad Request")
		return false
	}
	return true
}

func validateId(r *http.Request, id string) (result jobModel.Job, isFound bool) {
	if id == "" {
		logRH.Warn("Empty Job ID")
		return jobModel.Job{}, false
	}
	return GetJobStatus(r.Context(), id)
}

func validateContext(ctx context.Context) bool {
	if ctx.Err() != nil {
		logRH.WithTrace(ctx).Warn("context error", "error", ctx.Err())
		return false
	}
	return true
}

func traceId(ctx context.Context) string {
	trace, _ := ctx.Value(config.TRACE_ID_KEY).(string)
	return trace
}

func WriteErrorResponse(w http.ResponseWriter, httpCode int, id string, error string) {
	writeJsonResponse(w, httpCode, adapter.BadRequest(id, error, httpCode))
}

// getTargetDirectory is the upload folder of one project under the content root.
func getTargetDirectory(root, projectId string) (string, error) {
	base, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	targetDir := filepath.Join(base, projectId)
	if filepath.Dir(targetDir) != base {
		return "", ragErrors.Ef(ragErrors.CodeInvalidRequest, "handlers.upload", errors.New("project id escapes the content root"),
			"The project id is not valid")
	}
	if err := os.MkdirAll(targetDir, 0750); err != nil {
		return "", err
	}
	return targetDir, nil
}
