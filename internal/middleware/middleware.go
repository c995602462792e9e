package middleware

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/akolanti/GoRAG/internal/adapter/utils"
	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/handlers"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

type requestResponseStruct struct {
	writer     http.ResponseWriter
	req        *http.Request
	badRequest failureStruct
	logger     *logger_i.Logger
}

type failureStruct struct {
	isBadRequest bool
	httpCode     int
	errorMessage string
}

var (
	authMu       sync.RWMutex
	authToken    string
	noAuthBypass bool
)

// Configure sets the bearer token every wrapped handler checks.
func Configure(s config.ServerSettings) {
	authMu.Lock()
	defer authMu.Unlock()
	authToken = s.AuthToken
	noAuthBypass = s.NoAuthBypass
}

var GetHandler = Wrap(handlers.GetHandler)

var ChatHandler = Wrap(handlers.ChatHandler)
var ChatJobHandler = Wrap(handlers.ChatJobHandler)
var GetStatusHandler = Wrap(handlers.GetStatusHandler)

var CreateProjectHandler = Wrap(handlers.CreateProjectHandler)
var DeleteProjectHandler = Wrap(handlers.DeleteProjectHandler)

var UploadDocumentHandler = Wrap(handlers.UploadDocumentHandler)
var IngestDocumentHandler = Wrap(handlers.IngestDocumentHandler)
var GetDocumentHandler = Wrap(handlers.GetDocumentHandler)
var ListDocumentsHandler = Wrap(handlers.ListDocumentsHandler)
var RetryDocumentHandler = Wrap(handlers.RetryDocumentHandler)
var ReindexDocumentHandler = Wrap(handlers.ReindexDocumentHandler)
var DeleteDocumentHandler = Wrap(handlers.DeleteDocumentHandler)

func Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &metrics.HttpStatusRecorder{ResponseWriter: w, Status: 200} //metrics
		re := processRequest(requestResponseStruct{req: r, writer: rec})

		if !handleBadRequest(re) {
			metrics.HttpRequestsTotal.WithLabelValues(utils.RoutePattern(r), strconv.Itoa(rec.Status)).Inc()
			return
		}
		next(rec, re.req)

		metrics.HttpRequestsTotal.WithLabelValues(utils.RoutePattern(r), strconv.Itoa(rec.Status)).Inc() //metrics
	}
}

func processRequest(re requestResponseStruct) requestResponseStruct {
	re.logger = logger_i.NewLogger("middleware")
	re.logger.Debug("New request received", "path", re.req.URL.Path)
	re = injectTrace(re)
	if re.badRequest.isBadRequest {
		return re
	}
	re = authenticate(re)
	if re.badRequest.isBadRequest {
		return re //stop if auth fails
	}
	return rateLimiter(re)
}

// Authenticated guards a streaming handler. The response writer is passed through untouched so
// flushing keeps working.
func Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		re := processRequest(requestResponseStruct{req: r, writer: w})
		if !handleBadRequest(re) {
			return
		}
		next.ServeHTTP(w, re.req)
	})
}
