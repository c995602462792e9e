package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/akolanti/GoRAG/internal/adapter/utils"
	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/middleware"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"github.com/go-chi/chi/v5"
)

var (
	server  *http.Server
	_logger *logger_i.Logger
)

type ShutdownParams struct {
	GracefulShutdown chan os.Signal
	StopExecution    chan bool
	WorkerStop       chan bool
	Group            *sync.WaitGroup
	CloseServices    context.CancelFunc
	// DrainIngestion waits for in-flight ingestion runs; it must return within the timeout.
	DrainIngestion func(timeout time.Duration)
}

// Options carries what the router needs beyond the wrapped handlers.
type Options struct {
	ListenAddr string
	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

// Routes registers every endpoint on the shared router.
func Routes(opts Options) *chi.Mux {
	r := utils.GetRouter()

	r.Router.Get("/healthz", middleware.GetHandler)

	r.Router.Get("/status/{id}", middleware.GetStatusHandler)

	r.Router.Route("/projects", func(pr chi.Router) {
		pr.Post("/", middleware.CreateProjectHandler)
		pr.Route("/{projectId}", func(p chi.Router) {
			p.Delete("/", middleware.DeleteProjectHandler)

			p.Post("/chat", middleware.ChatHandler)
			p.Post("/chat/jobs", middleware.ChatJobHandler)

			p.Get("/documents", middleware.ListDocumentsHandler)
			p.Post("/documents", middleware.UploadDocumentHandler)
			p.Get("/documents/{documentId}", middleware.GetDocumentHandler)
			p.Delete("/documents/{documentId}", middleware.DeleteDocumentHandler)
			p.Post("/documents/{documentId}/ingest", middleware.IngestDocumentHandler)
			p.Post("/documents/{documentId}/retry", middleware.RetryDocumentHandler)
			p.Post("/documents/{documentId}/reindex", middleware.ReindexDocumentHandler)
		})
	})

	if opts.MCP != nil {
		r.Router.Handle("/mcp", middleware.Authenticated(opts.MCP))
	}
	return r.Router
}

func CreateServer(opts Options) {
	_logger = logger_i.NewLogger("Server")
	utils.SetSwaggerHost(opts.ListenAddr)

	server = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      Routes(opts),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	_logger.Info("Server is listening at", "address", opts.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_logger.Error("Server crashed", "error", err.Error(), "addr", opts.ListenAddr)
	}
}

// ShutDownHandler stops accepting requests, lets the workers finish their jobs, drains ingestion and
// then closes the shared services.
func ShutDownHandler(shutdownParams ShutdownParams) {
	state := <-shutdownParams.GracefulShutdown
	_logger.Info("Server is shutting down", "signal", state.String())

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownContextTimeout+config.IngestionDrainPeriod)
	defer cancel()

	done := make(chan struct{})

	go func() {
		server.SetKeepAlivesEnabled(false)

		httpCtx, httpCancel := context.WithTimeout(ctx, config.ShutdownContextTimeout)
		if err := server.Shutdown(httpCtx); err != nil {
			_logger.Error("Could not shutdown gracefully", "error", err)
		}
		httpCancel()

		//close workers
		close(shutdownParams.WorkerStop)
		shutdownParams.Group.Wait()

		if shutdownParams.DrainIngestion != nil {
			shutdownParams.DrainIngestion(config.IngestionDrainPeriod)
		}
		shutdownParams.CloseServices()
		close(shutdownParams.StopExecution)
		close(done)
	}()

	select {
	case <-done:
		_logger.Info("Gracefully shut down")
	case <-ctx.Done():
		_logger.Info("Force Shut down")
		os.Exit(1)
	}
}
