package job

import (
	"context"
	"sync/atomic"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

// Service is the queue shared by the handlers and the worker dispatcher.
type Service struct {
	JobChannel        chan jobModel.Job
	RequestCount      int64
	DispatcherChannel chan bool
	JobStore          jobModel.JobStore
	// requestsPerWorker is how many enqueued jobs ask the dispatcher for one more worker.
	requestsPerWorker int64
	logger            *logger_i.Logger
}

type ServiceConfig struct {
	JobChannel        chan jobModel.Job
	RequestCount      int64
	DispatcherChannel chan bool
	JobStore          jobModel.JobStore
	RequestsPerWorker int64
}

func InitJobService(cfg ServiceConfig) *Service {
	perWorker := cfg.RequestsPerWorker
	if perWorker <= 0 {
		perWorker = config.RequestsPerNewWorkerCount
	}
	return &Service{
		JobChannel:        cfg.JobChannel,
		RequestCount:      cfg.RequestCount,
		DispatcherChannel: cfg.DispatcherChannel,
		JobStore:          cfg.JobStore,
		requestsPerWorker: perWorker,
		logger:            logger_i.NewLogger("JobService"),
	}
}

// Enqueue stores j as QUEUED and hands it to the workers. The job is saved first so a status
// poll never misses it. The send blocks while the queue is full; when ctx ends first the job is
// dropped and CANCELED is returned.
func (s *Service) Enqueue(ctx context.Context, j jobModel.Job) error {
	const op = "job.Enqueue"
	log := s.logger.WithTrace(ctx).With("jobId", j.Id)

	j.Status = jobModel.JobStatusQueued
	if err := s.JobStore.SaveJob(ctx, j); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, op, err)
	}

	metrics.IncrementJobsInQueue()
	select {
	case s.JobChannel <- j:
	case <-ctx.Done():
		metrics.DecrementJobsInQueue()
		s.JobStore.DeleteJob(context.WithoutCancel(ctx), j.Id)
		return ragErrors.Ef(ragErrors.CodeCanceled, op, ctx.Err(), "The job queue is full, try again later")
	}
	log.Info("Queued job")

	s.signalDispatcher(atomic.AddInt64(&s.RequestCount, 1))
	return nil
}

// Lookup returns the last stored state of a job.
func (s *Service) Lookup(ctx context.Context, id string) (jobModel.Job, bool) {
	return s.JobStore.GetJob(ctx, id)
}

// signalDispatcher asks for another worker every requestsPerWorker jobs. Workers retire when
// idle, so most of the time a single one is running.
func (s *Service) signalDispatcher(count int64) {
	if count%s.requestsPerWorker != 0 {
		return
	}
	metrics.StartDispatcherSignalCount()
	s.logger.Debug("Requesting another worker", "requests", count)
	select {
	case s.DispatcherChannel <- true:
	default:
		//a signal is already pending
	}
}
