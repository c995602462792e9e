package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	jobmodel "github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/metrics"
)

// executeJob runs one queued chat turn and stores every state change so pollers see progress.
func executeJob(job jobmodel.Job) {
	start := time.Now()
	defer func() {
		metrics.CaptureJobMetrics(string(job.Status), time.Since(start))
	}()
	ctxTrace := context.WithValue(context.Background(), config.TRACE_ID_KEY, job.TraceId)
	ctx, cancel := context.WithTimeout(ctxTrace, jobTimeout)
	defer cancel()
	log := logger.WithTrace(ctx).With("jobId", job.Id)
	log.Debug("Processing job")

	job = saveJobState(ctx, job, jobmodel.JobStatusRunning)

	if job.JobType != jobmodel.JobTypeQuery && job.JobType != "" {
		log.Error("Unknown job type", "type", job.JobType)
		job.Status = jobmodel.JobStatusError
		job.CurrentStep = jobmodel.Error
		job.EndTime = time.Now()
		saveJobState(context.WithoutCancel(ctx), job, jobmodel.JobStatusError)
		return
	}

	job = _ragService.ProcessRequest(ctx, job)
	job.EndTime = time.Now()

	final := jobmodel.JobStatusComplete
	if job.Status == jobmodel.JobStatusError {
		final = jobmodel.JobStatusError
	}
	// the result is stored even when the job ran out of time
	job = saveJobState(context.WithoutCancel(ctx), job, final)
	log.Info("Job finished", "status", job.Status, "step", job.CurrentStep)
}

func removeWorker(reason string) {
	workerWaitGroup.Done()
	count := atomic.AddInt64(&currentWorkerCount, -1)
	logger.Info("Removed worker", "reason", reason, "workerCount", count)
	metrics.DecrementActiveWorkerCount()
}

func saveJobState(ctx context.Context, job jobmodel.Job, jobStatus jobmodel.JobStatus) jobmodel.Job {
	job.Status = jobStatus
	if err := _jobService.JobStore.SaveJob(ctx, job); err != nil {
		logger.WithTrace(ctx).Error("Failed to update job state", "jobId", job.Id, "err", err)
	}
	return job
}
