package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/job"
	"github.com/akolanti/GoRAG/internal/rag"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

var (
	handlerInstance *JobHandler //private singleton
	once            sync.Once
	logJH           *logger_i.Logger
)

type JobHandler struct {
	service     *job.Service
	chat        rag.Service
	projects    rag.ProjectService
	contentRoot string
}

type Deps struct {
	Jobs     *job.Service
	Chat     rag.Service
	Projects rag.ProjectService
	// ContentRoot is where uploads land; it must be the local fetcher's root.
	ContentRoot string
}

func InitHandlers(deps Deps) {
	once.Do(func() {
		root := deps.ContentRoot
		if root == "" {
			root = config.ContentRoot
		}
		handlerInstance = &JobHandler{
			service:     deps.Jobs,
			chat:        deps.Chat,
			projects:    deps.Projects,
			contentRoot: root,
		}

		logJH = logger_i.NewLogger("JobHandler")
		logRH = logger_i.NewLogger("RequestHandler")
		logJH.Info("Starting job handler")
	})
}

// CreateNewJob queues an async chat turn.
func CreateNewJob(ctx context.Context, newJob newJobData) error {
	logJH.WithTrace(ctx).With("jobId", newJob.id).Info("To create new job")

	return handlerInstance.service.Enqueue(ctx, jobModel.Job{
		Id:          newJob.id,
		ChatId:      newJob.sessionId,
		TraceId:     newJob.traceId,
		JobType:     jobModel.JobTypeQuery,
		CreatedTime: time.Now(),
		CurrentStep: jobModel.UserQueryInit,
		JobPayload: jobModel.JobPayload{
			ProjectId: newJob.projectId,
			UserId:    newJob.userId,
			Question:  newJob.message,
		},
	})
}

func GetJobStatus(ctx context.Context, id string) (result jobModel.Job, isFound bool) {
	if handlerInstance != nil {
		return handlerInstance.service.Lookup(ctx, id)
	}
	return result, false
}
