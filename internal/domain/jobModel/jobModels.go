package jobModel

import (
	"context"
	"time"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
)

type JobStatus string
type InternalStatus string

type JobType string

const (
	JobStatusQueued   JobStatus = "QUEUED"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusComplete JobStatus = "COMPLETE"
	JobStatusError    JobStatus = "Error"

	UserQueryInit    InternalStatus = "Init"
	SessionCall      InternalStatus = "Session"
	RAGCall          InternalStatus = "RAG"
	LLMCall          InternalStatus = "LLM"
	VectorDBCall     InternalStatus = "VectorDB"
	EmbeddingAPICall InternalStatus = "EmbeddingAPI"
	StoreCall        InternalStatus = "Store"
	Error            InternalStatus = "Error"

	Complete InternalStatus = "Complete"

	JobTypeQuery JobType = "Query"
)

type Job struct {
	Id          string         `json:"id"`
	ChatId      string         `json:"chat_id"`
	TraceId     string         `json:"trace_id"`
	JobType     JobType        `json:"job_type"`
	JobPayload  JobPayload     `json:"job_payload"`
	Error       JobError       `json:"error,omitempty"`
	CreatedTime time.Time      `json:"created_time"`
	EndTime     time.Time      `json:"end_time,omitempty"`
	Status      JobStatus      `json:"status"`
	CurrentStep InternalStatus `json:"current_step"`
}

// JobError is already translated for callers; Code is the public taxonomy code.
type JobError struct {
	HttpCode int    `json:"http_code"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Retry    bool   `json:"retry"`
}

type JobPayload struct {
	ProjectId string                `json:"project_id"`
	UserId    string                `json:"user_id,omitempty"`
	Question  string                `json:"question,omitempty"`
	Answer    string                `json:"answer,omitempty"`
	Sources   []commonModels.Source `json:"sources,omitempty"`
	NewChat   bool                  `json:"new_chat,omitempty"`
}

type JobStore interface {
	GetJob(ctx context.Context, jobId string) (Job, bool)
	SaveJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string)
}
