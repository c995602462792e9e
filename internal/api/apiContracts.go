package api

import "time"

type JobExternalStatus string

const (
	JobStatusError JobExternalStatus = "Error"
)

type JobResponse struct {
	Id        string            `json:"id" example:"job_cz109"`
	ChatId    string            `json:"session_id" example:"0b9c6a52-4f7e-4d43-9a4e-0c3bd7b0f1aa"`
	Result    Result            `json:"result"`
	Error     *JobOutgoingError `json:"error,omitempty"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
}

type JobOutgoingError struct {
	Code    int    `json:"code" example:"404"`
	ErrCode string `json:"error_code,omitempty" example:"PROJECT_NOT_FOUND"`
	Message string `json:"message" example:"Project not found"`
	Retry   bool   `json:"can_retry" example:"false"`
}

// ErrorResponse is the body of every failed synchronous call.
type ErrorResponse struct {
	Error *JobOutgoingError `json:"error"`
}

type Source struct {
	DocumentId string `json:"document_id" example:"handbook-2024"`
	Page       int    `json:"page" example:"3"`
}

type RAGResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
}

type Result struct {
	Status              string       `json:"status"`
	RAGExternalResponse *RAGResponse `json:"rag_response,omitempty"`
}

type InitJobResponse struct {
	Id        string `json:"id"`
	StatusURL string `json:"status_url"`
}

type ChatResponse struct {
	SessionId    string   `json:"session_id"`
	Reply        string   `json:"reply"`
	Sources      []Source `json:"sources"`
	IsNewSession bool     `json:"is_new_session"`
}

type ProjectResponse struct {
	ProjectId string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type DocumentResponse struct {
	DocumentId    string     `json:"document_id"`
	ProjectId     string     `json:"project_id"`
	Name          string     `json:"doc_name,omitempty"`
	Status        string     `json:"status" example:"INDEXED"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	IndexedAt     *time.Time `json:"indexed_at,omitempty"`
	FailureCode   string     `json:"failure_code,omitempty" example:"CORRUPT_DOCUMENT"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ChunkCount    int        `json:"chunk_count"`
	Attempts      int        `json:"attempts"`
}

type DocumentListResponse struct {
	ProjectId string             `json:"project_id"`
	Documents []DocumentResponse `json:"documents"`
}

// requests---------------------

type ChatRequest struct {
	Message   string `json:"message" validate:"required"`
	SessionId string `json:"session_id,omitempty"`
	UserId    string `json:"user_id,omitempty"`
}

type JobStatusRequest struct {
	JobId string `json:"job_id" validate:"required"`
}

type CreateProjectRequest struct {
	ProjectId string `json:"project_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// IngestDocumentRequest points at content already in storage: gs://bucket/object, file://path or a
// path relative to the content root.
type IngestDocumentRequest struct {
	StorageReference string `json:"storage_reference" validate:"required" example:"gs://docs/handbook.pdf"`
	DocumentName     string `json:"document_name,omitempty"`
}
