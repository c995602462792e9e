package adapter

import (
	"fmt"
	"time"

	"github.com/akolanti/GoRAG/internal/api"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
)

func ToInitJobResponse(id string) api.InitJobResponse {
	return api.InitJobResponse{
		Id:        id,
		StatusURL: fmt.Sprintf("status/%s", id), //pass "status/job.Id"
	}
}

func ToAPIResponse(job jobModel.Job) api.JobResponse {

	var errorPtr *api.JobOutgoingError
	if job.Error.Message != "" || job.Error.HttpCode != 0 {
		errorPtr = toOutgoingError(job.Error)
	}

	result := api.Result{
		Status:              string(job.Status),
		RAGExternalResponse: ToRAGExternalStatus(job.JobPayload),
	}

	return api.JobResponse{
		Id:        job.Id,
		ChatId:    job.ChatId,
		StartTime: job.CreatedTime,
		EndTime:   job.EndTime,
		Error:     errorPtr,
		Result:    result,
	}
}

func ToRAGExternalStatus(ragData jobModel.JobPayload) *api.RAGResponse {
	if ragData.Answer == "" && len(ragData.Sources) == 0 {
		return nil
	}

	return &api.RAGResponse{
		Question: ragData.Question,
		Answer:   ragData.Answer,
		Sources:  ToSources(ragData.Sources),
	}
}

func ToSources(sources []commonModels.Source) []api.Source {
	out := make([]api.Source, len(sources))
	for i, s := range sources {
		out[i] = api.Source{DocumentId: s.DocumentId, Page: s.Page}
	}
	return out
}

func ToChatResponse(sessionId, reply string, sources []commonModels.Source, isNew bool) api.ChatResponse {
	return api.ChatResponse{
		SessionId:    sessionId,
		Reply:        reply,
		Sources:      ToSources(sources),
		IsNewSession: isNew,
	}
}

func ToProjectResponse(p commonModels.Project) api.ProjectResponse {
	return api.ProjectResponse{ProjectId: p.Id, Name: p.Name, CreatedAt: p.CreatedAt}
}

// ToDocumentResponse exposes the public failure code and message only.
func ToDocumentResponse(d commonModels.Document) api.DocumentResponse {
	res := api.DocumentResponse{
		DocumentId:    d.Id,
		ProjectId:     d.ProjectId,
		Name:          d.Name,
		Status:        string(d.Status),
		UploadedAt:    d.UploadedAt,
		FailureCode:   d.FailureCode,
		FailureReason: d.FailureReason,
		ChunkCount:    d.ChunkCount,
		Attempts:      d.Attempts,
	}
	if !d.IndexedAt.IsZero() {
		at := d.IndexedAt
		res.IndexedAt = &at
	}
	return res
}

func ToDocumentListResponse(projectId string, docs []commonModels.Document) api.DocumentListResponse {
	res := api.DocumentListResponse{ProjectId: projectId, Documents: make([]api.DocumentResponse, len(docs))}
	for i, d := range docs {
		res.Documents[i] = ToDocumentResponse(d)
	}
	return res
}

func BadRequest(id string, error string, code int) api.JobResponse {
	return api.JobResponse{
		Id:        id,
		ChatId:    "",
		StartTime: time.Time{},
		EndTime:   time.Time{},
		Result: api.Result{
			Status:              string(api.JobStatusError),
			RAGExternalResponse: ToRAGExternalStatus(jobModel.JobPayload{}),
		},
		Error: &api.JobOutgoingError{
			Code:    code,
			Message: error,
			Retry:   false,
		},
	}
}
