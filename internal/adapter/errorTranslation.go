package adapter

import (
	"net/http"

	"github.com/akolanti/GoRAG/internal/api"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
)

// ToJobError is the only way a failure leaves the service: public code, fixed message,
// retry hint and HTTP status. The wrapped cause stays in the logs.
func ToJobError(err error) jobModel.JobError {
	code := ragErrors.CodeOf(err)
	return jobModel.JobError{
		HttpCode: HTTPStatus(code),
		Code:     string(code),
		Message:  ragErrors.PublicMessage(err),
		Retry:    canRetry(code),
	}
}

func ToErrorResponse(err error) api.ErrorResponse {
	je := ToJobError(err)
	return api.ErrorResponse{Error: toOutgoingError(je)}
}

func HTTPStatus(code ragErrors.Code) int {
	switch code {
	case ragErrors.CodeInvalidRequest:
		return http.StatusBadRequest
	case ragErrors.CodeEmptyDocument, ragErrors.CodeCorruptDocument,
		ragErrors.CodeUnsupportedContent, ragErrors.CodeChunkRejected:
		return http.StatusUnprocessableEntity
	case ragErrors.CodeProjectNotFound, ragErrors.CodeSessionNotFound,
		ragErrors.CodeDocumentNotFound, ragErrors.CodeContentNotFound:
		return http.StatusNotFound
	case ragErrors.CodeNoIndexedDocuments, ragErrors.CodeIngestionInProgress, ragErrors.CodeInvalidTransition:
		return http.StatusConflict
	case ragErrors.CodeContentAccessDenied:
		return http.StatusForbidden
	case ragErrors.CodeCanceled:
		return http.StatusRequestTimeout
	}
	switch ragErrors.KindOf(ragErrors.E(code, "", nil)) {
	case ragErrors.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func canRetry(code ragErrors.Code) bool {
	switch code {
	case ragErrors.CodeIngestionInProgress, ragErrors.CodeCanceled:
		return true
	}
	return ragErrors.IsTransient(ragErrors.E(code, "", nil))
}

func toOutgoingError(je jobModel.JobError) *api.JobOutgoingError {
	return &api.JobOutgoingError{
		Code:    je.HttpCode,
		ErrCode: je.Code,
		Message: je.Message,
		Retry:   je.Retry,
	}
}
