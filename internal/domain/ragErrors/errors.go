// Package ragErrors is the error taxonomy shared by ingestion and query paths.
// Internal code wraps failures into *Error values; the adapter package translates them
// into public codes before anything crosses the API boundary.
package ragErrors

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindInput         Kind = "input"
	KindTransient     Kind = "transient"
	KindIsolation     Kind = "isolation"
	KindIntegrity     Kind = "integrity"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindAccessDenied  Kind = "access_denied"
	KindConfiguration Kind = "configuration"
	KindCanceled      Kind = "canceled"
	KindInternal      Kind = "internal"
)

type Code string

const (
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeEmptyDocument          Code = "EMPTY_DOCUMENT"
	CodeCorruptDocument        Code = "CORRUPT_DOCUMENT"
	CodeUnsupportedContent     Code = "UNSUPPORTED_CONTENT"
	CodeChunkRejected          Code = "CHUNK_REJECTED"
	CodeEmbeddingFailed        Code = "EMBEDDING_FAILED"
	CodeIndexFailed            Code = "INDEX_FAILED"
	CodeLLMFailed              Code = "LLM_FAILED"
	CodeContentUnavailable     Code = "CONTENT_UNAVAILABLE"
	CodeSessionNotFound        Code = "SESSION_NOT_FOUND"
	CodeDocumentNotFound       Code = "DOCUMENT_NOT_FOUND"
	CodeIntegrityViolation     Code = "INTEGRITY_VIOLATION"
	CodeProjectNotFound        Code = "PROJECT_NOT_FOUND"
	CodeContentNotFound        Code = "CONTENT_NOT_FOUND"
	CodeNoIndexedDocuments     Code = "NO_INDEXED_DOCUMENTS"
	CodeIngestionInProgress    Code = "INGESTION_IN_PROGRESS"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeContentAccessDenied    Code = "CONTENT_ACCESS_DENIED"
	CodeEmbeddingModelMismatch Code = "EMBEDDING_MODEL_MISMATCH"
	CodeCanceled               Code = "CANCELED"
	CodeInternal               Code = "INTERNAL"
)

var codeKinds = map[Code]Kind{
	CodeInvalidRequest:         KindInput,
	CodeEmptyDocument:          KindInput,
	CodeCorruptDocument:        KindInput,
	CodeUnsupportedContent:     KindInput,
	CodeChunkRejected:          KindInput,
	CodeEmbeddingFailed:        KindTransient,
	CodeIndexFailed:            KindTransient,
	CodeLLMFailed:              KindTransient,
	CodeContentUnavailable:     KindTransient,
	CodeSessionNotFound:        KindIsolation,
	CodeDocumentNotFound:       KindIsolation,
	CodeIntegrityViolation:     KindIntegrity,
	CodeProjectNotFound:        KindNotFound,
	CodeContentNotFound:        KindNotFound,
	CodeNoIndexedDocuments:     KindConflict,
	CodeIngestionInProgress:    KindConflict,
	CodeInvalidTransition:      KindConflict,
	CodeContentAccessDenied:    KindAccessDenied,
	CodeEmbeddingModelMismatch: KindConfiguration,
	CodeCanceled:               KindCanceled,
	CodeInternal:               KindInternal,
}

// Error is a classified failure. Message is safe to show to callers; Err is not.
type Error struct {
	Kind    Kind
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by code so sentinels like ErrSessionNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Err == nil
}

// E builds a classified error; the kind is derived from the code.
func E(code Code, op string, err error) *Error {
	return &Error{Kind: kindFor(code), Code: code, Op: op, Err: err}
}

// Ef is E with a public message.
func Ef(code Code, op string, err error, format string, args ...any) *Error {
	e := E(code, op, err)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

func kindFor(code Code) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindInternal
}

var (
	ErrProjectNotFound        = &Error{Kind: KindNotFound, Code: CodeProjectNotFound}
	ErrSessionNotFound        = &Error{Kind: KindIsolation, Code: CodeSessionNotFound}
	ErrDocumentNotFound       = &Error{Kind: KindIsolation, Code: CodeDocumentNotFound}
	ErrNoIndexedDocuments     = &Error{Kind: KindConflict, Code: CodeNoIndexedDocuments}
	ErrIngestionInProgress    = &Error{Kind: KindConflict, Code: CodeIngestionInProgress}
	ErrInvalidTransition      = &Error{Kind: KindConflict, Code: CodeInvalidTransition}
	ErrEmbeddingModelMismatch = &Error{Kind: KindConfiguration, Code: CodeEmbeddingModelMismatch}
	ErrIntegrityViolation     = &Error{Kind: KindIntegrity, Code: CodeIntegrityViolation}
	ErrCanceled               = &Error{Kind: KindCanceled, Code: CodeCanceled}
)

// KindOf classifies any error. Plain context errors are mapped; everything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	return KindInternal
}

// CodeOf returns the outermost classified code, or INTERNAL.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	return CodeInternal
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PublicMessage is the only text about a failure that may reach a caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if msg, ok := defaultMessages[CodeOf(err)]; ok {
		return msg
	}
	return defaultMessages[CodeInternal]
}

var defaultMessages = map[Code]string{
	CodeInvalidRequest:         "The request is invalid",
	CodeEmptyDocument:          "The document contains no extractable text",
	CodeCorruptDocument:        "The document could not be parsed",
	CodeUnsupportedContent:     "The document type is not supported",
	CodeChunkRejected:          "Part of the document was rejected by the embedding service",
	CodeEmbeddingFailed:        "The embedding service is unavailable",
	CodeIndexFailed:            "The search index is unavailable",
	CodeLLMFailed:              "The answer could not be generated",
	CodeContentUnavailable:     "The document storage is unavailable",
	CodeSessionNotFound:        "Session not found",
	CodeDocumentNotFound:       "Document not found",
	CodeIntegrityViolation:     "Internal consistency error",
	CodeProjectNotFound:        "Project not found",
	CodeContentNotFound:        "The document content was not found",
	CodeNoIndexedDocuments:     "The project has no indexed documents",
	CodeIngestionInProgress:    "The document is already being processed",
	CodeInvalidTransition:      "The document is not in a state that allows this action",
	CodeContentAccessDenied:    "Access to the document content was denied",
	CodeEmbeddingModelMismatch: "Internal configuration error",
	CodeCanceled:               "The request was canceled",
	CodeInternal:               "Internal Server Error",
}

// TransientStatus reports whether an HTTP status from a dependency is worth retrying.
func TransientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
