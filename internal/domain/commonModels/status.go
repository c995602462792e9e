package commonModels

import (
	"time"

	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
)

type DocStatus string

const (
	StatusUploaded   DocStatus = "UPLOADED"
	StatusProcessing DocStatus = "PROCESSING"
	StatusIndexed    DocStatus = "INDEXED"
	StatusFailed     DocStatus = "FAILED"
)

// allowed document lifecycle edges; FAILED and INDEXED only re-enter PROCESSING through operator actions
var transitions = map[DocStatus][]DocStatus{
	StatusUploaded:   {StatusProcessing},
	StatusProcessing: {StatusIndexed, StatusFailed},
	StatusFailed:     {StatusProcessing},
	StatusIndexed:    {StatusProcessing},
}

func (s DocStatus) CanTransition(to DocStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s DocStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s DocStatus) In(set []DocStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

// ApplyTransition moves d to status to when its current status is one of from and the edge is
// allowed. mutate runs before the status is written and cannot change identity or status.
func (d *Document) ApplyTransition(from []DocStatus, to DocStatus, mutate func(*Document), now time.Time) error {
	if !d.Status.Valid() {
		return ragErrors.Ef(ragErrors.CodeIntegrityViolation, "document.Transition", nil,
			"The stored document status %q is unknown", d.Status)
	}
	if !d.Status.In(from) || !d.Status.CanTransition(to) {
		return ragErrors.Ef(ragErrors.CodeInvalidTransition, "document.Transition", nil,
			"The document is %s and cannot move to %s", d.Status, to)
	}
	id, project := d.Id, d.ProjectId
	if mutate != nil {
		mutate(d)
	}
	d.Id, d.ProjectId, d.Status, d.UpdatedAt = id, project, to, now
	return nil
}
