package commonModels

import (
	"testing"
	"time"

	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
)

func TestDocStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to DocStatus
		want     bool
	}{
		{StatusUploaded, StatusProcessing, true},
		{StatusUploaded, StatusIndexed, false},
		{StatusProcessing, StatusIndexed, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusUploaded, false},
		{StatusFailed, StatusProcessing, true},
		{StatusFailed, StatusIndexed, false},
		{StatusIndexed, StatusProcessing, true},
		{StatusIndexed, StatusFailed, false},
		{DocStatus("DELETED"), StatusProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v; want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDocument_ApplyTransition(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := Document{Id: "d1", ProjectId: "p1", Status: StatusUploaded}

	err := doc.ApplyTransition([]DocStatus{StatusUploaded}, StatusProcessing, func(d *Document) {
		d.Id = "hijack"
		d.Status = StatusIndexed
		d.Attempts++
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Id != "d1" || doc.Status != StatusProcessing || doc.Attempts != 1 || !doc.UpdatedAt.Equal(now) {
		t.Errorf("unexpected document after transition: %+v", doc)
	}

	err = doc.ApplyTransition([]DocStatus{StatusUploaded}, StatusProcessing, nil, now)
	if ragErrors.CodeOf(err) != ragErrors.CodeInvalidTransition {
		t.Errorf("expected INVALID_TRANSITION, got %v", err)
	}

	corrupt := Document{Id: "d2", ProjectId: "p1", Status: "ARCHIVED"}
	err = corrupt.ApplyTransition([]DocStatus{"ARCHIVED"}, StatusProcessing, nil, now)
	if ragErrors.CodeOf(err) != ragErrors.CodeIntegrityViolation {
		t.Errorf("expected INTEGRITY_VIOLATION for an unknown stored status, got %v", err)
	}

	// an allowed edge is still refused when the caller expected another source state
	err = doc.ApplyTransition([]DocStatus{StatusFailed}, StatusIndexed, nil, now)
	if err == nil {
		t.Error("expected an error for a stale source state")
	}
}
