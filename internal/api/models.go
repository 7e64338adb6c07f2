package api

import (
	"github.com/pixelrise/enhance-api/internal/domain"
)

// MediaItemResponse represents one produced output in API responses.
type MediaItemResponse struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// TaskStatusResponse represents the poll response for a task. Status is one
// of running, completed, or failed; Outputs is populated only for completed
// tasks, Error only for failed ones.
type TaskStatusResponse struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Outputs      []MediaItemResponse `json:"outputs,omitempty"`
	Error        string              `json:"error,omitempty"`
	ProcessingMS int64               `json:"processing_ms,omitempty"`
}

// SweepRequest is the optional body of a sweep trigger, overriding the
// configured bounds for a single invocation. Omitted fields keep the
// configured values.
type SweepRequest struct {
	FetchLimit  int `json:"fetch_limit"  validate:"omitempty,gt=0,lte=500"`
	Concurrency int `json:"concurrency"  validate:"omitempty,gt=0,lte=50"`
}

// SweepResponse reports the aggregate outcome of one sweep invocation.
type SweepResponse struct {
	Scanned   int   `json:"scanned"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Running   int   `json:"running"`
	Errors    int   `json:"errors"`
	ElapsedMS int64 `json:"elapsed_ms"`
}

// statusOnWire maps the stored task status to the poll response vocabulary.
// A stored "processing" is reported as "running": what the caller is told
// is that the work is still in flight, not how the record spells it.
func statusOnWire(status domain.TaskStatus) string {
	if status == domain.TaskStatusProcessing {
		return "running"
	}
	return string(status)
}

// taskToResponse converts a domain.Task to a TaskStatusResponse
func taskToResponse(task *domain.Task) TaskStatusResponse {
	resp := TaskStatusResponse{
		ID:     task.ID.String(),
		Status: statusOnWire(task.Status),
	}

	switch task.Status {
	case domain.TaskStatusCompleted:
		for _, item := range task.Outputs {
			resp.Outputs = append(resp.Outputs, MediaItemResponse{
				URL:  item.URL,
				Kind: string(item.Kind),
			})
		}
		resp.ProcessingMS = task.ProcessingMS
	case domain.TaskStatusFailed:
		resp.Error = task.FailureReason
	}

	return resp
}
