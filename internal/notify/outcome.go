package notify

import (
	"encoding/json"
	"fmt"

	"github.com/jo-hoe/transcriptworker/internal/common"
)

// Outcome is the terminal result of one job, delivered once via callback.
// Field order is the wire order.
type Outcome struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"` // done|error
	MarkdownKey string `json:"md_key,omitempty"`
	JSONKey     string `json:"json_key,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Done builds a success outcome referencing the stored artifacts.
func Done(jobID, markdownKey, jsonKey string) Outcome {
	return Outcome{
		JobID:       jobID,
		Status:      common.StatusDone,
		MarkdownKey: markdownKey,
		JSONKey:     jsonKey,
	}
}

// Failed builds an error outcome.
func Failed(jobID, message string) Outcome {
	return Outcome{
		JobID:  jobID,
		Status: common.StatusError,
		Error:  message,
	}
}

// IsDone reports whether the outcome is a success.
func (o Outcome) IsDone() bool { return o.Status == common.StatusDone }

// Encode returns the canonical JSON bytes that are both signed and sent.
func (o Outcome) Encode() ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}
	return b, nil
}
