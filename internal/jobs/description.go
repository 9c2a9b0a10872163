package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MediaType is the kind of source media a job points at.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// Defaults applied to optional job fields.
const (
	DefaultLanguage    = "en"
	DefaultModelSize   = "large-v2"
	DefaultMinSpeakers = 2
	DefaultMaxSpeakers = 6
)

// Description is one transcription job as submitted by the caller.
// It is treated as immutable once decoded.
type Description struct {
	JobID         string    `json:"job_id"`
	StorageBucket string    `json:"storage_bucket"`
	ObjectKey     string    `json:"object_key"`
	MediaType     MediaType `json:"media_type"`
	ModelSize     string    `json:"model_size,omitempty"`
	Language      string    `json:"language,omitempty"`
	DoDiarize     *bool     `json:"do_diarize,omitempty"`
	MinSpeakers   *int      `json:"min_speakers,omitempty"`
	MaxSpeakers   *int      `json:"max_speakers,omitempty"`
}

// wireDescription accepts the legacy s3_bucket field alongside storage_bucket.
type wireDescription struct {
	Description
	S3Bucket string `json:"s3_bucket"`
}

// ValidationError reports a malformed or incomplete job. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid job: " + e.Reason
	}
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Reason)
}

// Decode parses and validates a raw job payload. Type mismatches are
// reported as ValidationError, like missing fields.
func Decode(raw []byte) (Description, error) {
	var w wireDescription
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Description{}, &ValidationError{Field: typeErr.Field, Reason: fmt.Sprintf("must be %s", typeErr.Type)}
		}
		return Description{}, &ValidationError{Reason: "payload is not a JSON object: " + err.Error()}
	}
	d := w.Description
	if d.StorageBucket == "" {
		d.StorageBucket = w.S3Bucket
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d.WithDefaults(), nil
}

// PeekJobID extracts job_id from a payload that may not decode cleanly, so
// failures can still be correlated by the caller.
func PeekJobID(raw []byte) string {
	var probe struct {
		JobID any `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	if s, ok := probe.JobID.(string); ok {
		return s
	}
	return ""
}

// Validate checks required fields and value ranges.
func (d Description) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"job_id", d.JobID},
		{"storage_bucket", d.StorageBucket},
		{"object_key", d.ObjectKey},
		{"media_type", string(d.MediaType)},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field, Reason: "is required"}
		}
	}
	switch d.MediaType {
	case MediaAudio, MediaVideo:
	default:
		return &ValidationError{Field: "media_type", Reason: fmt.Sprintf("must be %q or %q, got %q", MediaAudio, MediaVideo, d.MediaType)}
	}
	if strings.ContainsAny(d.JobID, `/\`) {
		return &ValidationError{Field: "job_id", Reason: "must not contain path separators"}
	}
	return nil
}

// WithDefaults returns a copy with optional fields filled in.
func (d Description) WithDefaults() Description {
	if strings.TrimSpace(d.Language) == "" {
		d.Language = DefaultLanguage
	}
	if strings.TrimSpace(d.ModelSize) == "" {
		d.ModelSize = DefaultModelSize
	}
	if d.DoDiarize == nil {
		v := true
		d.DoDiarize = &v
	}
	lo, hi := d.SpeakerBounds()
	d.MinSpeakers, d.MaxSpeakers = &lo, &hi
	return d
}

// Diarize reports whether speaker diarization was requested (default true).
func (d Description) Diarize() bool {
	return d.DoDiarize == nil || *d.DoDiarize
}

// SpeakerBounds returns min/max speakers with defaults applied.
func (d Description) SpeakerBounds() (int, int) {
	lo, hi := DefaultMinSpeakers, DefaultMaxSpeakers
	if d.MinSpeakers != nil {
		lo = *d.MinSpeakers
	}
	if d.MaxSpeakers != nil {
		hi = *d.MaxSpeakers
	}
	return lo, hi
}
