package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SpeakerUnknown labels speech that no diarization result could attribute.
const SpeakerUnknown = "UNKNOWN"

// Word is the smallest timed unit within a Segment, produced by forced alignment.
type Word struct {
	Text    string   `json:"word"`
	Start   float64  `json:"start"`
	End     *float64 `json:"end,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Speaker string   `json:"speaker,omitempty"`
}

// Segment is a contiguous timed span of speech.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words,omitempty"`
}

// SpeakerLabel returns the segment speaker, or SpeakerUnknown when unset.
func (s Segment) SpeakerLabel() string {
	if s.Speaker == "" {
		return SpeakerUnknown
	}
	return s.Speaker
}

// Result is the transcription of one job. Segments are ordered by start time.
type Result struct {
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// CloneSegments returns a deep copy so the next stage owns its input exclusively.
func CloneSegments(in []Segment) []Segment {
	if in == nil {
		return nil
	}
	out := make([]Segment, len(in))
	for i, s := range in {
		out[i] = s
		if s.Words != nil {
			out[i].Words = make([]Word, len(s.Words))
			for j, w := range s.Words {
				out[i].Words[j] = w
				if w.End != nil {
					v := *w.End
					out[i].Words[j].End = &v
				}
				if w.Score != nil {
					v := *w.Score
					out[i].Words[j].Score = &v
				}
			}
		}
	}
	return out
}

// EncodeJSON serializes the result as indented JSON without HTML escaping.
// The output is stable for equal inputs.
func EncodeJSON(res Result) ([]byte, error) {
	if res.Segments == nil {
		res.Segments = []Segment{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return nil, fmt.Errorf("encode transcript json: %w", err)
	}
	return buf.Bytes(), nil
}
