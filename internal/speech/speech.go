// Package speech defines the capability interfaces for the speech models
// and the overlap-based speaker assignment shared by all backends.
package speech

import (
	"context"
	"errors"

	"github.com/jo-hoe/transcriptworker/internal/transcript"
)

// ErrMissingDiarizationToken is returned by diarizers that need an access
// token for the diarization model and were not given one.
var ErrMissingDiarizationToken = errors.New("diarization token not configured")

// Transcriber turns 16 kHz mono audio into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language, modelSize string) ([]transcript.Segment, error)
}

// Aligner refines segment timing and attaches word-level timestamps.
type Aligner interface {
	Align(ctx context.Context, segments []transcript.Segment, audioPath, language string) ([]transcript.Segment, error)
}

// Diarizer finds who spoke when.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]SpeakerInterval, error)
}

// SpeakerAssigner labels segments and words from diarization intervals.
type SpeakerAssigner interface {
	AssignSpeakers(intervals []SpeakerInterval, segments []transcript.Segment) []transcript.Segment
}

// SpeakerInterval is one diarization turn.
type SpeakerInterval struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// OverlapAssigner gives each segment and word the speaker whose intervals
// overlap it the most. Ties go to the speaker seen first in the interval
// list; spans with no overlap keep their current label.
type OverlapAssigner struct{}

var _ SpeakerAssigner = OverlapAssigner{}

func (OverlapAssigner) AssignSpeakers(intervals []SpeakerInterval, segments []transcript.Segment) []transcript.Segment {
	out := transcript.CloneSegments(segments)
	if len(intervals) == 0 {
		return out
	}
	for i := range out {
		if spk, ok := dominantSpeaker(intervals, out[i].Start, out[i].End); ok {
			out[i].Speaker = spk
		}
		for j := range out[i].Words {
			w := &out[i].Words[j]
			end := w.Start
			if w.End != nil {
				end = *w.End
			}
			if spk, ok := dominantSpeaker(intervals, w.Start, end); ok {
				w.Speaker = spk
			}
		}
	}
	return out
}

func dominantSpeaker(intervals []SpeakerInterval, start, end float64) (string, bool) {
	totals := make(map[string]float64)
	var order []string
	for _, iv := range intervals {
		ov := overlap(iv.Start, iv.End, start, end)
		if ov <= 0 {
			continue
		}
		if _, seen := totals[iv.Speaker]; !seen {
			order = append(order, iv.Speaker)
		}
		totals[iv.Speaker] += ov
	}
	best, bestVal := "", 0.0
	for _, spk := range order {
		if totals[spk] > bestVal {
			best, bestVal = spk, totals[spk]
		}
	}
	return best, best != ""
}

// overlap returns the length of [a0,a1] ∩ [b0,b1]. A zero-length span that
// falls inside an interval counts as a tiny positive overlap so instant
// words still get a speaker.
func overlap(a0, a1, b0, b1 float64) float64 {
	if b1 <= b0 {
		if b0 >= a0 && b0 < a1 {
			return 1e-9
		}
		return 0
	}
	lo, hi := max(a0, b0), min(a1, b1)
	return hi - lo
}
