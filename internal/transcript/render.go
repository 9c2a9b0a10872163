package transcript

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrEmptyInput is returned when a result has no segments to render.
var ErrEmptyInput = errors.New("transcript has no segments")

// RenderMarkdown builds the markdown document for a transcription result:
// a speaker-merged full transcript, per-segment blocks with word-level
// timestamps, and a summary footer.
func RenderMarkdown(res Result) (string, error) {
	if len(res.Segments) == 0 {
		return "", ErrEmptyInput
	}

	lines := make([]string, 0, len(res.Segments)*6)
	lines = appendTurns(lines, res.Segments)
	lines = appendSegmentBlocks(lines, res.Segments)

	first, last := res.Segments[0], res.Segments[len(res.Segments)-1]
	lines = append(lines,
		"## Summary",
		"",
		fmt.Sprintf("Total segments: %d", len(res.Segments)),
		fmt.Sprintf("Total duration: %s", FormatTimestamp(last.End-first.Start)),
		"",
	)
	return strings.Join(lines, "\n"), nil
}

// appendTurns writes consecutive same-speaker segments as one paragraph.
func appendTurns(lines []string, segments []Segment) []string {
	lines = append(lines, "# Full Transcript", "")

	var turn strings.Builder
	current := ""
	for i, seg := range segments {
		speaker := seg.SpeakerLabel()
		text := strings.TrimSpace(seg.Text)
		if i > 0 && speaker == current {
			turn.WriteString(" ")
			turn.WriteString(text)
			continue
		}
		if i > 0 {
			lines = append(lines, turn.String(), "")
			turn.Reset()
		}
		current = speaker
		fmt.Fprintf(&turn, "**%s:** %s", speaker, text)
	}
	lines = append(lines, turn.String(), "")
	return lines
}

func appendSegmentBlocks(lines []string, segments []Segment) []string {
	lines = append(lines, "# Timestamped Transcript", "")

	for i, seg := range segments {
		speaker := seg.SpeakerLabel()
		lines = append(lines,
			fmt.Sprintf("## Segment %d: [%s - %s] (%s)", i+1, FormatTimestamp(seg.Start), FormatTimestamp(seg.End), speaker),
			"",
			strings.TrimSpace(seg.Text),
			"",
		)
		if len(seg.Words) == 0 {
			continue
		}

		lines = append(lines, "### Word-level timestamps", "")
		current := ""
		for j, w := range seg.Words {
			wordSpeaker := w.Speaker
			if wordSpeaker == "" {
				wordSpeaker = speaker
			}
			if j == 0 || wordSpeaker != current {
				lines = append(lines, "", fmt.Sprintf("**%s:**", wordSpeaker))
				current = wordSpeaker
			}
			lines = append(lines, fmt.Sprintf("- %s @ %s", strings.TrimSpace(w.Text), FormatTimestamp(w.Start)))
		}
		lines = append(lines, "")
	}
	return lines
}

// FormatTimestamp truncates seconds to a whole number and formats HH:MM:SS.
// Negative, NaN, infinite and out-of-range values format as zero.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 || seconds >= math.MaxInt64 {
		seconds = 0
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
