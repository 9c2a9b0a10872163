package speech

import (
	"testing"

	"github.com/jo-hoe/transcriptworker/internal/transcript"
)

func f(v float64) *float64 { return &v }

func TestOverlapAssigner_SegmentsAndWords(t *testing.T) {
	intervals := []SpeakerInterval{
		{Start: 0, End: 4, Speaker: "SPEAKER_00"},
		{Start: 4, End: 10, Speaker: "SPEAKER_01"},
	}
	segs := []transcript.Segment{
		{Start: 0, End: 5, Text: "hello there", Words: []transcript.Word{
			{Text: "hello", Start: 0.5, End: f(1)},
			{Text: "there", Start: 4.2, End: f(4.8)},
		}},
		{Start: 6, End: 9, Text: "hi"},
		{Start: 20, End: 21, Text: "silence"},
	}

	got := OverlapAssigner{}.AssignSpeakers(intervals, segs)

	if got[0].Speaker != "SPEAKER_00" {
		t.Fatalf("segment 0 speaker = %q", got[0].Speaker)
	}
	if got[0].Words[0].Speaker != "SPEAKER_00" || got[0].Words[1].Speaker != "SPEAKER_01" {
		t.Fatalf("word speakers = %q %q", got[0].Words[0].Speaker, got[0].Words[1].Speaker)
	}
	if got[1].Speaker != "SPEAKER_01" {
		t.Fatalf("segment 1 speaker = %q", got[1].Speaker)
	}
	if got[2].Speaker != "" || got[2].SpeakerLabel() != transcript.SpeakerUnknown {
		t.Fatalf("segment without overlap should stay unlabeled, got %q", got[2].Speaker)
	}
}

func TestOverlapAssigner_DoesNotAliasInput(t *testing.T) {
	segs := []transcript.Segment{{Start: 0, End: 1, Words: []transcript.Word{{Text: "a", Start: 0, End: f(1)}}}}
	out := OverlapAssigner{}.AssignSpeakers([]SpeakerInterval{{Start: 0, End: 1, Speaker: "S"}}, segs)
	if segs[0].Speaker != "" || segs[0].Words[0].Speaker != "" {
		t.Fatalf("input was mutated: %+v", segs[0])
	}
	if out[0].Speaker != "S" {
		t.Fatalf("output speaker = %q", out[0].Speaker)
	}
}

func TestOverlapAssigner_TieGoesToFirstSpeaker(t *testing.T) {
	intervals := []SpeakerInterval{
		{Start: 0, End: 1, Speaker: "B"},
		{Start: 1, End: 2, Speaker: "A"},
	}
	out := OverlapAssigner{}.AssignSpeakers(intervals, []transcript.Segment{{Start: 0, End: 2}})
	if out[0].Speaker != "B" {
		t.Fatalf("tie speaker = %q, want B", out[0].Speaker)
	}
}

func TestOverlapAssigner_AccumulatesPerSpeaker(t *testing.T) {
	intervals := []SpeakerInterval{
		{Start: 0, End: 1, Speaker: "A"},
		{Start: 1, End: 2.5, Speaker: "B"},
		{Start: 2.5, End: 3.5, Speaker: "A"},
	}
	out := OverlapAssigner{}.AssignSpeakers(intervals, []transcript.Segment{{Start: 0, End: 3.5}})
	if out[0].Speaker != "A" {
		t.Fatalf("speaker = %q, want A (2s vs 1.5s)", out[0].Speaker)
	}
}

func TestOverlapAssigner_InstantWord(t *testing.T) {
	intervals := []SpeakerInterval{{Start: 0, End: 2, Speaker: "A"}}
	segs := []transcript.Segment{{Start: 0, End: 2, Words: []transcript.Word{{Text: "x", Start: 1}}}}
	out := OverlapAssigner{}.AssignSpeakers(intervals, segs)
	if out[0].Words[0].Speaker != "A" {
		t.Fatalf("instant word speaker = %q", out[0].Words[0].Speaker)
	}
}

func TestOverlapAssigner_NoIntervals(t *testing.T) {
	segs := []transcript.Segment{{Start: 0, End: 1, Text: "x"}}
	out := OverlapAssigner{}.AssignSpeakers(nil, segs)
	if len(out) != 1 || out[0].Speaker != "" {
		t.Fatalf("unexpected output %+v", out)
	}
}
