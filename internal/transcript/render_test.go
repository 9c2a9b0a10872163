package transcript

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func f64(v float64) *float64 { return &v }

func fullTranscriptSection(t *testing.T, md string) string {
	t.Helper()
	const head = "# Full Transcript\n\n"
	if !strings.HasPrefix(md, head) {
		t.Fatalf("document does not start with full transcript header: %q", md)
	}
	end := strings.Index(md, "\n\n# Timestamped Transcript")
	if end < 0 {
		t.Fatalf("timestamped section missing: %q", md)
	}
	return md[len(head):end]
}

func TestRenderMarkdown_SingleSegmentWithWords(t *testing.T) {
	res := Result{Segments: []Segment{{
		Start:   0,
		End:     2,
		Text:    " hi there ",
		Speaker: "S1",
		Words: []Word{
			{Text: "hi", Start: 0, End: f64(0.5)},
			{Text: " there", Start: 1.2},
		},
	}}}

	got, err := RenderMarkdown(res)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	want := strings.Join([]string{
		"# Full Transcript",
		"",
		"**S1:** hi there",
		"",
		"# Timestamped Transcript",
		"",
		"## Segment 1: [00:00:00 - 00:00:02] (S1)",
		"",
		"hi there",
		"",
		"### Word-level timestamps",
		"",
		"",
		"**S1:**",
		"- hi @ 00:00:00",
		"- there @ 00:00:01",
		"",
		"## Summary",
		"",
		"Total segments: 1",
		"Total duration: 00:00:02",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("markdown mismatch\n--- got ---\n%s\n--- want ---\n%s", got, want)
	}
}

func TestRenderMarkdown_TurnMerging(t *testing.T) {
	cases := []struct {
		name     string
		speakers []string
		changes  int
		want     string
	}{
		{"single speaker", []string{"A", "A", "A"}, 0, "**A:** s0 s1 s2"},
		{"alternating", []string{"A", "B", "A"}, 2, "**A:** s0\n\n**B:** s1\n\n**A:** s2"},
		{"runs", []string{"A", "A", "B", "B", "B", "C"}, 2, "**A:** s0 s1\n\n**B:** s2 s3 s4\n\n**C:** s5"},
		{"missing speaker", []string{"", "", "A"}, 1, "**UNKNOWN:** s0 s1\n\n**A:** s2"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var segs []Segment
			for i, sp := range c.speakers {
				segs = append(segs, Segment{
					Start:   float64(i),
					End:     float64(i) + 1,
					Text:    "s" + string(rune('0'+i)),
					Speaker: sp,
				})
			}
			md, err := RenderMarkdown(Result{Segments: segs})
			if err != nil {
				t.Fatalf("RenderMarkdown: %v", err)
			}
			section := fullTranscriptSection(t, md)
			if section != c.want {
				t.Fatalf("full transcript = %q, want %q", section, c.want)
			}
			if got := strings.Count(section, "\n\n"); got != c.changes {
				t.Fatalf("blank separators = %d, want %d", got, c.changes)
			}
			if strings.Count(section, "\n") != 2*c.changes {
				t.Fatalf("unexpected line breaks inside a turn: %q", section)
			}
		})
	}
}

func TestRenderMarkdown_EmptyInput(t *testing.T) {
	md, err := RenderMarkdown(Result{})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if md != "" {
		t.Fatalf("expected no partial document, got %q", md)
	}
}

func TestRenderMarkdown_SegmentWithoutWordsHasNoWordList(t *testing.T) {
	res := Result{Segments: []Segment{
		{Start: 0, End: 1, Text: "first", Speaker: "A"},
		{Start: 1, End: 3, Text: "second", Speaker: "B", Words: []Word{{Text: "second", Start: 1}}},
	}}
	md, err := RenderMarkdown(res)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if strings.Count(md, "### Word-level timestamps") != 1 {
		t.Fatalf("expected exactly one word list:\n%s", md)
	}
	block1 := md[strings.Index(md, "## Segment 1:"):strings.Index(md, "## Segment 2:")]
	if strings.Contains(block1, "Word-level") || strings.Contains(block1, "- ") {
		t.Fatalf("segment without words rendered a list: %q", block1)
	}
}

func TestRenderMarkdown_WordSpeakerSubBlocks(t *testing.T) {
	res := Result{Segments: []Segment{{
		Start:   0,
		End:     4,
		Text:    "a b c d",
		Speaker: "S1",
		Words: []Word{
			{Text: "a", Start: 0},
			{Text: "b", Start: 1, Speaker: "S1"},
			{Text: "c", Start: 2, Speaker: "S2"},
			{Text: "d", Start: 3},
		},
	}}}
	md, err := RenderMarkdown(res)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	want := "\n**S1:**\n- a @ 00:00:00\n- b @ 00:00:01\n\n**S2:**\n- c @ 00:00:02\n\n**S1:**\n- d @ 00:00:03\n"
	if !strings.Contains(md, want) {
		t.Fatalf("word sub-blocks missing, got:\n%s", md)
	}
}

func TestRenderMarkdown_SummaryDuration(t *testing.T) {
	res := Result{Segments: []Segment{
		{Start: 5.9, End: 10, Text: "x"},
		{Start: 3700, End: 3725.7, Text: "y"},
	}}
	md, err := RenderMarkdown(res)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if !strings.Contains(md, "Total segments: 2\nTotal duration: 01:01:59\n") {
		t.Fatalf("summary mismatch:\n%s", md)
	}
}

func TestRenderMarkdown_Deterministic(t *testing.T) {
	res := Result{Segments: []Segment{
		{Start: 0, End: 1.5, Text: "hello", Speaker: "A", Words: []Word{{Text: "hello", Start: 0.1}}},
		{Start: 1.5, End: 2.5, Text: "world", Speaker: "B"},
	}}
	a, err := RenderMarkdown(res)
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	b, err := RenderMarkdown(res)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if a != b {
		t.Fatalf("renders differ")
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00"},
		{0.999, "00:00:00"},
		{59.9, "00:00:59"},
		{61, "00:01:01"},
		{3599.99, "00:59:59"},
		{3600, "01:00:00"},
		{6*3600 - 1, "05:59:59"},
		{-3, "00:00:00"},
		{math.NaN(), "00:00:00"},
		{math.Inf(1), "00:00:00"},
		{math.Inf(-1), "00:00:00"},
		{1e300, "00:00:00"},
	}
	for _, c := range cases {
		if got := FormatTimestamp(c.in); got != c.want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
