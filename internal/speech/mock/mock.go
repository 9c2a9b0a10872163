// Package mock provides deterministic in-process speech models for local
// runs and tests. Output depends only on the inputs and settings.
package mock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jo-hoe/transcriptworker/internal/config"
	"github.com/jo-hoe/transcriptworker/internal/speech"
	"github.com/jo-hoe/transcriptworker/internal/transcript"
)

const (
	segmentCount  = 3
	segmentLength = 2.5 // seconds
)

var (
	_ speech.Transcriber = (*Client)(nil)
	_ speech.Aligner     = (*Client)(nil)
	_ speech.Diarizer    = (*Client)(nil)
)

type Client struct {
	delay    time.Duration
	speakers int
}

func New(cfg config.MockSettings) *Client {
	speakers := cfg.Speakers
	if speakers <= 0 {
		speakers = 1
	}
	return &Client{delay: cfg.Delay, speakers: speakers}
}

func (c *Client) Transcribe(ctx context.Context, audioPath, language, modelSize string) ([]transcript.Segment, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("mock transcribe: %w", err)
	}
	segs := make([]transcript.Segment, segmentCount)
	for i := range segs {
		start := float64(i) * segmentLength
		segs[i] = transcript.Segment{
			Start: start,
			End:   start + segmentLength,
			Text:  fmt.Sprintf(" mock segment %d in %s using %s", i+1, language, modelSize),
		}
	}
	return segs, nil
}

// Align spreads each segment's words evenly over its span.
func (c *Client) Align(ctx context.Context, segments []transcript.Segment, audioPath, language string) ([]transcript.Segment, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out := transcript.CloneSegments(segments)
	for i := range out {
		tokens := strings.Fields(out[i].Text)
		out[i].Text = strings.Join(tokens, " ")
		if len(tokens) == 0 {
			continue
		}
		step := (out[i].End - out[i].Start) / float64(len(tokens))
		words := make([]transcript.Word, len(tokens))
		for j, tok := range tokens {
			end := out[i].Start + float64(j+1)*step
			if j == len(tokens)-1 {
				end = out[i].End
			}
			score := 1.0
			words[j] = transcript.Word{
				Text:  tok,
				Start: out[i].Start + float64(j)*step,
				End:   &end,
				Score: &score,
			}
		}
		out[i].Words = words
	}
	return out, nil
}

// Diarize alternates speakers every segment length, using the configured
// speaker count clamped to the requested bounds.
func (c *Client) Diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]speech.SpeakerInterval, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	n := c.speakers
	if n < minSpeakers {
		n = minSpeakers
	}
	if maxSpeakers > 0 && n > maxSpeakers {
		n = maxSpeakers
	}
	if n < 1 {
		n = 1
	}
	out := make([]speech.SpeakerInterval, segmentCount)
	for i := range out {
		start := float64(i) * segmentLength
		out[i] = speech.SpeakerInterval{
			Start:   start,
			End:     start + segmentLength,
			Speaker: fmt.Sprintf("SPEAKER_%02d", i%n),
		}
	}
	return out, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
