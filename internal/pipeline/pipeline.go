// Package pipeline runs one transcription job end to end: fetch, prepare,
// transcribe, align, diarize, render, persist and notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jo-hoe/transcriptworker/internal/common"
	"github.com/jo-hoe/transcriptworker/internal/jobs"
	"github.com/jo-hoe/transcriptworker/internal/media"
	"github.com/jo-hoe/transcriptworker/internal/notify"
	"github.com/jo-hoe/transcriptworker/internal/speech"
	"github.com/jo-hoe/transcriptworker/internal/storage"
	"github.com/jo-hoe/transcriptworker/internal/transcript"
)

// Stage names a step of a run. It prefixes failure messages.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageFetch      Stage = "fetch"
	StagePrepare    Stage = "prepare audio"
	StageTranscribe Stage = "transcribe"
	StageAlign      Stage = "align"
	StageDiarize    Stage = "diarize"
	StageRender     Stage = "render"
	StagePersist    Stage = "persist"
)

// StageError is a fatal failure of one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOutcome is the result of a stage that may degrade instead of fail.
// Value is always usable; Reason is set when the stage fell back.
type StageOutcome[T any] struct {
	Value  T
	Reason error
}

func (o StageOutcome[T]) Degraded() bool { return o.Reason != nil }

// Notifier delivers the terminal outcome of a job.
type Notifier interface {
	Notify(ctx context.Context, o notify.Outcome) error
}

// Workspace provides a private scratch directory per run.
type Workspace interface {
	Open(jobID string) (string, func() error, error)
}

// Deps are the collaborators of a Controller. Diarizer may be nil, in which
// case diarization always degrades. Assigner defaults to speech.OverlapAssigner.
type Deps struct {
	Log         *slog.Logger
	Store       storage.Store
	Workspace   Workspace
	Media       media.Preparer
	Transcriber speech.Transcriber
	Aligner     speech.Aligner
	Diarizer    speech.Diarizer
	Assigner    speech.SpeakerAssigner
	Notifier    Notifier
}

// Controller executes jobs. It keeps no state between runs and is safe for
// concurrent use by several workers.
type Controller struct {
	log         *slog.Logger
	store       storage.Store
	workspace   Workspace
	media       media.Preparer
	transcriber speech.Transcriber
	aligner     speech.Aligner
	diarizer    speech.Diarizer
	assigner    speech.SpeakerAssigner
	notifier    Notifier
}

var _ jobs.Processor = (*Controller)(nil)

func New(d Deps) *Controller {
	assigner := d.Assigner
	if assigner == nil {
		assigner = speech.OverlapAssigner{}
	}
	return &Controller{
		log:         d.Log,
		store:       d.Store,
		workspace:   d.Workspace,
		media:       d.Media,
		transcriber: d.Transcriber,
		aligner:     d.Aligner,
		diarizer:    d.Diarizer,
		assigner:    assigner,
		notifier:    d.Notifier,
	}
}

// ResultKeys returns the artifact keys for a job.
func ResultKeys(jobID string) (markdownKey, jsonKey string) {
	base := common.ResultsPrefix + jobID
	return base + common.MarkdownExtension, base + common.JSONExtension
}

// Process decodes a queued payload and runs it. Payloads that fail to
// decode still produce an error outcome, correlated by whatever job_id
// could be recovered.
func (c *Controller) Process(ctx context.Context, item jobs.WorkItem) error {
	job, err := jobs.Decode(item.Payload)
	if err != nil {
		jobID := jobs.PeekJobID(item.Payload)
		log := c.log.With("job_id", jobID)
		log.Warn("rejecting invalid job", "err", err)
		c.deliver(ctx, log, notify.Failed(jobID, err.Error()))
		return &StageError{Stage: StageValidate, Err: err}
	}
	_, err = c.Run(ctx, job)
	return err
}

// Run executes the job and delivers exactly one outcome. The returned error
// is the terminal failure, if any, for the caller to log; delivery problems
// are logged here and never returned.
func (c *Controller) Run(ctx context.Context, job jobs.Description) (notify.Outcome, error) {
	log := c.log.With("job_id", job.JobID)
	start := time.Now()

	var outcome notify.Outcome
	err := job.Validate()
	if err != nil {
		err = &StageError{Stage: StageValidate, Err: err}
	} else {
		job = job.WithDefaults()
		log.Info("job started",
			"bucket", job.StorageBucket,
			"key", job.ObjectKey,
			"media_type", job.MediaType,
			"language", job.Language,
			"model_size", job.ModelSize,
			"diarize", job.Diarize(),
		)
		err = c.execute(ctx, log, job)
	}

	if err != nil {
		log.Error("job failed", "err", err, "elapsed", time.Since(start).Round(time.Millisecond))
		outcome = notify.Failed(job.JobID, err.Error())
	} else {
		mdKey, jsonKey := ResultKeys(job.JobID)
		log.Info("job completed", "md_key", mdKey, "json_key", jsonKey, "elapsed", time.Since(start).Round(time.Millisecond))
		outcome = notify.Done(job.JobID, mdKey, jsonKey)
	}
	c.deliver(ctx, log, outcome)
	return outcome, err
}

func (c *Controller) execute(ctx context.Context, log *slog.Logger, job jobs.Description) error {
	dir, cleanup, err := c.workspace.Open(job.JobID)
	if err != nil {
		return &StageError{Stage: StageFetch, Err: err}
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Warn("failed to remove workspace", "dir", dir, "err", err)
		}
	}()

	inputPath, err := c.fetch(ctx, log, job, dir)
	if err != nil {
		return &StageError{Stage: StageFetch, Err: err}
	}

	audioPath, err := c.prepare(ctx, log, job, inputPath, dir)
	if err != nil {
		return &StageError{Stage: StagePrepare, Err: err}
	}

	if d, err := c.media.Duration(ctx, audioPath); err != nil {
		log.Debug("could not determine audio duration", "err", err)
	} else {
		log.Info("audio ready", "duration", d.Round(time.Millisecond))
	}

	t := time.Now()
	segs, err := c.transcriber.Transcribe(ctx, audioPath, job.Language, job.ModelSize)
	if err != nil {
		return &StageError{Stage: StageTranscribe, Err: err}
	}
	log.Info("transcription finished", "segments", len(segs), "elapsed", time.Since(t).Round(time.Millisecond))

	t = time.Now()
	segs, err = c.aligner.Align(ctx, transcript.CloneSegments(segs), audioPath, job.Language)
	if err != nil {
		return &StageError{Stage: StageAlign, Err: err}
	}
	log.Info("alignment finished", "segments", len(segs), "elapsed", time.Since(t).Round(time.Millisecond))

	if job.Diarize() {
		t = time.Now()
		res := c.diarize(ctx, job, audioPath, segs)
		if res.Degraded() {
			log.Warn("diarization failed, continuing without speaker labels", "err", res.Reason)
		} else {
			log.Info("diarization finished", "elapsed", time.Since(t).Round(time.Millisecond))
		}
		segs = res.Value
	}

	result := transcript.Result{Language: job.Language, Segments: segs}
	md, err := transcript.RenderMarkdown(result)
	if err != nil {
		return &StageError{Stage: StageRender, Err: err}
	}
	js, err := transcript.EncodeJSON(result)
	if err != nil {
		return &StageError{Stage: StageRender, Err: err}
	}

	if err := c.persist(ctx, log, job, []byte(md), js); err != nil {
		return &StageError{Stage: StagePersist, Err: err}
	}
	return nil
}

func (c *Controller) fetch(ctx context.Context, log *slog.Logger, job jobs.Description, dir string) (string, error) {
	data, err := c.store.Get(ctx, job.StorageBucket, job.ObjectKey)
	if err != nil {
		return "", err
	}
	path := storage.InputPath(dir, job.ObjectKey)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write input: %w", err)
	}
	log.Info("source fetched", "size", humanize.Bytes(uint64(len(data))))
	return path, nil
}

// prepare returns the audio file to hand to the models. Audio inputs pass
// through unchanged.
func (c *Controller) prepare(ctx context.Context, log *slog.Logger, job jobs.Description, inputPath, dir string) (string, error) {
	if job.MediaType != jobs.MediaVideo {
		return inputPath, nil
	}
	ok, err := c.media.HasAudioStream(ctx, inputPath)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", media.ErrNoAudioStream
	}
	out := filepath.Join(dir, "audio.wav")
	if err := c.media.ExtractMonoPCM16k(ctx, inputPath, out); err != nil {
		return "", err
	}
	if fi, err := os.Stat(out); err == nil {
		log.Info("audio extracted", "size", humanize.Bytes(uint64(fi.Size())))
	}
	return out, nil
}

func (c *Controller) diarize(ctx context.Context, job jobs.Description, audioPath string, segs []transcript.Segment) StageOutcome[[]transcript.Segment] {
	if c.diarizer == nil {
		return StageOutcome[[]transcript.Segment]{Value: segs, Reason: errors.New("no diarizer configured")}
	}
	lo, hi := job.SpeakerBounds()
	if lo < 1 || hi < lo {
		return StageOutcome[[]transcript.Segment]{Value: segs, Reason: &StageError{Stage: StageDiarize, Err: fmt.Errorf("invalid speaker bounds min=%d max=%d", lo, hi)}}
	}
	intervals, err := c.diarizer.Diarize(ctx, audioPath, lo, hi)
	if err != nil {
		return StageOutcome[[]transcript.Segment]{Value: segs, Reason: &StageError{Stage: StageDiarize, Err: err}}
	}
	return StageOutcome[[]transcript.Segment]{Value: c.assigner.AssignSpeakers(intervals, segs)}
}

func (c *Controller) persist(ctx context.Context, log *slog.Logger, job jobs.Description, md, js []byte) error {
	mdKey, jsonKey := ResultKeys(job.JobID)
	if err := c.store.Put(ctx, job.StorageBucket, mdKey, md, common.ContentTypeMarkdown); err != nil {
		return err
	}
	if err := c.store.Put(ctx, job.StorageBucket, jsonKey, js, common.ContentTypeJSON); err != nil {
		return err
	}
	log.Info("artifacts stored", "md_size", humanize.Bytes(uint64(len(md))), "json_size", humanize.Bytes(uint64(len(js))))
	return nil
}

// deliver sends the outcome even when the run's context is already done,
// so a job that hit its execution ceiling still reports the failure.
func (c *Controller) deliver(ctx context.Context, log *slog.Logger, o notify.Outcome) {
	if c.notifier == nil {
		log.Warn("no notifier configured, outcome dropped", "status", o.Status)
		return
	}
	if err := c.notifier.Notify(context.WithoutCancel(ctx), o); err != nil {
		log.Error("callback delivery failed", "status", o.Status, "err", err)
	}
}
