// Package awstranscribe implements speech.Transcriber with Amazon
// Transcribe. Audio is staged in a scratch bucket for the duration of one
// call and removed afterwards.
package awstranscribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/google/uuid"

	"github.com/jo-hoe/transcriptworker/internal/config"
	"github.com/jo-hoe/transcriptworker/internal/speech"
	"github.com/jo-hoe/transcriptworker/internal/transcript"
)

var _ speech.Transcriber = (*Transcriber)(nil)

const (
	scratchPrefix       = "scratch/"
	defaultPollInterval = 10 * time.Second
)

// languageCodes maps the short codes jobs carry to Transcribe locales.
var languageCodes = map[string]types.LanguageCode{
	"en": types.LanguageCodeEnUs,
	"de": types.LanguageCodeDeDe,
	"fr": types.LanguageCodeFrFr,
	"es": types.LanguageCodeEsEs,
	"it": types.LanguageCodeItIt,
	"pt": types.LanguageCodePtBr,
	"nl": types.LanguageCodeNlNl,
	"ja": types.LanguageCodeJaJp,
}

type mediaFormat struct {
	format      types.MediaFormat
	contentType string
}

// mediaFormats covers the containers Transcribe accepts, keyed by extension.
var mediaFormats = map[string]mediaFormat{
	".wav":  {types.MediaFormatWav, "audio/wav"},
	".mp3":  {types.MediaFormatMp3, "audio/mpeg"},
	".mp4":  {types.MediaFormatMp4, "video/mp4"},
	".m4a":  {types.MediaFormatM4a, "audio/mp4"},
	".flac": {types.MediaFormatFlac, "audio/flac"},
	".ogg":  {types.MediaFormatOgg, "audio/ogg"},
	".webm": {types.MediaFormatWebm, "audio/webm"},
	".amr":  {types.MediaFormatAmr, "audio/amr"},
}

type api interface {
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

type objectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
}

type Transcriber struct {
	log          *slog.Logger
	client       api
	store        objectStore
	bucket       string
	pollInterval time.Duration
	newID        func() string
}

// New wires a Transcribe client with the store used for scratch objects.
func New(log *slog.Logger, client *transcribe.Client, store objectStore, cfg config.AWSSettings) *Transcriber {
	return newTranscriber(log, client, store, cfg)
}

// NewClient builds a Transcribe client from an already loaded AWS config.
func NewClient(awsCfg aws.Config, region string) *transcribe.Client {
	return transcribe.NewFromConfig(awsCfg, func(o *transcribe.Options) {
		if region != "" {
			o.Region = region
		}
	})
}

func newTranscriber(log *slog.Logger, client api, store objectStore, cfg config.AWSSettings) *Transcriber {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Transcriber{
		log:          log,
		client:       client,
		store:        store,
		bucket:       cfg.ScratchBucket,
		pollInterval: poll,
		newID:        uuid.NewString,
	}
}

// Transcribe ignores modelSize; Transcribe picks its own model.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, language, modelSize string) ([]transcript.Segment, error) {
	lang, err := languageCode(language)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(audioPath))
	mf, ok := mediaFormats[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported media format %q for transcribe", ext)
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	id := t.newID()
	audioKey := scratchPrefix + id + "/audio" + ext
	outputKey := scratchPrefix + id + "/transcript.json"
	jobName := "transcriptworker-" + id

	if err := t.store.Put(ctx, t.bucket, audioKey, audio, mf.contentType); err != nil {
		return nil, fmt.Errorf("stage audio: %w", err)
	}
	defer t.removeScratch(ctx, audioKey, outputKey)

	mediaURI := fmt.Sprintf("s3://%s/%s", t.bucket, audioKey)
	_, err = t.client.StartTranscriptionJob(ctx, &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: &jobName,
		LanguageCode:         lang,
		MediaFormat:          mf.format,
		Media:                &types.Media{MediaFileUri: &mediaURI},
		OutputBucketName:     aws.String(t.bucket),
		OutputKey:            aws.String(outputKey),
	})
	if err != nil {
		return nil, fmt.Errorf("start transcription job: %w", err)
	}
	t.log.Info("transcription job started", "name", jobName, "language", lang)

	if err := t.wait(ctx, jobName); err != nil {
		return nil, err
	}

	raw, err := t.store.Get(ctx, t.bucket, outputKey)
	if err != nil {
		return nil, fmt.Errorf("fetch transcription output: %w", err)
	}
	var res result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("parse transcription output: %w", err)
	}
	return segmentsFromItems(res.Results.Items)
}

func (t *Transcriber) wait(ctx context.Context, jobName string) error {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			out, err := t.client.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
				TranscriptionJobName: &jobName,
			})
			if err != nil {
				return fmt.Errorf("get transcription job: %w", err)
			}
			job := out.TranscriptionJob
			if job == nil {
				return fmt.Errorf("transcription job %s missing from response", jobName)
			}
			t.log.Debug("transcription job status", "name", jobName, "status", job.TranscriptionJobStatus)
			switch job.TranscriptionJobStatus {
			case types.TranscriptionJobStatusCompleted:
				return nil
			case types.TranscriptionJobStatusFailed:
				return fmt.Errorf("transcription job failed: %s", aws.ToString(job.FailureReason))
			}
		}
	}
}

func (t *Transcriber) removeScratch(ctx context.Context, keys ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, k := range keys {
		if err := t.store.Delete(ctx, t.bucket, k); err != nil {
			t.log.Warn("failed to remove scratch object", "key", k, "err", err)
		}
	}
}

func languageCode(lang string) (types.LanguageCode, error) {
	l := strings.TrimSpace(lang)
	if code, ok := languageCodes[strings.ToLower(l)]; ok {
		return code, nil
	}
	if strings.Contains(l, "-") {
		return types.LanguageCode(l), nil
	}
	return "", fmt.Errorf("language %q not supported by Amazon Transcribe", lang)
}

type result struct {
	Results struct {
		Items []item `json:"items"`
	} `json:"results"`
}

type item struct {
	StartTime    string        `json:"start_time,omitempty"`
	EndTime      string        `json:"end_time,omitempty"`
	Type         string        `json:"type"`
	Alternatives []alternative `json:"alternatives"`
}

type alternative struct {
	Confidence string `json:"confidence"`
	Content    string `json:"content"`
}

// segmentsFromItems groups timed words into segments that end at sentence
// punctuation. Punctuation attaches to the preceding word.
func segmentsFromItems(items []item) ([]transcript.Segment, error) {
	var segs []transcript.Segment
	var cur *transcript.Segment
	var text strings.Builder

	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = text.String()
		segs = append(segs, *cur)
		cur = nil
		text.Reset()
	}

	for _, it := range items {
		if len(it.Alternatives) == 0 {
			continue
		}
		content := it.Alternatives[0].Content
		switch it.Type {
		case "pronunciation":
			start, err := strconv.ParseFloat(it.StartTime, 64)
			if err != nil {
				return nil, fmt.Errorf("item start_time %q: %w", it.StartTime, err)
			}
			end, err := strconv.ParseFloat(it.EndTime, 64)
			if err != nil {
				return nil, fmt.Errorf("item end_time %q: %w", it.EndTime, err)
			}
			w := transcript.Word{Text: content, Start: start, End: &end}
			if c, err := strconv.ParseFloat(it.Alternatives[0].Confidence, 64); err == nil {
				w.Score = &c
			}
			if cur == nil {
				cur = &transcript.Segment{Start: start}
			} else {
				text.WriteByte(' ')
			}
			text.WriteString(content)
			cur.End = end
			cur.Words = append(cur.Words, w)
		case "punctuation":
			if cur == nil {
				continue
			}
			text.WriteString(content)
			if n := len(cur.Words); n > 0 {
				cur.Words[n-1].Text += content
			}
			if strings.ContainsAny(content, ".?!") {
				flush()
			}
		}
	}
	flush()
	return segs, nil
}
