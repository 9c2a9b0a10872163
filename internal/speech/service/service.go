// Package service implements the speech capabilities against an HTTP
// sidecar that hosts WhisperX-style models.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/transcriptworker/internal/common"
	"github.com/jo-hoe/transcriptworker/internal/config"
	"github.com/jo-hoe/transcriptworker/internal/speech"
	"github.com/jo-hoe/transcriptworker/internal/transcript"
)

var (
	_ speech.Transcriber = (*Client)(nil)
	_ speech.Aligner     = (*Client)(nil)
	_ speech.Diarizer    = (*Client)(nil)
)

const (
	headerAuthorization    = "Authorization"
	headerDiarizationToken = "X-Diarization-Token" // #nosec G101 - header name constant, not a credential
	authSchemeBearer       = "Bearer"

	endpointTranscribe = "v1/transcribe"
	endpointAlign      = "v1/align"
	endpointDiarize    = "v1/diarize"

	defaultTimeout    = 2 * time.Hour
	errorSnippetLimit = 400
)

// Client calls the speech sidecar. One instance serves all jobs.
type Client struct {
	httpClient       *http.Client
	baseURL          string
	apiKey           string
	diarizationToken string
}

func New(cfg config.ServiceSettings) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient:       &http.Client{Timeout: timeout},
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:           cfg.APIKey,
		diarizationToken: cfg.DiarizationToken,
	}
}

type segmentsResponse struct {
	Language string               `json:"language"`
	Segments []transcript.Segment `json:"segments"`
}

type diarizeResponse struct {
	Intervals []speech.SpeakerInterval `json:"intervals"`
}

func (c *Client) Transcribe(ctx context.Context, audioPath, language, modelSize string) ([]transcript.Segment, error) {
	var out segmentsResponse
	fields := map[string]string{
		"language":   language,
		"model_size": modelSize,
	}
	if err := c.post(ctx, endpointTranscribe, audioPath, fields, nil, &out); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	return out.Segments, nil
}

func (c *Client) Align(ctx context.Context, segments []transcript.Segment, audioPath, language string) ([]transcript.Segment, error) {
	segJSON, err := json.Marshal(segments)
	if err != nil {
		return nil, fmt.Errorf("marshal segments: %w", err)
	}
	var out segmentsResponse
	fields := map[string]string{
		"language": language,
		"segments": string(segJSON),
	}
	if err := c.post(ctx, endpointAlign, audioPath, fields, nil, &out); err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}
	return out.Segments, nil
}

// Diarize fails with speech.ErrMissingDiarizationToken before any network
// call when no token is configured.
func (c *Client) Diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]speech.SpeakerInterval, error) {
	if strings.TrimSpace(c.diarizationToken) == "" {
		return nil, speech.ErrMissingDiarizationToken
	}
	var out diarizeResponse
	fields := map[string]string{
		"min_speakers": strconv.Itoa(minSpeakers),
		"max_speakers": strconv.Itoa(maxSpeakers),
	}
	headers := map[string]string{headerDiarizationToken: c.diarizationToken}
	if err := c.post(ctx, endpointDiarize, audioPath, fields, headers, &out); err != nil {
		return nil, fmt.Errorf("diarize: %w", err)
	}
	return out.Intervals, nil
}

// post streams audioPath as a multipart "file" part next to fields and
// decodes the JSON response into out.
func (c *Client) post(ctx context.Context, endpoint, audioPath string, fields, headers map[string]string, out any) error {
	u, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return fmt.Errorf("join url: %w", err)
	}
	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, f, filepath.Base(audioPath), fields))
	}()
	defer func() { _ = pr.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(common.HeaderContentType, mw.FormDataContentType())
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("speech service status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func writeMultipart(mw *multipart.Writer, audio io.Reader, filename string, fields map[string]string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	return mw.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
