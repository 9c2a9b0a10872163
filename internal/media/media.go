// Package media probes and demuxes source files with ffprobe and ffmpeg.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/transcriptworker/internal/common"
	"github.com/jo-hoe/transcriptworker/internal/config"
)

// ErrNoAudioStream is returned for video inputs without an audio track.
var ErrNoAudioStream = errors.New("input video does not contain an audio track - cannot transcribe")

// Preparer checks and converts source media for the speech models.
type Preparer interface {
	HasAudioStream(ctx context.Context, path string) (bool, error)
	ExtractMonoPCM16k(ctx context.Context, inPath, outPath string) error
	Duration(ctx context.Context, path string) (time.Duration, error)
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// FFmpeg implements Preparer by shelling out to the ffmpeg tool suite.
type FFmpeg struct {
	log         *slog.Logger
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
}

// NewFFmpeg uses the configured binaries, falling back to PATH lookups.
func NewFFmpeg(log *slog.Logger, cfg config.MediaConfig) *FFmpeg {
	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = common.FFmpegExecutable
	}
	ffprobe := strings.TrimSpace(cfg.FFprobePath)
	if ffprobe == "" {
		ffprobe = common.FFprobeExecutable
	}
	return &FFmpeg{log: log, ffmpegPath: ffmpeg, ffprobePath: ffprobe, runner: &execRunner{}}
}

// HasAudioStream reports whether path has at least one audio stream. A probe
// that cannot run is treated as "no audio" and logged.
func (f *FFmpeg) HasAudioStream(ctx context.Context, path string) (bool, error) {
	res, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		f.log.Warn("ffprobe failed, assuming no audio", "path", path, "exit", res.ExitCode, "stderr", tail(res.Stderr), "err", err)
		return false, nil
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// ExtractMonoPCM16k writes the first audio stream of inPath to outPath as
// 16-bit little-endian PCM WAV, mono, 16 kHz.
func (f *FFmpeg) ExtractMonoPCM16k(ctx context.Context, inPath, outPath string) error {
	res, err := f.runner.Run(ctx, f.ffmpegPath,
		"-y",
		"-loglevel", "error",
		"-i", inPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(common.PCMSampleRate),
		"-ac", "1",
		outPath,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg exited with %d: %s: %w", res.ExitCode, tail(res.Stderr), err)
	}
	return nil
}

// Duration reads the container duration. Used for logging only.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	res, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %s: %w", tail(res.Stderr), err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(res.Stdout), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// tail keeps the last part of tool output for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	const limit = 500
	if len(s) > limit {
		return "..." + s[len(s)-limit:]
	}
	return s
}
