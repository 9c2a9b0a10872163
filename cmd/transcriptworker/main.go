package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	appcfg "github.com/jo-hoe/transcriptworker/internal/config"
	"github.com/jo-hoe/transcriptworker/internal/jobs"
	"github.com/jo-hoe/transcriptworker/internal/media"
	"github.com/jo-hoe/transcriptworker/internal/notify"
	"github.com/jo-hoe/transcriptworker/internal/pipeline"
	"github.com/jo-hoe/transcriptworker/internal/server"
	"github.com/jo-hoe/transcriptworker/internal/speech"
	"github.com/jo-hoe/transcriptworker/internal/speech/awstranscribe"
	"github.com/jo-hoe/transcriptworker/internal/speech/mock"
	"github.com/jo-hoe/transcriptworker/internal/speech/service"
	"github.com/jo-hoe/transcriptworker/internal/storage"
	"github.com/jo-hoe/transcriptworker/internal/storage/s3store"
	"github.com/jo-hoe/transcriptworker/internal/storage/sqlitestore"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: $"+appcfg.EnvConfigPath+" or ./config.yaml)")
	jobPath := flag.String("job", "", "run a single job description from this JSON file and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := buildStore(rootCtx, cfg)
	if err != nil {
		logger.Error("init storage", "provider", cfg.Storage.Provider, "err", err)
		os.Exit(1)
	}
	defer func() { _ = closeStore() }()

	deps, err := buildSpeech(rootCtx, logger, cfg)
	if err != nil {
		logger.Error("init speech models", "provider", cfg.Speech.Provider, "err", err)
		os.Exit(1)
	}

	if err := notify.ValidateURL(cfg.Callback.URL); err != nil {
		logger.Warn("callback url invalid, outcomes will not be delivered", "err", err)
	}
	if cfg.Callback.Secret == "" {
		logger.Warn("callback secret not set, outcomes will not be delivered")
	}

	deps.Log = logger
	deps.Store = store
	deps.Workspace = storage.NewWorkspace(cfg.Server.WorkDir)
	deps.Media = media.NewFFmpeg(logger, cfg.Media)
	deps.Notifier = notify.New(logger, cfg.Callback)
	controller := pipeline.New(deps)

	if *jobPath != "" {
		if err := runOnce(rootCtx, cfg, controller, *jobPath); err != nil {
			logger.Error("job failed", "err", err)
			os.Exit(1)
		}
		return
	}

	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount, cfg.Execution.Timeout)
	if err := queue.Start(rootCtx, controller); err != nil {
		logger.Error("start queue", "err", err)
		os.Exit(1)
	}

	httpSrv := server.NewHTTPServer(&server.Service{Log: logger, Cfg: cfg, Queue: queue})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

func runOnce(ctx context.Context, cfg *appcfg.Config, p jobs.Processor, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}
	ctx = context.WithoutCancel(ctx)
	if cfg.Execution.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Execution.Timeout)
		defer cancel()
	}
	return p.Process(ctx, jobs.WorkItem{JobID: jobs.PeekJobID(raw), Payload: raw})
}

func buildStore(ctx context.Context, cfg *appcfg.Config) (storage.Store, func() error, error) {
	switch cfg.Storage.Provider {
	case "sqlite":
		s, err := sqlitestore.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := s3store.New(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
}

// buildSpeech selects the model backends. The aws transcriber replaces only
// transcription; alignment and diarization stay with the provider.
func buildSpeech(ctx context.Context, log *slog.Logger, cfg *appcfg.Config) (pipeline.Deps, error) {
	var deps pipeline.Deps
	switch cfg.Speech.Provider {
	case "mock":
		m := mock.New(cfg.Speech.Mock)
		deps.Transcriber, deps.Aligner, deps.Diarizer = m, m, m
	default:
		c := service.New(cfg.Speech.Service)
		deps.Transcriber, deps.Aligner, deps.Diarizer = c, c, c
		if cfg.Speech.Service.DiarizationToken == "" {
			log.Warn("diarization token not set, speaker labels will be UNKNOWN")
		}
	}
	deps.Assigner = speech.OverlapAssigner{}

	if cfg.Speech.Transcriber == "aws" {
		t, err := buildAWSTranscriber(ctx, log, cfg)
		if err != nil {
			return deps, err
		}
		deps.Transcriber = t
	}
	return deps, nil
}

func buildAWSTranscriber(ctx context.Context, log *slog.Logger, cfg *appcfg.Config) (*awstranscribe.Transcriber, error) {
	scratchCfg := cfg.Storage.S3
	scratchCfg.Region = cfg.Speech.AWS.Region
	scratch, err := s3store.New(ctx, scratchCfg)
	if err != nil {
		return nil, fmt.Errorf("scratch bucket client: %w", err)
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Speech.AWS.Region)}
	if cfg.Storage.S3.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.S3.AccessKeyID, cfg.Storage.S3.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return awstranscribe.New(log, awstranscribe.NewClient(awsCfg, ""), scratch, cfg.Speech.AWS), nil
}
