package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jo-hoe/transcriptworker/internal/common"
	"github.com/jo-hoe/transcriptworker/internal/config"
	"github.com/jo-hoe/transcriptworker/internal/jobs"
)

// Enqueuer accepts work for asynchronous processing.
type Enqueuer interface {
	Enqueue(item jobs.WorkItem) error
}

type Service struct {
	Log   *slog.Logger
	Cfg   *config.Config
	Queue Enqueuer
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc(http.MethodPost+" "+common.PathJobs, svc.withCommon(svc.handleSubmitJob))

	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if limit := safeInt64(svc.Cfg.Server.MaxBodySize); limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	}
}

type acceptedResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// handleSubmitJob only checks that the body is JSON. Field validation
// happens in the worker so that every accepted job yields a callback.
func (svc *Service) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	requestID := strings.TrimSpace(r.Header.Get(common.HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(common.HeaderRequestID, requestID)

	jobID := jobs.PeekJobID(body)
	err = svc.Queue.Enqueue(jobs.WorkItem{
		RequestID:  requestID,
		JobID:      jobID,
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		svc.logger().Warn("job rejected", "job_id", jobID, "request_id", requestID, "err", err)
		if errors.Is(err, jobs.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "queue full, try later")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "not accepting jobs")
		return
	}
	svc.logger().Info("job enqueued", "job_id", jobID, "request_id", requestID)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: common.StatusQueued, JobID: jobID})
}

func (svc *Service) logger() *slog.Logger {
	if svc.Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return svc.Log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
