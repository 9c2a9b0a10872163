package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey        = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderSignature     = "X-Modal-Signature"
	HeaderRequestID     = "X-Request-ID"
	HeaderContentType   = "Content-Type"
	ContentTypeJSON     = "application/json"
	ContentTypeMarkdown = "text/markdown"
)

// API paths
const (
	PathHealthz = "/healthz"
	PathJobs    = "/v1/jobs"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 2
	SQLiteBusyTimeoutMS  = 5000
)

// Media tooling
const (
	FFmpegExecutable  = "ffmpeg"
	FFprobeExecutable = "ffprobe"
	PCMSampleRate     = 16000
)

// Artifact layout in the job's bucket
const (
	ResultsPrefix      = "results/"
	MarkdownExtension  = ".md"
	JSONExtension      = ".json"
	WorkspaceDirPrefix = "transcriptworker-"
)

// Callback and ingress status strings
const (
	StatusDone   = "done"
	StatusError  = "error"
	StatusQueued = "queued"
)
