package common

import "testing"

func TestConstantsValues(t *testing.T) {
	if ContentTypeJSON != "application/json" || ContentTypeMarkdown != "text/markdown" {
		t.Fatalf("content types mismatch: %q, %q", ContentTypeJSON, ContentTypeMarkdown)
	}
	if HeaderSignature != "X-Modal-Signature" {
		t.Fatalf("HeaderSignature = %q", HeaderSignature)
	}
	if HeaderAPIKey != "X-API-Key" {
		t.Fatalf("HeaderAPIKey = %q", HeaderAPIKey)
	}
	if PathHealthz != "/healthz" || PathJobs != "/v1/jobs" {
		t.Fatalf("paths mismatch: %q, %q", PathHealthz, PathJobs)
	}
	if DefaultQueueCapacity <= 0 || DefaultWorkerCount <= 0 {
		t.Fatalf("defaults should be positive")
	}
	if ResultsPrefix != "results/" || MarkdownExtension != ".md" || JSONExtension != ".json" {
		t.Fatalf("artifact layout mismatch")
	}
	if StatusDone != "done" || StatusError != "error" || StatusQueued != "queued" {
		t.Fatalf("status constants mismatch")
	}
	if PCMSampleRate != 16000 {
		t.Fatalf("PCMSampleRate = %d", PCMSampleRate)
	}
}
