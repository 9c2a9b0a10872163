package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/transcriptworker/internal/common"
	"github.com/jo-hoe/transcriptworker/internal/config"
)

// Error classes returned by Notify. Match with errors.Is.
var (
	ErrConfiguration = errors.New("callback misconfigured")
	ErrAuth          = errors.New("callback signing secret not configured")
	ErrDelivery      = errors.New("callback delivery failed")
)

const (
	defaultTimeout    = 30 * time.Second
	errorSnippetLimit = 500
)

// Notifier posts signed outcomes to the configured callback URL.
// Delivery is a single attempt; only 204 No Content counts as accepted.
type Notifier struct {
	log    *slog.Logger
	url    string
	secret string
	http   *http.Client
}

// New creates a Notifier. Configuration problems surface on Notify, so a
// job can still run to completion and log why its callback was dropped.
func New(log *slog.Logger, cfg config.CallbackConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{
		log:    log,
		url:    strings.TrimSpace(cfg.URL),
		secret: cfg.Secret,
		http:   &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient allows tests to inject a custom HTTP client.
func (n *Notifier) WithHTTPClient(c *http.Client) *Notifier {
	n.http = c
	return n
}

// Notify signs and delivers one outcome.
func (n *Notifier) Notify(ctx context.Context, o Outcome) error {
	if err := ValidateURL(n.url); err != nil {
		return err
	}
	if n.secret == "" {
		return ErrAuth
	}

	body, err := o.Encode()
	if err != nil {
		return err
	}
	signature := Sign(n.secret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: new request: %v", ErrConfiguration, err)
	}
	req.Header.Set(common.HeaderSignature, signature)
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
	n.log.Info("callback sent", "job_id", o.JobID, "status", o.Status, "http_status", resp.StatusCode)
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Sign returns the hex-encoded HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateURL checks that the callback destination is an absolute http(s)
// URL naming a route. A bare origin is rejected.
func ValidateURL(raw string) error {
	v := strings.TrimSpace(raw)
	if v == "" {
		return fmt.Errorf("%w: callback url is empty", ErrConfiguration)
	}
	u, err := url.Parse(v)
	if err != nil {
		return fmt.Errorf("%w: parse callback url: %v", ErrConfiguration, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: callback url %q must be an absolute http(s) url", ErrConfiguration, v)
	}
	if u.Path == "" || u.Path == "/" {
		return fmt.Errorf("%w: callback url %q must include route path", ErrConfiguration, v)
	}
	return nil
}
