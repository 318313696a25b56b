// Package transport submits packaged trees to the course submission server.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/Ning0612/submitguard/internal/logger"
)

// Result is the outcome of a submission
type Result int

const (
	// ResultTransportError means the server was reachable but the upload failed or was refused
	ResultTransportError Result = iota
	// ResultSuccess means the server answered "success"
	ResultSuccess
	// ResultUnreachable means the health check failed
	ResultUnreachable
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Project sent successfully."
	case ResultUnreachable:
		return "No response from server."
	}
	return "Error sending the project."
}

// Defaults for New
const (
	DefaultTimeout      = 2 * time.Minute
	DefaultHealthChecks = 3
	successBody         = "success"
	fieldName           = "file"
)

// Uploader posts archives as multipart form data
type Uploader struct {
	health *retryablehttp.Client
	upload *retryablehttp.Client
}

// Option configures an Uploader
type Option func(*Uploader)

// WithHTTPClient replaces the underlying HTTP client of both phases
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) {
		u.health.HTTPClient = c
		u.upload.HTTPClient = c
	}
}

// WithHealthRetries sets how many times an unanswered health check is retried
func WithHealthRetries(n int) Option {
	return func(u *Uploader) {
		u.health.RetryMax = n
	}
}

// New creates an uploader. The health check is retried with backoff; the
// upload itself is sent once so a slow server never receives duplicates.
func New(opts ...Option) *Uploader {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = DefaultTimeout
	log := logger.With("component", "transport")

	health := retryablehttp.NewClient()
	health.HTTPClient = httpClient
	health.Logger = log
	health.RetryMax = DefaultHealthChecks
	health.RetryWaitMin = 200 * time.Millisecond
	health.RetryWaitMax = 2 * time.Second

	upload := retryablehttp.NewClient()
	upload.HTTPClient = httpClient
	upload.Logger = log
	upload.RetryMax = 0

	u := &Uploader{health: health, upload: upload}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// NormalizeServer trims trailing whitespace and one trailing slash
func NormalizeServer(server string) string {
	server = strings.TrimRightFunc(server, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == '\n'
	})
	return strings.TrimSuffix(server, "/")
}

// Upload checks that server answers, then posts zipPath as name+".zip" to
// <server>/upload/<poolID>. The returned error explains a non-success result.
func (u *Uploader) Upload(ctx context.Context, server, poolID, name, zipPath string) (Result, error) {
	server = NormalizeServer(server)
	log := logger.With("server", server, "pool", poolID)

	body, contentType, err := formBody(name, zipPath)
	if err != nil {
		return ResultTransportError, err
	}

	if err := u.checkOnline(ctx, server); err != nil {
		log.Warn("Submission server unreachable", "error", err)
		return ResultUnreachable, err
	}

	endpoint := server + "/upload/" + url.PathEscape(poolID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return ResultTransportError, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.upload.Do(req)
	if err != nil {
		log.Warn("Error submitting the project", "error", err)
		return ResultTransportError, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return ResultTransportError, fmt.Errorf("read server reply: %w", err)
	}

	if strings.TrimSpace(string(reply)) != successBody {
		log.Warn("Submission refused", "status", resp.StatusCode, "reply", string(reply))
		return ResultTransportError, fmt.Errorf("server replied %d: %q", resp.StatusCode, string(reply))
	}

	log.Info("Project successfully submitted", "name", name)
	return ResultSuccess, nil
}

// checkOnline requires a 2xx answer to GET server
func (u *Uploader) checkOnline(ctx context.Context, server string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, server, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := u.health.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// formBody builds the multipart payload in memory so the request can be replayed
func formBody(name, zipPath string) ([]byte, string, error) {
	f, err := os.Open(zipPath)
	if err != nil {
		return nil, "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, filepath.Base(name)+".zip"))
	header.Set("Content-Type", "application/zip")

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
