package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"blocklaunch/internal/logx"
	"blocklaunch/internal/progress"
	"blocklaunch/internal/retry"
)

const (
	// DefaultInactivityTimeout is how long a transfer may go without
	// receiving a byte before the attempt is abandoned.
	DefaultInactivityTimeout = 20 * time.Second
	// MetadataInactivityTimeout is used for small JSON/metadata files.
	MetadataInactivityTimeout = 10 * time.Second
	// DefaultMaxRetries is the number of attempts per candidate URL.
	DefaultMaxRetries = 5
	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = 2 * time.Second
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "blocklaunch/1.0"

	copyBufferSize      = 32 * 1024
	unknownReportStride = 1 << 20
)

// Common errors.
var (
	ErrNoURLs         = errors.New("fetch: no candidate urls")
	ErrStalled        = errors.New("fetch: transfer stalled")
	ErrPrematureClose = errors.New("fetch: connection closed before declared length")
)

// HTTPStatusError reports an unexpected response status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %s from %s", e.Status, e.URL)
}

// Temporary reports whether a retry against the same URL can help.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// Task describes one file transfer.
type Task struct {
	// URLs are tried in order; the next one is used only after every retry
	// on the current one failed.
	URLs []string
	// Dest is the final path. A partial file already present there is
	// resumed with a range request.
	Dest string
	// MaxRetries caps attempts per URL. Zero uses the fetcher's setting.
	MaxRetries int
	// InactivityTimeout is reset by every read. Zero uses the fetcher's
	// setting.
	InactivityTimeout time.Duration
	// Label is shown in progress lines. Defaults to the base name of Dest.
	Label string
}

// Fetcher streams files to disk with resume, inactivity detection and
// retry.
type Fetcher struct {
	client     *resty.Client
	RetryDelay time.Duration
	// MaxRetries and InactivityTimeout apply to tasks that leave theirs
	// unset. Zero falls back to DefaultMaxRetries and
	// DefaultInactivityTimeout.
	MaxRetries        int
	InactivityTimeout time.Duration
	Logger            logx.Logger
}

// New creates a fetcher backed by a fresh resty client.
func New(logger logx.Logger) *Fetcher {
	client := resty.New().
		SetHeader("User-Agent", DefaultUserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return &Fetcher{
		client:     client,
		RetryDelay: DefaultRetryDelay,
		Logger:     logx.OrDiscard(logger),
	}
}

// Fetch downloads task.Dest from the first candidate URL that succeeds. When
// every URL is exhausted the last error is returned, wrapped with the URL it
// came from.
func (f *Fetcher) Fetch(ctx context.Context, task Task, report progress.Func) error {
	if len(task.URLs) == 0 {
		return ErrNoURLs
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = f.MaxRetries
	}
	if task.InactivityTimeout <= 0 {
		task.InactivityTimeout = f.InactivityTimeout
	}
	task = task.withDefaults()
	report = progress.OrNop(report)

	if err := os.MkdirAll(filepath.Dir(task.Dest), 0o755); err != nil {
		return fmt.Errorf("prepare destination for %s: %w", task.Label, err)
	}

	var lastErr error
	for _, candidate := range task.URLs {
		err := f.fetchURL(ctx, task, candidate, report)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("fetch %s: %w", task.Label, ctx.Err())
		}
		f.Logger.Printf("fetch %s from %s failed: %v", task.Label, candidate, err)
		lastErr = fmt.Errorf("fetch %s from %s: %w", task.Label, candidate, err)
	}
	return lastErr
}

func (f *Fetcher) fetchURL(ctx context.Context, task Task, rawURL string, report progress.Func) error {
	m := &meter{label: task.Label, report: report}

	policy := retry.Constant(task.MaxRetries, f.RetryDelay)
	policy.Retryable = Retryable
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		f.Logger.Printf("fetch %s attempt %d/%d failed: %v (retrying in %s)", task.Label, attempt, task.MaxRetries, err, wait)
		report(fmt.Sprintf("Reconnecting to %s (attempt %d of %d)...", hostOf(rawURL), attempt+1, task.MaxRetries), m.lastPercent)
	}

	return retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		return f.attempt(ctx, task, rawURL, m)
	})
}

// attempt performs one transfer, resuming from whatever is already on disk.
func (f *Fetcher) attempt(ctx context.Context, task Task, rawURL string, m *meter) error {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stall := time.AfterFunc(task.InactivityTimeout, func() { cancel(ErrStalled) })
	defer stall.Stop()

	offset := partialSize(task.Dest)
	restarted := false

	for {
		req := f.client.R().
			SetContext(attemptCtx).
			SetDoNotParseResponse(true).
			SetHeader("Accept-Encoding", "identity")
		if offset > 0 {
			req.SetHeader("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := req.Get(rawURL)
		if err != nil {
			return stalledOr(attemptCtx, fmt.Errorf("request: %w", err))
		}
		body := resp.RawBody()

		status := resp.StatusCode()
		switch {
		case status == http.StatusRequestedRangeNotSatisfiable && offset > 0 && !restarted:
			body.Close()
			f.Logger.Printf("fetch %s: range %d- not satisfiable, restarting from zero", task.Label, offset)
			if err := os.Remove(task.Dest); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("discard partial file: %w", err)
			}
			offset = 0
			restarted = true
			continue
		case status == http.StatusPartialContent && offset > 0:
			start, total, ok := parseContentRange(resp.Header().Get("Content-Range"))
			if ok && start != offset {
				body.Close()
				if restarted {
					return fmt.Errorf("server resumed at byte %d, expected %d", start, offset)
				}
				f.Logger.Printf("fetch %s: server resumed at %d instead of %d, restarting from zero", task.Label, start, offset)
				if err := os.Remove(task.Dest); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("discard partial file: %w", err)
				}
				offset = 0
				restarted = true
				continue
			}
			if !ok {
				total = -1
				if cl := resp.RawResponse.ContentLength; cl >= 0 {
					total = offset + cl
				}
			}
			defer body.Close()
			return f.stream(attemptCtx, stall, task, body, offset, total, m)
		case status == http.StatusOK || status == http.StatusPartialContent:
			if offset > 0 {
				f.Logger.Printf("fetch %s: server ignored range request, restarting from zero", task.Label)
			}
			defer body.Close()
			return f.stream(attemptCtx, stall, task, body, 0, resp.RawResponse.ContentLength, m)
		default:
			body.Close()
			return &HTTPStatusError{URL: rawURL, StatusCode: status, Status: resp.Status()}
		}
	}
}

// stream copies body into task.Dest starting at offset. total is the
// declared size of the whole file, or -1 when unknown.
func (f *Fetcher) stream(ctx context.Context, stall *time.Timer, task Task, body io.Reader, offset, total int64, m *meter) error {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(task.Dest, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", task.Dest, err)
	}

	written := offset
	m.update(written, total)

	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			stall.Reset(task.InactivityTimeout)
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				return fmt.Errorf("write %s: %w", task.Dest, err)
			}
			written += int64(n)
			m.update(written, total)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			out.Close()
			if errors.Is(context.Cause(ctx), ErrStalled) {
				return fmt.Errorf("%w: read body: %v", ErrStalled, readErr)
			}
			if total >= 0 && written < total {
				return fmt.Errorf("%w: received %d of %d bytes: %v", ErrPrematureClose, written, total, readErr)
			}
			return fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", task.Dest, err)
	}
	if total >= 0 && written < total {
		return fmt.Errorf("%w: received %d of %d bytes", ErrPrematureClose, written, total)
	}
	return nil
}

// Retryable reports whether err is worth another attempt on the same URL.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) && !errors.Is(err, ErrStalled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// IsStalled reports whether err came from the inactivity timer.
func IsStalled(err error) bool {
	return errors.Is(err, ErrStalled)
}

func stalledOr(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrStalled) {
		return fmt.Errorf("%w: %v", ErrStalled, err)
	}
	return err
}

func (t Task) withDefaults() Task {
	if t.MaxRetries <= 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.InactivityTimeout <= 0 {
		t.InactivityTimeout = DefaultInactivityTimeout
	}
	if t.Label == "" {
		t.Label = filepath.Base(t.Dest)
	}
	return t
}

func partialSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	return info.Size()
}

// parseContentRange parses "bytes start-end/total". total is -1 for "*".
func parseContentRange(header string) (start, total int64, ok bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, "bytes ")
	rangePart, totalPart, found := strings.Cut(spec, "/")
	if !found {
		return 0, 0, false
	}
	startPart, _, found := strings.Cut(rangePart, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startPart), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if strings.TrimSpace(totalPart) == "*" {
		return start, -1, true
	}
	total, err = strconv.ParseInt(strings.TrimSpace(totalPart), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, total, true
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// meter turns byte counts into progress reports.
type meter struct {
	label       string
	report      progress.Func
	lastPercent int
	lastBytes   int64
	started     bool
}

func (m *meter) update(written, total int64) {
	if total > 0 {
		percent := progress.Clamp(int(written * 100 / total))
		if m.started && percent == m.lastPercent {
			return
		}
		m.started = true
		m.lastPercent = percent
		m.report(fmt.Sprintf("Downloading %s", m.label), percent)
		return
	}
	if m.started && written-m.lastBytes < unknownReportStride {
		return
	}
	m.started = true
	m.lastBytes = written
	m.lastPercent = 0
	m.report(fmt.Sprintf("Downloading %s (%s)", m.label, FormatBytes(written)), 0)
}

// FormatBytes renders n as a short human readable size.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
