// Package manifest models the remote update manifest and fetches it from
// the configured mirrors.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"blocklaunch/internal/logx"
)

// DefaultTimeout bounds each manifest request.
const DefaultTimeout = 10 * time.Second

var (
	// ErrAllSourcesFailed is returned when no configured manifest URL
	// produced a usable document.
	ErrAllSourcesFailed = errors.New("manifest: all sources failed")
	// ErrMissingEntry marks a manifest without a required section.
	ErrMissingEntry = errors.New("manifest: missing required entry")
)

// URLList holds one or more mirror URLs. In JSON it may be a single string
// or an array of strings.
type URLList []string

// UnmarshalJSON accepts "url", ["a", "b"] or null.
func (u *URLList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*u = normalize([]string{single})
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("url must be a string or an array of strings: %w", err)
	}
	*u = normalize(many)
	return nil
}

func normalize(urls []string) URLList {
	out := make(URLList, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// Component is one versioned, downloadable content category.
type Component struct {
	Version string  `json:"version"`
	URL     URLList `json:"url"`
	Notes   string  `json:"notes,omitempty"`
}

// Available reports whether the component names a version and somewhere to
// download it from.
func (c *Component) Available() bool {
	return c != nil && c.Version != "" && len(c.URL) > 0
}

// Remote is the update manifest published by the server.
type Remote struct {
	LauncherVersion string     `json:"launcher_version"`
	Instance        Component  `json:"instance"`
	Libraries       *Component `json:"libraries,omitempty"`
	Mods            *Component `json:"mods,omitempty"`
	Texturepacks    *Component `json:"texturepacks,omitempty"`
}

// Validate checks the entries every consumer relies on.
func (r *Remote) Validate() error {
	if r.Instance.Version == "" {
		return fmt.Errorf("%w: instance.version", ErrMissingEntry)
	}
	if len(r.Instance.URL) == 0 {
		return fmt.Errorf("%w: instance.url", ErrMissingEntry)
	}
	return nil
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Remote, error) {
	var remote Remote
	if err := json.Unmarshal(data, &remote); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := remote.Validate(); err != nil {
		return nil, err
	}
	return &remote, nil
}

// Client fetches the manifest from an ordered list of mirrors.
type Client struct {
	http    *resty.Client
	Timeout time.Duration
	Logger  logx.Logger
}

// NewClient returns a client with DefaultTimeout per request.
func NewClient(logger logx.Logger) *Client {
	return &Client{
		http:    resty.New().SetHeader("User-Agent", "blocklaunch/1.0"),
		Timeout: DefaultTimeout,
		Logger:  logx.OrDiscard(logger),
	}
}

// Fetch returns the first manifest that downloads and validates. Each URL
// gets its own timeout; failures move on to the next URL.
func (c *Client) Fetch(ctx context.Context, urls []string) (*Remote, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no manifest urls configured", ErrAllSourcesFailed)
	}
	logger := logx.OrDiscard(c.Logger)

	var errs []error
	for _, u := range urls {
		remote, err := c.fetchOne(ctx, u)
		if err == nil {
			logger.Printf("manifest loaded from %s (instance %s)", u, remote.Instance.Version)
			return remote, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Printf("manifest %s failed: %v", u, err)
		errs = append(errs, fmt.Errorf("%s: %w", u, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
}

func (c *Client) fetchOne(ctx context.Context, u string) (*Remote, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(reqCtx).
		SetHeader("Accept", "application/json").
		SetHeader("Cache-Control", "no-cache").
		Get(u)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %s", resp.Status())
	}
	return Parse(resp.Body())
}
