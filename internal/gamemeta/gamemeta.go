// Package gamemeta fetches the game's version metadata and keeps a
// day-long cache of it for a single version id.
package gamemeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"blocklaunch/internal/jsonfile"
	"blocklaunch/internal/logx"
)

const (
	// DefaultManifestURL lists every published game version.
	DefaultManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"
	// DefaultTTL is how long a cached version document is trusted.
	DefaultTTL = 24 * time.Hour

	requestTimeout = 10 * time.Second
)

// ErrUnknownVersion means the manifest does not list the requested id.
var ErrUnknownVersion = errors.New("gamemeta: version not in manifest")

type versionManifest struct {
	Latest struct {
		Release  string `json:"release"`
		Snapshot string `json:"snapshot"`
	} `json:"latest"`
	Versions []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"versions"`
}

// cacheEntry is the on-disk cache document.
type cacheEntry struct {
	FetchedAt time.Time       `json:"fetched_at"`
	VersionID string          `json:"version_id"`
	Body      json.RawMessage `json:"body"`
}

// Client resolves version documents.
type Client struct {
	http        *resty.Client
	ManifestURL string
	CachePath   string
	TTL         time.Duration
	Logger      logx.Logger

	now func() time.Time
}

// NewClient returns a client caching to cachePath.
func NewClient(manifestURL, cachePath string, logger logx.Logger) *Client {
	if manifestURL == "" {
		manifestURL = DefaultManifestURL
	}
	return &Client{
		http:        resty.New().SetHeader("User-Agent", "blocklaunch/1.0"),
		ManifestURL: manifestURL,
		CachePath:   cachePath,
		TTL:         DefaultTTL,
		Logger:      logx.OrDiscard(logger),
		now:         time.Now,
	}
}

// Version returns the metadata for id, from cache when fresh. When the
// network is unavailable a stale cache entry for the same id is used.
func (c *Client) Version(ctx context.Context, id string) (*Version, error) {
	logger := logx.OrDiscard(c.Logger)

	var cached cacheEntry
	found, err := jsonfile.Load(c.CachePath, &cached)
	if err != nil {
		logger.Printf("version cache unreadable: %v", err)
		found = false
	}
	haveCache := found && cached.VersionID == id && len(cached.Body) > 0
	if haveCache && c.now().Sub(cached.FetchedAt) < c.TTL {
		if v, err := decodeVersion(cached.Body); err == nil {
			return v, nil
		}
	}

	body, err := c.fetchVersion(ctx, id)
	if err != nil {
		if haveCache && !errors.Is(err, ErrUnknownVersion) {
			if v, decodeErr := decodeVersion(cached.Body); decodeErr == nil {
				logger.Printf("version %s: refresh failed, using cache from %s: %v", id, cached.FetchedAt.Format(time.RFC3339), err)
				return v, nil
			}
		}
		return nil, err
	}

	v, err := decodeVersion(body)
	if err != nil {
		return nil, err
	}
	entry := cacheEntry{FetchedAt: c.now().UTC(), VersionID: id, Body: body}
	if err := jsonfile.Save(c.CachePath, entry); err != nil {
		logger.Printf("version cache not saved: %v", err)
	}
	return v, nil
}

func (c *Client) fetchVersion(ctx context.Context, id string) ([]byte, error) {
	body, err := c.get(ctx, c.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch version manifest: %w", err)
	}
	var manifest versionManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("decode version manifest: %w", err)
	}

	for _, entry := range manifest.Versions {
		if entry.ID != id {
			continue
		}
		doc, err := c.get(ctx, entry.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch version %s: %w", id, err)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, id)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(reqCtx).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %s from %s", resp.Status(), url)
	}
	return resp.Body(), nil
}

func decodeVersion(body []byte) (*Version, error) {
	var v Version
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	if v.ID == "" || v.MainClass == "" || v.Downloads.Client.URL == "" {
		return nil, fmt.Errorf("decode version: missing id, mainClass or client download")
	}
	return &v, nil
}
