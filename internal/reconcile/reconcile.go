// Package reconcile compares the remote manifest with the local version
// record and installs whatever content categories changed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/fetch"
	"blocklaunch/internal/lockfile"
	"blocklaunch/internal/logx"
	"blocklaunch/internal/manifest"
	"blocklaunch/internal/progress"
	"blocklaunch/internal/record"
	"blocklaunch/internal/version"
)

// Fetcher downloads a single file.
type Fetcher interface {
	Fetch(ctx context.Context, task fetch.Task, report progress.Func) error
}

// ManifestSource returns the remote manifest.
type ManifestSource interface {
	Fetch(ctx context.Context, urls []string) (*manifest.Remote, error)
}

// Options locates the inputs and outputs of reconciliation.
type Options struct {
	ManifestURLs        []string
	LauncherVersion     string
	LauncherDownloadURL string

	GameDir      string
	BackupDir    string
	DownloadsDir string
	LockPath     string

	MaxRetries        int
	InactivityTimeout time.Duration
}

// Decision is the outcome of Check.
type Decision struct {
	Available           bool
	LauncherUpdate      bool
	LauncherDownloadURL string
	InstanceUpdate      bool
	LibrariesUpdate     bool
	ModsUpdate          bool
	TexturepacksUpdate  bool
	Notes               string

	Remote *manifest.Remote
	Local  record.Record

	// Err is set when the manifest could not be fetched. The decision then
	// reports nothing to do and callers continue with local content.
	Err error
}

// Pending lists the flagged content components in install order.
func (d Decision) Pending() []record.Component {
	var out []record.Component
	if d.InstanceUpdate {
		out = append(out, record.Instance)
	}
	if d.LibrariesUpdate {
		out = append(out, record.Libraries)
	}
	if d.ModsUpdate {
		out = append(out, record.Mods)
	}
	if d.TexturepacksUpdate {
		out = append(out, record.Texturepacks)
	}
	return out
}

// ApplyResult reports the outcome of ApplyAll.
type ApplyResult struct {
	Success bool
	Applied []record.Component
	Err     error
}

// Reconciler owns the local version record.
type Reconciler struct {
	opts      Options
	manifests ManifestSource
	fetcher   Fetcher
	installer *archive.Installer
	store     *record.Store
	logger    logx.Logger
}

// New wires a reconciler.
func New(opts Options, manifests ManifestSource, fetcher Fetcher, installer *archive.Installer, store *record.Store, logger logx.Logger) *Reconciler {
	return &Reconciler{
		opts:      opts,
		manifests: manifests,
		fetcher:   fetcher,
		installer: installer,
		store:     store,
		logger:    logx.OrDiscard(logger),
	}
}

// Check fetches the manifest and decides what needs action. It never fails:
// a manifest error is carried in Decision.Err.
func (r *Reconciler) Check(ctx context.Context) Decision {
	local, err := r.store.Load()
	if err != nil {
		r.logger.Printf("version record unreadable, assuming nothing installed: %v", err)
	}
	d := Decision{Local: local}

	remote, err := r.manifests.Fetch(ctx, r.opts.ManifestURLs)
	if err != nil {
		r.logger.Printf("update check failed: %v", err)
		d.Err = err
		return d
	}
	d.Remote = remote

	if remote.LauncherVersion != "" && r.opts.LauncherVersion != "" && version.Newer(remote.LauncherVersion, r.opts.LauncherVersion) {
		d.LauncherUpdate = true
		d.LauncherDownloadURL = r.opts.LauncherDownloadURL
	}
	d.InstanceUpdate = remote.Instance.Available() && remote.Instance.Version != local.Instance
	d.ModsUpdate = remote.Mods.Available() && remote.Mods.Version != local.Mods
	d.TexturepacksUpdate = remote.Texturepacks.Available() && remote.Texturepacks.Version != local.Texturepacks
	if remote.Mods != nil {
		d.Notes = remote.Mods.Notes
	}

	d.Available = d.LauncherUpdate || len(d.Pending()) > 0
	return d
}

// ApplyAll runs Check and installs every flagged component.
func (r *Reconciler) ApplyAll(ctx context.Context, report progress.Func) ApplyResult {
	report = progress.OrNop(report)

	release, err := lockfile.Acquire(ctx, r.opts.LockPath)
	if err != nil {
		return ApplyResult{Err: err}
	}
	defer release()

	if recovered, err := archive.RecoverOrphan(r.opts.BackupDir, r.opts.GameDir); err != nil {
		r.logger.Printf("orphaned backup recovery failed: %v", err)
	} else if recovered {
		r.logger.Printf("restored user files from an interrupted update")
	}

	d := r.Check(ctx)
	if d.Err != nil {
		return ApplyResult{Err: d.Err}
	}
	return r.apply(ctx, d, report)
}

// Apply installs the components flagged by d. The install lock must not be
// held by the caller.
func (r *Reconciler) Apply(ctx context.Context, d Decision, report progress.Func) ApplyResult {
	release, err := lockfile.Acquire(ctx, r.opts.LockPath)
	if err != nil {
		return ApplyResult{Err: err}
	}
	defer release()
	return r.apply(ctx, d, progress.OrNop(report))
}

func (r *Reconciler) apply(ctx context.Context, d Decision, report progress.Func) ApplyResult {
	pending := d.Pending()
	if len(pending) == 0 {
		report("Up to date", 100)
		return ApplyResult{Success: true}
	}

	if _, err := r.store.Load(); err != nil {
		r.logger.Printf("resetting unreadable version record: %v", err)
		if err := r.store.Reset(); err != nil {
			return ApplyResult{Err: err}
		}
	}

	share := 100 / len(pending)
	var result ApplyResult
	for i, c := range pending {
		start := i * share
		end := start + share
		if i == len(pending)-1 {
			end = 100
		}
		if err := r.applyOne(ctx, c, d.Remote, progress.Slice(report, start, end)); err != nil {
			result.Err = fmt.Errorf("update %s: %w", c, err)
			return result
		}
		result.Applied = append(result.Applied, c)
	}
	result.Success = true
	report("Update complete", 100)
	return result
}

func (r *Reconciler) applyOne(ctx context.Context, c record.Component, remote *manifest.Remote, report progress.Func) error {
	entry := componentEntry(remote, c)
	if !entry.Available() {
		return fmt.Errorf("%w: %s", manifest.ErrMissingEntry, c)
	}

	archivePath := filepath.Join(r.opts.DownloadsDir, fmt.Sprintf("%s-%s.zip", c, entry.Version))
	task := fetch.Task{
		URLs:       entry.URL,
		Dest:       archivePath,
		MaxRetries:        r.opts.MaxRetries,
		InactivityTimeout: r.opts.InactivityTimeout,
		Label:             fmt.Sprintf("%s %s", c, entry.Version),
	}
	if err := r.fetcher.Fetch(ctx, task, progress.Slice(report, 0, 70)); err != nil {
		return err
	}
	if err := archive.ValidateZip(archivePath); err != nil {
		_ = os.Remove(archivePath)
		return err
	}

	install := progress.Slice(report, 70, 100)
	var err error
	switch c {
	case record.Instance:
		err = r.installer.ReplaceInstance(ctx, archivePath, r.opts.GameDir, r.opts.BackupDir, install)
		if err == nil {
			err = WriteInstanceMarker(r.opts.GameDir, entry.Version)
		}
	case record.Mods:
		err = r.installer.ReplaceSubdir(ctx, archivePath, r.opts.GameDir, "mods", install)
	case record.Texturepacks:
		err = r.installer.ReplaceSubdir(ctx, archivePath, r.opts.GameDir, "resourcepacks", install)
	default:
		err = fmt.Errorf("no install path for %s", c)
	}
	if err != nil {
		if archive.IsInvalidArchive(err) {
			_ = os.Remove(archivePath)
		}
		return err
	}

	if err := r.store.Bump(c, entry.Version); err != nil {
		return err
	}
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Printf("remove %s: %v", archivePath, err)
	}
	r.logger.Printf("%s updated to %s", c, entry.Version)
	report(fmt.Sprintf("Installed %s %s", c, entry.Version), 100)
	return nil
}

func componentEntry(remote *manifest.Remote, c record.Component) *manifest.Component {
	if remote == nil {
		return nil
	}
	switch c {
	case record.Instance:
		return &remote.Instance
	case record.Libraries:
		return remote.Libraries
	case record.Mods:
		return remote.Mods
	case record.Texturepacks:
		return remote.Texturepacks
	}
	return nil
}
