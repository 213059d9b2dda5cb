// Package jre locates a Java runtime able to run the game: a previously
// installed private copy first, then runtimes already on the system, and
// finally a fresh download.
package jre

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/fetch"
	"blocklaunch/internal/jsonfile"
	"blocklaunch/internal/logx"
	"blocklaunch/internal/platform"
	"blocklaunch/internal/proc"
	"blocklaunch/internal/progress"
)

// MarkerName is written into the runtime directory after a successful
// download and extraction.
const MarkerName = ".installed"

// DefaultDownloadURL is the runtime download template. {major}, {os},
// {arch} and {ext} are substituted.
const DefaultDownloadURL = "https://api.adoptium.net/v3/binary/latest/{major}/ga/{os}/{arch}/jre/hotspot/normal/eclipse"

const probeTimeout = 10 * time.Second

// ErrNoRuntime means no tier produced a usable runtime.
var ErrNoRuntime = errors.New("jre: no compatible java runtime")

// Source tells which tier produced a runtime.
type Source string

const (
	SourceOverride Source = "override"
	SourceCache    Source = "cache"
	SourceSystem   Source = "system"
	SourceDownload Source = "download"
)

// Runtime is a resolved java executable.
type Runtime struct {
	Path   string `json:"path"`
	Major  int    `json:"major"`
	Source Source `json:"source"`
}

// Marker is the content of the install marker file.
type Marker struct {
	Path        string    `json:"path"`
	Major       int       `json:"major"`
	InstalledAt time.Time `json:"installed_at"`
}

// Fetcher downloads a single file.
type Fetcher interface {
	Fetch(ctx context.Context, task fetch.Task, report progress.Func) error
}

// Options configures resolution.
type Options struct {
	// Dir holds the private runtime and its marker.
	Dir          string
	DownloadsDir string
	MinMajor     int
	// Override skips every tier when set.
	Override    string
	DownloadURL string
	Profile     platform.Profile
}

// Resolver runs the three tiers in order.
type Resolver struct {
	opts      Options
	runner    proc.Runner
	fetcher   Fetcher
	installer *archive.Installer
	logger    logx.Logger

	// Candidates lists system java executables to probe. Defaults to
	// SystemCandidates.
	Candidates func() []string
}

// NewResolver wires a resolver.
func NewResolver(opts Options, runner proc.Runner, fetcher Fetcher, installer *archive.Installer, logger logx.Logger) *Resolver {
	if opts.MinMajor <= 0 {
		opts.MinMajor = 17
	}
	if opts.DownloadURL == "" {
		opts.DownloadURL = DefaultDownloadURL
	}
	return &Resolver{
		opts:       opts,
		runner:     runner,
		fetcher:    fetcher,
		installer:  installer,
		logger:     logx.OrDiscard(logger),
		Candidates: SystemCandidates,
	}
}

// WithOverride returns a copy of r that uses path instead of the tiers. An
// empty path returns r itself.
func (r *Resolver) WithOverride(path string) *Resolver {
	if path == "" {
		return r
	}
	c := *r
	c.opts.Override = path
	return &c
}

// Resolve returns a runtime of at least MinMajor.
func (r *Resolver) Resolve(ctx context.Context, report progress.Func) (Runtime, error) {
	report = progress.OrNop(report)

	if r.opts.Override != "" {
		return r.resolveOverride(ctx)
	}

	report("Checking installed Java runtime", 0)
	if rt, ok := r.fromMarker(); ok {
		r.logger.Printf("using private runtime %s (java %d)", rt.Path, rt.Major)
		report("Java runtime ready", 100)
		return rt, nil
	}

	report("Looking for Java on this system", 10)
	if rt, ok := r.fromSystem(ctx); ok {
		r.logger.Printf("using system runtime %s (java %d)", rt.Path, rt.Major)
		report("Java runtime ready", 100)
		return rt, nil
	}
	if ctx.Err() != nil {
		return Runtime{}, ctx.Err()
	}

	rt, err := r.download(ctx, progress.Slice(report, 20, 100))
	if err != nil {
		return Runtime{}, fmt.Errorf("%w: %w", ErrNoRuntime, err)
	}
	report("Java runtime ready", 100)
	return rt, nil
}

// Find runs the override, marker and system tiers without downloading. ok is
// false when none of them yields a runtime.
func (r *Resolver) Find(ctx context.Context) (rt Runtime, ok bool) {
	if r.opts.Override != "" {
		rt, err := r.resolveOverride(ctx)
		return rt, err == nil
	}
	if rt, ok := r.fromMarker(); ok {
		return rt, true
	}
	return r.fromSystem(ctx)
}

func (r *Resolver) resolveOverride(ctx context.Context) (Runtime, error) {
	path := r.opts.Override
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return Runtime{}, fmt.Errorf("%w: override %s is not an executable file", ErrNoRuntime, path)
	}
	major, err := r.probe(ctx, path)
	if err != nil {
		r.logger.Printf("override runtime %s did not report a version: %v", path, err)
	} else if major < r.opts.MinMajor {
		r.logger.Printf("override runtime %s is java %d, below %d; using it anyway", path, major, r.opts.MinMajor)
	}
	return Runtime{Path: path, Major: major, Source: SourceOverride}, nil
}

func (r *Resolver) fromMarker() (Runtime, bool) {
	var m Marker
	found, err := jsonfile.Load(filepath.Join(r.opts.Dir, MarkerName), &m)
	if err != nil {
		r.logger.Printf("runtime marker unreadable: %v", err)
		return Runtime{}, false
	}
	if !found || m.Major < r.opts.MinMajor {
		return Runtime{}, false
	}
	if info, err := os.Stat(m.Path); err != nil || info.IsDir() {
		return Runtime{}, false
	}
	return Runtime{Path: m.Path, Major: m.Major, Source: SourceCache}, true
}

func (r *Resolver) fromSystem(ctx context.Context) (Runtime, bool) {
	seen := map[string]bool{}
	for _, candidate := range r.Candidates() {
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		major, err := r.probe(ctx, candidate)
		if err != nil {
			r.logger.Printf("probe %s: %v", candidate, err)
			continue
		}
		if major >= r.opts.MinMajor {
			return Runtime{Path: candidate, Major: major, Source: SourceSystem}, true
		}
		r.logger.Printf("skip %s: java %d below %d", candidate, major, r.opts.MinMajor)
	}
	return Runtime{}, false
}

func (r *Resolver) probe(ctx context.Context, path string) (int, error) {
	res, err := r.runner.Run(ctx, path, []string{"-version"}, proc.RunOptions{Timeout: probeTimeout})
	if err != nil {
		return 0, err
	}
	return ParseMajor(string(res.Combined()))
}

func (r *Resolver) download(ctx context.Context, report progress.Func) (Runtime, error) {
	p := r.opts.Profile
	downloadURL := strings.NewReplacer(
		"{major}", strconv.Itoa(r.opts.MinMajor),
		"{os}", p.RuntimeOS,
		"{arch}", p.RuntimeArch,
		"{ext}", p.ArchiveExt,
	).Replace(r.opts.DownloadURL)

	archivePath := filepath.Join(r.opts.DownloadsDir, fmt.Sprintf("runtime-%d-%s-%s.%s", r.opts.MinMajor, p.RuntimeOS, p.RuntimeArch, p.ArchiveExt))
	task := fetch.Task{URLs: []string{downloadURL}, Dest: archivePath, Label: fmt.Sprintf("Java %d runtime", r.opts.MinMajor)}
	if err := r.fetcher.Fetch(ctx, task, progress.Slice(report, 0, 80)); err != nil {
		return Runtime{}, err
	}

	report("Extracting Java runtime", 80)
	if err := os.RemoveAll(r.opts.Dir); err != nil {
		return Runtime{}, fmt.Errorf("clear runtime dir: %w", err)
	}
	var err error
	if p.ArchiveExt == "zip" {
		err = r.installer.Extract(ctx, archivePath, r.opts.Dir, nil)
	} else {
		err = r.installer.ExtractTarGz(ctx, archivePath, r.opts.Dir)
	}
	if err != nil {
		if archive.IsInvalidArchive(err) {
			_ = os.Remove(archivePath)
		}
		return Runtime{}, err
	}

	javaPath, err := findExecutable(r.opts.Dir, p.JavaExecutable)
	if err != nil {
		return Runtime{}, err
	}
	major, err := r.probe(ctx, javaPath)
	if err != nil {
		return Runtime{}, fmt.Errorf("downloaded runtime does not start: %w", err)
	}

	marker := Marker{Path: javaPath, Major: major, InstalledAt: time.Now().UTC()}
	if err := jsonfile.Save(filepath.Join(r.opts.Dir, MarkerName), marker); err != nil {
		return Runtime{}, err
	}
	_ = os.Remove(archivePath)
	r.logger.Printf("installed runtime java %d at %s", major, javaPath)
	return Runtime{Path: javaPath, Major: major, Source: SourceDownload}, nil
}

// findExecutable returns the first file under root whose path ends with rel.
func findExecutable(root, rel string) (string, error) {
	suffix := "/" + strings.TrimPrefix(filepath.ToSlash(rel), "/")
	var match string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(filepath.ToSlash(path), suffix) {
			match = path
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if match == "" {
		return "", fmt.Errorf("%s not found in extracted runtime", rel)
	}
	return match, nil
}

var (
	quotedVersion = regexp.MustCompile(`version "([^"]+)"`)
	bareVersion   = regexp.MustCompile(`(?m)^(?:openjdk|java) (\d+)`)
)

// ParseMajor extracts the major version from `java -version` output. Both
// the legacy "1.8.0_312" and the modern "17.0.2" forms are understood.
func ParseMajor(output string) (int, error) {
	var raw string
	if m := quotedVersion.FindStringSubmatch(output); m != nil {
		raw = m[1]
	} else if m := bareVersion.FindStringSubmatch(output); m != nil {
		raw = m[1]
	} else {
		return 0, fmt.Errorf("no version in %q", firstLine(output))
	}

	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '.' || r == '_' || r == '-' || r == '+' })
	if len(parts) == 0 {
		return 0, fmt.Errorf("malformed version %q", raw)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed version %q", raw)
	}
	if major == 1 && len(parts) > 1 {
		if legacy, err := strconv.Atoi(parts[1]); err == nil {
			major = legacy
		}
	}
	return major, nil
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

// SystemCandidates lists java executables worth probing on this machine:
// JAVA_HOME, PATH, then the usual vendor install directories.
func SystemCandidates() []string {
	exe := "java"
	if runtime.GOOS == "windows" {
		exe = "java.exe"
	}

	var out []string
	if home := os.Getenv("JAVA_HOME"); home != "" {
		out = append(out, filepath.Join(home, "bin", exe))
	}
	if path, err := exec.LookPath(exe); err == nil {
		out = append(out, path)
	}

	var patterns []string
	switch runtime.GOOS {
	case "windows":
		for _, base := range []string{os.Getenv("ProgramFiles"), os.Getenv("ProgramFiles(x86)")} {
			if base == "" {
				continue
			}
			for _, vendor := range []string{"Java", "Eclipse Adoptium", "Microsoft", "Zulu", "BellSoft"} {
				patterns = append(patterns, filepath.Join(base, vendor, "*", "bin", exe))
			}
		}
	case "darwin":
		patterns = append(patterns,
			"/Library/Java/JavaVirtualMachines/*/Contents/Home/bin/java",
			"/opt/homebrew/opt/openjdk*/bin/java",
			"/usr/local/opt/openjdk*/bin/java",
		)
	default:
		patterns = append(patterns,
			"/usr/lib/jvm/*/bin/java",
			"/usr/java/*/bin/java",
			"/opt/java/*/bin/java",
		)
	}
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		out = append(out, matches...)
	}
	return out
}
