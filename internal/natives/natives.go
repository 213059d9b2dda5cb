// Package natives keeps the per-version natives directory populated with the
// platform libraries the game loads at startup.
package natives

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/fetch"
	"blocklaunch/internal/logx"
	"blocklaunch/internal/platform"
	"blocklaunch/internal/progress"
)

var libraryExts = map[string]bool{
	".so":     true,
	".dll":    true,
	".dylib":  true,
	".jnilib": true,
}

// Bundle is one native jar: where to download it from and where it is cached.
type Bundle struct {
	URL     string
	Path    string
	Exclude []string
}

// Fetcher downloads a single file.
type Fetcher interface {
	Fetch(ctx context.Context, task fetch.Task, report progress.Func) error
}

// Ready reports whether every file in checklist is present in dir.
func Ready(dir string, checklist []string) bool {
	if len(checklist) == 0 {
		return false
	}
	for _, name := range checklist {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// Ensure makes dir hold the natives for p. When the checklist is already
// satisfied nothing is downloaded or touched and skipped is true. Otherwise
// dir is cleared and rebuilt from bundles.
func Ensure(ctx context.Context, f Fetcher, dir string, p platform.Profile, bundles []Bundle, logger logx.Logger, report progress.Func) (skipped bool, err error) {
	logger = logx.OrDiscard(logger)
	report = progress.OrNop(report)
	if Ready(dir, p.Natives) {
		report("Natives ready", 100)
		return true, nil
	}

	n := len(bundles)
	for i, b := range bundles {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		sub := progress.Slice(report, i*80/max(n, 1), (i+1)*80/max(n, 1))
		if info, statErr := os.Stat(b.Path); statErr == nil && info.Size() > 0 {
			sub("Natives cached", 100)
			continue
		}
		task := fetch.Task{URLs: []string{b.URL}, Dest: b.Path, Label: path.Base(filepath.ToSlash(b.Path))}
		if err := f.Fetch(ctx, task, sub); err != nil {
			return false, fmt.Errorf("download natives %s: %w", task.Label, err)
		}
		if err := archive.ValidateZip(b.Path); err != nil {
			_ = os.Remove(b.Path)
			return false, err
		}
	}

	report("Extracting natives", 85)
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("clear natives dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create natives dir: %w", err)
	}
	count := 0
	for _, b := range bundles {
		extracted, err := extractJar(b.Path, dir, b.Exclude)
		if err != nil {
			_ = os.Remove(b.Path)
			return false, fmt.Errorf("extract natives %s: %w", filepath.Base(b.Path), err)
		}
		count += extracted
	}
	if p.RenameJNILib {
		if err := renameJNILibs(dir); err != nil {
			return false, err
		}
	}
	if !Ready(dir, p.Natives) {
		logger.Printf("natives: %d files extracted to %s, checklist not fully satisfied", count, dir)
	}
	report("Natives ready", 100)
	return false, nil
}

// extractJar copies every native library of a jar into the top level of dir.
func extractJar(jarPath, dir string, exclude []string) (int, error) {
	zr, err := zip.OpenReader(jarPath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, err
	}
	defer zr.Close()

	count := 0
	for _, file := range zr.File {
		name := filepath.ToSlash(file.Name)
		if file.FileInfo().IsDir() || excluded(name, exclude) {
			continue
		}
		base := path.Base(name)
		if !libraryExts[strings.ToLower(path.Ext(base))] || base == "." || base == ".." {
			continue
		}
		if err := writeEntry(file, filepath.Join(dir, base)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func excluded(name string, exclude []string) bool {
	if strings.HasPrefix(name, "META-INF/") {
		return true
	}
	for _, prefix := range exclude {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func writeEntry(file *zip.File, target string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func renameJNILibs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jnilib") {
			continue
		}
		target := filepath.Join(dir, strings.TrimSuffix(name, ".jnilib")+".dylib")
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.Rename(filepath.Join(dir, name), target); err != nil {
			return fmt.Errorf("rename %s: %w", name, err)
		}
	}
	return nil
}
