// Package archive validates and unpacks downloaded bundles and protects
// user-owned files while an instance tree is replaced.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"blocklaunch/internal/logx"
	"blocklaunch/internal/progress"
	"blocklaunch/internal/retry"
)

// DefaultRetrySchedule is the wait between extraction attempts when the
// filesystem refuses a write, typically because another process holds a
// lock on a file being replaced.
var DefaultRetrySchedule = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// ErrIllegalPath is returned for entries that would land outside the
// destination directory.
var ErrIllegalPath = errors.New("archive: entry escapes destination")

var (
	zipMagic  = []byte("PK")
	gzipMagic = []byte{0x1f, 0x8b}
)

// InvalidArchiveError means the file on disk is not the archive format the
// caller expected. It is never retried.
type InvalidArchiveError struct {
	Path   string
	Format string
	Header []byte
}

func (e *InvalidArchiveError) Error() string {
	return fmt.Sprintf("%s is not a valid %s archive (header %q): the download may have failed or the server returned an error page", e.Path, e.Format, e.Header)
}

// IsInvalidArchive reports whether err is an InvalidArchiveError.
func IsInvalidArchive(err error) bool {
	var invalid *InvalidArchiveError
	return errors.As(err, &invalid)
}

// Installer extracts archives and performs instance replacement.
type Installer struct {
	Logger        logx.Logger
	RetrySchedule []time.Duration
}

// NewInstaller returns an installer using DefaultRetrySchedule.
func NewInstaller(logger logx.Logger) *Installer {
	return &Installer{
		Logger:        logx.OrDiscard(logger),
		RetrySchedule: DefaultRetrySchedule,
	}
}

// ValidateZip checks the local file header magic of path.
func ValidateZip(path string) error {
	return checkMagic(path, "zip", zipMagic)
}

// ValidateTarGz checks the gzip magic of path.
func ValidateTarGz(path string) error {
	return checkMagic(path, "tar.gz", gzipMagic)
}

func checkMagic(path, format string, magic []byte) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	header := make([]byte, len(magic))
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if n < len(magic) || !bytes.Equal(header, magic) {
		return &InvalidArchiveError{Path: path, Format: format, Header: header[:n]}
	}
	return nil
}

// Extract validates archivePath as a ZIP and unpacks it into dest, retrying
// transient filesystem failures on the installer's schedule.
func (in *Installer) Extract(ctx context.Context, archivePath, dest string, report progress.Func) error {
	if err := ValidateZip(archivePath); err != nil {
		return err
	}
	return in.withRetry(ctx, archivePath, func() error {
		return extractZip(archivePath, dest, progress.OrNop(report))
	})
}

// ExtractTarGz validates archivePath as gzip and unpacks the tar stream into
// dest with the same retry behaviour as Extract.
func (in *Installer) ExtractTarGz(ctx context.Context, archivePath, dest string) error {
	if err := ValidateTarGz(archivePath); err != nil {
		return err
	}
	return in.withRetry(ctx, archivePath, func() error {
		return extractTarGz(archivePath, dest)
	})
}

func (in *Installer) withRetry(ctx context.Context, archivePath string, op func() error) error {
	logger := in.logger()
	policy := retry.Policy{
		Schedule:  in.RetrySchedule,
		Retryable: retryableExtract,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Printf("extract %s attempt %d failed: %v (retrying in %s)", filepath.Base(archivePath), attempt, err, wait)
		},
	}
	if len(policy.Schedule) == 0 {
		policy.MaxAttempts = 1
	}
	err := retry.Do(ctx, policy, func(context.Context, int) error {
		return op()
	})
	if err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
	}
	return nil
}

func (in *Installer) logger() logx.Logger {
	return logx.OrDiscard(in.Logger)
}

func retryableExtract(err error) bool {
	switch {
	case IsInvalidArchive(err),
		errors.Is(err, ErrIllegalPath),
		errors.Is(err, zip.ErrFormat),
		errors.Is(err, zip.ErrAlgorithm),
		errors.Is(err, zip.ErrChecksum),
		errors.Is(err, gzip.ErrHeader),
		errors.Is(err, gzip.ErrChecksum),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func extractZip(archivePath, dest string, report progress.Func) error {
	reader, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		reader.Close()
		return fmt.Errorf("%w: %v", ErrIllegalPath, err)
	}
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("prepare extract dir: %w", err)
	}

	total := len(reader.File)
	for i, file := range reader.File {
		if err := extractZipEntry(file, dest); err != nil {
			return err
		}
		if total > 0 {
			report(fmt.Sprintf("Extracting %s", filepath.Base(archivePath)), (i+1)*100/total)
		}
	}
	return nil
}

func extractZipEntry(file *zip.File, dest string) error {
	target, err := safeJoin(dest, file.Name)
	if err != nil {
		return err
	}
	if file.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", target, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("prepare file %s: %w", target, err)
	}

	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", file.Name, err)
	}
	defer rc.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("copy file %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}
	return nil
}

func extractTarGz(archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	return untarStream(gz, dest)
}

func untarStream(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("prepare file %s: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm())
			if err != nil {
				return fmt.Errorf("create file %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write file %s: %w", target, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("close file %s: %w", target, err)
			}
		case tar.TypeSymlink:
			linkTarget := filepath.Join(filepath.Dir(target), filepath.FromSlash(header.Linkname))
			if filepath.IsAbs(header.Linkname) || !within(dest, linkTarget) {
				return fmt.Errorf("%w: symlink %s -> %s", ErrIllegalPath, header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("prepare link %s: %w", target, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("create link %s: %w", target, err)
			}
		default:
			// Ignore other entry types.
		}
	}
	return nil
}

// safeJoin resolves name under root and rejects anything that climbs out.
func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if !within(root, target) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	return target, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
