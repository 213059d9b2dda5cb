package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type countingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *countingLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *countingLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(out)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func testInstaller(logger *countingLogger) *Installer {
	in := NewInstaller(nil)
	if logger != nil {
		in.Logger = logger
	}
	in.RetrySchedule = []time.Duration{time.Millisecond, time.Millisecond}
	return in
}

func TestValidateZipRejectsErrorPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.zip")
	writeFile(t, path, "<html>502 Bad Gateway</html>")

	err := ValidateZip(path)
	if !IsInvalidArchive(err) {
		t.Fatalf("expected InvalidArchiveError, got %v", err)
	}
	if !strings.Contains(err.Error(), "error page") {
		t.Fatalf("expected the likely cause in the message, got %q", err)
	}
}

func TestValidateZipRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.zip")
	writeFile(t, path, "")
	if !IsInvalidArchive(ValidateZip(path)) {
		t.Fatal("expected empty file to be rejected")
	}
}

func TestExtractWritesEntries(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "pack.zip")
	writeZip(t, zipPath, map[string]string{
		"mods/a.jar":      "a",
		"config/b/c.toml": "c",
		"options.txt":     "defaults",
	})

	dest := filepath.Join(dir, "out")
	var last int
	if err := testInstaller(nil).Extract(context.Background(), zipPath, dest, func(_ string, p int) { last = p }); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := readFile(t, filepath.Join(dest, "config", "b", "c.toml")); got != "c" {
		t.Fatalf("unexpected content %q", got)
	}
	if last != 100 {
		t.Fatalf("expected final progress 100, got %d", last)
	}
}

func TestExtractRejectsTraversalWithoutRetry(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeZip(t, zipPath, map[string]string{"../escape.txt": "x"})

	logger := &countingLogger{}
	err := testInstaller(logger).Extract(context.Background(), zipPath, filepath.Join(dir, "out"), nil)
	if !errors.Is(err, ErrIllegalPath) {
		t.Fatalf("expected ErrIllegalPath, got %v", err)
	}
	if n := logger.count("retrying"); n != 0 {
		t.Fatalf("illegal paths must not be retried, saw %d retries", n)
	}
	if exists(filepath.Join(dir, "escape.txt")) {
		t.Fatal("entry escaped the destination")
	}
}

func TestExtractRetriesFilesystemFailures(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "pack.zip")
	writeZip(t, zipPath, map[string]string{"a.txt": "a"})

	// A regular file where the destination directory should be keeps failing.
	blocker := filepath.Join(dir, "blocked")
	writeFile(t, blocker, "")

	logger := &countingLogger{}
	err := testInstaller(logger).Extract(context.Background(), zipPath, filepath.Join(blocker, "out"), nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if n := logger.count("retrying"); n != 2 {
		t.Fatalf("expected 2 retries, got %d", n)
	}
}

func TestReplaceInstancePreservesUserFiles(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "instance")
	backupDir := filepath.Join(root, "backup")

	writeFile(t, filepath.Join(gameDir, "options.txt"), "user-options")
	writeFile(t, filepath.Join(gameDir, "saves", "world", "level.dat"), "world-data")
	writeFile(t, filepath.Join(gameDir, "screenshots", "shot.png"), "png")
	writeFile(t, filepath.Join(gameDir, "mods", "old.jar"), "old")

	zipPath := filepath.Join(root, "instance.zip")
	writeZip(t, zipPath, map[string]string{
		"options.txt":     "shipped-defaults",
		"mods/new.jar":    "new",
		"config/mod.toml": "cfg",
	})

	var last int
	err := testInstaller(nil).ReplaceInstance(context.Background(), zipPath, gameDir, backupDir, func(_ string, p int) { last = p })
	if err != nil {
		t.Fatalf("ReplaceInstance: %v", err)
	}

	if got := readFile(t, filepath.Join(gameDir, "options.txt")); got != "user-options" {
		t.Fatalf("options.txt = %q, want user copy", got)
	}
	if got := readFile(t, filepath.Join(gameDir, "saves", "world", "level.dat")); got != "world-data" {
		t.Fatalf("save lost: %q", got)
	}
	if !exists(filepath.Join(gameDir, "screenshots", "shot.png")) {
		t.Fatal("screenshot lost")
	}
	if exists(filepath.Join(gameDir, "mods", "old.jar")) {
		t.Fatal("old mod should be gone after replacement")
	}
	if !exists(filepath.Join(gameDir, "mods", "new.jar")) || !exists(filepath.Join(gameDir, "config", "mod.toml")) {
		t.Fatal("new content missing")
	}
	if exists(backupDir) {
		t.Fatal("backup dir should be cleared")
	}
	if last != 100 {
		t.Fatalf("expected final progress 100, got %d", last)
	}
}

func TestReplaceInstanceInvalidArchiveTouchesNothing(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "instance")
	writeFile(t, filepath.Join(gameDir, "mods", "keep.jar"), "keep")
	zipPath := filepath.Join(root, "instance.zip")
	writeFile(t, zipPath, "not a zip")

	err := testInstaller(nil).ReplaceInstance(context.Background(), zipPath, gameDir, filepath.Join(root, "backup"), nil)
	if !IsInvalidArchive(err) {
		t.Fatalf("expected InvalidArchiveError, got %v", err)
	}
	if !exists(filepath.Join(gameDir, "mods", "keep.jar")) {
		t.Fatal("instance was modified despite invalid archive")
	}
}

func TestReplaceInstanceRestoresAfterFailedExtract(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "instance")
	backupDir := filepath.Join(root, "backup")
	writeFile(t, filepath.Join(gameDir, "servers.dat"), "servers")

	zipPath := filepath.Join(root, "instance.zip")
	writeZip(t, zipPath, map[string]string{"../../outside.txt": "x"})

	err := testInstaller(nil).ReplaceInstance(context.Background(), zipPath, gameDir, backupDir, nil)
	if !errors.Is(err, ErrIllegalPath) {
		t.Fatalf("expected ErrIllegalPath, got %v", err)
	}
	if got := readFile(t, filepath.Join(gameDir, "servers.dat")); got != "servers" {
		t.Fatalf("servers.dat not restored: %q", got)
	}
	if exists(backupDir) {
		t.Fatal("backup dir should be cleared even on failure")
	}
}

func TestReplaceSubdirLeavesSiblingsAlone(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "instance")
	writeFile(t, filepath.Join(gameDir, "mods", "old.jar"), "old")
	writeFile(t, filepath.Join(gameDir, "saves", "w", "level.dat"), "world")
	writeFile(t, filepath.Join(gameDir, "resourcepacks", "pack.zip"), "pack")

	zipPath := filepath.Join(root, "mods.zip")
	writeZip(t, zipPath, map[string]string{"fresh.jar": "fresh"})

	if err := testInstaller(nil).ReplaceSubdir(context.Background(), zipPath, gameDir, "mods", nil); err != nil {
		t.Fatalf("ReplaceSubdir: %v", err)
	}
	if exists(filepath.Join(gameDir, "mods", "old.jar")) {
		t.Fatal("old mod should be removed")
	}
	if !exists(filepath.Join(gameDir, "mods", "fresh.jar")) {
		t.Fatal("new mod missing")
	}
	if !exists(filepath.Join(gameDir, "saves", "w", "level.dat")) || !exists(filepath.Join(gameDir, "resourcepacks", "pack.zip")) {
		t.Fatal("unrelated content was touched")
	}
}

func TestReplaceSubdirRefusesInstanceRoot(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(root, "mods.zip")
	writeZip(t, zipPath, map[string]string{"a.jar": "a"})

	for _, sub := range []string{".", "", "../other"} {
		err := testInstaller(nil).ReplaceSubdir(context.Background(), zipPath, filepath.Join(root, "instance"), sub, nil)
		if !errors.Is(err, ErrIllegalPath) {
			t.Errorf("ReplaceSubdir(%q) = %v, want ErrIllegalPath", sub, err)
		}
	}
}

func TestRecoverOrphanRestoresAndClears(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "instance")
	backupDir := filepath.Join(root, "backup")
	writeFile(t, filepath.Join(gameDir, "options.txt"), "mine")
	writeFile(t, filepath.Join(gameDir, "stats", "s.json"), "{}")

	session, err := Backup(gameDir, backupDir)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if session.ID == "" || len(session.Paths) != 2 {
		t.Fatalf("unexpected session %+v", session)
	}

	// Simulate a crash after the instance was cleared.
	if err := os.RemoveAll(gameDir); err != nil {
		t.Fatal(err)
	}

	recovered, err := RecoverOrphan(backupDir, gameDir)
	if err != nil || !recovered {
		t.Fatalf("RecoverOrphan = %v, %v", recovered, err)
	}
	if got := readFile(t, filepath.Join(gameDir, "options.txt")); got != "mine" {
		t.Fatalf("options.txt = %q", got)
	}
	if HasOrphan(backupDir) {
		t.Fatal("backup should be cleared after recovery")
	}

	recovered, err = RecoverOrphan(backupDir, gameDir)
	if err != nil || recovered {
		t.Fatalf("second RecoverOrphan = %v, %v; want false, nil", recovered, err)
	}
}

func TestBackupRefusesOrphanedSession(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "instance")
	backupDir := filepath.Join(root, "backup")
	writeFile(t, filepath.Join(gameDir, "saves", "World1", "level.dat"), "world")

	if _, err := Backup(gameDir, backupDir); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if _, err := Backup(gameDir, backupDir); !errors.Is(err, ErrOrphanedBackup) {
		t.Fatalf("second Backup = %v, want ErrOrphanedBackup", err)
	}
	if got := readFile(t, filepath.Join(backupDir, "saves", "World1", "level.dat")); got != "world" {
		t.Fatalf("backup contents changed: %q", got)
	}
}

func TestRecoverOrphanKeepsBackupWhenRestoreFails(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "instance")
	backupDir := filepath.Join(root, "backup")
	writeFile(t, filepath.Join(gameDir, "saves", "World1", "level.dat"), "world")
	if _, err := Backup(gameDir, backupDir); err != nil {
		t.Fatal(err)
	}

	// A regular file where the instance directory should be makes every
	// copy fail.
	if err := os.RemoveAll(gameDir); err != nil {
		t.Fatal(err)
	}
	writeFile(t, gameDir, "not a directory")

	recovered, err := RecoverOrphan(backupDir, gameDir)
	if err == nil || !recovered {
		t.Fatalf("RecoverOrphan = %v, %v; want true and an error", recovered, err)
	}
	if !HasOrphan(backupDir) {
		t.Fatal("backup must survive a failed restore")
	}
	if got := readFile(t, filepath.Join(backupDir, "saves", "World1", "level.dat")); got != "world" {
		t.Fatalf("backup contents = %q", got)
	}
}

func TestReplaceInstanceRecoversOrphanFirst(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "instance")
	backupDir := filepath.Join(root, "backup")
	writeFile(t, filepath.Join(gameDir, "saves", "World1", "level.dat"), "world")
	if _, err := Backup(gameDir, backupDir); err != nil {
		t.Fatal(err)
	}
	// Crash after the instance was cleared.
	if err := os.RemoveAll(gameDir); err != nil {
		t.Fatal(err)
	}

	zipPath := filepath.Join(root, "instance.zip")
	writeZip(t, zipPath, map[string]string{"mods/a.jar": "a"})
	if err := testInstaller(nil).ReplaceInstance(context.Background(), zipPath, gameDir, backupDir, nil); err != nil {
		t.Fatalf("ReplaceInstance: %v", err)
	}
	if got := readFile(t, filepath.Join(gameDir, "saves", "World1", "level.dat")); got != "world" {
		t.Fatalf("world lost: %q", got)
	}
	if !exists(filepath.Join(gameDir, "mods", "a.jar")) {
		t.Fatal("archive contents missing")
	}
	if HasOrphan(backupDir) {
		t.Fatal("backup should be cleared")
	}
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	tgz := filepath.Join(dir, "jre.tar.gz")

	out, err := os.Create(tgz)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	body := []byte("#!/bin/sh\n")
	entries := []*tar.Header{
		{Name: "jdk-17/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "jdk-17/bin/java", Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(body))},
		{Name: "jdk-17/bin/java-link", Typeflag: tar.TypeSymlink, Linkname: "java"},
	}
	for _, h := range entries {
		if err := tw.WriteHeader(h); err != nil {
			t.Fatal(err)
		}
		if h.Typeflag == tar.TypeReg {
			if _, err := tw.Write(body); err != nil {
				t.Fatal(err)
			}
		}
	}
	tw.Close()
	gz.Close()
	out.Close()

	dest := filepath.Join(dir, "runtime")
	if err := testInstaller(nil).ExtractTarGz(context.Background(), tgz, dest); err != nil {
		t.Fatalf("ExtractTarGz: %v", err)
	}
	info, err := os.Stat(filepath.Join(dest, "jdk-17", "bin", "java"))
	if err != nil {
		t.Fatalf("java missing: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected executable bit, got %v", info.Mode())
	}
	if target, err := os.Readlink(filepath.Join(dest, "jdk-17", "bin", "java-link")); err != nil || target != "java" {
		t.Fatalf("symlink = %q, %v", target, err)
	}
}

func TestExtractTarGzRejectsZip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "jre.tar.gz")
	writeZip(t, zipPath, map[string]string{"a": "a"})
	if err := testInstaller(nil).ExtractTarGz(context.Background(), zipPath, dir); !IsInvalidArchive(err) {
		t.Fatalf("expected InvalidArchiveError, got %v", err)
	}
}
