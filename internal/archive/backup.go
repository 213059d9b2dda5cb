package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"blocklaunch/internal/progress"
)

// UserPaths are the instance-relative files and directories that belong to
// the player and survive an instance replacement.
var UserPaths = []string{
	"options.txt",
	"optionsof.txt",
	"optionsshaders.txt",
	"servers.dat",
	"config",
	"saves",
	"screenshots",
	"stats",
}

const sessionFile = ".backup-session.json"

// ErrOrphanedBackup is returned by Backup when backupDir still holds a
// session that was never restored.
var ErrOrphanedBackup = errors.New("archive: backup dir holds an unrestored session")

// Session describes a backup in progress. It is written next to the backed
// up files so a later run can tell where they came from.
type Session struct {
	ID        string    `json:"id"`
	GameDir   string    `json:"game_dir"`
	CreatedAt time.Time `json:"created_at"`
	Paths     []string  `json:"paths"`
}

// Backup copies every existing entry of UserPaths from gameDir into
// backupDir, replacing any previous contents of backupDir. It refuses to
// overwrite an unrestored session.
func Backup(gameDir, backupDir string) (Session, error) {
	if HasOrphan(backupDir) {
		return Session{}, fmt.Errorf("%w: %s", ErrOrphanedBackup, backupDir)
	}
	if err := os.RemoveAll(backupDir); err != nil {
		return Session{}, fmt.Errorf("clear backup dir: %w", err)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return Session{}, fmt.Errorf("create backup dir: %w", err)
	}

	session := Session{
		ID:        uuid.NewString(),
		GameDir:   gameDir,
		CreatedAt: time.Now().UTC(),
	}
	for _, rel := range UserPaths {
		src := filepath.Join(gameDir, rel)
		if _, err := os.Lstat(src); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return session, fmt.Errorf("stat %s: %w", rel, err)
		}
		if err := copyTree(src, filepath.Join(backupDir, rel)); err != nil {
			return session, fmt.Errorf("back up %s: %w", rel, err)
		}
		session.Paths = append(session.Paths, rel)
	}

	if err := writeSession(backupDir, session); err != nil {
		return session, err
	}
	return session, nil
}

// Restore copies the backed up entries over gameDir, overwriting whatever
// the new tree shipped at the same paths.
func Restore(backupDir, gameDir string) error {
	session, err := ReadSession(backupDir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, rel := range session.Paths {
		src := filepath.Join(backupDir, rel)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		if err := copyTree(src, filepath.Join(gameDir, rel)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore %s: %w", rel, err)
		}
	}
	return firstErr
}

// ReadSession loads the session marker from backupDir.
func ReadSession(backupDir string) (Session, error) {
	var session Session
	data, err := os.ReadFile(filepath.Join(backupDir, sessionFile))
	if err != nil {
		return session, fmt.Errorf("read backup session: %w", err)
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return session, fmt.Errorf("parse backup session: %w", err)
	}
	return session, nil
}

// HasOrphan reports whether backupDir holds a session that was never
// restored.
func HasOrphan(backupDir string) bool {
	_, err := os.Stat(filepath.Join(backupDir, sessionFile))
	return err == nil
}

// RecoverOrphan restores a leftover backup into gameDir and clears it. It
// returns false when there was nothing to recover. A backup that fails to
// restore is left in place.
func RecoverOrphan(backupDir, gameDir string) (bool, error) {
	if !HasOrphan(backupDir) {
		return false, nil
	}
	if err := Restore(backupDir, gameDir); err != nil {
		return true, fmt.Errorf("recover orphaned backup (kept in %s): %w", backupDir, err)
	}
	if err := os.RemoveAll(backupDir); err != nil {
		return true, fmt.Errorf("clear backup dir: %w", err)
	}
	return true, nil
}

// ReplaceInstance swaps the contents of gameDir for the ZIP at archivePath.
// User paths are backed up first and copied back afterwards; the backup
// directory is removed once the restore was attempted, whatever its outcome.
func (in *Installer) ReplaceInstance(ctx context.Context, archivePath, gameDir, backupDir string, report progress.Func) error {
	report = progress.OrNop(report)
	if err := ValidateZip(archivePath); err != nil {
		return err
	}

	if recovered, err := RecoverOrphan(backupDir, gameDir); err != nil {
		return err
	} else if recovered {
		in.logger().Printf("restored an interrupted backup into %s before replacing it", gameDir)
	}

	report("Backing up settings", 0)
	session, err := Backup(gameDir, backupDir)
	if err != nil {
		if !errors.Is(err, ErrOrphanedBackup) {
			_ = os.RemoveAll(backupDir)
		}
		return err
	}
	in.logger().Printf("backup %s saved %d user paths", session.ID, len(session.Paths))

	installErr := func() error {
		if err := clearDir(gameDir); err != nil {
			return fmt.Errorf("clear instance dir: %w", err)
		}
		return in.Extract(ctx, archivePath, gameDir, progress.Slice(report, 10, 90))
	}()

	report("Restoring settings", 90)
	restoreErr := Restore(backupDir, gameDir)
	if err := os.RemoveAll(backupDir); err != nil {
		in.logger().Printf("backup %s: clear failed: %v", session.ID, err)
	}

	if installErr != nil {
		return installErr
	}
	if restoreErr != nil {
		return restoreErr
	}
	report("Instance installed", 100)
	return nil
}

// ReplaceSubdir replaces only gameDir/subdir with the contents of the ZIP at
// archivePath. Nothing outside subdir is touched.
func (in *Installer) ReplaceSubdir(ctx context.Context, archivePath, gameDir, subdir string, report progress.Func) error {
	if err := ValidateZip(archivePath); err != nil {
		return err
	}
	target, err := safeJoin(gameDir, subdir)
	if err != nil {
		return err
	}
	if target == filepath.Clean(gameDir) {
		return fmt.Errorf("%w: refusing to replace the whole instance as %q", ErrIllegalPath, subdir)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove %s: %w", subdir, err)
	}
	return in.Extract(ctx, archivePath, target, report)
}

func writeSession(backupDir string, session Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(backupDir, sessionFile), data, 0o644); err != nil {
		return fmt.Errorf("write backup session: %w", err)
	}
	return nil
}

// clearDir empties dir, creating it if needed.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dest, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return err
	}
	return dest.Close()
}
