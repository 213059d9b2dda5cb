package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// HomeEnv overrides the launcher home directory.
const HomeEnv = "BLOCKLAUNCH_HOME"

// Home captures canonical locations inside the launcher home directory.
type Home struct {
	Root             string
	ConfigFile       string
	RecordFile       string
	VersionCacheFile string
	RuntimeDir       string
	InstanceDir      string
	VanillaDir       string
	BackupDir        string
	DownloadsDir     string
	LibrariesDir     string
	VersionsDir      string
	NativesRoot      string
	AssetsDir        string
	LogsDir          string
	LockFile         string
}

// Resolve determines the launcher home from the optional --home flag, the
// BLOCKLAUNCH_HOME environment variable or the per-OS default, in that order.
func Resolve(homeFlag string) (Home, error) {
	root := homeFlag
	if root == "" {
		if override, ok := os.LookupEnv(HomeEnv); ok && override != "" {
			root = override
		}
	}
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return Home{}, fmt.Errorf("resolve launcher home: %w", err)
		}
		return newHome(abs), nil
	}

	root, err := defaultRoot()
	if err != nil {
		return Home{}, err
	}
	return newHome(root), nil
}

func defaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "BlockLaunch"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "BlockLaunch"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "BlockLaunch"), nil
	default:
		return filepath.Join(home, ".local", "share", "blocklaunch"), nil
	}
}

func newHome(root string) Home {
	return Home{
		Root:             root,
		ConfigFile:       filepath.Join(root, "launcher.yaml"),
		RecordFile:       filepath.Join(root, "versions.json"),
		VersionCacheFile: filepath.Join(root, "version_manifest_cache.json"),
		RuntimeDir:       filepath.Join(root, "runtime"),
		InstanceDir:      filepath.Join(root, "instance"),
		VanillaDir:       filepath.Join(root, "game"),
		BackupDir:        filepath.Join(root, "backup"),
		DownloadsDir:     filepath.Join(root, "downloads"),
		LibrariesDir:     filepath.Join(root, "libraries"),
		VersionsDir:      filepath.Join(root, "versions"),
		NativesRoot:      filepath.Join(root, "natives"),
		AssetsDir:        filepath.Join(root, "assets"),
		LogsDir:          filepath.Join(root, "logs"),
		LockFile:         filepath.Join(root, "install.lock"),
	}
}

// ClientJar is where the game jar for version id is cached.
func (h Home) ClientJar(id string) string {
	return filepath.Join(h.VersionsDir, id, id+".jar")
}

// NativesDir is the extracted natives directory for version id.
func (h Home) NativesDir(id string) string {
	return filepath.Join(h.NativesRoot, id)
}

// EnsureDirs creates the directories every command expects to exist.
func (h Home) EnsureDirs() error {
	dirs := []string{h.Root, h.DownloadsDir, h.LibrariesDir, h.VersionsDir, h.NativesRoot, h.AssetsDir, h.LogsDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// DirExists reports whether a path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
