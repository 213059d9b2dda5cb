package launch

import (
	"crypto/md5"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"blocklaunch/internal/platform"
)

const (
	minGameJarSize = 1 << 20
	minLibrarySize = 1 << 10
)

// OfflineUUID derives the player id the game uses in offline mode: a
// version 3 UUID over the MD5 of "OfflinePlayer:<name>".
func OfflineUUID(username string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	return uuid.UUID(sum)
}

// argSpec is everything that goes into the argument vector.
type argSpec struct {
	settings        effective
	profile         platform.Profile
	nativesDir      string
	classpath       string
	mainClass       string
	launcherVersion string

	username    string
	versionID   string
	versionType string
	gameDir     string
	assetsDir   string
	assetIndex  string
}

// buildArgs returns the ordered JVM and game arguments: heap, natives path,
// fixed properties, extra args, classpath, main class, game args.
func buildArgs(s argSpec) []string {
	var args []string
	if s.settings.minMB > 0 {
		args = append(args, fmt.Sprintf("-Xms%dM", s.settings.minMB))
	}
	if s.settings.maxMB > 0 {
		args = append(args, fmt.Sprintf("-Xmx%dM", s.settings.maxMB))
	}
	args = append(args, "-Djava.library.path="+s.nativesDir)
	args = append(args, s.profile.JVMArgs...)
	args = append(args,
		"-Dorg.lwjgl.librarypath="+s.nativesDir,
		"-Dminecraft.launcher.brand=blocklaunch",
		"-Dminecraft.launcher.version="+s.launcherVersion,
		"-Dfile.encoding=UTF-8",
		"-Dlog4j2.formatMsgNoLookups=true",
	)
	if s.settings.borderless {
		args = append(args, "-Dorg.lwjgl.opengl.Window.undecorated=true")
	}
	args = append(args, s.settings.extraArgs...)
	args = append(args, "-cp", s.classpath, s.mainClass)

	versionType := s.versionType
	if versionType == "" {
		versionType = "release"
	}
	args = append(args,
		"--username", s.username,
		"--version", s.versionID,
		"--gameDir", s.gameDir,
		"--assetsDir", s.assetsDir,
		"--assetIndex", s.assetIndex,
		"--uuid", OfflineUUID(s.username).String(),
		"--accessToken", "0",
		"--userType", "legacy",
		"--versionType", versionType,
	)
	return args
}

// buildEnv derives the game environment from base.
func buildEnv(base []string, p platform.Profile, nativesDir string) []string {
	env := make([]string, 0, len(base)+1)
	pathSet := false
	for _, kv := range base {
		key, value, _ := strings.Cut(kv, "=")
		switch {
		case key == "ALSOFT_DRIVERS" && p.AudioDrivers != "":
			continue
		case p.PrependNativesToPath && strings.EqualFold(key, "PATH"):
			kv = key + "=" + nativesDir
			if value != "" {
				kv += string(os.PathListSeparator) + value
			}
			pathSet = true
		}
		env = append(env, kv)
	}
	if p.PrependNativesToPath && !pathSet {
		env = append(env, "PATH="+nativesDir)
	}
	if p.AudioDrivers != "" {
		env = append(env, "ALSOFT_DRIVERS="+p.AudioDrivers)
	}
	return env
}

// checkArtifact removes path and fails when it is smaller than min or does
// not match a declared size.
func checkArtifact(path string, min, declared int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	size := info.Size()
	if size < min {
		_ = os.Remove(path)
		return fmt.Errorf("%w: %s is %d bytes, expected at least %d", ErrArtifactTooSmall, path, size, min)
	}
	if declared > 0 && size != declared {
		_ = os.Remove(path)
		return fmt.Errorf("%s is %d bytes, expected %d", path, size, declared)
	}
	return nil
}
