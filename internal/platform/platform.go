// Package platform maps the host OS and architecture onto the packaging
// details the launcher needs: runtime archive format, java executable
// location, native library names and the vendor naming schemes.
package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// OS is a supported operating system.
type OS int

const (
	Windows OS = iota
	MacOS
	Linux
)

func (o OS) String() string {
	switch o {
	case Windows:
		return "windows"
	case MacOS:
		return "macos"
	case Linux:
		return "linux"
	}
	return fmt.Sprintf("os(%d)", int(o))
}

// Arch is a supported CPU architecture.
type Arch int

const (
	X64 Arch = iota
	Arm64
)

func (a Arch) String() string {
	switch a {
	case X64:
		return "x64"
	case Arm64:
		return "arm64"
	}
	return fmt.Sprintf("arch(%d)", int(a))
}

// Target is one OS and architecture pair.
type Target struct {
	OS   OS
	Arch Arch
}

func (t Target) String() string {
	return t.OS.String() + "-" + t.Arch.String()
}

// Profile holds everything that differs between targets.
type Profile struct {
	// ArchiveExt is the runtime archive format: "zip" or "tar.gz".
	ArchiveExt string
	// JavaExecutable is relative to the top directory of an extracted
	// runtime archive.
	JavaExecutable string
	// Natives must all be present in the natives directory for extraction
	// to be skipped.
	Natives []string
	// NativesClassifier selects native jars in the version metadata.
	NativesClassifier string
	// RuleOS is the os name used by library rules and the legacy natives map.
	RuleOS string
	// RuleArch is the architecture name library rules compare against.
	RuleArch string
	// RuntimeOS and RuntimeArch are the runtime vendor's names.
	RuntimeOS   string
	RuntimeArch string
	// AudioDrivers is the OpenAL Soft backend hint.
	AudioDrivers string
	// PrependNativesToPath is set where the loader resolves dependent DLLs
	// through PATH.
	PrependNativesToPath bool
	// RenameJNILib renames extracted .jnilib files to .dylib.
	RenameJNILib bool
	// JVMArgs are required on this platform before any user argument.
	JVMArgs []string
	// ClasspathSep joins classpath entries.
	ClasspathSep string
}

func nativeSet(prefix, ext string) []string {
	names := []string{"lwjgl", "lwjgl_opengl", "lwjgl_stb", "glfw", "openal"}
	out := make([]string, len(names))
	for i, n := range names {
		if n == "openal" && ext == "dll" {
			n = "OpenAL"
		}
		out[i] = prefix + n + "." + ext
	}
	return out
}

var profiles = map[Target]Profile{
	{Windows, X64}: {
		ArchiveExt: "zip", JavaExecutable: "bin/java.exe",
		Natives: nativeSet("", "dll"), NativesClassifier: "natives-windows",
		RuleOS: "windows", RuntimeOS: "windows", RuntimeArch: "x64", RuleArch: "x86_64",
		AudioDrivers: "dsound", PrependNativesToPath: true, ClasspathSep: ";",
	},
	{Windows, Arm64}: {
		ArchiveExt: "zip", JavaExecutable: "bin/java.exe",
		Natives: nativeSet("", "dll"), NativesClassifier: "natives-windows-arm64",
		RuleOS: "windows", RuntimeOS: "windows", RuntimeArch: "aarch64", RuleArch: "arm64",
		AudioDrivers: "dsound", PrependNativesToPath: true, ClasspathSep: ";",
	},
	{MacOS, X64}: {
		ArchiveExt: "tar.gz", JavaExecutable: "Contents/Home/bin/java",
		Natives: nativeSet("lib", "dylib"), NativesClassifier: "natives-macos",
		RuleOS: "osx", RuntimeOS: "mac", RuntimeArch: "x64", RuleArch: "x86_64",
		AudioDrivers: "coreaudio", RenameJNILib: true, ClasspathSep: ":",
		JVMArgs: []string{"-XstartOnFirstThread"},
	},
	{MacOS, Arm64}: {
		ArchiveExt: "tar.gz", JavaExecutable: "Contents/Home/bin/java",
		Natives: nativeSet("lib", "dylib"), NativesClassifier: "natives-macos-arm64",
		RuleOS: "osx", RuntimeOS: "mac", RuntimeArch: "aarch64", RuleArch: "arm64",
		AudioDrivers: "coreaudio", RenameJNILib: true, ClasspathSep: ":",
		JVMArgs: []string{"-XstartOnFirstThread"},
	},
	{Linux, X64}: {
		ArchiveExt: "tar.gz", JavaExecutable: "bin/java",
		Natives: nativeSet("lib", "so"), NativesClassifier: "natives-linux",
		RuleOS: "linux", RuntimeOS: "linux", RuntimeArch: "x64", RuleArch: "x86_64",
		AudioDrivers: "pulse,alsa", ClasspathSep: ":",
	},
	{Linux, Arm64}: {
		ArchiveExt: "tar.gz", JavaExecutable: "bin/java",
		Natives: nativeSet("lib", "so"), NativesClassifier: "natives-linux-arm64",
		RuleOS: "linux", RuntimeOS: "linux", RuntimeArch: "aarch64", RuleArch: "arm64",
		AudioDrivers: "pulse,alsa", ClasspathSep: ":",
	},
}

// Lookup returns the profile for t.
func Lookup(t Target) (Profile, bool) {
	p, ok := profiles[t]
	if !ok {
		return Profile{}, false
	}
	p.Natives = append([]string(nil), p.Natives...)
	p.JVMArgs = append([]string(nil), p.JVMArgs...)
	return p, true
}

// Parse maps Go's GOOS/GOARCH names onto a Target.
func Parse(goos, goarch string) (Target, error) {
	var t Target
	switch goos {
	case "windows":
		t.OS = Windows
	case "darwin":
		t.OS = MacOS
	case "linux":
		t.OS = Linux
	default:
		return t, fmt.Errorf("unsupported operating system %q", goos)
	}
	switch goarch {
	case "amd64":
		t.Arch = X64
	case "arm64":
		t.Arch = Arm64
	default:
		return t, fmt.Errorf("unsupported architecture %q", goarch)
	}
	return t, nil
}

// Current returns the target the launcher was built for.
func Current() (Target, error) {
	return Parse(runtime.GOOS, runtime.GOARCH)
}

// CurrentProfile resolves Current and its profile.
func CurrentProfile() (Target, Profile, error) {
	t, err := Current()
	if err != nil {
		return t, Profile{}, err
	}
	p, ok := Lookup(t)
	if !ok {
		return t, Profile{}, fmt.Errorf("no packaging profile for %s", t)
	}
	return t, p, nil
}

// Describe returns a one-line host description for logs. Detection failures
// fall back to the build target.
func Describe(ctx context.Context) string {
	base := runtime.GOOS + "/" + runtime.GOARCH
	info, err := host.InfoWithContext(ctx)
	if err != nil || info == nil {
		return base
	}
	parts := []string{base}
	if name := strings.TrimSpace(info.Platform + " " + info.PlatformVersion); name != "" {
		parts = append(parts, "("+name+")")
	}
	if info.KernelVersion != "" {
		parts = append(parts, "kernel "+info.KernelVersion)
	}
	return strings.Join(parts, " ")
}

// TotalMemoryMB reports installed physical memory, or 0 when unknown.
func TotalMemoryMB(ctx context.Context) int {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil || vm == nil {
		return 0
	}
	return int(vm.Total / (1024 * 1024))
}

// FreeDiskMB reports the free space on the volume holding path, or -1 when
// unknown.
func FreeDiskMB(ctx context.Context, path string) int64 {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil || usage == nil {
		return -1
	}
	return int64(usage.Free / (1024 * 1024))
}
