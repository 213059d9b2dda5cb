package platform

import (
	"context"
	"strings"
	"testing"
)

func TestEveryTargetHasProfile(t *testing.T) {
	for _, o := range []OS{Windows, MacOS, Linux} {
		for _, a := range []Arch{X64, Arm64} {
			p, ok := Lookup(Target{o, a})
			if !ok {
				t.Fatalf("missing profile for %s-%s", o, a)
			}
			if len(p.Natives) != 5 || p.JavaExecutable == "" || p.NativesClassifier == "" {
				t.Errorf("incomplete profile for %s-%s: %+v", o, a, p)
			}
		}
	}
}

func TestProfileDetails(t *testing.T) {
	win, _ := Lookup(Target{Windows, X64})
	if win.ArchiveExt != "zip" || !strings.HasSuffix(win.JavaExecutable, ".exe") || !win.PrependNativesToPath {
		t.Fatalf("unexpected windows profile %+v", win)
	}
	if win.Natives[4] != "OpenAL.dll" {
		t.Fatalf("windows openal name = %q", win.Natives[4])
	}

	mac, _ := Lookup(Target{MacOS, Arm64})
	if mac.NativesClassifier != "natives-macos-arm64" || mac.RuntimeArch != "aarch64" || mac.RuleOS != "osx" {
		t.Fatalf("unexpected mac profile %+v", mac)
	}
	if mac.Natives[0] != "liblwjgl.dylib" {
		t.Fatalf("mac natives = %v", mac.Natives)
	}
	if !mac.RenameJNILib || len(mac.JVMArgs) != 1 || mac.ClasspathSep != ":" || mac.RuleArch != "arm64" {
		t.Fatalf("unexpected mac launch details %+v", mac)
	}
	if win.ClasspathSep != ";" || win.RenameJNILib || win.RuleArch != "x86_64" {
		t.Fatalf("unexpected windows launch details %+v", win)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	p, _ := Lookup(Target{Linux, X64})
	p.Natives[0] = "mutated"
	again, _ := Lookup(Target{Linux, X64})
	if again.Natives[0] != "liblwjgl.so" {
		t.Fatal("profile table was mutated through a lookup")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         Target
		ok           bool
	}{
		{"windows", "amd64", Target{Windows, X64}, true},
		{"darwin", "arm64", Target{MacOS, Arm64}, true},
		{"linux", "arm64", Target{Linux, Arm64}, true},
		{"freebsd", "amd64", Target{}, false},
		{"linux", "386", Target{}, false},
	}
	for _, tt := range tests {
		got, err := Parse(tt.goos, tt.goarch)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("Parse(%s, %s) = %v, %v", tt.goos, tt.goarch, got, err)
		}
	}
}

func TestDescribeNeverEmpty(t *testing.T) {
	if Describe(context.Background()) == "" {
		t.Fatal("empty description")
	}
}

func TestFreeDiskMB(t *testing.T) {
	if got := FreeDiskMB(context.Background(), t.TempDir()); got == 0 {
		t.Fatalf("FreeDiskMB = %d", got)
	}
}
