//go:build !windows

package launch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"blocklaunch/internal/archive"
	"blocklaunch/internal/config"
	"blocklaunch/internal/libraries"
	"blocklaunch/internal/paths"
	"blocklaunch/internal/platform"
	"blocklaunch/internal/proc"
	"blocklaunch/internal/progress"
	"blocklaunch/internal/reconcile"
)

const (
	testVersion    = "1.20.1"
	clientJarSize  = 1<<20 + 512
	libraryJarSize = 2048
)

const fakeJava = `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo 'openjdk version "17.0.9" 2023-10-17' >&2
  exit 0
fi
printf '%s\n' "$@" > "$BLOCKLAUNCH_TEST_ARGS"
echo "Session ID is token:abc"
echo "Loading world"
echo "Connecting to play.example.net, 25565"
exit 0
`

// contentServer serves version metadata, jars and bundles.
type contentServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
	// instance is served at /instance.zip when set.
	instance []byte
}

func (s *contentServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newContentServer(t *testing.T) *contentServer {
	t.Helper()
	s := &contentServer{hits: map[string]int{}}
	nativesJar := zipBytes(t, map[string]string{
		"META-INF/MANIFEST.MF":            "Manifest-Version: 1.0",
		"linux/x64/org/lwjgl/liblwjgl.so": "so",
		"liblwjgl_opengl.so":              "so",
		"liblwjgl_stb.so":                 "so",
		"libglfw.so":                      "so",
		"libopenal.so":                    "so",
	})

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		switch {
		case r.URL.Path == "/manifest.json":
			fmt.Fprintf(w, `{"latest":{"release":%q},"versions":[{"id":%q,"type":"release","url":%q}]}`,
				testVersion, testVersion, s.URL+"/v/"+testVersion+".json")
		case r.URL.Path == "/v/"+testVersion+".json":
			_ = json.NewEncoder(w).Encode(s.versionDoc())
		case r.URL.Path == "/client.jar":
			_, _ = w.Write(make([]byte, clientJarSize))
		case r.URL.Path == "/natives-linux.jar":
			_, _ = w.Write(nativesJar)
		case r.URL.Path == "/instance.zip" && s.instance != nil:
			_, _ = w.Write(s.instance)
		case r.URL.Path == "/broken.zip":
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		case strings.HasPrefix(r.URL.Path, "/lib/"), strings.HasPrefix(r.URL.Path, "/maven/"):
			_, _ = w.Write(make([]byte, libraryJarSize))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *contentServer) versionDoc() map[string]any {
	return map[string]any{
		"id":         testVersion,
		"type":       "release",
		"mainClass":  "net.minecraft.client.main.Main",
		"assetIndex": map[string]any{"id": "5"},
		"downloads": map[string]any{
			"client": map[string]any{"url": s.URL + "/client.jar", "size": clientJarSize},
		},
		"libraries": []any{
			map[string]any{
				"name": "com.mojang:brigadier:1.1.8",
				"downloads": map[string]any{"artifact": map[string]any{
					"path": "com/mojang/brigadier/1.1.8/brigadier-1.1.8.jar",
					"url":  s.URL + "/lib/brigadier.jar",
					"size": libraryJarSize,
				}},
			},
			map[string]any{
				"name": "ca.weblite:java-objc-bridge:1.1",
				"downloads": map[string]any{"artifact": map[string]any{
					"path": "ca/weblite/java-objc-bridge/1.1/java-objc-bridge-1.1.jar",
					"url":  s.URL + "/lib/objc.jar",
				}},
				"rules": []any{map[string]any{"action": "allow", "os": map[string]any{"name": "osx"}}},
			},
			map[string]any{
				"name": "org.lwjgl:lwjgl:3.3.1:natives-linux",
				"downloads": map[string]any{"artifact": map[string]any{
					"path": "org/lwjgl/lwjgl/3.3.1/lwjgl-3.3.1-natives-linux.jar",
					"url":  s.URL + "/natives-linux.jar",
				}},
				"rules": []any{map[string]any{"action": "allow", "os": map[string]any{"name": "linux"}}},
			},
		},
	}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
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
	return buf.Bytes()
}

type fixture struct {
	srv       *contentServer
	home      paths.Home
	cfg       config.Config
	java      string
	argsFile  string
	assembler *Assembler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := newContentServer(t)
	home, err := paths.Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := home.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	bin := t.TempDir()
	java := filepath.Join(bin, "java")
	if err := os.WriteFile(java, []byte(fakeJava), 0o755); err != nil {
		t.Fatal(err)
	}
	argsFile := filepath.Join(bin, "args.txt")
	t.Setenv("BLOCKLAUNCH_TEST_ARGS", argsFile)

	cfg := config.Default()
	cfg.Manifest.URLs = nil
	cfg.Game.ManifestURL = srv.URL + "/manifest.json"
	cfg.Runtime.Override = java
	cfg.Memory = config.MemoryConfig{MinMB: 512, MaxMB: 2048}
	cfg.Downloads.MaxRetries = 1
	cfg.Downloads.RetryDelay = time.Millisecond

	profile, _ := platform.Lookup(platform.Target{OS: platform.Linux, Arch: platform.X64})
	a := NewAssembler(Options{
		Home:            home,
		Config:          cfg,
		Profile:         profile,
		LauncherVersion: "1.4.0",
		RepoRules:       []libraries.RepoRule{{Prefix: "", BaseURL: srv.URL + "/maven/"}},
	}, nil)
	return &fixture{srv: srv, home: home, cfg: cfg, java: java, argsFile: argsFile, assembler: a}
}

func writePack(t *testing.T, dir string, components string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `{"formatVersion":1,"components":[` + components + `]}`
	if err := os.WriteFile(filepath.Join(dir, libraries.PackFileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPrepareVanilla(t *testing.T) {
	fx := newFixture(t)

	var last int
	plan, err := fx.assembler.Prepare(context.Background(), Request{Username: "Steve"}, func(_ string, p int) {
		if p < last {
			t.Errorf("progress went backwards: %d after %d", p, last)
		}
		last = p
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if last < bands[StateDownloadingNatives].end {
		t.Fatalf("final progress = %d", last)
	}
	if plan.Instance || plan.Modded || plan.Dir != fx.home.VanillaDir {
		t.Fatalf("expected vanilla plan, got %+v", plan)
	}
	if plan.MainClass != "net.minecraft.client.main.Main" || plan.Runtime.Major != 17 {
		t.Fatalf("unexpected plan %+v", plan)
	}

	clientJar := fx.home.ClientJar(testVersion)
	if n := len(plan.Classpath); n != 2 || plan.Classpath[n-1] != clientJar {
		t.Fatalf("classpath = %v", plan.Classpath)
	}
	for _, name := range []string{"liblwjgl.so", "libglfw.so", "libopenal.so"} {
		if _, err := os.Stat(filepath.Join(plan.NativesDir, name)); err != nil {
			t.Fatalf("native %s not extracted: %v", name, err)
		}
	}
	if indexOf(plan.Args, "-cp") < 0 || indexOf(plan.Args, "--uuid") < 0 {
		t.Fatalf("args = %v", plan.Args)
	}

	if _, err := fx.assembler.Prepare(context.Background(), Request{Username: "Steve"}, nil); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	for _, p := range []string{"/client.jar", "/lib/brigadier.jar", "/natives-linux.jar"} {
		if n := fx.srv.count(p); n != 1 {
			t.Errorf("%s requested %d times, want 1", p, n)
		}
	}
	if fx.srv.count("/lib/objc.jar") != 0 {
		t.Error("library for another os was downloaded")
	}
}

func TestPrepareModdedClasspathOrder(t *testing.T) {
	fx := newFixture(t)
	if err := reconcile.WriteInstanceMarker(fx.home.InstanceDir, "2.0.0"); err != nil {
		t.Fatal(err)
	}
	writePack(t, fx.home.InstanceDir, `
		{"uid":"net.minecraft","version":"1.20.1"},
		{"uid":"net.fabricmc.intermediary","version":"1.20.1"},
		{"uid":"net.fabricmc.fabric-loader","version":"0.15.11"}`)

	plan, err := fx.assembler.Prepare(context.Background(), Request{Username: "Alex"}, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !plan.Instance || !plan.Modded || plan.MainClass != libraries.KnotMainClass {
		t.Fatalf("expected modded instance plan, got %+v", plan)
	}
	if plan.Dir != fx.home.InstanceDir {
		t.Fatalf("dir = %s", plan.Dir)
	}

	cp := plan.Classpath
	clientJar := fx.home.ClientJar(testVersion)
	if cp[len(cp)-1] != clientJar {
		t.Fatalf("client jar must be last, got %v", cp)
	}
	loader, intermediary := -1, -1
	for i, entry := range cp {
		switch filepath.Base(entry) {
		case "fabric-loader-0.15.11.jar":
			loader = i
		case "intermediary-1.20.1.jar":
			intermediary = i
		}
	}
	if loader < 0 || intermediary < 0 || loader > intermediary {
		t.Fatalf("loader %d intermediary %d in %v", loader, intermediary, cp)
	}
	if n := len(libraries.LoaderTable(libraries.Pack{LoaderVersion: "0.15.11", IntermediaryVersion: "1.20.1"})); len(cp) != n+2 {
		t.Fatalf("classpath has %d entries, want %d", len(cp), n+2)
	}
}

func TestPrepareRequiresUsername(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.assembler.Prepare(context.Background(), Request{Username: "  "}, nil); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
	if fx.srv.count("/manifest.json") != 0 {
		t.Fatal("nothing should be fetched without a username")
	}
}

func TestInstanceBootstrap(t *testing.T) {
	fx := newFixture(t)
	fx.srv.instance = zipBytes(t, map[string]string{
		libraries.PackFileName: `{"components":[{"uid":"net.minecraft","version":"1.20.1"}]}`,
		"options.txt":          "fov:90",
	})
	fx.assembler.opts.Config.Instance.URL = fx.srv.URL + "/instance.zip"

	plan, err := fx.assembler.Prepare(context.Background(), Request{Username: "Steve"}, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !plan.Instance || plan.Modded || plan.Dir != fx.home.InstanceDir {
		t.Fatalf("expected bootstrapped vanilla instance, got %+v", plan)
	}
	m, ok := reconcile.ReadInstanceMarker(fx.home.InstanceDir)
	if !ok || m.Version != bootstrapVersion {
		t.Fatalf("marker = %+v, %t", m, ok)
	}
	if _, err := os.Stat(filepath.Join(fx.home.InstanceDir, "options.txt")); err != nil {
		t.Fatalf("instance not extracted: %v", err)
	}
}

func TestInstanceBootstrapKeepsOrphanedSaves(t *testing.T) {
	fx := newFixture(t)
	level := filepath.Join(fx.home.InstanceDir, "saves", "World1", "level.dat")
	if err := os.MkdirAll(filepath.Dir(level), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(level, []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := archive.Backup(fx.home.InstanceDir, fx.home.BackupDir); err != nil {
		t.Fatal(err)
	}
	// Crash after the instance dir was cleared.
	if err := os.RemoveAll(fx.home.InstanceDir); err != nil {
		t.Fatal(err)
	}

	fx.srv.instance = zipBytes(t, map[string]string{
		libraries.PackFileName: `{"components":[{"uid":"net.minecraft","version":"1.20.1"}]}`,
	})
	fx.assembler.opts.Config.Instance.URL = fx.srv.URL + "/instance.zip"

	if _, err := fx.assembler.Prepare(context.Background(), Request{Username: "Steve"}, nil); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	data, err := os.ReadFile(level)
	if err != nil || string(data) != "world" {
		t.Fatalf("world lost: %q, %v", data, err)
	}
	if archive.HasOrphan(fx.home.BackupDir) {
		t.Fatal("backup should be cleared once restored")
	}
}

func TestInstanceBootstrapIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.srv.instance = zipBytes(t, map[string]string{
		libraries.PackFileName: `{"components":[{"uid":"net.minecraft","version":"1.20.1"}]}`,
		"options.txt":          "fov:90",
	})
	fx.assembler.opts.Config.Instance.URL = fx.srv.URL + "/instance.zip"

	if _, err := fx.assembler.Prepare(context.Background(), Request{Username: "Steve"}, nil); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}
	before := listTree(t, fx.home.InstanceDir)
	fetched := fx.srv.count("/instance.zip")

	plan, err := fx.assembler.Prepare(context.Background(), Request{Username: "Steve"}, nil)
	if err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if !plan.Instance {
		t.Fatalf("expected the instance, got %+v", plan)
	}
	if got := fx.srv.count("/instance.zip"); got != fetched {
		t.Fatalf("instance archive fetched again: %d -> %d", fetched, got)
	}
	if after := listTree(t, fx.home.InstanceDir); strings.Join(after, "\n") != strings.Join(before, "\n") {
		t.Fatalf("instance dir changed:\nbefore %v\nafter  %v", before, after)
	}
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		entry := rel
		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			entry = fmt.Sprintf("%s %d %d", rel, info.Size(), info.ModTime().UnixNano())
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestInstanceBootstrapFallsBackToVanilla(t *testing.T) {
	fx := newFixture(t)
	fx.assembler.opts.Config.Instance.URL = fx.srv.URL + "/broken.zip"

	plan, err := fx.assembler.Prepare(context.Background(), Request{Username: "Steve"}, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Instance || plan.Dir != fx.home.VanillaDir {
		t.Fatalf("expected vanilla fallback, got %+v", plan)
	}
	if _, err := os.Stat(filepath.Join(fx.home.DownloadsDir, "instance-bootstrap.zip")); !os.IsNotExist(err) {
		t.Fatal("rejected bootstrap archive should be removed")
	}
}

type fakeUpdater struct {
	calls int
	res   reconcile.ApplyResult
}

func (u *fakeUpdater) ApplyAll(_ context.Context, report progress.Func) reconcile.ApplyResult {
	u.calls++
	report("applying", 100)
	return u.res
}

func TestUpdateCheckIsCached(t *testing.T) {
	fx := newFixture(t)
	u := &fakeUpdater{res: reconcile.ApplyResult{Success: true}}
	fx.assembler.updater = u
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fx.assembler.now = func() time.Time { return now }

	ctx := context.Background()
	fx.assembler.checkUpdates(ctx, progress.Nop, fx.assembler.logger)
	now = now.Add(30 * time.Second)
	fx.assembler.checkUpdates(ctx, progress.Nop, fx.assembler.logger)
	if u.calls != 1 {
		t.Fatalf("updater called %d times within the ttl", u.calls)
	}
	now = now.Add(DefaultUpdateTTL)
	fx.assembler.checkUpdates(ctx, progress.Nop, fx.assembler.logger)
	if u.calls != 2 {
		t.Fatalf("updater called %d times after the ttl", u.calls)
	}
}

func TestUpdateFailureDoesNotBlockLaunch(t *testing.T) {
	fx := newFixture(t)
	fx.assembler.updater = &fakeUpdater{res: reconcile.ApplyResult{Err: errors.New("manifest unreachable")}}

	plan, err := fx.assembler.Prepare(context.Background(), Request{Username: "Steve"}, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if plan.Update.Err == nil {
		t.Fatal("update failure should be carried on the plan")
	}
}

func TestControllerLaunchRunsGame(t *testing.T) {
	fx := newFixture(t)
	c := NewController(fx.assembler, nil)

	var mu sync.Mutex
	var states []State
	var lines []string
	connected := make(chan struct{}, 1)
	exited := make(chan int, 1)
	hooks := Hooks{
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
		Game: proc.Hooks{
			OnLine: func(_ proc.Stream, line string) {
				mu.Lock()
				lines = append(lines, line)
				mu.Unlock()
			},
			OnConnecting: func() { connected <- struct{}{} },
			OnExit:       func(code int, _ error) { exited <- code },
		},
	}

	res := c.Launch(context.Background(), Request{Username: "Steve"}, nil, hooks)
	if !res.Success {
		t.Fatalf("launch failed: %s", res.Error)
	}
	select {
	case code := <-exited:
		if code != 0 {
			t.Fatalf("exit code %d", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("game did not exit")
	}
	select {
	case <-connected:
	default:
		t.Fatal("connecting hook not called")
	}
	if c.Running() {
		t.Fatal("controller still reports a running game")
	}
	if code, err := c.Wait(); code != 0 || err != nil {
		t.Fatalf("Wait = %d, %v", code, err)
	}

	mu.Lock()
	defer mu.Unlock()
	n := len(states)
	if n < 2 || states[n-2] != StateRunning || states[n-1] != StateExited {
		t.Fatalf("states = %v", states)
	}
	for _, l := range lines {
		if strings.Contains(l, "Session ID") {
			t.Fatalf("sensitive line leaked: %q", l)
		}
	}

	data, err := os.ReadFile(fx.argsFile)
	if err != nil {
		t.Fatalf("game args not written: %v", err)
	}
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	if args[0] != "-Xms512M" || args[1] != "-Xmx2048M" {
		t.Fatalf("heap flags must come first, got %v", args[:2])
	}
	if indexOf(args, OfflineUUID("Steve").String()) < 0 {
		t.Fatalf("offline uuid missing from %v", args)
	}

	archives, _ := filepath.Glob(filepath.Join(fx.home.LogsDir, "game*"))
	if len(archives) == 0 {
		t.Fatal("game output was not archived")
	}
}

func TestControllerRejectsConcurrentLaunch(t *testing.T) {
	fx := newFixture(t)
	c := NewController(fx.assembler, nil)
	c.launching.Lock()
	defer c.launching.Unlock()

	res := c.Launch(context.Background(), Request{Username: "Steve"}, nil, Hooks{})
	if res.Success || !errors.Is(res.Err, ErrLaunchInProgress) {
		t.Fatalf("expected ErrLaunchInProgress, got %+v", res)
	}
}

func TestControllerReportsFailure(t *testing.T) {
	fx := newFixture(t)
	fx.assembler.opts.Config.Game.Version = "0.0.0-missing"
	c := NewController(fx.assembler, nil)

	var states []State
	res := c.Launch(context.Background(), Request{Username: "Steve"}, nil, Hooks{OnState: func(s State) { states = append(states, s) }})
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure, got %+v", res)
	}
	if states[len(states)-1] != StateFailed {
		t.Fatalf("states = %v", states)
	}
}

func TestControllerRecoversPanic(t *testing.T) {
	fx := newFixture(t)
	fx.assembler.runtime = nil
	c := NewController(fx.assembler, nil)

	res := c.Launch(context.Background(), Request{Username: "Steve"}, nil, Hooks{})
	if res.Success || res.Stack == "" {
		t.Fatalf("expected recovered panic, got %+v", res)
	}
	if !strings.Contains(res.Error, StateVerifyingRuntime.String()) {
		t.Fatalf("error should name the failing state: %s", res.Error)
	}
}

func TestControllerWithoutGame(t *testing.T) {
	fx := newFixture(t)
	c := NewController(fx.assembler, nil)
	if err := c.Kill(context.Background()); err != nil {
		t.Fatalf("Kill without a game: %v", err)
	}
	if _, err := c.Wait(); !errors.Is(err, ErrNoGame) {
		t.Fatalf("expected ErrNoGame, got %v", err)
	}
}
