package libraries

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blocklaunch/internal/fetch"
)

func TestParseCoordinate(t *testing.T) {
	c, err := ParseCoordinate("net.fabricmc:sponge-mixin:0.12.5+mixin.0.8.5")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Path(); got != "net/fabricmc/sponge-mixin/0.12.5+mixin.0.8.5/sponge-mixin-0.12.5+mixin.0.8.5.jar" {
		t.Fatalf("Path() = %q", got)
	}

	native, err := ParseCoordinate("org.lwjgl:lwjgl:3.3.1:natives-linux")
	if err != nil {
		t.Fatal(err)
	}
	if native.FileName() != "lwjgl-3.3.1-natives-linux.jar" || native.String() != "org.lwjgl:lwjgl:3.3.1:natives-linux" {
		t.Fatalf("unexpected classifier handling: %s %s", native.FileName(), native)
	}

	for _, bad := range []string{"a:b", "a::c", "a:b:c:d:e"} {
		if _, err := ParseCoordinate(bad); err == nil {
			t.Errorf("ParseCoordinate(%q) should fail", bad)
		}
	}
}

func TestRepositoryFirstMatchWins(t *testing.T) {
	rules := []RepoRule{
		{Prefix: "net.fabricmc", BaseURL: "https://fabric/"},
		{Prefix: "net", BaseURL: "https://net/"},
		{Prefix: "", BaseURL: "https://fallback/"},
	}
	tests := map[string]string{
		"net.fabricmc:fabric-loader:0.15.0": "https://fabric/",
		"net.java.dev:jna:5.0":              "https://net/",
		"com.mojang:brigadier:1.0":          "https://fallback/",
	}
	for coord, want := range tests {
		got, err := Repository(rules, mustCoordinate(coord))
		if err != nil || got != want {
			t.Errorf("Repository(%s) = %q, %v; want %q", coord, got, err, want)
		}
	}
	if _, err := Repository(rules[:1], mustCoordinate("org.ow2.asm:asm:9.6")); err == nil {
		t.Error("expected no repository without a catch-all rule")
	}
}

func TestDefaultRulesRouteTable(t *testing.T) {
	u, err := URL(DefaultRepoRules, mustCoordinate("org.ow2.asm:asm-tree:9.6"))
	if err != nil {
		t.Fatal(err)
	}
	if u != "https://repo1.maven.org/maven2/org/ow2/asm/asm-tree/9.6/asm-tree-9.6.jar" {
		t.Fatalf("asm url = %q", u)
	}
	u, _ = URL(DefaultRepoRules, mustCoordinate("net.fabricmc:intermediary:1.20.1"))
	if !strings.HasPrefix(u, "https://maven.fabricmc.net/net/fabricmc/intermediary/1.20.1/") {
		t.Fatalf("intermediary url = %q", u)
	}
}

func TestLoaderTableEndsWithLoaderAndIntermediary(t *testing.T) {
	table := LoaderTable(Pack{LoaderVersion: "0.15.11", IntermediaryVersion: "1.20.1"})
	if len(table) != len(loaderDependencies)+2 {
		t.Fatalf("table size = %d", len(table))
	}
	if table[0].Name != "asm" {
		t.Fatalf("table must keep its fixed order, first = %s", table[0].Name)
	}
	loader, bridge := table[len(table)-2], table[len(table)-1]
	if loader.Coordinate.String() != "net.fabricmc:fabric-loader:0.15.11" || bridge.Coordinate.String() != "net.fabricmc:intermediary:1.20.1" {
		t.Fatalf("unexpected tail %s, %s", loader.Coordinate, bridge.Coordinate)
	}
}

func TestClasspathGameJarForcedLast(t *testing.T) {
	var cp Classpath
	cp.Append("/v/client.jar")
	cp.Append("/l/lwjgl.jar")
	cp.AppendAll([]string{"/l/asm.jar", "/l/fabric-loader.jar", "/l/intermediary.jar", "/l/asm.jar"})
	cp.MoveToEnd("/v/client.jar")

	got := cp.Entries()
	want := []string{"/l/lwjgl.jar", "/l/asm.jar", "/l/fabric-loader.jar", "/l/intermediary.jar", "/v/client.jar"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("classpath = %v, want %v", got, want)
	}
	if cp.Join(":") != strings.Join(want, ":") {
		t.Fatalf("Join = %q", cp.Join(":"))
	}

	var fresh Classpath
	fresh.MoveToEnd("/v/client.jar")
	if fresh.Len() != 1 || !fresh.Contains("/v/client.jar") {
		t.Fatal("MoveToEnd should add a missing entry")
	}
}

func TestParsePack(t *testing.T) {
	data := []byte(`{
	  "formatVersion": 1,
	  "components": [
	    {"uid": "org.lwjgl3", "version": "3.3.1"},
	    {"uid": "net.minecraft", "version": "1.20.1"},
	    {"uid": "net.fabricmc.intermediary", "version": "1.20.1"},
	    {"uid": "net.fabricmc.fabric-loader", "version": "0.15.11"}
	  ]
	}`)
	pack, ok, err := ParsePack(data)
	if err != nil || !ok {
		t.Fatalf("ParsePack = %+v, %v, %v", pack, ok, err)
	}
	if pack.LoaderVersion != "0.15.11" || pack.IntermediaryVersion != "1.20.1" || pack.GameVersion != "1.20.1" {
		t.Fatalf("unexpected pack %+v", pack)
	}

	vanilla := []byte(`{"components": [{"uid": "net.minecraft", "version": "1.20.1"}]}`)
	if _, ok, err := ParsePack(vanilla); ok || err != nil {
		t.Fatalf("vanilla pack should report no loader, got %v %v", ok, err)
	}

	noBridge := []byte(`{"components": [{"uid": "net.minecraft", "version": "1.19.4"}, {"uid": "net.fabricmc.fabric-loader", "version": "0.14.0"}]}`)
	pack, ok, err = ParsePack(noBridge)
	if err != nil || !ok || pack.IntermediaryVersion != "1.19.4" {
		t.Fatalf("intermediary should default to the game version, got %+v %v %v", pack, ok, err)
	}

	if _, _, err := ParsePack([]byte("{")); err == nil {
		t.Fatal("expected invalid JSON error")
	}
}

func TestDetectLoaderMissingFile(t *testing.T) {
	_, ok, err := DetectLoader(filepath.Join(t.TempDir(), PackFileName))
	if ok || err != nil {
		t.Fatalf("missing pack file = %v, %v", ok, err)
	}
}

func TestEnsureDownloadsOnlyMissing(t *testing.T) {
	var (
		mu        sync.Mutex
		requested []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(strings.Repeat("j", 2048)))
	}))
	defer srv.Close()

	libDir := t.TempDir()
	specs := []Spec{
		{Name: "asm", Coordinate: mustCoordinate("org.ow2.asm:asm:9.6")},
		{Name: "loader", Coordinate: mustCoordinate("net.fabricmc:fabric-loader:0.15.11")},
	}
	cached := filepath.Join(libDir, filepath.FromSlash(specs[0].Coordinate.Path()))
	if err := os.MkdirAll(filepath.Dir(cached), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cached, []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := fetch.New(nil)
	f.RetryDelay = time.Millisecond
	var checked []string
	paths, err := Ensure(context.Background(), f, []RepoRule{{BaseURL: srv.URL}}, specs, libDir, func(p string) error {
		checked = append(checked, p)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(paths) != 2 || paths[0] != cached {
		t.Fatalf("paths = %v", paths)
	}
	if len(requested) != 1 || requested[0] != "/net/fabricmc/fabric-loader/0.15.11/fabric-loader-0.15.11.jar" {
		t.Fatalf("requested = %v", requested)
	}
	if len(checked) != 2 {
		t.Fatalf("check should run for cached and fresh files, got %v", checked)
	}
}

func TestEnsureHonorsFetcherRetryLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := fetch.New(nil)
	f.RetryDelay = time.Millisecond
	f.MaxRetries = 2
	spec := Spec{Name: "asm", Coordinate: mustCoordinate("org.ow2.asm:asm:9.6")}
	if _, err := Ensure(context.Background(), f, []RepoRule{{BaseURL: srv.URL}}, []Spec{spec}, t.TempDir(), nil, nil); err == nil {
		t.Fatal("expected failure")
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestEnsureRefetchesRejectedCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("j", 4096)))
	}))
	defer srv.Close()

	libDir := t.TempDir()
	spec := Spec{Name: "asm", Coordinate: mustCoordinate("org.ow2.asm:asm:9.6")}
	dest := filepath.Join(libDir, filepath.FromSlash(spec.Coordinate.Path()))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("trunc"), 0o644); err != nil {
		t.Fatal(err)
	}

	minSize := func(p string) error {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.Size() < 1024 {
			_ = os.Remove(p)
			return errors.New("too small")
		}
		return nil
	}
	if _, err := Ensure(context.Background(), fetch.New(nil), []RepoRule{{BaseURL: srv.URL}}, []Spec{spec}, libDir, minSize, nil); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one download, got %d", hits.Load())
	}
	if info, err := os.Stat(dest); err != nil || info.Size() != 4096 {
		t.Fatalf("expected a fresh 4096 byte file, got %v %v", info, err)
	}
}

func TestEnsureSurfacesCheckFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tiny"))
	}))
	defer srv.Close()

	tooSmall := errors.New("too small")
	f := fetch.New(nil)
	specs := []Spec{{Name: "asm", Coordinate: mustCoordinate("org.ow2.asm:asm:9.6")}}
	_, err := Ensure(context.Background(), f, []RepoRule{{BaseURL: srv.URL}}, specs, t.TempDir(), func(string) error { return tooSmall }, nil)
	if !errors.Is(err, tooSmall) {
		t.Fatalf("expected check error, got %v", err)
	}
}
