// Package libraries holds the fixed loader dependency table, the repository
// routing rules used to download it and the ordered classpath the game is
// started with.
package libraries

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"blocklaunch/internal/fetch"
	"blocklaunch/internal/progress"
)

// KnotMainClass is the loader entry point that replaces the game's own.
const KnotMainClass = "net.fabricmc.loader.impl.launch.knot.KnotClient"

// Coordinate is a Maven-style artifact coordinate.
type Coordinate struct {
	Group      string
	Artifact   string
	Version    string
	Classifier string
}

// ParseCoordinate parses "group:artifact:version[:classifier]".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return Coordinate{}, fmt.Errorf("invalid coordinate %q", s)
	}
	for _, p := range parts {
		if p == "" {
			return Coordinate{}, fmt.Errorf("invalid coordinate %q", s)
		}
	}
	c := Coordinate{Group: parts[0], Artifact: parts[1], Version: parts[2]}
	if len(parts) == 4 {
		c.Classifier = parts[3]
	}
	return c, nil
}

func (c Coordinate) String() string {
	s := c.Group + ":" + c.Artifact + ":" + c.Version
	if c.Classifier != "" {
		s += ":" + c.Classifier
	}
	return s
}

// FileName is the jar name inside the repository.
func (c Coordinate) FileName() string {
	name := c.Artifact + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return name + ".jar"
}

// Path is the repository-relative path, always with forward slashes.
func (c Coordinate) Path() string {
	return path.Join(strings.ReplaceAll(c.Group, ".", "/"), c.Artifact, c.Version, c.FileName())
}

// Spec is one entry of the loader dependency table.
type Spec struct {
	Name       string
	Coordinate Coordinate
}

// RepoRule routes coordinates whose group starts with Prefix to BaseURL.
// An empty prefix matches everything.
type RepoRule struct {
	Prefix  string
	BaseURL string
}

// DefaultRepoRules are evaluated in order; the first match wins.
var DefaultRepoRules = []RepoRule{
	{Prefix: "net.fabricmc", BaseURL: "https://maven.fabricmc.net/"},
	{Prefix: "org.ow2.asm", BaseURL: "https://repo1.maven.org/maven2/"},
	{Prefix: "", BaseURL: "https://libraries.minecraft.net/"},
}

// Repository returns the base URL for c under rules.
func Repository(rules []RepoRule, c Coordinate) (string, error) {
	for _, rule := range rules {
		if strings.HasPrefix(c.Group, rule.Prefix) {
			return rule.BaseURL, nil
		}
	}
	return "", fmt.Errorf("no repository for %s", c)
}

// URL returns the download URL for c under rules.
func URL(rules []RepoRule, c Coordinate) (string, error) {
	base, err := Repository(rules, c)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(base, "/") + "/" + c.Path(), nil
}

func mustCoordinate(s string) Coordinate {
	c, err := ParseCoordinate(s)
	if err != nil {
		panic(err)
	}
	return c
}

// loaderDependencies is the fixed set of jars the loader needs besides
// itself and the intermediary mappings, in classpath order.
var loaderDependencies = []Spec{
	{Name: "asm", Coordinate: mustCoordinate("org.ow2.asm:asm:9.6")},
	{Name: "asm-analysis", Coordinate: mustCoordinate("org.ow2.asm:asm-analysis:9.6")},
	{Name: "asm-commons", Coordinate: mustCoordinate("org.ow2.asm:asm-commons:9.6")},
	{Name: "asm-tree", Coordinate: mustCoordinate("org.ow2.asm:asm-tree:9.6")},
	{Name: "asm-util", Coordinate: mustCoordinate("org.ow2.asm:asm-util:9.6")},
	{Name: "sponge-mixin", Coordinate: mustCoordinate("net.fabricmc:sponge-mixin:0.12.5+mixin.0.8.5")},
	{Name: "tiny-mappings-parser", Coordinate: mustCoordinate("net.fabricmc:tiny-mappings-parser:0.3.0+build.17")},
	{Name: "tiny-remapper", Coordinate: mustCoordinate("net.fabricmc:tiny-remapper:0.8.2")},
	{Name: "access-widener", Coordinate: mustCoordinate("net.fabricmc:access-widener:2.1.0")},
}

// LoaderTable returns the fixed dependencies followed by the loader and the
// intermediary (bridging) jar.
func LoaderTable(pack Pack) []Spec {
	table := append([]Spec(nil), loaderDependencies...)
	table = append(table,
		Spec{Name: "fabric-loader", Coordinate: Coordinate{Group: "net.fabricmc", Artifact: "fabric-loader", Version: pack.LoaderVersion}},
		Spec{Name: "intermediary", Coordinate: Coordinate{Group: "net.fabricmc", Artifact: "intermediary", Version: pack.IntermediaryVersion}},
	)
	return table
}

// Fetcher downloads a single file.
type Fetcher interface {
	Fetch(ctx context.Context, task fetch.Task, report progress.Func) error
}

// Ensure downloads every spec missing from libDir and returns the local
// paths in table order. check, when set, validates cached files and fresh
// downloads; a cached file failing it is downloaded again. check should
// delete files it rejects.
func Ensure(ctx context.Context, f Fetcher, rules []RepoRule, specs []Spec, libDir string, check func(path string) error, report progress.Func) ([]string, error) {
	report = progress.OrNop(report)
	paths := make([]string, 0, len(specs))
	for i, spec := range specs {
		dest := filepath.Join(libDir, filepath.FromSlash(spec.Coordinate.Path()))
		paths = append(paths, dest)
		percent := (i + 1) * 100 / len(specs)

		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			if check == nil || check(dest) == nil {
				report(fmt.Sprintf("Library %s ready", spec.Name), percent)
				continue
			}
		}
		u, err := URL(rules, spec.Coordinate)
		if err != nil {
			return nil, err
		}
		task := fetch.Task{URLs: []string{u}, Dest: dest, Label: spec.Coordinate.FileName()}
		if err := f.Fetch(ctx, task, progress.Slice(report, i*100/len(specs), percent)); err != nil {
			return nil, fmt.Errorf("library %s: %w", spec.Name, err)
		}
		if check != nil {
			if err := check(dest); err != nil {
				return nil, fmt.Errorf("library %s: %w", spec.Name, err)
			}
		}
		report(fmt.Sprintf("Library %s ready", spec.Name), percent)
	}
	return paths, nil
}
