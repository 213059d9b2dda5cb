package gamemeta

import (
	"strings"

	"blocklaunch/internal/platform"
)

// Artifact is a downloadable file described by the version metadata.
type Artifact struct {
	Path string `json:"path"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// OSRule restricts a rule to an operating system.
type OSRule struct {
	Name string `json:"name"`
	Arch string `json:"arch"`
}

// Rule allows or disallows a library.
type Rule struct {
	Action string  `json:"action"`
	OS     *OSRule `json:"os,omitempty"`
}

// Library is one entry of the version's library list.
type Library struct {
	Name      string `json:"name"`
	Downloads struct {
		Artifact    *Artifact           `json:"artifact,omitempty"`
		Classifiers map[string]Artifact `json:"classifiers,omitempty"`
	} `json:"downloads"`
	Rules   []Rule            `json:"rules,omitempty"`
	Natives map[string]string `json:"natives,omitempty"`
	Extract *struct {
		Exclude []string `json:"exclude"`
	} `json:"extract,omitempty"`
}

// Version is the per-version metadata document.
type Version struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	MainClass  string `json:"mainClass"`
	Assets     string `json:"assets"`
	AssetIndex struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"assetIndex"`
	Downloads struct {
		Client Artifact `json:"client"`
	} `json:"downloads"`
	JavaVersion struct {
		MajorVersion int `json:"majorVersion"`
	} `json:"javaVersion"`
	Libraries []Library `json:"libraries"`
}

// AssetIndexID returns the asset index name passed to the game.
func (v *Version) AssetIndexID() string {
	if v.AssetIndex.ID != "" {
		return v.AssetIndex.ID
	}
	return v.Assets
}

// Allowed evaluates the library rules for the given rule os name and
// architecture. Later matching rules override earlier ones.
func (l Library) Allowed(ruleOS, arch string) bool {
	if len(l.Rules) == 0 {
		return true
	}
	allowed := false
	for _, rule := range l.Rules {
		if rule.OS != nil {
			if rule.OS.Name != "" && rule.OS.Name != ruleOS {
				continue
			}
			if rule.OS.Arch != "" && rule.OS.Arch != arch {
				continue
			}
		}
		allowed = rule.Action == "allow"
	}
	return allowed
}

// Classifier returns the fourth coordinate segment of the library name, if
// any ("group:artifact:version:classifier").
func (l Library) Classifier() string {
	parts := strings.Split(l.Name, ":")
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

// NativeArtifact is a natives jar together with the entry prefixes that
// must not be extracted from it.
type NativeArtifact struct {
	Artifact
	Exclude []string
}

// Resolved is the platform-specific library selection of a version.
type Resolved struct {
	Classpath []Artifact
	Natives   []NativeArtifact
}

// ResolveLibraries selects the jars for the classpath and the native
// bundles for profile.
func (v *Version) ResolveLibraries(p platform.Profile, arch string) Resolved {
	var out Resolved
	seen := map[string]bool{}
	fresh := func(a Artifact) bool {
		if a.Path == "" || seen[a.Path] {
			return false
		}
		seen[a.Path] = true
		return true
	}
	addNative := func(lib Library, a Artifact) {
		if !fresh(a) {
			return
		}
		n := NativeArtifact{Artifact: a}
		if lib.Extract != nil {
			n.Exclude = lib.Extract.Exclude
		}
		out.Natives = append(out.Natives, n)
	}

	for _, lib := range v.Libraries {
		if !lib.Allowed(p.RuleOS, arch) {
			continue
		}
		if classifier := lib.Classifier(); strings.HasPrefix(classifier, "natives-") {
			if classifier == p.NativesClassifier && lib.Downloads.Artifact != nil {
				addNative(lib, *lib.Downloads.Artifact)
			}
			continue
		}
		if lib.Downloads.Artifact != nil && fresh(*lib.Downloads.Artifact) {
			out.Classpath = append(out.Classpath, *lib.Downloads.Artifact)
		}
		if key, ok := lib.Natives[p.RuleOS]; ok {
			key = strings.ReplaceAll(key, "${arch}", "64")
			if a, ok := lib.Downloads.Classifiers[key]; ok {
				addNative(lib, a)
			}
		}
	}
	return out
}
