package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ValidationResult captures a single validation finding.
type ValidationResult struct {
	Level   string `json:"level"` // "error" or "warning"
	Message string `json:"message"`
}

// Validate checks the configuration for values the launcher cannot use.
func (c Config) Validate() []ValidationResult {
	var results []ValidationResult
	results = append(results, c.validateURLs()...)
	results = append(results, c.validateMemory()...)
	results = append(results, c.validateRuntime()...)
	return results
}

// HasErrors reports whether any result is an error.
func HasErrors(results []ValidationResult) bool {
	for _, r := range results {
		if r.Level == "error" {
			return true
		}
	}
	return false
}

func (c Config) validateURLs() []ValidationResult {
	var results []ValidationResult
	if len(c.Manifest.URLs) == 0 {
		results = append(results, ValidationResult{
			Level:   "warning",
			Message: "manifest.urls is empty; content updates are disabled",
		})
	}
	check := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			results = append(results, ValidationResult{
				Level:   "error",
				Message: fmt.Sprintf("%s %q is not an http(s) URL", field, value),
			})
		}
	}
	for i, u := range c.Manifest.URLs {
		check(fmt.Sprintf("manifest.urls[%d]", i), u)
	}
	check("instance.url", c.Instance.URL)
	check("launcher.download_url", c.Launcher.DownloadURL)
	check("game.manifest_url", c.Game.ManifestURL)
	return results
}

func (c Config) validateMemory() []ValidationResult {
	var results []ValidationResult
	if c.Memory.MinMB < 0 || c.Memory.MaxMB < 0 {
		results = append(results, ValidationResult{Level: "error", Message: "memory values must be positive"})
		return results
	}
	if c.Memory.MaxMB > 0 && c.Memory.MinMB > c.Memory.MaxMB {
		results = append(results, ValidationResult{
			Level:   "error",
			Message: fmt.Sprintf("memory.min_mb (%d) exceeds memory.max_mb (%d)", c.Memory.MinMB, c.Memory.MaxMB),
		})
	}
	if c.Memory.MaxMB > 0 && c.Memory.MaxMB < 1024 {
		results = append(results, ValidationResult{
			Level:   "warning",
			Message: fmt.Sprintf("memory.max_mb (%d) is below 1024; the game may not start", c.Memory.MaxMB),
		})
	}
	return results
}

func (c Config) validateRuntime() []ValidationResult {
	var results []ValidationResult
	if c.Runtime.MinMajor < 8 {
		results = append(results, ValidationResult{
			Level:   "error",
			Message: fmt.Sprintf("runtime.min_major (%d) must be 8 or newer", c.Runtime.MinMajor),
		})
	}
	if override := strings.TrimSpace(c.Runtime.Override); override != "" {
		if _, err := os.Stat(override); err != nil {
			results = append(results, ValidationResult{
				Level:   "error",
				Message: fmt.Sprintf("runtime.override %q not found", override),
			})
		}
	}
	if tmpl := c.Runtime.DownloadURL; tmpl != "" && !strings.Contains(tmpl, "{os}") {
		results = append(results, ValidationResult{
			Level:   "warning",
			Message: "runtime.download_url has no {os} placeholder; the same archive is used on every platform",
		})
	}
	return results
}
