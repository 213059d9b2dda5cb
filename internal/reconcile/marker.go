package reconcile

import (
	"path/filepath"
	"time"

	"blocklaunch/internal/jsonfile"
)

// InstanceMarkerName is written at the root of an installed instance.
const InstanceMarkerName = ".blocklaunch-instance"

// InstanceMarker records which instance archive populated the game dir.
type InstanceMarker struct {
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installed_at"`
}

// WriteInstanceMarker marks gameDir as a complete instance.
func WriteInstanceMarker(gameDir, version string) error {
	return jsonfile.Save(filepath.Join(gameDir, InstanceMarkerName), InstanceMarker{
		Version:     version,
		InstalledAt: time.Now().UTC(),
	})
}

// ReadInstanceMarker loads the marker. ok is false when gameDir holds no
// complete instance.
func ReadInstanceMarker(gameDir string) (InstanceMarker, bool) {
	var m InstanceMarker
	found, err := jsonfile.Load(filepath.Join(gameDir, InstanceMarkerName), &m)
	if err != nil || !found {
		return InstanceMarker{}, false
	}
	return m, true
}
