package libraries

import (
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// PackFileName is the pack description shipped at the root of an instance.
const PackFileName = "mmc-pack.json"

const (
	loaderUID       = "net.fabricmc.fabric-loader"
	intermediaryUID = "net.fabricmc.intermediary"
	gameUID         = "net.minecraft"
)

// Pack is the loader setup an instance asks for.
type Pack struct {
	GameVersion         string
	LoaderVersion       string
	IntermediaryVersion string
}

// DetectLoader reads the pack description and reports whether it requests
// the loader. A missing file means no loader.
func DetectLoader(packFile string) (Pack, bool, error) {
	data, err := os.ReadFile(packFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Pack{}, false, nil
		}
		return Pack{}, false, fmt.Errorf("read pack description: %w", err)
	}
	return ParsePack(data)
}

// ParsePack extracts the loader components from pack description JSON.
func ParsePack(data []byte) (Pack, bool, error) {
	if !gjson.ValidBytes(data) {
		return Pack{}, false, fmt.Errorf("pack description is not valid JSON")
	}
	component := func(uid string) string {
		return gjson.GetBytes(data, `components.#(uid=="`+uid+`").version`).String()
	}

	pack := Pack{
		GameVersion:         component(gameUID),
		LoaderVersion:       component(loaderUID),
		IntermediaryVersion: component(intermediaryUID),
	}
	if pack.LoaderVersion == "" {
		return pack, false, nil
	}
	if pack.IntermediaryVersion == "" {
		pack.IntermediaryVersion = pack.GameVersion
	}
	if pack.IntermediaryVersion == "" {
		return pack, false, fmt.Errorf("pack requests loader %s but names no game or intermediary version", pack.LoaderVersion)
	}
	return pack, true, nil
}
