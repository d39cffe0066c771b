package static

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestName is the manifest file written at the static root.
const ManifestName = "staticmanifest.json"

// manifestFile is the on-disk manifest format: logical asset paths mapped
// to their content-hashed names.
type manifestFile struct {
	Version int               `json:"version"`
	Paths   map[string]string `json:"paths"`
}

// writeManifest atomically replaces the manifest at the static root.
func writeManifest(root string, paths map[string]string) error {
	data, err := json.MarshalIndent(manifestFile{Version: 1, Paths: paths}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode static manifest: %w", err)
	}

	tmp, err := os.CreateTemp(root, ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create manifest temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write static manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, filepath.Join(root, ManifestName)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace static manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest at the static root. A missing manifest
// returns an empty map, not an error; serving then falls back to plain
// names.
func LoadManifest(root string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read static manifest: %w", err)
	}

	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse static manifest: %w", err)
	}
	if mf.Paths == nil {
		mf.Paths = map[string]string{}
	}
	return mf.Paths, nil
}
