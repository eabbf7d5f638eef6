// Package export writes computed objects to disk: JSON payloads that
// round-trip exactly, and diagram renderings of branches and manifold
// surfaces.
package export

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
)

// SaveJSON writes v as indented JSON, creating parent directories.
func SaveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return dynamo.Configf("create output directory for %q: %v", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return dynamo.Invariantf("encode %q: %v", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return dynamo.Configf("write %q: %v", path, err)
	}
	return nil
}

// LoadJSON reads a JSON payload written by SaveJSON into v.
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return dynamo.Configf("read %q: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return dynamo.Invariantf("decode %q: %v", path, err)
	}
	return nil
}

// LoadBranch reads a stored branch and re-checks its invariants.
func LoadBranch(path string) (*cont.Branch, error) {
	var br cont.Branch
	if err := LoadJSON(path, &br); err != nil {
		return nil, err
	}
	if err := br.Validate(); err != nil {
		return nil, err
	}
	return &br, nil
}
