package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bobarin/framecast/internal/models"
)

// LoadComposition reads a composition manifest in YAML or JSON, chosen by
// extension. Relative audio and asset paths resolve against the manifest's
// directory.
func LoadComposition(path string) (*models.Composition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read composition: %w", err)
	}

	var comp models.Composition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &comp)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &comp)
	default:
		return nil, fmt.Errorf("unsupported composition format %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse composition: %w", err)
	}

	base := filepath.Dir(path)
	comp.AudioPath = resolvePath(base, comp.AudioPath)
	for i := range comp.Assets {
		comp.Assets[i].Source = resolvePath(base, comp.Assets[i].Source)
	}
	return &comp, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(base, p)
}
