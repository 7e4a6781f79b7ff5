package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest files looked for in a plugin directory, in order.
var manifestFiles = []string{"plugin.yaml", "plugin.yml", "plugin.json"}

// Manifest describes a plugin directory. It is bookkeeping only and never
// merged into the descriptors of the capabilities the plugin defines.
type Manifest struct {
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	Description  string   `json:"description" yaml:"description"`
	Author       string   `json:"author" yaml:"author"`
	Requirements []string `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// readManifest loads the manifest of dir. A directory without one returns
// nil and no error.
func readManifest(dir string) (*Manifest, error) {
	for _, name := range manifestFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}

		var m Manifest
		if strings.HasSuffix(name, ".json") {
			err = json.Unmarshal(data, &m)
		} else {
			err = yaml.Unmarshal(data, &m)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
		}
		if m.Name == "" {
			m.Name = filepath.Base(dir)
		}
		return &m, nil
	}
	return nil, nil
}

func isManifestFile(name string) bool {
	for _, m := range manifestFiles {
		if name == m {
			return true
		}
	}
	return false
}
