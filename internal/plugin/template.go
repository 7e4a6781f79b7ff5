package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var pluginNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

const capabilitiesTemplate = `# Capabilities of the %[1]s plugin. Each entry runs exec.command with
# exec.args; {{.param}} expands to the value of a declared parameter.
capabilities:
  - name: %[2]s
    description: Greet someone from the %[1]s plugin
    category: custom
    version: 0.1.0
    keywords: [%[1]s, hello, greet]
    platforms: [linux, darwin]
    requirements: [sh]
    parameters:
      - name: name
        kind: string
        description: Who to greet
        default: world
    examples:
      - say hello from %[1]s
    exec:
      command: sh
      args: ["-c", "echo Hello, {{.name}}"]
      timeout: 10
`

const readmeTemplate = `# %[1]s

Plugin directory loaded as unit ` + "`plugin/%[1]s`" + `.

- ` + "`plugin.yaml`" + ` holds the manifest (name, version, description, author, requirements).
- ` + "`capabilities.yaml`" + ` defines the capabilities. Any other ` + "`.yaml`" + ` file in this
  directory is read as well.

Reload after editing with ` + "`deskpilot plugins reload plugin/%[1]s`" + ` or keep
` + "`plugins.watch`" + ` enabled.
`

// CreateTemplate writes a starter plugin named name under dir and returns
// its path. An existing plugin directory is never overwritten.
func CreateTemplate(name, dir string) (string, error) {
	if !pluginNameRe.MatchString(name) {
		return "", fmt.Errorf("invalid plugin name %q: use letters, digits, '-' and '_'", name)
	}
	root := filepath.Join(dir, name)
	if _, err := os.Stat(root); err == nil {
		return "", fmt.Errorf("plugin directory %s already exists", root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create plugin directory: %w", err)
	}

	manifest, err := yaml.Marshal(Manifest{
		Name:        name,
		Version:     "0.1.0",
		Description: "Describe what " + name + " does",
		Author:      "",
	})
	if err != nil {
		return "", err
	}
	capName := strings.ToLower(strings.ReplaceAll(name, "-", "_")) + "_hello"

	files := map[string]string{
		"plugin.yaml":       string(manifest),
		"capabilities.yaml": fmt.Sprintf(capabilitiesTemplate, name, capName),
		"README.md":         fmt.Sprintf(readmeTemplate, name),
	}
	for file, content := range files {
		if err := os.WriteFile(filepath.Join(root, file), []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", file, err)
		}
	}
	return root, nil
}
