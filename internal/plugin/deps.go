package plugin

import (
	"go/version"
	"os/exec"
	"runtime"
	"strings"

	"deskpilot/internal/domain"
)

// platformAliases maps common spellings to GOOS values.
var platformAliases = map[string]string{
	"macos": "darwin",
	"mac":   "darwin",
	"osx":   "darwin",
	"win":   "windows",
	"win32": "windows",
	"win64": "windows",
}

// Environment is the runtime a capability's dependencies are checked against.
type Environment struct {
	GOOS     string
	Version  string // runtime version, e.g. go1.25.6
	LookPath func(file string) (string, error)
}

// HostEnvironment describes the running process.
func HostEnvironment() Environment {
	return Environment{
		GOOS:     runtime.GOOS,
		Version:  runtime.Version(),
		LookPath: exec.LookPath,
	}
}

// DependencyReport is the outcome of a dependency check.
type DependencyReport struct {
	Valid      bool     `json:"valid"`
	Missing    []string `json:"missing,omitempty"`
	PlatformOK bool     `json:"platform_ok"`
	VersionOK  bool     `json:"version_ok"`
}

// Reason summarizes why the report is invalid.
func (r DependencyReport) Reason() string {
	var parts []string
	if len(r.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(r.Missing, ", "))
	}
	if !r.PlatformOK {
		parts = append(parts, "unsupported platform")
	}
	if !r.VersionOK {
		parts = append(parts, "runtime too old")
	}
	return strings.Join(parts, "; ")
}

// Check verifies that every requirement resolves to an executable, that the
// current OS is among the declared platforms and that the runtime meets the
// declared minimum. An empty platform list supports every OS.
func (e Environment) Check(desc domain.CapabilityDescriptor) DependencyReport {
	r := DependencyReport{PlatformOK: true, VersionOK: true}

	for _, req := range desc.Requirements {
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		if e.LookPath == nil {
			r.Missing = append(r.Missing, req)
			continue
		}
		if _, err := e.LookPath(req); err != nil {
			r.Missing = append(r.Missing, req)
		}
	}

	if len(desc.Platforms) > 0 {
		r.PlatformOK = false
		for _, p := range desc.Platforms {
			if normalizePlatform(p) == e.GOOS {
				r.PlatformOK = true
				break
			}
		}
	}

	if want := strings.TrimSpace(desc.MinimumRuntimeVersion); want != "" {
		r.VersionOK = versionAtLeast(e.Version, want)
	}

	r.Valid = len(r.Missing) == 0 && r.PlatformOK && r.VersionOK
	return r
}

// ValidateDependencies checks desc against the loader's environment.
func (l *Loader) ValidateDependencies(desc domain.CapabilityDescriptor) DependencyReport {
	return l.env.Check(desc)
}

func normalizePlatform(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if alias, ok := platformAliases[p]; ok {
		return alias
	}
	return p
}

// versionAtLeast compares Go toolchain versions. Development builds report
// no release version and always pass.
func versionAtLeast(current, minimum string) bool {
	if !strings.HasPrefix(minimum, "go") {
		minimum = "go" + minimum
	}
	if !version.IsValid(minimum) {
		return false
	}
	if !version.IsValid(current) {
		return true
	}
	return version.Compare(current, minimum) >= 0
}
