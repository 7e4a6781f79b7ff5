package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"deskpilot/internal/domain"
)

var startTime = time.Now()

// SysInfoTool reports host, CPU, memory and disk information.
type SysInfoTool struct{}

func NewSysInfoTool() *SysInfoTool {
	return &SysInfoTool{}
}

func (t *SysInfoTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "get_system_information",
		Description: "Get system information: OS, CPU, memory, disk and uptime",
		Category:    domain.CategorySystemControl,
		Keywords:    []string{"system", "info", "monitor", "cpu", "memory", "disk", "status"},
		Examples:    []string{"check system", "monitor system", "system info"},
	}
}

func (t *SysInfoTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	hostname, _ := os.Hostname()

	data := map[string]any{
		"hostname":       hostname,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"cpu_cores":      runtime.NumCPU(),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime_process": time.Since(startTime).Round(time.Second).String(),
	}
	if v := getOSVersion(ctx); v != "" {
		data["os_version"] = v
	}
	if v := getCPUName(ctx); v != "" {
		data["cpu_model"] = v
	}
	if total, avail := getMemory(ctx); total > 0 {
		data["memory_total_gb"] = round1(total / (1 << 30))
		if avail > 0 {
			data["memory_available_gb"] = round1(avail / (1 << 30))
			data["memory_used_percent"] = round1((total - avail) / total * 100)
		}
	}
	if v := getDiskInfo(ctx); v != "" {
		data["disk"] = v
	}
	if v := runCmd(ctx, "uptime"); v != "" {
		data["uptime"] = v
	}

	lines := []string{fmt.Sprintf("%s (%s/%s), %d cores", hostname, runtime.GOOS, runtime.GOARCH, runtime.NumCPU())}
	if v, ok := data["memory_used_percent"]; ok {
		lines = append(lines, fmt.Sprintf("memory used %v%%", v))
	}
	return domain.OK(strings.Join(lines, ", "), data), nil
}

func runCmd(ctx context.Context, name string, args ...string) string {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(out.String())
}

func getOSVersion(ctx context.Context) string {
	switch runtime.GOOS {
	case "darwin":
		ver := runCmd(ctx, "sw_vers", "-productVersion")
		if name := runCmd(ctx, "sw_vers", "-productName"); name != "" && ver != "" {
			return name + " " + ver
		}
		return ver
	case "linux":
		if data, err := os.ReadFile("/etc/os-release"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "PRETTY_NAME=") {
					return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
				}
			}
		}
		return runCmd(ctx, "uname", "-r")
	}
	return ""
}

func getCPUName(ctx context.Context) string {
	switch runtime.GOOS {
	case "darwin":
		return runCmd(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
	case "linux":
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return ""
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "model name") {
				if _, v, ok := strings.Cut(line, ":"); ok {
					return strings.TrimSpace(v)
				}
			}
		}
	}
	return ""
}

// getMemory returns total and available bytes, zero when unknown.
func getMemory(ctx context.Context) (total, available float64) {
	switch runtime.GOOS {
	case "darwin":
		total, _ = strconv.ParseFloat(runCmd(ctx, "sysctl", "-n", "hw.memsize"), 64)
	case "linux":
		data, err := os.ReadFile("/proc/meminfo")
		if err != nil {
			return 0, 0
		}
		for _, line := range strings.Split(string(data), "\n") {
			var kb float64
			switch {
			case strings.HasPrefix(line, "MemTotal:"):
				fmt.Sscanf(line, "MemTotal: %f kB", &kb)
				total = kb * 1024
			case strings.HasPrefix(line, "MemAvailable:"):
				fmt.Sscanf(line, "MemAvailable: %f kB", &kb)
				available = kb * 1024
			}
		}
	}
	return total, available
}

func getDiskInfo(ctx context.Context) string {
	out := runCmd(ctx, "df", "-h", "/")
	lines := strings.Split(out, "\n")
	if len(lines) >= 2 {
		return strings.Join(strings.Fields(lines[1]), " ")
	}
	return out
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
