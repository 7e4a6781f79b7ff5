package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"deskpilot/internal/config"

	"github.com/spf13/cobra"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install DeskPilot as a user daemon (launchd/systemd)",
		Long:  "Generates and installs a service file that runs 'deskpilot run --no-cli' at login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(cmd.OutOrStdout(), execPath, cfgPath)
			case "linux":
				return installSystemd(cmd.OutOrStdout(), execPath, cfgPath)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the DeskPilot user daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch runtime.GOOS {
			case "darwin":
				path = launchdPlistPath()
			case "linux":
				path = systemdUnitPath()
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon uninstalled: %s\n", path)
			return nil
		},
	}
}

const (
	launchdLabel = "com.deskpilot.agent"
	systemdUnit  = "deskpilot.service"
)

func launchdPlistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdUnitPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", systemdUnit)
}

// renderService fills a service template.
func renderService(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func installLaunchd(out io.Writer, execPath, cfgPath string) error {
	logDir := filepath.Join(config.DefaultConfigDir(), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	plistPath := launchdPlistPath()
	plist := renderService(launchdTemplate, map[string]string{
		"EXEC":    execPath,
		"CONFIG":  cfgPath,
		"LABEL":   launchdLabel,
		"LOG":     filepath.Join(logDir, "deskpilot.log"),
		"ERR_LOG": filepath.Join(logDir, "deskpilot-error.log"),
	})

	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(plist), 0o644); err != nil {
		return err
	}

	fmt.Fprintf(out, "Daemon installed: %s\n", plistPath)
	fmt.Fprintf(out, "To start: launchctl load %s\n", plistPath)
	fmt.Fprintf(out, "To stop:  launchctl unload %s\n", plistPath)
	return nil
}

func installSystemd(out io.Writer, execPath, cfgPath string) error {
	unitPath := systemdUnitPath()
	unit := renderService(systemdTemplate, map[string]string{
		"EXEC":   execPath,
		"CONFIG": cfgPath,
	})

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return err
	}

	fmt.Fprintf(out, "Daemon installed: %s\n", unitPath)
	fmt.Fprintf(out, "To start:  systemctl --user start deskpilot\n")
	fmt.Fprintf(out, "To enable: systemctl --user enable deskpilot\n")
	fmt.Fprintf(out, "To stop:   systemctl --user stop deskpilot\n")
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--no-cli</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=DeskPilot desktop automation agent
After=graphical-session.target

[Service]
Type=simple
ExecStart={{EXEC}} run --no-cli --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
