package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

const (
	launchdLabel = "com.relaybot.relay"
	systemdUnit  = "relaybot.service"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install relaybot as a user daemon (launchd/systemd)",
		Long:  "Generates and installs a service file that runs `relaybot run` in the background and restarts it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			svc := serviceParams{
				Exec:    execPath,
				Config:  resolveConfigPath(),
				EnvFile: absEnvFile(envFile),
				LogDir:  filepath.Join(config.DefaultConfigDir(), "logs"),
			}

			home, _ := os.UserHomeDir()
			switch runtime.GOOS {
			case "darwin":
				path := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
				if err := os.MkdirAll(svc.LogDir, 0o755); err != nil {
					return err
				}
				if err := writeServiceFile(path, svc.launchd()); err != nil {
					return err
				}
				fmt.Printf("Daemon installed: %s\n", path)
				fmt.Printf("To start: launchctl load %s\n", path)
				fmt.Printf("To stop:  launchctl unload %s\n", path)
			case "linux":
				path := filepath.Join(home, ".config", "systemd", "user", systemdUnit)
				if err := writeServiceFile(path, svc.systemd()); err != nil {
					return err
				}
				fmt.Printf("Daemon installed: %s\n", path)
				fmt.Printf("To start:  systemctl --user start relaybot\n")
				fmt.Printf("To enable: systemctl --user enable relaybot\n")
				fmt.Printf("Logs:      journalctl --user -u relaybot -f\n")
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relaybot user daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _ := os.UserHomeDir()
			var path string
			switch runtime.GOOS {
			case "darwin":
				path = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
			case "linux":
				path = filepath.Join(home, ".config", "systemd", "user", systemdUnit)
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", path)
			return nil
		},
	}
}

// serviceParams holds the values substituted into the service templates.
type serviceParams struct {
	Exec    string
	Config  string
	EnvFile string // optional
	LogDir  string
}

func (s serviceParams) args() []string {
	args := []string{s.Exec, "run", "--config", s.Config}
	if s.EnvFile != "" {
		args = append(args, "--env-file", s.EnvFile)
	}
	return args
}

func (s serviceParams) launchd() string {
	var argXML strings.Builder
	for _, a := range s.args() {
		argXML.WriteString("        <string>" + a + "</string>\n")
	}
	out := strings.ReplaceAll(launchdTemplate, "{{LABEL}}", launchdLabel)
	out = strings.ReplaceAll(out, "{{ARGS}}", strings.TrimRight(argXML.String(), "\n"))
	out = strings.ReplaceAll(out, "{{LOG}}", filepath.Join(s.LogDir, "relaybot.log"))
	out = strings.ReplaceAll(out, "{{ERR_LOG}}", filepath.Join(s.LogDir, "relaybot-error.log"))
	return out
}

func (s serviceParams) systemd() string {
	return strings.ReplaceAll(systemdTemplate, "{{EXEC}}", strings.Join(s.args(), " "))
}

func writeServiceFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func absEnvFile(path string) string {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return ""
		}
		path = ".env"
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
{{ARGS}}
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
Description=relaybot Discord message relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
