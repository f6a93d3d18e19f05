package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"

	"anonchat/internal/config"
)

const serviceName = "anonchat"

var serviceTemplates = map[string]string{
	"darwin": `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>com.anonchat</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.BinaryPath}}</string>
		<string>serve</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
	</dict>
	<key>StandardOutPath</key>
	<string>{{.LogPath}}/anonchat.log</string>
	<key>StandardErrorPath</key>
	<string>{{.LogPath}}/anonchat-error.log</string>
	<key>WorkingDirectory</key>
	<string>{{.HomeDir}}</string>
	<key>EnvironmentVariables</key>
	<dict>
		<key>HOME</key>
		<string>{{.HomeDir}}</string>
{{- range $k, $v := .Env}}
		<key>{{$k}}</key>
		<string>{{$v}}</string>
{{- end}}
	</dict>
</dict>
</plist>
`,
	"linux": `[Unit]
Description=anonchat chat server
After=network.target

[Service]
Type=simple
ExecStart={{.BinaryPath}} serve
Restart=on-failure
RestartSec=10
WorkingDirectory={{.HomeDir}}
Environment="HOME={{.HomeDir}}"
{{- range $k, $v := .Env}}
Environment="{{$k}}={{$v}}"
{{- end}}

[Install]
WantedBy=default.target
`,
}

type serviceConfig struct {
	BinaryPath string
	HomeDir    string
	LogPath    string
	// Env pins the settings the installer ran with, so the service does
	// not depend on the shell that started it.
	Env map[string]string
}

func newDaemonCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the anonchat user service",
		Long:  `Install, uninstall and inspect anonchat as a systemd or launchd user service.`,
	}

	cmd.AddCommand(newDaemonInstallCommand(cfg))
	cmd.AddCommand(newDaemonUninstallCommand())
	cmd.AddCommand(newDaemonStatusCommand())

	return cmd
}

func newDaemonInstallCommand(cfg *config.Config) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install anonchat as a user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newServiceConfig(cfg)
			if err != nil {
				return err
			}
			if printOnly {
				return writeServiceFile(cmd.OutOrStdout(), runtime.GOOS, svc)
			}
			return installDaemon(cmd.OutOrStdout(), svc)
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the service file instead of installing it")

	return cmd
}

func newDaemonUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			servicePath, err := getServicePath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(servicePath); os.IsNotExist(err) {
				return fmt.Errorf("service not installed")
			}

			// Stopping fails when the service is not running.
			_ = serviceCommand("stop", servicePath).Run()

			if err := os.Remove(servicePath); err != nil {
				return fmt.Errorf("failed to remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service uninstalled: %s\n", servicePath)
			return nil
		},
	}
}

func newDaemonStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			servicePath, err := getServicePath()
			if err != nil {
				return err
			}
			output, err := serviceCommand("status", servicePath).CombinedOutput()
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Service is not running")
			}
			_, werr := cmd.OutOrStdout().Write(output)
			return werr
		},
	}
}

func newServiceConfig(cfg *config.Config) (*serviceConfig, error) {
	binaryPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	logPath := filepath.Join(homeDir, "Library", "Logs")
	if runtime.GOOS == "linux" {
		logPath = filepath.Join(homeDir, ".local", "state", serviceName)
	}

	return &serviceConfig{
		BinaryPath: binaryPath,
		HomeDir:    homeDir,
		LogPath:    logPath,
		Env: map[string]string{
			"ANONCHAT_SERVER_ADDR":  cfg.Server.Addr,
			"ANONCHAT_STORAGE_PATH": cfg.StoragePath,
		},
	}, nil
}

// getServicePath returns the path to the service file based on OS
func getServicePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "LaunchAgents", "com.anonchat.plist"), nil
	case "linux":
		return filepath.Join(homeDir, ".config", "systemd", "user", serviceName+".service"), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

func serviceCommand(action, servicePath string) *exec.Cmd {
	if runtime.GOOS == "darwin" {
		switch action {
		case "start":
			return exec.Command("launchctl", "load", servicePath)
		case "stop":
			return exec.Command("launchctl", "unload", servicePath)
		}
		return exec.Command("launchctl", "list", "com.anonchat")
	}
	return exec.Command("systemctl", "--user", action, serviceName)
}

func writeServiceFile(w io.Writer, goos string, svc *serviceConfig) error {
	text, ok := serviceTemplates[goos]
	if !ok {
		return fmt.Errorf("unsupported operating system: %s", goos)
	}
	tmpl := template.Must(template.New(goos).Parse(text))
	if err := tmpl.Execute(w, svc); err != nil {
		return fmt.Errorf("failed to generate service file: %w", err)
	}
	return nil
}

// installDaemon writes the service file and starts the service.
func installDaemon(out io.Writer, svc *serviceConfig) error {
	servicePath, err := getServicePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(servicePath); err == nil {
		return fmt.Errorf("service already installed at %s\nRun 'anonchat daemon uninstall' first to reinstall", servicePath)
	}

	for _, dir := range []string{filepath.Dir(servicePath), svc.LogPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	var content bytes.Buffer
	if err := writeServiceFile(&content, runtime.GOOS, svc); err != nil {
		return err
	}
	if err := os.WriteFile(servicePath, content.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}
	fmt.Fprintf(out, "Service file installed at: %s\n", servicePath)

	if runtime.GOOS == "linux" {
		if output, err := exec.Command("systemctl", "--user", "daemon-reload").CombinedOutput(); err != nil {
			return fmt.Errorf("failed to reload systemd: %w\nOutput: %s", err, output)
		}
	}

	if output, err := serviceCommand("start", servicePath).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to start service: %w\nOutput: %s", err, output)
	}
	fmt.Fprintln(out, "Service started. Check it with 'anonchat daemon status'.")
	return nil
}
