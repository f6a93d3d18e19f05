package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"anonchat/internal/config"
)

func newConfigCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `Initialize and manage anonchat configuration.`,
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(cfg))
	cmd.AddCommand(newConfigPathCommand(cfg))
	cmd.AddCommand(newConfigSetCommand(cfg))

	return cmd
}

const defaultConfigYAML = `# anonchat configuration
# Every key can also be set through the environment, for example
# ANONCHAT_SERVER_ADDR=:9090 or ANONCHAT_LOG_LEVEL=debug.

server:
  addr: ":8080"
  public_url: "http://localhost:8080/"  # Base for relative links in messages
  secure_cookies: false                 # Set when served over HTTPS
  allowed_origins: []                   # Cross-origin API clients
  gate_path: "/leave"                   # Outbound link confirmation page

chat:
  max_length: 1000
  rate_limit: 30      # Messages per rate_window and identity
  rate_window: "1m"
  page_size: 30

render:
  max_url_length: 200
  probe_timeout: "5s"  # Image HEAD probe
  allow_private: false # Never probe loopback or private addresses
  cache_ttl: "1h"

cleanup:
  schedule: "0 0 3 * * *"  # Seconds first
  retention_days: 6
  inactive_days: 30

storage_path: "~/.anonchat/anonchat.db"

# Logging
log_level: "info"  # debug, info, warn, error
`

func newConfigInitCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}

			// Create directory
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o600); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created config at %s\n", path)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintln(out, "1. Set the public URL: anonchat config set server.public_url https://chat.example.com/")
			fmt.Fprintln(out, "2. Check the setup:    anonchat doctor")
			fmt.Fprintln(out, "3. Start the server:   anonchat serve")
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Config file to create (default ~/.anonchat/config.yaml)")

	return cmd
}

func newConfigShowCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			if cfg.ConfigPath != "" {
				fmt.Fprintf(out, "# %s\n", cfg.ConfigPath)
			} else {
				fmt.Fprintln(out, "# built-in defaults")
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigPathCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.ConfigPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p + " (not created)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigSetCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			if cfg.ConfigPath == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				cfg.ConfigPath = p
			}
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", key)
			return nil
		},
	}
}

// setConfigValue assigns one of the commonly edited keys.
func setConfigValue(cfg *config.Config, key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s needs a number, got %q", key, value)
		}
		return n, nil
	}

	var err error
	switch key {
	case "server.addr":
		cfg.Server.Addr = value
	case "server.public_url":
		cfg.Server.PublicURL = value
	case "server.secure_cookies":
		cfg.Server.SecureCookies, err = strconv.ParseBool(value)
	case "chat.max_length":
		cfg.Chat.MaxLength, err = atoi()
	case "chat.rate_limit":
		cfg.Chat.RateLimit, err = atoi()
	case "cleanup.schedule":
		cfg.Cleanup.Schedule = value
	case "cleanup.retention_days":
		cfg.Cleanup.RetentionDays, err = atoi()
	case "storage_path":
		cfg.StoragePath = value
	case "log_level":
		cfg.LogLevel = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return err
}
