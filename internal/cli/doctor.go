package cli

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"anonchat/internal/config"
	"anonchat/internal/cron"
	"anonchat/internal/identity"
)

// probeCheckURL is a well-known host used to test outbound HEAD requests.
const probeCheckURL = "https://www.google.com/"

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

type checkResult struct {
	name     string
	passed   bool
	required bool
	message  string
}

func newDoctorCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics to check system health",
		Long:  `Verify that all required dependencies and configurations are properly set up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("anonchat diagnostics")
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Println()

			var results []checkResult
			var hasFailures bool

			// Run all checks
			results = append(results, checkConfigFile(cfg))
			results = append(results, checkPublicURL(cfg))
			results = append(results, checkListenAddr(cfg))
			results = append(results, checkStoragePath(cfg))
			results = append(results, checkSchedule(cfg))
			results = append(results, checkProbeReachable(cfg))
			results = append(results, checkIdentity(cfg))

			// Print results
			for _, result := range results {
				printResult(result)
				if result.required && !result.passed {
					hasFailures = true
				}
			}

			fmt.Println()
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

			if hasFailures {
				fmt.Printf("%s✗ Some required checks failed%s\n", colorRed, colorReset)
				return fmt.Errorf("diagnostics failed")
			}

			fmt.Printf("%s✓ All required checks passed%s\n", colorGreen, colorReset)
			return nil
		},
	}
}

func printResult(result checkResult) {
	var symbol, color, typeLabel string

	if result.passed {
		symbol = "✓"
		color = colorGreen
	} else {
		symbol = "✗"
		if result.required {
			color = colorRed
		} else {
			color = colorYellow
		}
	}

	if result.required {
		typeLabel = ""
	} else {
		typeLabel = fmt.Sprintf(" %s[optional]%s", colorCyan, colorReset)
	}

	fmt.Printf("%s%s%s %s%s", color, symbol, colorReset, result.name, typeLabel)

	if result.message != "" {
		fmt.Printf("\n  %s%s%s", color, result.message, colorReset)
	}

	fmt.Println()
}

func checkConfigFile(cfg *config.Config) checkResult {
	result := checkResult{
		name:     "Config file exists",
		required: false,
	}

	if cfg.ConfigPath == "" {
		result.passed = false
		result.message = "No config file found. Using built-in defaults. Run 'anonchat config init' to create one."
		return result
	}

	// Check if file exists
	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		result.passed = false
		result.message = fmt.Sprintf("Config file not found: %s", cfg.ConfigPath)
		return result
	}

	// Validate YAML
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		result.passed = false
		result.message = fmt.Sprintf("Failed to read config file: %v", err)
		return result
	}

	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		result.passed = false
		result.message = fmt.Sprintf("Invalid YAML syntax: %v", err)
		return result
	}

	result.passed = true
	result.message = fmt.Sprintf("Found: %s", cfg.ConfigPath)
	return result
}

func checkPublicURL(cfg *config.Config) checkResult {
	result := checkResult{
		name:     "Public URL",
		required: true,
	}

	u, err := url.Parse(cfg.Server.PublicURL)
	if err != nil || !u.IsAbs() {
		result.passed = false
		result.message = fmt.Sprintf("Not an absolute URL: %q. Run: anonchat config set server.public_url https://chat.example.com/", cfg.Server.PublicURL)
		return result
	}
	if u.Scheme == "https" && !cfg.Server.SecureCookies {
		result.passed = true
		result.message = "Served over HTTPS but server.secure_cookies is off"
		return result
	}

	result.passed = true
	result.message = u.String()
	return result
}

func checkListenAddr(cfg *config.Config) checkResult {
	result := checkResult{
		name:     "Listen address available",
		required: true,
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		result.passed = false
		result.message = fmt.Sprintf("Cannot listen on %s: %v", cfg.Server.Addr, err)
		return result
	}
	ln.Close()

	result.passed = true
	result.message = cfg.Server.Addr
	return result
}

func checkSchedule(cfg *config.Config) checkResult {
	result := checkResult{
		name:     "Cleanup schedule",
		required: true,
	}

	if err := cron.ValidateExpression(cfg.Cleanup.Schedule); err != nil {
		result.passed = false
		result.message = err.Error()
		return result
	}

	result.passed = true
	result.message = fmt.Sprintf("%q, keeping %d days of messages", cfg.Cleanup.Schedule, cfg.Cleanup.RetentionDays)
	return result
}

func checkProbeReachable(cfg *config.Config) checkResult {
	result := checkResult{
		name:     "Image probes reach the internet",
		required: false,
	}

	// Try to reach the URL
	client := &http.Client{
		Timeout: cfg.Render.ProbeTimeout,
	}

	req, err := http.NewRequest("HEAD", probeCheckURL, nil)
	if err != nil {
		result.passed = false
		result.message = fmt.Sprintf("Invalid URL: %v", err)
		return result
	}

	resp, err := client.Do(req)
	if err != nil {
		result.passed = false
		result.message = fmt.Sprintf("Cannot reach %s: %v. Images will be left out of messages.", probeCheckURL, err)
		return result
	}
	resp.Body.Close()

	result.passed = true
	result.message = fmt.Sprintf("Reachable: %s", probeCheckURL)
	return result
}

func checkStoragePath(cfg *config.Config) checkResult {
	result := checkResult{
		name:     "Storage path",
		required: true,
	}

	if cfg.StoragePath == "" {
		result.passed = false
		result.message = "Storage path not configured"
		return result
	}

	// Get directory
	dir := filepath.Dir(cfg.StoragePath)

	// Check if directory exists
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Try to create it
		if err := os.MkdirAll(dir, 0755); err != nil {
			result.passed = false
			result.message = fmt.Sprintf("Directory doesn't exist and cannot be created: %s", dir)
			return result
		}
		result.passed = true
		result.message = fmt.Sprintf("Created directory: %s", dir)
		return result
	}

	// Check if writable
	testFile := filepath.Join(dir, ".anonchat-write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		result.passed = false
		result.message = fmt.Sprintf("Directory not writable: %s", dir)
		return result
	}
	os.Remove(testFile)

	result.passed = true
	result.message = fmt.Sprintf("Exists and writable: %s", dir)
	return result
}

func checkIdentity(cfg *config.Config) checkResult {
	result := checkResult{
		name:     "CLI identity",
		required: false,
	}

	data, err := os.ReadFile(cfg.IdentityPath)
	if os.IsNotExist(err) {
		result.passed = false
		result.message = fmt.Sprintf("Not created yet; 'anonchat send' creates %s", cfg.IdentityPath)
		return result
	}
	if err != nil {
		result.passed = false
		result.message = fmt.Sprintf("Failed to read %s: %v", cfg.IdentityPath, err)
		return result
	}
	id, err := identity.Parse(string(data))
	if err != nil {
		result.passed = false
		result.message = err.Error()
		return result
	}

	result.passed = true
	result.message = fmt.Sprintf("Posting as %s", id.DefaultNickname())
	return result
}
