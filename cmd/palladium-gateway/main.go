// ABOUTME: Entry point for palladium-gateway, the streaming spreadsheet chat server
// ABOUTME: Provides serve, init, health and status commands

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/palladium-gateway/internal/config"
	"github.com/2389/palladium-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _ _           _ _
 _ __   __ _| | | __ _  __| (_)_   _ _ __ ___
| '_ \ / _' | | |/ _' |/ _' | | | | | '_ ' _ \
| |_) | (_| | | | (_| | (_| | | |_| | | | | | |
| .__/ \__,_|_|_|\__,_|\__,_|_|\__,_|_| |_| |_|
|_|
`

// configFlag overrides the config path lookup.
var configFlag string

// getConfigPath returns the path to the gateway config file.
// Priority: --config > PALLADIUM_CONFIG > XDG_CONFIG_HOME/palladium/gateway.yaml > ~/.config/palladium/gateway.yaml
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if envPath := os.Getenv("PALLADIUM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "palladium", "gateway.yaml")
}

// getDataPath returns the path to the palladium data directory.
// Priority: XDG_DATA_HOME/palladium > ~/.local/share/palladium
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "palladium")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "palladium-gateway",
		Short:         "Streaming chat server that keeps spreadsheets in step with the conversation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to the config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the gateway server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create a new config file interactively",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runInit(cmd.InOrStdin(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check gateway health",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHealth(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show gateway readiness and live session count",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStatus(cmd.Context(), cmd.OutOrStdout())
			},
		},
	)
	return root
}

func main() {
	// A missing .env is normal; variables may come from the environment.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer closeLog()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s", cfg.LLM.Model)
	gray.Printf(" (%s)\n", cfg.LLM.Provider)
	green.Print("    ▶ ")
	fmt.Printf("Sheets:    %s", cfg.Sheets.Backend)
	if cfg.Sheets.Backend == config.SheetsBackendMemory {
		yellow.Print(" [not persisted]")
	}
	fmt.Println()
	fmt.Println()

	logger.Info("starting palladium-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// probe GETs path on the configured gateway and returns the status and body.
func probe(ctx context.Context, path string) (int, string, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return 0, "", fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", dialAddr(cfg.Server.HTTPAddr), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

// dialAddr turns a wildcard listen address into one a client can reach.
func dialAddr(addr string) string {
	if rest, ok := strings.CutPrefix(addr, "0.0.0.0:"); ok {
		return "127.0.0.1:" + rest
	}
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

func runHealth(ctx context.Context, out io.Writer) error {
	status, _, err := probe(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func runStatus(ctx context.Context, out io.Writer) error {
	status, body, err := probe(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("not ready: %s", strings.TrimSpace(body))
	}

	fmt.Fprintln(out, body)
	return nil
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "palladium-gateway configuration setup")
	fmt.Fprintln(out, "=====================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, out, "HTTP address", cfg.Server.HTTPAddr)

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	cfg.Database.Path = prompt(reader, out, "SQLite database path", filepath.Join(getDataPath(), "palladium.db"))

	fmt.Fprintln(out, "\n--- LLM Configuration ---")
	cfg.LLM.Provider = prompt(reader, out, "Provider (openai/ollama)", cfg.LLM.Provider)
	cfg.LLM.Model = prompt(reader, out, "Model", cfg.LLM.Model)
	if cfg.LLM.Provider == config.ProviderOllama {
		cfg.LLM.APIKey = ""
		cfg.LLM.Functions = false
		cfg.LLM.BaseURL = prompt(reader, out, "Ollama server URL", "http://localhost:11434")
	}

	fmt.Fprintln(out, "\n--- Spreadsheet Configuration ---")
	cfg.Sheets.Backend = prompt(reader, out, "Backend (google/memory)", cfg.Sheets.Backend)
	if cfg.Sheets.Backend == config.SheetsBackendMemory {
		cfg.Sheets.CredentialsFile = ""
	} else {
		cfg.Sheets.CredentialsFile = prompt(reader, out, "Service account credentials file", cfg.Sheets.CredentialsFile)
	}

	fmt.Fprintln(out, "\n--- Uploads Configuration ---")
	cfg.Uploads.Dir = prompt(reader, out, "Upload directory", filepath.Join(getDataPath(), "uploads"))

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, out, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, out, "Log format (text/json)", cfg.Logging.Format)

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	content := "# palladium-gateway configuration\n# Generated by palladium-gateway init\n\n" + string(data)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file may hold credentials.
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	for _, dir := range []string{filepath.Dir(cfg.Database.Path), cfg.Uploads.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  palladium-gateway serve")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// EOF: take the default
		fmt.Fprintln(out)
		return defaultVal
	}

	if input == "" {
		return defaultVal
	}
	return input
}
