// ABOUTME: Tests for the palladium-gateway CLI commands and logger setup
// ABOUTME: Runs init against scripted input and probes an httptest server

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/palladium-gateway/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		configFlag = "/tmp/flag.yaml"
		t.Cleanup(func() { configFlag = "" })
		t.Setenv("PALLADIUM_CONFIG", "/tmp/env.yaml")
		assert.Equal(t, "/tmp/flag.yaml", getConfigPath())
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("PALLADIUM_CONFIG", "/tmp/env.yaml")
		assert.Equal(t, "/tmp/env.yaml", getConfigPath())
	})

	t.Run("xdg", func(t *testing.T) {
		t.Setenv("PALLADIUM_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "palladium", "gateway.yaml"), getConfigPath())
	})
}

func TestDialAddr(t *testing.T) {
	tests := map[string]string{
		"0.0.0.0:8000":   "127.0.0.1:8000",
		":8000":          "127.0.0.1:8000",
		"localhost:8000": "localhost:8000",
	}
	for in, want := range tests {
		if got := dialAddr(in); got != want {
			t.Errorf("dialAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "gateway.yaml")

	answers := strings.Join([]string{
		path,
		"127.0.0.1:9000",
		filepath.Join(dir, "data", "palladium.db"),
		"ollama",
		"llama3.1",
		"",
		"memory",
		filepath.Join(dir, "uploads"),
		"debug",
		"",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, config.ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.False(t, cfg.LLM.Functions)
	assert.Equal(t, config.SheetsBackendMemory, cfg.Sheets.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.DirExists(t, filepath.Join(dir, "uploads"))
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestRunInitKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(path+"\nno\n"), &out))
	assert.Contains(t, out.String(), "Aborted.")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

// writeProbeConfig points the CLI at addr through a temporary config file.
func writeProbeConfig(t *testing.T, addr string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := fmt.Sprintf(`server:
  http_addr: %q
database:
  path: ":memory:"
llm:
  api_key: "test"
sheets:
  backend: memory
`, addr)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	configFlag = path
	t.Cleanup(func() { configFlag = "" })
}

func TestRunHealthAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte("OK"))
		case "/health/ready":
			w.Write([]byte("ready (2 sessions)"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	writeProbeConfig(t, strings.TrimPrefix(srv.URL, "http://"))

	var out bytes.Buffer
	require.NoError(t, runHealth(context.Background(), &out))
	assert.Equal(t, "healthy\n", out.String())

	out.Reset()
	require.NoError(t, runStatus(context.Background(), &out))
	assert.Equal(t, "ready (2 sessions)\n", out.String())
}

func TestRunStatusNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("store unavailable"))
	}))
	defer srv.Close()
	writeProbeConfig(t, strings.TrimPrefix(srv.URL, "http://"))

	err := runStatus(context.Background(), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")

	err = runHealth(context.Background(), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestSetupLoggerFanout(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "gateway.log")
	var console bytes.Buffer

	logger, closeLog, err := setupLogger(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		File:   logFile,
	}, &console)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("turn complete", "conversation_id", "c-1")
	require.NoError(t, closeLog())

	assert.Contains(t, console.String(), `"msg":"turn complete"`)
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "turn complete", rec["msg"])
	assert.Equal(t, "c-1", rec["conversation_id"])
}

func TestSetupLoggerBadFile(t *testing.T) {
	_, _, err := setupLogger(config.LoggingConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var out bytes.Buffer
	logger := slog.New(newColorHandler(&out, slog.LevelInfo)).With("component", "gateway")

	logger.Debug("hidden")
	logger.WithGroup("req").Warn("slow request", "path", "/chat/stream")

	line := out.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "WRN slow request")
	assert.Contains(t, line, "component=gateway")
	assert.Contains(t, line, "req.path=/chat/stream")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestRootCommandListsSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "init", "health", "status"})
}
