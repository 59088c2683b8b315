package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lewtec/pungyeong/annotation"
)

// executeCommand is a helper to run a cobra command and capture its output
func executeCommand(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	log.SetOutput(&errOut)
	defer log.SetOutput(os.Stderr)

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// subcommands keep the context of their first run otherwise
	for _, cmd := range rootCmd.Commands() {
		cmd.SetContext(ctx)
	}

	err := rootCmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// unsetCredentials keeps the developer's environment out of the tests.
func unsetCredentials(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GOOGLE_API_KEY_IMAGE", "GEMINI_API_KEY", "DATABASE_URL", "S3_BUCKET",
		"FTP_HOST", "FTP_USER", "FTP_PASSWORD", "FTP_IMAGE_DIR",
	} {
		t.Setenv(name, "")
	}
}

func TestInitCmd(t *testing.T) {
	unsetCredentials(t)

	t.Run("writes a config that loads back with defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "pungyeong.yaml")

		out, _, err := executeCommand("init", "--output", configPath)
		if err != nil {
			t.Fatalf("command execution failed: %v", err)
		}
		if !strings.Contains(out, "Configuration file created") {
			t.Errorf("unexpected output: %s", out)
		}

		config, err := annotation.LoadConfig(configPath)
		if err != nil {
			t.Fatalf("sample config does not load: %v", err)
		}
		if config.Gemini.Model != "gemini-2.5-flash" {
			t.Errorf("model = %q", config.Gemini.Model)
		}
		if config.Gemini.Timeout != 120*time.Second {
			t.Errorf("timeout = %v", config.Gemini.Timeout)
		}
		if config.S3.Prefix != "rapa25/data/raw_image" {
			t.Errorf("prefix = %q", config.S3.Prefix)
		}
		if config.Gemini.APIKey != "" {
			t.Errorf("api key should be empty, got %q", config.Gemini.APIKey)
		}
	})

	t.Run("leaves an existing file alone", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "pungyeong.yaml")
		os.WriteFile(configPath, []byte("gemini:\n  model: custom\n"), 0644)

		out, _, err := executeCommand("init", "--output", configPath)
		if err != nil {
			t.Fatalf("command execution failed: %v", err)
		}
		if !strings.Contains(out, "already exists") {
			t.Errorf("unexpected output: %s", out)
		}
		content, _ := os.ReadFile(configPath)
		if string(content) != "gemini:\n  model: custom\n" {
			t.Errorf("config was overwritten: %s", content)
		}
	})
}

func TestBatchCmd_MissingCredentials(t *testing.T) {
	unsetCredentials(t)

	_, _, err := executeCommand("batch", "/images")
	if err == nil {
		t.Fatal("expected an error without credentials")
	}
	for _, want := range []string{"GOOGLE_API_KEY_IMAGE", "DATABASE_URL", "FTP_HOST"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestMigrateAndQuery(t *testing.T) {
	unsetCredentials(t)
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "records.db"))

	if _, errOut, err := executeCommand("migrate"); err != nil {
		t.Fatalf("migrate failed: %v, output: %s", err, errOut)
	}

	out, _, err := executeCommand("query")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if !strings.Contains(out, "next_id\t1") {
		t.Errorf("expected next id 1 on an empty table, got: %s", out)
	}

	out, _, err = executeCommand("query", "deadbeef")
	if err != nil {
		t.Fatalf("query by hash failed: %v", err)
	}
	if strings.TrimSpace(out) != "id\ts3_key\tstatus\tfile_path" {
		t.Errorf("expected only the header, got: %s", out)
	}
}

func TestAnalyzeCmd_RequiresImage(t *testing.T) {
	unsetCredentials(t)

	_, _, err := executeCommand("analyze", filepath.Join(t.TempDir(), "missing.jpg"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
