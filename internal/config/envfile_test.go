package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileParsesAndRespectsExistingValues(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "env")
	content := `
# comment
export RELAY_TEST_FOO=bar
RELAY_TEST_QUOTED="hello world"
RELAY_TEST_SINGLE='x y'
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("RELAY_TEST_FOO", "existing")
	t.Setenv("RELAY_TEST_QUOTED", "")
	t.Setenv("RELAY_TEST_SINGLE", "")
	os.Unsetenv("RELAY_TEST_QUOTED")
	os.Unsetenv("RELAY_TEST_SINGLE")

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("load env file: %v", err)
	}

	if got := os.Getenv("RELAY_TEST_FOO"); got != "existing" {
		t.Fatalf("expected existing value preserved, got %q", got)
	}
	if got := os.Getenv("RELAY_TEST_QUOTED"); got != "hello world" {
		t.Fatalf("expected quoted value loaded, got %q", got)
	}
	if got := os.Getenv("RELAY_TEST_SINGLE"); got != "x y" {
		t.Fatalf("expected single-quoted value loaded, got %q", got)
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestLoadEnvFileCandidatesFromExplicitPath(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "relay.env")
	if err := os.WriteFile(envPath, []byte("RELAY_TEST_EXPLICIT=42\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("HOME", tmp)
	t.Setenv("RELAY_ENV_FILE", envPath)
	t.Setenv("RELAY_TEST_EXPLICIT", "")
	os.Unsetenv("RELAY_TEST_EXPLICIT")

	loaded := LoadEnvFileCandidates()
	if len(loaded) != 1 || loaded[0] != envPath {
		t.Fatalf("expected only the explicit file to load, got %v", loaded)
	}
	if got := os.Getenv("RELAY_TEST_EXPLICIT"); got != "42" {
		t.Fatalf("expected explicit env file to load, got %q", got)
	}
}

func TestEnvFileCandidatesDeduplicate(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("RELAY_ENV_FILE", filepath.Join(home, ConfigDir, ".env"))

	got := EnvFileCandidates()
	if len(got) != 3 {
		t.Fatalf("expected 3 unique candidates, got %v", got)
	}
	if got[0] != filepath.Join(home, ConfigDir, ".env") {
		t.Errorf("expected explicit file first, got %v", got)
	}
	for _, p := range got {
		if !filepath.IsAbs(p) {
			t.Errorf("expected absolute path, got %s", p)
		}
	}
}
