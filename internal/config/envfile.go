package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileCandidates lists the dotenv files the relay reads, in priority
// order, as absolute paths without duplicates. RELAY_ENV_FILE comes first.
func EnvFileCandidates() []string {
	paths := []string{strings.TrimSpace(os.Getenv("RELAY_ENV_FILE")), ".env"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "vaultrelay", "env"),
			filepath.Join(home, ConfigDir, ".env"),
		)
	}
	out := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// LoadEnvFileCandidates applies every candidate that exists and returns
// the ones it read. A variable already in the process environment wins,
// and so does the first file that sets it.
func LoadEnvFileCandidates() []string {
	var loaded []string
	for _, p := range EnvFileCandidates() {
		if loadEnvFile(p) == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return godotenv.Load(path)
}
