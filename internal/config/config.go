// Package config loads server configuration from a JSON file backend at an
// XDG-compatible path, with SOLVEDOC_* environment variables overriding
// file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Log       LogConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type OllamaConfig struct {
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	Temperature float64
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	BaseThreshold   float64
	StrictThreshold float64
	MaxResults      int
}

type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MaxUploadBytes int
}

type LogConfig struct {
	Level string
}

type AuthConfig struct {
	APIToken string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4600,
			MaxConns: 64,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			ChatModel:   "llama3.1",
			EmbedModel:  "nomic-embed-text",
			Temperature: 0.1,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			BaseThreshold:   0.25,
			StrictThreshold: 0.40,
			MaxResults:      5,
		},
		Ingest: IngestConfig{
			ChunkSize:      2000,
			ChunkOverlap:   150,
			MaxUploadBytes: 50 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "solvedoc-data"
		}
	}
	return filepath.Join(dir, "solvedoc")
}

// Load reads configuration from the JSON file backend, then applies
// SOLVEDOC_* environment overrides. The API token additionally falls back to
// the token file next to the config file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Auth.APIToken == "" {
		if token, err := readTokenFile(); err == nil {
			cfg.Auth.APIToken = token
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// validate rejects configurations the engine cannot run with. Threshold
// ordering is checked here so a bad deployment fails at startup, not at the
// first question.
func validate(cfg Config) error {
	r := cfg.Retrieval
	if r.BaseThreshold < 0 || r.BaseThreshold > 1 {
		return fmt.Errorf("retrieval.base_threshold %g outside [0, 1]", r.BaseThreshold)
	}
	if r.StrictThreshold < 0 || r.StrictThreshold > 1 {
		return fmt.Errorf("retrieval.strict_threshold %g outside [0, 1]", r.StrictThreshold)
	}
	if r.BaseThreshold >= r.StrictThreshold {
		return fmt.Errorf("retrieval.base_threshold %g must be below retrieval.strict_threshold %g",
			r.BaseThreshold, r.StrictThreshold)
	}
	if r.MaxResults <= 0 {
		return fmt.Errorf("retrieval.max_results must be positive, got %d", r.MaxResults)
	}
	if cfg.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap %d must be in [0, chunk_size)", cfg.Ingest.ChunkOverlap)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	return nil
}
