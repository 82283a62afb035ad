// Package config loads settings from a YAML file with TICKETRAG_*
// environment overrides layered on top. A missing file is not an error;
// defaults apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Data      DataConfig      `yaml:"data"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// DataConfig names the on-disk layout: where raw exports arrive, where the
// chunk log and index artifacts live, and where processed files are parked.
type DataConfig struct {
	RawDir       string `yaml:"raw_dir"`
	ProcessedDir string `yaml:"processed_dir"`
	ChunkLogPath string `yaml:"chunk_log_path"`
	IndexDir     string `yaml:"index_dir"`
	StateDir     string `yaml:"state_dir"`
}

type OllamaConfig struct {
	BaseURL         string `yaml:"base_url"`
	EmbedModel      string `yaml:"embed_model"`
	GenerationModel string `yaml:"generation_model"`
}

type ChunkingConfig struct {
	MaxWords     int `yaml:"max_words"`
	Overlap      int `yaml:"overlap"`
	IncludeNotes int `yaml:"include_notes"`
}

type RetrievalConfig struct {
	TopK            int  `yaml:"top_k"`
	AnswerTopK      int  `yaml:"answer_top_k"`
	BatchSize       int  `yaml:"batch_size"`
	MaxContextChars int  `yaml:"max_context_chars"`
	SaveRawVectors  bool `yaml:"save_raw_vectors"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	APIToken string `yaml:"api_token"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Data: DataConfig{
			RawDir:       "data/raw",
			ProcessedDir: "data/processed_raw",
			ChunkLogPath: "data/processed/tickets.jsonl",
			IndexDir:     "data/index",
			StateDir:     "data/state",
		},
		Ollama: OllamaConfig{
			BaseURL:         "http://localhost:11434",
			EmbedModel:      "nomic-embed-text",
			GenerationModel: "qwen2.5:7b",
		},
		Chunking: ChunkingConfig{
			MaxWords:     300,
			Overlap:      50,
			IncludeNotes: 5,
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			AnswerTopK:      3,
			BatchSize:       32,
			MaxContextChars: 2000,
		},
		Server: ServerConfig{
			Port: 4600,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, or the default locations when path is
// empty (./ticketrag.yaml, then $XDG_CONFIG_HOME/ticketrag/config.yaml).
// Environment variables (TICKETRAG_*) override file values.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Chunking.MaxWords <= 0 {
		return fmt.Errorf("chunking.max_words must be positive, got %d", c.Chunking.MaxWords)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxWords {
		return fmt.Errorf("chunking.overlap must be in [0, max_words), got %d", c.Chunking.Overlap)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func findConfigFile() string {
	if _, err := os.Stat("ticketrag.yaml"); err == nil {
		return "ticketrag.yaml"
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	p := filepath.Join(dir, "ticketrag", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}
