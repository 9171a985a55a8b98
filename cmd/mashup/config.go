package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/Mashup/pkg/corpus"
	"github.com/caarlos0/env/v10"
	"github.com/natefinch/atomic"
)

// envPrefix namespaces every environment override, e.g. MASHUP_GENERATION_ORDER.
const envPrefix = "MASHUP_"

// GenerationConfig holds the defaults for building tables and sampling them.
type GenerationConfig struct {
	Order           int     `json:"order" env:"ORDER"`
	Length          int     `json:"length" env:"LENGTH"`
	Unit            string  `json:"unit" env:"UNIT"`
	SkipHeader      bool    `json:"skip_header" env:"SKIP_HEADER"`
	SplitHyphens    bool    `json:"split_hyphens" env:"SPLIT_HYPHENS"`
	KeepPunctuation bool    `json:"keep_punctuation" env:"KEEP_PUNCTUATION"`
	Separator       string  `json:"separator" env:"SEPARATOR"`
	Terminal        string  `json:"terminal" env:"TERMINAL"`
	Temperature     float64 `json:"temperature" env:"TEMPERATURE"`
	TopK            int     `json:"top_k" env:"TOP_K"`
	Retries         int     `json:"retries" env:"RETRIES"`
}

// JournalConfig controls the optional SQLite run journal.
type JournalConfig struct {
	Enabled      bool   `json:"enabled" env:"ENABLED"`
	DatabasePath string `json:"database_path" env:"DATABASE_PATH"`
}

// ServerConfig holds the settings for the HTTP API.
type ServerConfig struct {
	Addr      string `json:"addr" env:"ADDR"`
	CorpusDir string `json:"corpus_dir" env:"CORPUS_DIR"`
	MaxLength int    `json:"max_length" env:"MAX_LENGTH"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	LogLevel   string            `json:"log_level" env:"LOG_LEVEL"`
	Generation *GenerationConfig `json:"generation_config" envPrefix:"GENERATION_"`
	Journal    *JournalConfig    `json:"journal_config" envPrefix:"JOURNAL_"`
	Server     *ServerConfig     `json:"server_config" envPrefix:"SERVER_"`
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Generation: &GenerationConfig{
			Order:        2,
			Length:       50,
			Unit:         "word",
			SplitHyphens: true,
			Separator:    " ",
			Terminal:     ".",
			Temperature:  1.0,
		},
		Journal: &JournalConfig{
			Enabled:      false,
			DatabasePath: "./data/mashup_journal.db?_journal_mode=WAL&_busy_timeout=5000",
		},
		Server: &ServerConfig{
			Addr:      ":7279",
			CorpusDir: "./data/corpora",
			MaxLength: 1000,
		},
	}
}

// LoadConfig reads the configuration from a JSON file at the given path and
// then applies MASHUP_* environment overrides. If the file doesn't exist, it
// is created with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		var data []byte
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			// The tool still runs with defaults.
			fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err = json.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		// Sections missing from the file keep their defaults.
		defaults := DefaultConfig()
		if config.Generation == nil {
			config.Generation = defaults.Generation
		}
		if config.Journal == nil {
			config.Journal = defaults.Journal
		}
		if config.Server == nil {
			config.Server = defaults.Server
		}
	}

	if err = env.ParseWithOptions(config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	return config, nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	g := c.Generation
	if g.Order < 1 {
		return fmt.Errorf("invalid config: order must be at least 1, got %d", g.Order)
	}
	if g.Length < g.Order {
		return fmt.Errorf("invalid config: length %d is shorter than order %d", g.Length, g.Order)
	}
	if _, err := corpus.ParseUnit(g.Unit); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if g.TopK < 0 || g.Retries < 0 {
		return fmt.Errorf("invalid config: top_k and retries must not be negative")
	}
	if c.Server.MaxLength < 1 {
		return fmt.Errorf("invalid config: server max_length must be positive, got %d", c.Server.MaxLength)
	}
	return nil
}

// Tokenizer builds the corpus tokenizer described by the generation settings.
func (g *GenerationConfig) Tokenizer() (*corpus.Tokenizer, error) {
	unit, err := corpus.ParseUnit(g.Unit)
	if err != nil {
		return nil, err
	}
	return corpus.NewTokenizer(
		corpus.WithUnit(unit),
		corpus.WithSkipHeader(g.SkipHeader),
		corpus.WithSplitHyphens(g.SplitHyphens),
		corpus.WithKeepPunctuation(g.KeepPunctuation),
		corpus.WithSeparator(g.Separator),
		corpus.WithTerminal(g.Terminal),
	), nil
}

// journalDir returns the directory holding the journal database, ignoring any
// driver options after '?'.
func (j *JournalConfig) journalDir() string {
	path, _, _ := strings.Cut(j.DatabasePath, "?")
	return filepath.Dir(path)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
