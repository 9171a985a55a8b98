package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/CTAG07/Mashup/pkg/corpus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mashup.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err, "defaults should be written when the file is missing")
	var written Config
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, DefaultConfig(), &written)
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mashup.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level":"debug","generation_config":{"order":3,"unit":"char"}}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Generation.Order)
	assert.Equal(t, "char", cfg.Generation.Unit)
	assert.Equal(t, 50, cfg.Generation.Length, "keys missing from a section keep their defaults")
	assert.Equal(t, DefaultConfig().Server, cfg.Server, "missing sections keep their defaults")
	assert.NotNil(t, cfg.Journal)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MASHUP_LOG_LEVEL", "warn")
	t.Setenv("MASHUP_GENERATION_LENGTH", "77")
	t.Setenv("MASHUP_GENERATION_TEMPERATURE", "0.5")
	t.Setenv("MASHUP_JOURNAL_ENABLED", "true")
	t.Setenv("MASHUP_SERVER_ADDR", ":9999")

	path := filepath.Join(t.TempDir(), "mashup.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"generation_config":{"length":10}}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 77, cfg.Generation.Length, "environment overrides the file")
	assert.Equal(t, 0.5, cfg.Generation.Temperature)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoadConfigErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mashup.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"generation_config":`), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	t.Setenv("MASHUP_GENERATION_ORDER", "two")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "fresh.json"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero order", mutate: func(c *Config) { c.Generation.Order = 0 }, wantErr: true},
		{name: "length below order", mutate: func(c *Config) { c.Generation.Order = 3; c.Generation.Length = 2 }, wantErr: true},
		{name: "length equals order", mutate: func(c *Config) { c.Generation.Order = 3; c.Generation.Length = 3 }},
		{name: "unknown unit", mutate: func(c *Config) { c.Generation.Unit = "sentence" }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Generation.Retries = -1 }, wantErr: true},
		{name: "zero server max", mutate: func(c *Config) { c.Server.MaxLength = 0 }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerationTokenizer(t *testing.T) {
	gen := DefaultConfig().Generation
	gen.Unit = "char"
	gen.Separator = ""
	gen.Terminal = ""

	tok, err := gen.Tokenizer()
	require.NoError(t, err)
	assert.Equal(t, corpus.UnitCharacter, tok.Unit())
	assert.Equal(t, "ab", tok.Join([]string{"a", "b"}))

	gen.Unit = "paragraph"
	_, err = gen.Tokenizer()
	assert.ErrorIs(t, err, corpus.ErrUnknownUnit)
}

func TestFlagsApply(t *testing.T) {
	flags, err := parseFlags([]string{"-n", "3", "-unit", "char", "-seed", "0", "-journal", "a.txt", "b.txt"}, io.Discard)
	require.NoError(t, err)

	cfg := DefaultConfig()
	flags.apply(cfg)

	assert.Equal(t, 3, cfg.Generation.Order)
	assert.Equal(t, "char", cfg.Generation.Unit)
	assert.Equal(t, 50, cfg.Generation.Length, "unset flags leave the config alone")
	assert.Equal(t, 1.0, cfg.Generation.Temperature)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, []string{"a.txt", "b.txt"}, flags.files)

	seed := flags.seedPtr()
	require.NotNil(t, seed, "an explicit zero seed still counts")
	assert.Equal(t, uint64(0), *seed)

	unseeded, err := parseFlags([]string{"x.txt"}, io.Discard)
	require.NoError(t, err)
	assert.Nil(t, unseeded.seedPtr())

	_, err = parseFlags([]string{"-bogus"}, io.Discard)
	assert.Error(t, err)
}

func TestJournalDir(t *testing.T) {
	j := &JournalConfig{DatabasePath: "./data/mashup_journal.db?_journal_mode=WAL&_busy_timeout=5000"}
	assert.Equal(t, "data", j.journalDir())
}
