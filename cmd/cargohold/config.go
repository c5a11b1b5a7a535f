package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cargohold/cargohold/internal/logger"
	"github.com/cargohold/cargohold/pkg/resgroup"
)

// Config is the optional configuration file
// (~/.config/cargohold/config.yaml). Prefix, ChunkSize, MaxInputChunkSize and
// StreamThreshold fill in for flags the user did not set. DownloadRetrySeconds,
// LogLevel and LogFormat are parsed but not applied by any command.
type Config struct {
	Prefix            string `yaml:"prefix"`
	ChunkSize         uint64 `yaml:"chunk_size"`
	MaxInputChunkSize uint64 `yaml:"max_input_chunk_size"`
	StreamThreshold   uint64 `yaml:"stream_threshold"`

	DownloadRetrySeconds int `yaml:"download_retry_seconds"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cargohold", "config.yaml")
}

// loadConfig reads the config file, falling back to defaults on any problem.
func loadConfig(log logger.Logger) Config {
	cfg := Config{
		ChunkSize:            resgroup.DefaultChunkSize,
		MaxInputChunkSize:    resgroup.DefaultChunkSize,
		StreamThreshold:      1 << 20,
		DownloadRetrySeconds: 30,
	}
	path := configPath()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Warn("ignoring malformed config file", "path", path, "error", err)
		return cfg
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = resgroup.DefaultChunkSize
	}
	if cfg.MaxInputChunkSize == 0 {
		cfg.MaxInputChunkSize = resgroup.DefaultChunkSize
	}
	if cfg.StreamThreshold == 0 {
		cfg.StreamThreshold = 1 << 20
	}
	return cfg
}
