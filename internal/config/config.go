// Package config loads server-level settings from the environment (via
// github.com/caarlos0/env/v9, with github.com/joho/godotenv/autoload picking
// up a local .env in development) and the per-channel pipeline list from a
// YAML file, the way BrunoKrugel/snapshot2stream's internal/config does for
// its own camera list.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"
)

// Server holds process-wide settings sourced from the environment.
type Server struct {
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	Workspace     string `env:"WORKSPACE" envDefault:"./workspace"`
	EventHost     string `env:"EVENT_HOST" envDefault:"127.0.0.1"`
	EventPort     int    `env:"EVENT_PORT" envDefault:"9092"`
	ShutDownAfter int    `env:"SHUT_DOWN_AFTER_SECONDS" envDefault:"0"` // 0 disables the timer
	PipelinesFile string `env:"PIPELINES_FILE" envDefault:"./config.yaml"`
}

// Routine is the tile grid a channel is split into.
type Routine struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// PipelineConfig is one channel's configuration.
type PipelineConfig struct {
	Index            int     `yaml:"index"`
	Disable          bool    `yaml:"disable"`
	Routine          Routine `yaml:"routine"`
	SampleRate       int     `yaml:"sample_rate"`
	PreCache         int     `yaml:"pre_cache"`
	FutureFrames     int     `yaml:"future_frames"`
	DetectInternal   int     `yaml:"detect_internal"`
	SearchWindowSize int     `yaml:"search_window_size"`
	MaxStreamsCache  int     `yaml:"max_streams_cache"`
	Render           bool    `yaml:"render"`
	DrawBoundary     bool    `yaml:"draw_boundary"`
	ShowWindow       bool    `yaml:"show_window"`
	RTSP             string  `yaml:"rtsp"`
}

// pipelinesFile is the on-disk shape of the YAML pipeline list.
type pipelinesFile struct {
	Pipelines []PipelineConfig `yaml:"pipelines"`
}

// LoadServer parses Server from the process environment. Callers import
// github.com/joho/godotenv/autoload (in cmd/dolphind/main.go) so a local
// .env file is merged into the environment before this runs.
func LoadServer() (Server, error) {
	var s Server
	if err := env.Parse(&s); err != nil {
		return Server{}, fmt.Errorf("parse server config: %w", err)
	}
	return s, nil
}

// LoadPipelines reads and parses the per-channel pipeline list from path.
// Channels default to enabled; a channel must set disable: true to be
// skipped.
func LoadPipelines(path string) ([]PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipelines file %s: %w", path, err)
	}

	var parsed pipelinesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse pipelines file %s: %w", path, err)
	}

	enabled := make([]PipelineConfig, 0, len(parsed.Pipelines))
	for _, p := range parsed.Pipelines {
		if !p.Disable {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}
