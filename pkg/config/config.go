// Package config loads engine settings from environment variables.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Settings holds everything the serve command needs to wire the engine.
type Settings struct {
	Addr   string `env:"OUBLIETTE_ADDR" envDefault:":8080"`
	DBPath string `env:"OUBLIETTE_DB_PATH" envDefault:"oubliette.db"`

	OpenAIAPIKey string `env:"OUBLIETTE_OPENAI_API_KEY"`
	NarratorID   string `env:"OUBLIETTE_NARRATOR_ID"`

	MaxTurns     int           `env:"OUBLIETTE_MAX_TURNS" envDefault:"16"`
	PollInterval time.Duration `env:"OUBLIETTE_POLL_INTERVAL" envDefault:"1s"`
	IdleTimeout  time.Duration `env:"OUBLIETTE_WS_IDLE_TIMEOUT" envDefault:"5m"`

	ImageModel    string `env:"OUBLIETTE_IMAGE_MODEL"`
	ImagesEnabled bool   `env:"OUBLIETTE_IMAGES_ENABLED" envDefault:"true"`

	LogLevel string `env:"OUBLIETTE_LOG_LEVEL" envDefault:"info"`
}

// Load parses settings from the environment.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	return s, nil
}

// Validate checks the settings needed to reach the narrator.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.OpenAIAPIKey) == "" {
		return errors.New("OUBLIETTE_OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(s.NarratorID) == "" {
		return errors.New("OUBLIETTE_NARRATOR_ID is required")
	}
	return nil
}
