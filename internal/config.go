package internal

import (
	"fmt"

	"github.com/Johnmclane5/TgSearchBot/internal/api"
	"github.com/Johnmclane5/TgSearchBot/internal/database"
	"github.com/Johnmclane5/TgSearchBot/internal/stream"
	"github.com/Johnmclane5/TgSearchBot/internal/telegram"
	"github.com/Johnmclane5/TgSearchBot/internal/thumbnail"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// TgSearchBotConfig is the user-supplied configuration, loaded from a
// YAML file and overridable per-field via the environment.
type TgSearchBotConfig struct {
	Database  database.DatabaseConfig `yaml:"database" env-required:"true"`
	Telegram  telegram.Config         `yaml:"telegram" env-required:"true"`
	Stream    stream.Config           `yaml:"stream"`
	Thumbnail thumbnail.Config        `yaml:"thumbnails"`
	Rest      api.RestConfig          `yaml:"api"`

	// ExternalDomain is the public base URL download/stream links are
	// built against, e.g. https://media.example.com
	ExternalDomain string `yaml:"externalDomain" env:"EXTERNAL_DOMAIN" env-required:"true" validate:"url"`

	SearchCacheTTLSeconds int `yaml:"searchCacheTTLSeconds" env:"SEARCH_CACHE_TTL_SECONDS" env-default:"300" validate:"min=1"`
	SearchCacheMaxEntries int `yaml:"searchCacheMaxEntries" env:"SEARCH_CACHE_MAX_ENTRIES" env-default:"512" validate:"min=1"`
}

// LoadFromFile reads the YAML configuration at the given path, applying
// environment overrides on top.
func (config *TgSearchBotConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	return nil
}
