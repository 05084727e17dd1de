package config

import "github.com/caarlos0/env/v6"

type Config struct {
	// HTTP server configuration
	Server struct {
		// Port the API listens on
		Port string `env:"SERVER_PORT" envDefault:"5250"`
	}

	// Path to the SQLite database file
	DatabasePath string `env:"DATABASE_PATH" envDefault:"database/affordmap.db"`

	// Cache TTL classes, in seconds
	Cache struct {
		// Ranked lists and computed medians
		RankedListTTL int `env:"CACHE_RANKED_TTL" envDefault:"3600"`

		// Static geography lookups
		GeographyTTL int `env:"CACHE_GEOGRAPHY_TTL" envDefault:"86400"`

		// Search results
		SearchTTL int `env:"CACHE_SEARCH_TTL" envDefault:"300"`
	}

	// Refresh pipeline configuration
	Refresh struct {
		// Maximum number of snapshots per upsert batch
		MaxBatchSize int `env:"REFRESH_MAX_BATCH_SIZE" envDefault:"100"`

		// Queue buffer size in batches
		QueueSize int `env:"REFRESH_QUEUE_SIZE" envDefault:"50"`

		// Number of concurrent batch processors
		ProcessorCount int `env:"REFRESH_PROCESSOR_COUNT" envDefault:"2"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"REFRESH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"REFRESH_RETRY_DELAY" envDefault:"5"`

		// Hour of day (0-23) for the nightly full refresh sweep
		NightlyHour int `env:"REFRESH_NIGHTLY_HOUR" envDefault:"0"`
	}

	// Coordinate backfill configuration
	Geocoding struct {
		// Seconds to wait between FCC Area API lookups
		LookupDelay int `env:"GEOCODE_LOOKUP_DELAY" envDefault:"1"`

		// Maximum lookups per backfill run
		MaxPerRun int `env:"GEOCODE_MAX_PER_RUN" envDefault:"500"`
	}

	// Telegram refresh notifications (disabled when token is empty)
	Notify struct {
		BotToken string `env:"NOTIFY_BOT_TOKEN"`
		ChatID   string `env:"NOTIFY_CHAT_ID"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
