package main

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/adapters/export"
	"github.com/dmitrymomot/workqueue/pkg/config"
	"github.com/dmitrymomot/workqueue/pkg/email"
	"github.com/dmitrymomot/workqueue/pkg/httpserver"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// Storage backends.
const (
	backendMemory   = "memory"
	backendMongo    = "mongo"
	backendPostgres = "postgres"
)

type appConfig struct {
	Env           string        `env:"APP_ENV" envDefault:"development"`
	Name          string        `env:"APP_NAME" envDefault:"workqueue"`
	LogLevel      string        `env:"LOG_LEVEL"`
	Backend       string        `env:"WORKQUEUE_BACKEND" envDefault:"memory"`
	SchedulesFile string        `env:"WORKQUEUE_SCHEDULES_FILE"`
	RedisRelay    bool          `env:"WORKQUEUE_REDIS_RELAY" envDefault:"false"`
	RedisChannel  string        `env:"WORKQUEUE_REDIS_CHANNEL"`
	SearchReindex bool          `env:"WORKQUEUE_SEARCH_REINDEX" envDefault:"false"`
	EmailEnabled  bool          `env:"WORKQUEUE_EMAIL_ENABLED" envDefault:"true"`
	ExportEnabled bool          `env:"WORKQUEUE_EXPORT_ENABLED" envDefault:"true"`
	MetricsWindow time.Duration `env:"WORKQUEUE_METRICS_WINDOW" envDefault:"24h"`
}

func (c appConfig) validate() error {
	switch c.Backend {
	case backendMemory, backendMongo, backendPostgres:
	default:
		return fmt.Errorf("unknown backend %q, expected memory, mongo or postgres", c.Backend)
	}
	if c.SearchReindex && c.Backend == backendMemory {
		return fmt.Errorf("search re-indexing needs a mongo or postgres backend to load documents from")
	}
	return nil
}

// settings groups every env-driven configuration the process needs up front.
// Backend and integration configs are loaded when they are used because
// their required variables only apply to the selected backend.
type settings struct {
	App    appConfig
	Queue  workqueue.Config
	Email  email.Config
	Export export.Config
	HTTP   httpserver.Config
}

func loadSettings() (settings, error) {
	var s settings
	if err := config.Load(&s.App); err != nil {
		return s, err
	}
	if err := s.App.validate(); err != nil {
		return s, err
	}
	if err := config.Load(&s.Queue); err != nil {
		return s, err
	}
	if err := config.Load(&s.Email); err != nil {
		return s, err
	}
	if err := config.Load(&s.Export); err != nil {
		return s, err
	}
	if err := config.Load(&s.HTTP); err != nil {
		return s, err
	}
	return s, nil
}
