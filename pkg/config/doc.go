// Package config loads typed configuration from environment variables.
//
// Structs are annotated with `env` tags understood by github.com/caarlos0/env
// and optional .env files are read with github.com/joho/godotenv. Each config
// type is parsed once and cached for the life of the process:
//
//	type Config struct {
//	    WorkerID     string        `env:"WORKQUEUE_WORKER_ID"`
//	    PollInterval time.Duration `env:"WORKQUEUE_POLL_INTERVAL" envDefault:"1s"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// ResetCache and ForceReloadConfig exist for tests that change the environment
// between loads.
package config
