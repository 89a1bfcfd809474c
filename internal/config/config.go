// Package config содержит логику чтения конфигурации сервиса координации заказов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса координации заказов.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	RedisAddress   string `env:"REDIS_ADDRESS"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	ArchiveAddress string `env:"ARCHIVE_SYSTEM_ADDRESS"`
	SessionsDB     int    `env:"REDIS_SESSIONS_DB" envDefault:"0"`
	OrdersDB       int    `env:"REDIS_ORDERS_DB" envDefault:"1"`
	FlagsDB        int    `env:"REDIS_FLAGS_DB" envDefault:"2"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envRedisAddress := cfg.RedisAddress
	envArchiveAddress := cfg.ArchiveAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.RedisAddress, "d", "localhost:6379", "redis address")
	flag.StringVar(&cfg.ArchiveAddress, "r", "", "order persistence service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envArchiveAddress != "" {
		cfg.ArchiveAddress = envArchiveAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
