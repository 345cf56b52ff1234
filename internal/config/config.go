// Package config содержит логику чтения конфигурации сервиса бартерных заказов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса бартерных заказов.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	TelegramToken    string        `env:"TELEGRAM_TOKEN"`
	AdminToken       string        `env:"ADMIN_TOKEN"`
	CooldownDays     int           `env:"COOLDOWN_DAYS"`
	LoyaltyThreshold int           `env:"LOYALTY_THRESHOLD"`
	CooldownInterval time.Duration `env:"COOLDOWN_CHECK_INTERVAL"`
	ReminderInterval time.Duration `env:"REMINDER_CHECK_INTERVAL"`
	TopUpInterval    time.Duration `env:"TOPUP_CHECK_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envTelegramToken := cfg.TelegramToken
	envAdminToken := cfg.AdminToken
	envCooldownDays := cfg.CooldownDays

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.TelegramToken, "t", "", "telegram bot token")
	flag.StringVar(&cfg.AdminToken, "s", "", "operator API token")
	flag.IntVar(&cfg.CooldownDays, "c", 7, "cooldown between set orders, days")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envTelegramToken != "" {
		cfg.TelegramToken = envTelegramToken
	}
	if envAdminToken != "" {
		cfg.AdminToken = envAdminToken
	}
	if envCooldownDays != 0 {
		cfg.CooldownDays = envCooldownDays
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.CooldownDays <= 0 {
		cfg.CooldownDays = 7
	}
	if cfg.LoyaltyThreshold <= 0 {
		cfg.LoyaltyThreshold = 5
	}
	if cfg.CooldownInterval <= 0 {
		cfg.CooldownInterval = 24 * time.Hour
	}
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = time.Hour
	}
	if cfg.TopUpInterval <= 0 {
		cfg.TopUpInterval = 24 * time.Hour
	}

	return cfg, nil
}
