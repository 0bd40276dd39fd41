package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/armysheng/ai-mail/internal/database"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/vault"
)

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:       &AppConfig{},
		Logger:          &logger.Config{},
		Tracing:         &tracing.JaegerConfig{},
		DatabaseConfig:  &database.DatabaseConfig{},
		VaultConfig:     &vault.Config{},
		GoogleOAuth:     &GoogleOAuthConfig{},
		SchedulerConfig: &SchedulerConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading ai-mail config: %v", err)
	}

	return config, nil
}
