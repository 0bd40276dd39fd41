package config

import (
	"github.com/armysheng/ai-mail/internal/database"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/vault"
)

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"11000"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type GoogleOAuthConfig struct {
	ClientID     string `env:"GOOGLE_OAUTH_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_OAUTH_CLIENT_SECRET"`
}

type SchedulerConfig struct {
	// TickSeconds is how often the scheduler looks for due accounts.
	TickSeconds int `env:"SYNC_TICK_SECONDS" envDefault:"60"`
	// MaxConcurrentSyncs caps accounts syncing at the same time.
	MaxConcurrentSyncs int `env:"SYNC_MAX_CONCURRENT" envDefault:"3"`
	// MaxMessagesPerSync bounds one pass over one folder.
	MaxMessagesPerSync int `env:"SYNC_MAX_MESSAGES" envDefault:"500"`
	// FirstSyncWindowDays limits history pulled for a brand new account.
	FirstSyncWindowDays int `env:"SYNC_FIRST_WINDOW_DAYS" envDefault:"30"`

	// Leader election keeps a single scheduler active when several
	// replicas run in the same namespace.
	LeaderElectionEnabled bool   `env:"LEADER_ELECTION_ENABLED" envDefault:"false"`
	LeaderElectionNS      string `env:"LEADER_ELECTION_NAMESPACE" envDefault:"default"`
}

type Config struct {
	AppConfig       *AppConfig
	Logger          *logger.Config
	Tracing         *tracing.JaegerConfig
	DatabaseConfig  *database.DatabaseConfig
	VaultConfig     *vault.Config
	GoogleOAuth     *GoogleOAuthConfig
	SchedulerConfig *SchedulerConfig
}
