package services

import (
	"k8s.io/client-go/kubernetes"

	"github.com/armysheng/ai-mail/config"
	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/repository"
	"github.com/armysheng/ai-mail/internal/vault"
	"github.com/armysheng/ai-mail/services/account"
	"github.com/armysheng/ai-mail/services/events"
	"github.com/armysheng/ai-mail/services/gmailsync"
	"github.com/armysheng/ai-mail/services/imapsync"
	"github.com/armysheng/ai-mail/services/ingest"
	"github.com/armysheng/ai-mail/services/scheduler"
)

type Services struct {
	CredentialVault *vault.CredentialVault
	EventPublisher  interfaces.EventPublisher
	AccountService  interfaces.AccountService
	MessageIngester interfaces.MessageIngester
	SyncScheduler   *scheduler.SyncScheduler
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories, k8s kubernetes.Interface) (*Services, error) {
	credentialVault, err := vault.NewCredentialVault(cfg.VaultConfig)
	if err != nil {
		return nil, err
	}

	var publisher interfaces.EventPublisher
	if cfg.AppConfig.RabbitMQURL != "" {
		publisher, err = events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("RabbitMQ URL not configured, sync events will not be published")
		publisher = events.NewNoopPublisher()
	}

	adapters := map[enum.EmailProvider]interfaces.SyncAdapter{
		enum.ProviderIMAP:  imapsync.NewImapAdapter(log),
		enum.ProviderGmail: gmailsync.NewGmailAdapter(log),
	}

	accountService := account.NewAccountService(log, cfg, repos, credentialVault, adapters)
	ingester := ingest.NewMessageIngester(log, repos.EmailRepository, publisher)

	services := Services{
		CredentialVault: credentialVault,
		EventPublisher:  publisher,
		AccountService:  accountService,
		MessageIngester: ingester,
		SyncScheduler:   scheduler.NewSyncScheduler(cfg, log, repos, accountService, ingester, publisher, adapters, k8s),
	}

	return &services, nil
}
