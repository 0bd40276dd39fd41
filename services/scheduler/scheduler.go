package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/armysheng/ai-mail/config"
	"github.com/armysheng/ai-mail/interfaces"
	"github.com/armysheng/ai-mail/internal/enum"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/repository"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/internal/utils"
)

// ErrSyncInProgress is returned when a manual trigger races a pass that
// already holds the account.
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second

	// StaleClaimThreshold is how long a syncing claim may go untouched
	// before it is considered orphaned and released.
	StaleClaimThreshold = 30 * time.Minute
)

// SyncScheduler wakes up on a fixed tick, claims due accounts and runs
// their sync passes on a bounded worker pool. At most one pass per
// account runs at any time, enforced both by the in-database claim and
// by this process's bookkeeping.
type SyncScheduler struct {
	cfg      *config.Config
	log      logger.Logger
	repos    *repository.Repositories
	accounts interfaces.AccountService
	ingester interfaces.MessageIngester
	events   interfaces.EventPublisher
	adapters map[enum.EmailProvider]interfaces.SyncAdapter
	k8s      kubernetes.Interface

	cron   *cronv3.Cron
	jobIDs map[string]cronv3.EntryID
	stopCh chan struct{}

	// workers bounds concurrent account passes
	workers chan struct{}

	mu       sync.RWMutex
	running  bool
	inFlight map[string]bool
	statuses map[string]interfaces.AccountSyncStatus
}

func NewSyncScheduler(
	cfg *config.Config,
	log logger.Logger,
	repos *repository.Repositories,
	accounts interfaces.AccountService,
	ingester interfaces.MessageIngester,
	events interfaces.EventPublisher,
	adapters map[enum.EmailProvider]interfaces.SyncAdapter,
	k8s kubernetes.Interface,
) *SyncScheduler {
	maxConcurrent := cfg.SchedulerConfig.MaxConcurrentSyncs
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &SyncScheduler{
		cfg:      cfg,
		log:      log,
		repos:    repos,
		accounts: accounts,
		ingester: ingester,
		events:   events,
		adapters: adapters,
		k8s:      k8s,
		jobIDs:   make(map[string]cronv3.EntryID),
		stopCh:   make(chan struct{}),
		workers:  make(chan struct{}, maxConcurrent),
		inFlight: make(map[string]bool),
		statuses: make(map[string]interfaces.AccountSyncStatus),
	}
}

// Start begins ticking. With leader election enabled only the elected
// replica ticks; the others stay on standby.
func (s *SyncScheduler) Start(ctx context.Context) error {
	if s.k8s == nil || !s.cfg.SchedulerConfig.LeaderElectionEnabled {
		s.log.Info("Starting sync scheduler in local mode")
		s.startCron()
		return nil
	}

	podName := os.Getenv("POD_NAME")
	if podName == "" {
		podName = "local"
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "ai-mail-sync-leader",
			Namespace: s.cfg.SchedulerConfig.LeaderElectionNS,
		},
		Client: s.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					s.startCron()
				},
				OnStoppedLeading: func() {
					s.log.Info("Leadership lost - stopping sync scheduler")
					s.stopCron()
				},
				OnNewLeader: func(identity string) {
					s.log.Infof("New sync leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}
		le.Run(ctx)
	}()

	select {
	case err := <-errCh:
		s.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		s.startCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

func (s *SyncScheduler) startCron() {
	s.log.Info("Starting sync scheduler")

	c := cronv3.New(
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	)

	tick := s.cfg.SchedulerConfig.TickSeconds
	if tick < 1 {
		tick = 60
	}

	id, err := c.AddFunc(fmt.Sprintf("@every %ds", tick), func() {
		defer tracing.RecoverAndLog(s.log)
		s.runTick()
	})
	if err != nil {
		s.log.Fatalf("Could not register sync tick job: %v", err)
	}
	s.jobIDs["sync_tick"] = id

	c.Start()

	s.mu.Lock()
	s.cron = c
	s.running = true
	s.mu.Unlock()
}

func (s *SyncScheduler) stopCron() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		<-ctx.Done()
	}
}

func (s *SyncScheduler) Stop() error {
	s.log.Info("Stopping sync scheduler")
	s.stopCron()
	close(s.stopCh)
	return nil
}

// runTick claims every due account and dispatches passes, blocking on
// the worker pool so no more than the configured number run at once.
func (s *SyncScheduler) runTick() {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "SyncScheduler.runTick")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	// Claims from workers that died mid-pass would otherwise wedge
	// their accounts forever, since due listing skips syncing rows.
	released, err := s.repos.AccountRepository.ResetStaleSyncing(ctx, utils.Now().Add(-StaleClaimThreshold))
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("Failed to reset stale sync claims: %v", err)
	} else if released > 0 {
		s.log.Warnf("Released %d stale sync claims", released)
	}

	due, err := s.repos.AccountRepository.ListDueForSync(ctx, utils.Now())
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("Failed to list due accounts: %v", err)
		return
	}
	span.SetTag("accounts.due", len(due))

	if len(due) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, account := range due {
		account := account

		if !s.tryMarkInFlight(account.ID) {
			continue
		}

		claimed, err := s.repos.AccountRepository.MarkSyncing(ctx, account.ID)
		if err != nil {
			s.clearInFlight(account.ID)
			tracing.TraceErr(span, err)
			s.log.Errorf("Failed to claim account %s: %v", account.ID, err)
			continue
		}
		if !claimed {
			// Another worker got there first
			s.clearInFlight(account.ID)
			continue
		}

		s.workers <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-s.workers }()
			defer s.clearInFlight(account.ID)
			defer tracing.RecoverAndLog(s.log)

			s.syncAccount(context.Background(), account)
		}()
	}

	wg.Wait()
}

// TriggerSync runs an immediate pass for one account, subject to the
// same claim, worker pool and status bookkeeping as a scheduled pass.
func (s *SyncScheduler) TriggerSync(ctx context.Context, accountID string) error {
	span, ctx := tracing.StartTracerSpan(ctx, "SyncScheduler.TriggerSync")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	account, err := s.repos.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s not found", accountID)
	}

	if !s.tryMarkInFlight(account.ID) {
		return fmt.Errorf("account %s: %w", accountID, ErrSyncInProgress)
	}

	claimed, err := s.repos.AccountRepository.MarkSyncing(ctx, account.ID)
	if err != nil {
		s.clearInFlight(account.ID)
		tracing.TraceErr(span, err)
		return err
	}
	if !claimed {
		s.clearInFlight(account.ID)
		return fmt.Errorf("account %s: %w", accountID, ErrSyncInProgress)
	}

	go func() {
		defer s.clearInFlight(account.ID)
		defer tracing.RecoverAndLog(s.log)

		s.workers <- struct{}{}
		defer func() { <-s.workers }()

		s.syncAccount(context.Background(), account)
	}()

	return nil
}

func (s *SyncScheduler) Status() interfaces.SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make(map[string]interfaces.AccountSyncStatus, len(s.statuses))
	for id, status := range s.statuses {
		accounts[id] = status
	}

	return interfaces.SchedulerStatus{
		Running:        s.running,
		ActiveAccounts: len(s.inFlight),
		Accounts:       accounts,
	}
}

func (s *SyncScheduler) tryMarkInFlight(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[accountID] {
		return false
	}
	s.inFlight[accountID] = true
	return true
}

func (s *SyncScheduler) clearInFlight(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, accountID)
}

func (s *SyncScheduler) recordStatus(accountID string, status interfaces.AccountSyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[accountID] = status
}
