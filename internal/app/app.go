// Package app assembles the engine and its collaborators from configuration.
package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/config"
	"github.com/Skycomm/email-ai-manager/internal/approval"
	"github.com/Skycomm/email-ai-manager/internal/audit"
	"github.com/Skycomm/email-ai-manager/internal/connector/gmail"
	"github.com/Skycomm/email-ai-manager/internal/connector/imap"
	"github.com/Skycomm/email-ai-manager/internal/dedup"
	"github.com/Skycomm/email-ai-manager/internal/drafting"
	"github.com/Skycomm/email-ai-manager/internal/followup"
	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/notify"
	"github.com/Skycomm/email-ai-manager/internal/ratelimit"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/internal/spam"
	"github.com/Skycomm/email-ai-manager/pkg/credential"
	"github.com/Skycomm/email-ai-manager/pkg/db"
	"github.com/Skycomm/email-ai-manager/pkg/mq"
	redisclient "github.com/Skycomm/email-ai-manager/pkg/redis"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

// Mode selects how much of the system Open brings up.
type Mode int

const (
	// StoreOnly opens the store and the engine for queries and settings.
	// Operations that reach mail, drafting or chat fail.
	StoreOnly Mode = iota
	// Full also connects the mail connector, drafting and the broker.
	Full
)

// App holds the long-lived pieces of one process.
type App struct {
	Config    *config.Config
	Store     *db.Handle
	Redis     *goredis.Client
	Publisher *mq.Publisher
	Engine    *service.Engine
	Auth      *service.AuthService
	Mailboxes []string
	logger    *zap.Logger
}

// Open resolves secrets, connects the store and redis, and builds the
// engine. The caller must Close the App.
func Open(ctx context.Context, cfg *config.Config, mode Mode, log *zap.Logger) (*App, error) {
	if cfg.Secrets.Keyring {
		if err := FillSecrets(cfg); err != nil {
			return nil, err
		}
	}

	a := &App{Config: cfg, logger: log, Mailboxes: cfg.Mail.Mailboxes}
	if len(a.Mailboxes) == 0 {
		a.Mailboxes = []string{"INBOX"}
	}

	store, err := db.Open(ctx, cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store

	rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rdb == nil {
		log.Info("Redis disabled, dedup uses the ledger only")
	}
	a.Redis = rdb

	deps, err := a.dependencies(ctx, mode)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = service.NewEngine(deps, service.Settings{
		Channel:   cfg.Notify.Channel,
		Mailboxes: a.Mailboxes,
		AutoSend:  cfg.AutoSend,
		Spam:      cfg.Spam,
		People:    cfg.People,
		Retry:     cfg.Retry,
		Schedule:  cfg.Schedule,
	}, log)
	a.Auth = service.NewAuthService(repository.NewUserRepository(store.DB), cfg.JWT.Secret, cfg.JWT.TTL)
	return a, nil
}

func (a *App) dependencies(ctx context.Context, mode Mode) (service.Dependencies, error) {
	cfg := a.Config
	sdb := a.Store.DB

	issuer, err := approval.NewIssuer(cfg.Approval.TokenLength)
	if err != nil {
		return service.Dependencies{}, err
	}
	recorder := audit.NewRecorder(sdb, a.logger)
	deps := service.Dependencies{
		DB:        sdb,
		Machine:   lifecycle.NewMachine(sdb, issuer, recorder, a.logger),
		Audit:     recorder,
		Dedup:     dedup.New(sdb, util.NewSeenCache(a.Redis, cfg.Redis.SeenTTL, a.logger.Named("seen_cache"))),
		Spam:      spam.NewEngine(sdb, cfg.Spam, nil, a.logger),
		Limiter:   ratelimit.New(sdb, cfg.Rate.MaxEmailsPerHour),
		FollowUps: followup.NewScheduler(sdb, cfg.FollowUp),
	}
	if mode == StoreOnly {
		return deps, nil
	}

	mail, err := newConnector(ctx, cfg, a.logger)
	if err != nil {
		return deps, err
	}
	deps.Mail = mail

	client := drafting.NewClient(cfg.Drafting, a.logger)
	deps.Triager = client
	deps.Drafter = client

	if cfg.MQ.URL == "" {
		return deps, fmt.Errorf("mq.url is required to deliver chat notifications")
	}
	pub, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		return deps, fmt.Errorf("connect publisher: %w", err)
	}
	a.Publisher = pub
	deps.Notifier = notify.NewNotifier(pub, cfg.MQ.NotifyKey, a.logger)
	return deps, nil
}

func newConnector(ctx context.Context, cfg *config.Config, log *zap.Logger) (service.MailConnector, error) {
	switch cfg.Mail.Connector {
	case "gmail", "":
		c, err := gmail.New(ctx, cfg.Gmail, cfg.Mail.FetchMax, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "imap":
		return imap.New(cfg.IMAP, cfg.SMTP, cfg.Mail.FetchMax, log), nil
	}
	return nil, fmt.Errorf("unknown mail connector %q", cfg.Mail.Connector)
}

// RetryCounter returns the redis redelivery counter, or nil without redis.
func (a *App) RetryCounter() *util.RetryCounter {
	if a.Redis == nil {
		return nil
	}
	return util.NewRetryCounter(a.Redis, a.Config.Redis.SeenTTL)
}

func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

// FillSecrets loads secrets still empty after config loading from the OS
// keyring.
func FillSecrets(cfg *config.Config) error {
	store, err := credential.Open(cfg.Secrets.Service)
	if err != nil {
		return err
	}
	for key, dst := range map[string]*string{
		credential.KeyGmailRefreshToken: &cfg.Gmail.RefreshToken,
		credential.KeyGmailClientSecret: &cfg.Gmail.ClientSecret,
		credential.KeyDraftingAPIKey:    &cfg.Drafting.APIKey,
		credential.KeyIMAPPassword:      &cfg.IMAP.Password,
		credential.KeySMTPPassword:      &cfg.SMTP.Password,
		credential.KeyJWTSecret:         &cfg.JWT.Secret,
	} {
		if err := store.Fill(key, dst); err != nil {
			return err
		}
	}
	return nil
}
