package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/Skycomm/email-ai-manager/pkg/config"
)

// Config is the full process configuration.
type Config struct {
	Log      pkgconfig.LogConfig      `yaml:"log"`
	DB       pkgconfig.DBConfig       `yaml:"db"`
	MQ       pkgconfig.MQConfig       `yaml:"mq"`
	Redis    pkgconfig.RedisConfig    `yaml:"redis"`
	JWT      pkgconfig.JWTConfig      `yaml:"jwt"`
	Server   pkgconfig.ServerConfig   `yaml:"server"`
	Rate     pkgconfig.RateConfig     `yaml:"rate"`
	AutoSend pkgconfig.AutoSendConfig `yaml:"auto_send"`
	Spam     pkgconfig.SpamConfig     `yaml:"spam"`
	Approval pkgconfig.ApprovalConfig `yaml:"approval"`
	FollowUp pkgconfig.FollowUpConfig `yaml:"followup"`
	Retry    pkgconfig.RetryConfig    `yaml:"retry"`
	Schedule pkgconfig.ScheduleConfig `yaml:"schedule"`
	People   pkgconfig.PeopleConfig   `yaml:"people"`
	Mail     pkgconfig.MailConfig     `yaml:"mail"`
	Gmail    pkgconfig.GmailConfig    `yaml:"gmail"`
	IMAP     pkgconfig.IMAPConfig     `yaml:"imap"`
	SMTP     pkgconfig.SMTPConfig     `yaml:"smtp"`
	Drafting pkgconfig.DraftingConfig `yaml:"drafting"`
	Notify   pkgconfig.NotifyConfig   `yaml:"notify"`
	Secrets  pkgconfig.SecretsConfig  `yaml:"secrets"`
}

// Defaults returns the built-in settings every file overlays.
func Defaults() Config {
	return Config{
		Log:    pkgconfig.LogConfig{Level: "info", Format: "json"},
		DB:     pkgconfig.DBConfig{Driver: "sqlite", Path: "email-manager.db", Port: 5432, SSLMode: "disable", MaxConns: 10, SlowThreshold: 100 * time.Millisecond},
		MQ:     pkgconfig.MQConfig{NotifyKey: "chat.notify", ReplyKey: "chat.reply", ReplyQueue: "chat.reply.engine", MaxRequeues: 5},
		Redis:  pkgconfig.RedisConfig{SeenTTL: 7 * 24 * time.Hour},
		JWT:    pkgconfig.JWTConfig{TTL: 24 * time.Hour},
		Server: pkgconfig.ServerConfig{Port: ":8080"},
		Rate:   pkgconfig.RateConfig{MaxEmailsPerHour: 20},
		AutoSend: pkgconfig.AutoSendConfig{
			MaxPriority:   4,
			MinConfidence: 80,
		},
		Spam: pkgconfig.SpamConfig{
			DisposalThreshold:   95,
			AskThreshold:        70,
			LearnedConfidence:   60,
			Boost:               10,
			FPPenalty:           10,
			FPRatio:             0.3,
			FPMinSamples:        3,
			EscalateArchiveHits: 3,
			EscalateDeleteHits:  10,
			VIPPolicy:           "protect",
			VIPFloorBoost:       100,
		},
		Approval: pkgconfig.ApprovalConfig{TokenLength: 6},
		FollowUp: pkgconfig.FollowUpConfig{MaxReminders: 3, Interval: 24 * time.Hour, CapAction: "held_for_morning", PageSize: 100},
		Retry:    pkgconfig.RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		Schedule: pkgconfig.ScheduleConfig{
			PollInterval:       time.Minute,
			FollowUpInterval:   5 * time.Minute,
			SendInterval:       time.Minute,
			MorningSummaryHour: 7,
			FYIAutoArchive:     48 * time.Hour,
			DigestBatchSize:    5,
			DigestInterval:     5 * time.Minute,
			ArchiveInterval:    15 * time.Minute,
			ResumeGrace:        10 * time.Minute,
			ResumeInterval:     5 * time.Minute,
			Timezone:           "UTC",
		},
		Mail:     pkgconfig.MailConfig{Connector: "gmail", FetchMax: 50},
		Drafting: pkgconfig.DraftingConfig{BaseURL: "https://openrouter.ai/api/v1", Model: "anthropic/claude-3.5-sonnet", Timeout: 60 * time.Second},
		Notify:   pkgconfig.NotifyConfig{Channel: "email-approvals"},
		IMAP:     pkgconfig.IMAPConfig{Port: "993", TLS: true, Archive: "Archive", Spam: "Junk"},
		SMTP:     pkgconfig.SMTPConfig{Port: "587"},
		Secrets:  pkgconfig.SecretsConfig{Service: "email-ai-manager"},
	}
}

// Load reads configDir for env on top of Defaults and applies
// environment overrides.
func Load(env, configDir string) (*Config, error) {
	cfg := Defaults()
	if err := pkgconfig.Decode(env, configDir, &cfg); err != nil {
		return nil, err
	}

	pkgconfig.OverrideLogFromEnv(&cfg.Log)
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideRateFromEnv(&cfg.Rate)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	if c.Rate.MaxEmailsPerHour < 0 {
		return fmt.Errorf("rate.max_emails_per_hour must be >= 0")
	}
	if c.Spam.AskThreshold > c.Spam.DisposalThreshold {
		return fmt.Errorf("spam.ask_threshold (%d) above disposal_threshold (%d)", c.Spam.AskThreshold, c.Spam.DisposalThreshold)
	}
	if c.Spam.LearnedConfidence >= c.Spam.DisposalThreshold {
		return fmt.Errorf("spam.learned_confidence must stay below disposal_threshold")
	}
	switch c.Spam.VIPPolicy {
	case "protect", "bias", "none":
	default:
		return fmt.Errorf("spam.vip_policy %q: want protect, bias or none", c.Spam.VIPPolicy)
	}
	if c.Approval.TokenLength < 4 || c.Approval.TokenLength > 8 {
		return fmt.Errorf("approval.token_length must be within 4..8")
	}
	if c.Schedule.MorningSummaryHour < 0 || c.Schedule.MorningSummaryHour > 23 {
		return fmt.Errorf("schedule.morning_summary_hour must be within 0..23")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("db.driver %q: want postgres or sqlite", c.DB.Driver)
	}
	return nil
}
