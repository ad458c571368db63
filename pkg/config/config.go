package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig selects and configures the record store. Driver is "postgres"
// or "sqlite"; Path is used by sqlite only.
type DBConfig struct {
	Driver        string        `yaml:"driver"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	SSLMode       string        `yaml:"sslmode"`
	Path          string        `yaml:"path"`
	MaxConns      int32         `yaml:"max_conns"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

// MQConfig RabbitMQ settings.
type MQConfig struct {
	URL         string `yaml:"url"`
	NotifyKey   string `yaml:"notify_routing_key"`
	ReplyKey    string `yaml:"reply_routing_key"`
	ReplyQueue  string `yaml:"reply_queue"`
	MaxRequeues int64  `yaml:"max_requeues"`
}

// RedisConfig Redis settings. An empty Addr disables the redis fast paths.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	SeenTTL  time.Duration `yaml:"seen_ttl"`
}

// JWTConfig JWT settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// ServerConfig HTTP server settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LogConfig zap settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateConfig bounds outbound mail.
type RateConfig struct {
	MaxEmailsPerHour int `yaml:"max_emails_per_hour"`
}

// AutoSendConfig gates the unattended send path. MaxPriority is the most
// important priority that may go out unattended; lower numbers are more
// important, so 4 admits priorities 4 and 5 only.
type AutoSendConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxPriority   int  `yaml:"max_priority"`
	MinConfidence int  `yaml:"min_confidence"`
	RequireVIP    bool `yaml:"require_vip"`
}

// SpamConfig tunes the spam rule engine and its learning loop.
type SpamConfig struct {
	DisposalThreshold   int      `yaml:"disposal_threshold"`
	AskThreshold        int      `yaml:"ask_threshold"`
	LearnedConfidence   int      `yaml:"learned_confidence"`
	Boost               int      `yaml:"boost"`
	FPPenalty           int      `yaml:"fp_penalty"`
	FPRatio             float64  `yaml:"fp_ratio"`
	FPMinSamples        int      `yaml:"fp_min_samples"`
	EscalateArchiveHits int      `yaml:"escalate_archive_hits"`
	EscalateDeleteHits  int      `yaml:"escalate_delete_hits"`
	VIPPolicy           string   `yaml:"vip_policy"`
	VIPFloorBoost       int      `yaml:"vip_floor_boost"`
	NoiseFloor          int      `yaml:"noise_floor"`
	BlockedDomains      []string `yaml:"blocked_domains"`
	BlockedSubjects     []string `yaml:"blocked_subjects"`
}

// ApprovalConfig token settings.
type ApprovalConfig struct {
	TokenLength int `yaml:"token_length"`
}

// FollowUpConfig reminder policy.
type FollowUpConfig struct {
	MaxReminders int           `yaml:"max_reminders"`
	Interval     time.Duration `yaml:"interval"`
	CapAction    string        `yaml:"cap_action"`
	PageSize     int           `yaml:"page_size"`
}

// RetryConfig is the budget for collaborator calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ScheduleConfig periodic tick settings.
type ScheduleConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	FollowUpInterval   time.Duration `yaml:"followup_interval"`
	SendInterval       time.Duration `yaml:"send_interval"`
	MorningSummaryHour int           `yaml:"morning_summary_hour"`
	FYIAutoArchive     time.Duration `yaml:"fyi_auto_archive"`
	DigestBatchSize    int           `yaml:"digest_batch_size"`
	DigestInterval     time.Duration `yaml:"digest_interval"`
	ArchiveInterval    time.Duration `yaml:"archive_interval"`
	// ResumeGrace is how long an email may sit mid-pipeline before the
	// resume tick picks it up again.
	ResumeGrace    time.Duration `yaml:"resume_grace"`
	ResumeInterval time.Duration `yaml:"resume_interval"`
	Timezone       string        `yaml:"timezone"`
}

// PeopleConfig static sender lists merged with the stored ones.
type PeopleConfig struct {
	VIPSenders           []string `yaml:"vip_senders"`
	VIPDomains           []string `yaml:"vip_domains"`
	InternalDomains      []string `yaml:"internal_domains"`
	AlertSenderDomains   []string `yaml:"alert_sender_domains"`
	AlertSubjectPatterns []string `yaml:"alert_subject_patterns"`
}

// MailConfig selects the mail connector ("gmail" or "imap").
type MailConfig struct {
	Connector string   `yaml:"connector"`
	Mailboxes []string `yaml:"mailboxes"`
	FetchMax  int64    `yaml:"fetch_max"`
}

// GmailConfig OAuth credentials for the Gmail connector.
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	User         string `yaml:"user"`
}

// IMAPConfig and SMTPConfig back the imap connector.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	Archive  string `yaml:"archive_folder"`
	Spam     string `yaml:"spam_folder"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// DraftingConfig AI drafting/triage endpoint.
type DraftingConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig chat notification target.
type NotifyConfig struct {
	Channel string `yaml:"channel"`
}

// SecretsConfig optional OS keyring lookup.
type SecretsConfig struct {
	Keyring bool   `yaml:"keyring"`
	Service string `yaml:"service"`
}

// OverrideDBFromEnv applies DB_* environment variables.
func OverrideDBFromEnv(cfg *DBConfig) {
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Driver = driver
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.Path = path
	}
}

// OverrideMQFromEnv applies MQ_URL.
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv applies REDIS_ADDR and REDIS_PASSWORD.
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv applies JWT_SECRET.
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv applies SERVER_PORT.
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideRateFromEnv applies RATE_MAX_PER_HOUR.
func OverrideRateFromEnv(cfg *RateConfig) {
	if v := os.Getenv("RATE_MAX_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxEmailsPerHour = n
		}
	}
}

// OverrideLogFromEnv applies LOG_LEVEL.
func OverrideLogFromEnv(cfg *LogConfig) {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}
}
