// Package api is the operator HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/rbac"
)

// Engine is the slice of the orchestration engine the API exposes.
type Engine interface {
	GetEmail(ctx context.Context, id int64) (*service.EmailDetail, error)
	ListEmails(ctx context.Context, f repository.EmailFilter) ([]*model.Email, int, error)
	ListAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error)
	SubmitCommand(ctx context.Context, channel, user, text string) (*service.CommandResult, error)

	Retry(ctx context.Context, id int64) (*model.Email, error)
	SetFollowUp(ctx context.Context, id int64, at *time.Time, note string) (*model.Email, error)
	MarkNotSpam(ctx context.Context, id int64) (*model.Email, error)
	Acknowledge(ctx context.Context, id int64) (*model.Email, error)

	ListSpamRules(ctx context.Context) ([]model.SpamRule, error)
	GetSpamRule(ctx context.Context, id int64) (*model.SpamRule, error)
	CreateSpamRule(ctx context.Context, r *model.SpamRule) error
	UpdateSpamRule(ctx context.Context, r *model.SpamRule) error
	DeleteSpamRule(ctx context.Context, id int64) error

	ListVIPSenders(ctx context.Context) ([]model.VipSender, error)
	AddVIPSender(ctx context.Context, v *model.VipSender) error
	DeleteVIPSender(ctx context.Context, id int64) error
	ListMutedSenders(ctx context.Context) ([]model.MutedSender, error)
	AddMutedSender(ctx context.Context, m *model.MutedSender) error
	DeleteMutedSender(ctx context.Context, id int64) error
}

// Authenticator exchanges credentials for a token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, *model.User, error)
}

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Engine    Engine
	Auth      Authenticator
	DB        Pinger
	JWTSecret string
	// Channel is used for commands submitted without one.
	Channel string
	Logger  *zap.Logger
}

func NewRouter(opts Options) *gin.Engine {
	log := opts.Logger.Named("api")

	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(log), MetricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := opts.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := NewAuthHandler(opts.Auth, log)
	r.POST("/login", authHandler.Login)

	emails := NewEmailQueryHandler(opts.Engine, log)
	mail := NewMailHandler(opts.Engine, opts.Channel, log)
	settings := NewSettingsHandler(opts.Engine, log)

	api := r.Group("/api")
	api.Use(AuthMiddleware(opts.JWTSecret))
	{
		read := api.Group("", RequirePermission(rbac.PermissionReadEmails))
		read.GET("/emails", emails.ListEmails)
		read.GET("/emails/:id", emails.GetEmail)

		api.GET("/audit", RequirePermission(rbac.PermissionReadAudit), emails.ListAudit)
		api.POST("/commands", RequirePermission(rbac.PermissionSubmitCommand), mail.SubmitCommand)

		manage := api.Group("/emails/:id", RequirePermission(rbac.PermissionManageEmails))
		manage.POST("/retry", mail.Retry)
		manage.POST("/followup", mail.SetFollowUp)
		manage.POST("/not-spam", mail.MarkNotSpam)
		manage.POST("/acknowledge", mail.Acknowledge)

		read.GET("/spam-rules", settings.ListSpamRules)
		read.GET("/spam-rules/:id", settings.GetSpamRule)
		read.GET("/vip-senders", settings.ListVIPSenders)
		read.GET("/muted-senders", settings.ListMutedSenders)

		admin := api.Group("", RequirePermission(rbac.PermissionManageSettings))
		admin.POST("/spam-rules", settings.CreateSpamRule)
		admin.PUT("/spam-rules/:id", settings.UpdateSpamRule)
		admin.DELETE("/spam-rules/:id", settings.DeleteSpamRule)
		admin.POST("/vip-senders", settings.AddVIPSender)
		admin.DELETE("/vip-senders/:id", settings.DeleteVIPSender)
		admin.POST("/muted-senders", settings.AddMutedSender)
		admin.DELETE("/muted-senders/:id", settings.DeleteMutedSender)
	}

	return r
}
