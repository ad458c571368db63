package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/config"
	"github.com/Skycomm/email-ai-manager/internal/api"
	"github.com/Skycomm/email-ai-manager/internal/app"
	"github.com/Skycomm/email-ai-manager/internal/mqhandler"
	"github.com/Skycomm/email-ai-manager/internal/scheduler"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/mq"
)

func main() {
	// 1. Load config
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "local"
	}
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "config"
	}
	cfg, err := config.Load(env, dir)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Store, redis, engine and collaborators
	a, err := app.Open(ctx, cfg, app.Full, log)
	if err != nil {
		log.Fatal("Initialization failed", zap.Error(err))
	}
	defer a.Close()

	// 3. Chat reply consumer
	var retries mqhandler.RetryCounter
	if rc := a.RetryCounter(); rc != nil {
		retries = rc
	}
	replyHandler := mqhandler.NewReplyHandler(a.Engine, retries, a.Publisher, cfg.MQ.MaxRequeues, log)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.ReplyQueue, cfg.MQ.ReplyKey, log)
	if err != nil {
		log.Fatal("Failed to init reply consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(replyHandler.Handle)

	go func() {
		log.Info("Starting reply consumer", zap.String("queue", cfg.MQ.ReplyQueue))
		if err := consumer.StartConsuming(ctx); err != nil && ctx.Err() == nil {
			log.Error("Reply consumer stopped", zap.Error(err))
			stop()
		}
	}()

	// 4. Periodic ticks
	sched, err := scheduler.New(a.Engine, cfg.Schedule, a.Mailboxes, log)
	if err != nil {
		log.Fatal("Failed to init scheduler", zap.Error(err))
	}
	schedDone := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(schedDone)
	}()

	// 5. HTTP API
	if env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Options{
		Engine:    a.Engine,
		Auth:      a.Auth,
		DB:        a.Store,
		JWTSecret: cfg.JWT.Secret,
		Channel:   cfg.Notify.Channel,
		Logger:    log,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		log.Warn("Scheduler did not stop in time")
	}
}
