package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/go-calendar-nosql/internal/config"
	"github.com/go-calendar-nosql/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-calendar-nosql/internal/infrastructure/jwt"
	"github.com/go-calendar-nosql/internal/infrastructure/memory"
	s3infra "github.com/go-calendar-nosql/internal/infrastructure/s3"
	"github.com/go-calendar-nosql/internal/infrastructure/smtp"
	transporthttp "github.com/go-calendar-nosql/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		fatal("jwt provider", err)
	}

	deps := &transporthttp.Deps{
		Notifier:    smtp.NewNotifier(smtp.NewMailer(cfg), cfg),
		JWTProvider: jwtProvider,
	}

	ctx := context.Background()
	switch cfg.StoreBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory store, data is lost on restart")
		wireMemory(deps)
	default:
		if err := wireDynamo(ctx, cfg, deps); err != nil {
			fatal("dynamodb", err)
		}
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fatal("forced shutdown", err)
	}
	slog.Info("server stopped")
}

func wireDynamo(ctx context.Context, cfg *config.Config, deps *transporthttp.Deps) error {
	client, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	dynamo.Bootstrap(ctx, client, cfg.DynamoTables)

	t := cfg.DynamoTables
	deps.UserRepo = dynamo.NewUserRepo(client, t.Users)
	deps.CalendarRepo = dynamo.NewCalendarRepo(client, t.Calendars, t.CalendarMembers)
	deps.CalendarMemberRepo = dynamo.NewCalendarMemberRepo(client, t.CalendarMembers, t.Calendars)
	deps.EventRepo = dynamo.NewEventRepo(client, t.Events)
	deps.EventMemberRepo = dynamo.NewEventMemberRepo(client, t.EventMembers)
	deps.TokenRepo = dynamo.NewTokenRepo(client, t.ApprovalTokens)
	deps.Ready = func(ctx context.Context) error { return dynamo.Ping(ctx, client, t.Users) }

	store := s3infra.NewStore(s3infra.NewClient(cfg), cfg.S3BucketName)
	if err := store.EnsureBucket(ctx); err != nil {
		slog.Warn("s3 bucket not available, avatar uploads will fail", "bucket", cfg.S3BucketName, "err", err)
	}
	deps.ObjectStore = store
	return nil
}

func wireMemory(deps *transporthttp.Deps) {
	store := memory.New()
	deps.UserRepo = store.Users()
	deps.CalendarRepo = store.Calendars()
	deps.CalendarMemberRepo = store.CalendarMembers()
	deps.EventRepo = store.Events()
	deps.EventMemberRepo = store.EventMembers()
	deps.TokenRepo = store.Tokens()
	deps.ObjectStore = store.Objects()
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
