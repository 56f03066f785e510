package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/fieldsync/pkg/config"
	"github.com/angelmondragon/fieldsync/pkg/db"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/migrate"
	"github.com/angelmondragon/fieldsync/pkg/redis"
)

const serviceName = "fieldsync-agent"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap device database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing device database", err)
		}
	}()

	if err := migrate.MaybeAutoRun(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	backendClient := dbClient
	if cfg.Backend.DSN != "" {
		backendClient, err = db.New(context.Background(), cfg.Backend.DB(), logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap backend database", err)
			os.Exit(1)
		}
		defer func() {
			if err := backendClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing backend database", err)
			}
		}()
	} else {
		logg.Warn(context.Background(), "backend dsn not set; serving orders from the device database")
	}

	app, err := newAgent(agentParams{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Backend: backendClient,
		Redis:   redisClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to assemble agent", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":   cfg.App.Env,
		"port":  cfg.App.Port,
		"store": cfg.Store.Backend,
	})
	logg.Info(ctx, "starting fieldsync agent")

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "agent stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "agent shutting down gracefully")
}
