package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/duckmesh/dbchat/internal/api"
	"github.com/duckmesh/dbchat/internal/audit"
	"github.com/duckmesh/dbchat/internal/auth"
	"github.com/duckmesh/dbchat/internal/chat"
	"github.com/duckmesh/dbchat/internal/config"
	"github.com/duckmesh/dbchat/internal/database"
	"github.com/duckmesh/dbchat/internal/nl2sql"
	"github.com/duckmesh/dbchat/internal/observability"
	"github.com/duckmesh/dbchat/internal/query/sqlexec"
	"github.com/duckmesh/dbchat/internal/schema"
	"github.com/duckmesh/dbchat/internal/schema/introspect"
	"github.com/duckmesh/dbchat/internal/security"
	s3store "github.com/duckmesh/dbchat/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("dbchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := database.Open(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("failed to open database", slog.String("driver", cfg.Database.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	dialect := database.Dialect(cfg.Database.Driver)
	schemaCache := schema.NewCache(introspect.New(db, introspect.Options{
		Dialect:    dialect,
		SchemaName: cfg.Database.SchemaName,
	}), logger)

	completer, err := nl2sql.NewCompleter(cfg.Engine)
	if err != nil {
		logger.Error("failed to initialize interpretation engine", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	readiness := []api.ReadinessCheck{api.CheckDatabase(db)}
	var sinks audit.Fanout
	var archiver *audit.Archiver
	if cfg.Audit.Enabled {
		sinks = append(sinks, audit.LogSink{Logger: logger})
		if cfg.Audit.Archive {
			objectStore, err := s3store.New(context.Background(), s3store.Config{
				Endpoint:         cfg.ObjectStore.Endpoint,
				Region:           cfg.ObjectStore.Region,
				Bucket:           cfg.ObjectStore.Bucket,
				AccessKeyID:      cfg.ObjectStore.AccessKeyID,
				SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
				UseSSL:           cfg.ObjectStore.UseSSL,
				Prefix:           cfg.ObjectStore.Prefix,
				AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
			})
			if err != nil {
				logger.Error("failed to initialize object store", slog.Any("error", err))
				os.Exit(1)
			}
			archiver = audit.NewArchiver(objectStore, logger, audit.ArchiverConfig{
				FlushInterval: cfg.Audit.FlushInterval,
				MaxBatch:      cfg.Audit.MaxBatch,
				QueueSize:     cfg.Audit.QueueSize,
			})
			sinks = append(sinks, archiver)
			readiness = append(readiness, api.CheckObjectStore(objectStore))
		}
	}

	processor, err := chat.NewProcessor(chat.Options{
		Schema:      schemaCache,
		Interpreter: nl2sql.NewEngine(completer, logger),
		Gate:        security.NewGate(logger),
		Executor:    sqlexec.New(db, dialect, logger),
		Audit:       sinks,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialize chat processor", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Chat:              processor,
		Schema:            schemaCache,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	var background sync.WaitGroup
	if archiver != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := archiver.Run(ctx); err != nil {
				logger.Error("audit archiver stopped", slog.Any("error", err))
			}
		}()
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("db_driver", cfg.Database.Driver),
			slog.String("engine", cfg.Engine.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
	background.Wait()
}
