package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gitpan/Authen-Simple-IMAP/internal/api"
	"github.com/gitpan/Authen-Simple-IMAP/internal/authen"
	"github.com/gitpan/Authen-Simple-IMAP/internal/config"
	"github.com/gitpan/Authen-Simple-IMAP/internal/db"
	"github.com/gitpan/Authen-Simple-IMAP/internal/metrics"
	"github.com/gitpan/Authen-Simple-IMAP/internal/service"
	"github.com/gitpan/Authen-Simple-IMAP/internal/store"
	"github.com/gitpan/Authen-Simple-IMAP/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := authen.SlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	auditDB, err := openAuditDB(cfg)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer auditDB.Close()
	if err := db.Migrate(auditDB); err != nil {
		log.Fatalf("migration: %v", err)
	}
	st := store.New(auditDB, cfg.AuditDBDriver)

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := service.New(cfg, st, m, logger)
	r := api.NewRouter(cfg, svc, logger, prometheus.DefaultGatherer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go store.RunRetention(ctx, st, cfg.AuditRetention(), time.Hour, logger.WithAttrs("component", "retention"))

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", cfg.ListenAddr,
			"imap_host", cfg.IMAPHost,
			"imap_protocol", cfg.IMAPProtocol,
			"version", version.Current().String(),
		)
		errCh <- hsrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := hsrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}

func openAuditDB(cfg config.Config) (*sql.DB, error) {
	if cfg.AuditDBDriver == "sqlite" {
		return db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	}
	return db.Open(cfg.AuditDBDriver, cfg.AuditDBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
}
