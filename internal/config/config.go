package config

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/gitpan/Authen-Simple-IMAP/internal/imapauth"
)

type Config struct {
	ListenAddr string

	IMAPHost               string
	IMAPPort               int
	IMAPProtocol           string
	IMAPTimeout            time.Duration
	IMAPConnectTimeout     time.Duration
	IMAPEscapeSlash        bool
	IMAPInsecureSkipVerify bool

	AuthCacheTTL time.Duration

	AuditDBDriver      string
	AuditDBDSN         string
	DBPath             string
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	AuditRetentionDays int

	APIToken           string
	TrustProxy         bool
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// LockoutFailures rejected attempts within LockoutWindow lock a user
	// out. Zero disables the lockout.
	LockoutFailures int
	LockoutWindow   time.Duration

	LogLevel string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		IMAPHost:                 env("IMAP_HOST", ""),
		IMAPPort:                 envInt("IMAP_PORT", 0),
		IMAPProtocol:             strings.ToUpper(env("IMAP_PROTOCOL", string(imapauth.DefaultProtocol))),
		IMAPTimeout:              time.Duration(envInt("IMAP_TIMEOUT_SEC", 90)) * time.Second,
		IMAPConnectTimeout:       time.Duration(envInt("IMAP_CONNECT_TIMEOUT_SEC", 0)) * time.Second,
		IMAPEscapeSlash:          envBool("IMAP_ESCAPE_SLASH", true),
		IMAPInsecureSkipVerify:   envBool("IMAP_INSECURE_SKIP_VERIFY", false),
		AuthCacheTTL:             time.Duration(envInt("AUTH_CACHE_TTL_SEC", 0)) * time.Second,
		AuditDBDriver:            strings.ToLower(env("AUDIT_DB_DRIVER", "sqlite")),
		AuditDBDSN:               env("AUDIT_DB_DSN", ""),
		DBPath:                   env("APP_DB_PATH", "./data/imapauth.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		AuditRetentionDays:       envInt("AUDIT_RETENTION_DAYS", 30),
		APIToken:                 env("API_TOKEN", ""),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		RateLimitPerMinute:       envInt("RATE_LIMIT_PER_MIN", 20),
		LockoutFailures:          envInt("LOCKOUT_FAILURES", 0),
		LockoutWindow:            time.Duration(envInt("LOCKOUT_WINDOW_MIN", 15)) * time.Minute,
		LogLevel:                 strings.ToLower(env("LOG_LEVEL", "info")),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 120),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
	}

	if strings.TrimSpace(cfg.IMAPHost) == "" {
		return Config{}, fmt.Errorf("IMAP_HOST is required")
	}
	if _, err := imapauth.ParseProtocol(cfg.IMAPProtocol); err != nil {
		return Config{}, fmt.Errorf("IMAP_PROTOCOL must be one of: IMAP, IMAPS")
	}
	if cfg.IMAPPort < 0 || cfg.IMAPPort > 65535 {
		return Config{}, fmt.Errorf("invalid IMAP_PORT")
	}
	if cfg.IMAPTimeout <= 0 {
		return Config{}, fmt.Errorf("IMAP_TIMEOUT_SEC must be positive")
	}
	if cfg.IMAPConnectTimeout < 0 || cfg.AuthCacheTTL < 0 {
		return Config{}, fmt.Errorf("timeouts must not be negative")
	}
	switch cfg.AuditDBDriver {
	case "sqlite":
	case "mysql", "pgx":
		if strings.TrimSpace(cfg.AuditDBDSN) == "" {
			return Config{}, fmt.Errorf("AUDIT_DB_DSN is required when AUDIT_DB_DRIVER=%s", cfg.AuditDBDriver)
		}
		if cfg.AuditDBDriver == "mysql" {
			// created_at is scanned into time.Time.
			mc, err := mysql.ParseDSN(cfg.AuditDBDSN)
			if err != nil {
				return Config{}, fmt.Errorf("invalid AUDIT_DB_DSN: %w", err)
			}
			if !mc.ParseTime {
				return Config{}, fmt.Errorf("AUDIT_DB_DSN must set parseTime=true for mysql")
			}
		}
	default:
		return Config{}, fmt.Errorf("AUDIT_DB_DRIVER must be one of: sqlite, mysql, pgx")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.AuditRetentionDays < 0 {
		return Config{}, fmt.Errorf("AUDIT_RETENTION_DAYS must not be negative")
	}
	if cfg.LockoutFailures < 0 || (cfg.LockoutFailures > 0 && cfg.LockoutWindow <= 0) {
		return Config{}, fmt.Errorf("invalid LOCKOUT_FAILURES / LOCKOUT_WINDOW_MIN")
	}
	if cfg.RateLimitPerMinute <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_PER_MIN must be positive")
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return Config{}, err
	}
	if cfg.APIToken != "" && len(cfg.APIToken) < 24 {
		return Config{}, fmt.Errorf("API_TOKEN must be at least 24 chars when set")
	}
	return cfg, nil
}

// IMAPOptions converts the IMAP settings for imapauth.New.
func (c Config) IMAPOptions() imapauth.Options {
	opts := imapauth.Options{
		Host:           c.IMAPHost,
		Port:           c.IMAPPort,
		Protocol:       c.IMAPProtocol,
		Timeout:        c.IMAPTimeout,
		ConnectTimeout: c.IMAPConnectTimeout,
		EscapeSlash:    imapauth.Bool(c.IMAPEscapeSlash),
	}
	if c.IMAPInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return opts
}

func (c Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

func (c Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported LOG_LEVEL: %s", c.LogLevel)
	}
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
