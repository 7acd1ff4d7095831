package config

import (
	"testing"
	"time"

	"github.com/gitpan/Authen-Simple-IMAP/internal/imapauth"
)

func TestLoadRequiresIMAPHost(t *testing.T) {
	t.Setenv("IMAP_HOST", "")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected Load to fail without IMAP_HOST")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.IMAPProtocol != "IMAP" {
		t.Fatalf("expected plain IMAP default, got %q", cfg.IMAPProtocol)
	}
	if cfg.IMAPTimeout != 90*time.Second {
		t.Fatalf("expected 90s default timeout, got %s", cfg.IMAPTimeout)
	}
	if !cfg.IMAPEscapeSlash {
		t.Fatalf("expected escape slash to default to true")
	}
	if cfg.AuditDBDriver != "sqlite" {
		t.Fatalf("expected sqlite audit driver, got %q", cfg.AuditDBDriver)
	}
}

func TestLoadRejectsUnknownProtocol(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.com")
	t.Setenv("IMAP_PROTOCOL", "FTP")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected Load to fail for IMAP_PROTOCOL=FTP")
	}
}

func TestLoadRejectsExternalDriverWithoutDSN(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.com")
	t.Setenv("AUDIT_DB_DRIVER", "pgx")
	t.Setenv("AUDIT_DB_DSN", "")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected Load to fail for pgx without DSN")
	}
}

func TestLoadRejectsShortAPIToken(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.com")
	t.Setenv("API_TOKEN", "short")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected Load to fail for a short API_TOKEN")
	}
}

func TestIMAPOptions(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.com")
	t.Setenv("IMAP_PROTOCOL", "imaps")
	t.Setenv("IMAP_TIMEOUT_SEC", "5")
	t.Setenv("IMAP_ESCAPE_SLASH", "false")
	t.Setenv("IMAP_INSECURE_SKIP_VERIFY", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opts := cfg.IMAPOptions()
	if opts.Protocol != "IMAPS" {
		t.Fatalf("expected IMAPS, got %q", opts.Protocol)
	}
	if opts.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", opts.Timeout)
	}
	if opts.EscapeSlash == nil || *opts.EscapeSlash {
		t.Fatalf("expected escape slash disabled")
	}
	if opts.TLSConfig == nil || !opts.TLSConfig.InsecureSkipVerify {
		t.Fatalf("expected insecure TLS config")
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("options should validate: %v", err)
	}
	if p, _ := imapauth.ParseProtocol(opts.Protocol); p != imapauth.ProtocolIMAPS {
		t.Fatalf("unexpected protocol %s", p)
	}
}

func TestLoadRequiresParseTimeForMySQL(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.com")
	t.Setenv("AUDIT_DB_DRIVER", "mysql")
	t.Setenv("AUDIT_DB_DSN", "imapauth:secret@tcp(db:3306)/imapauth")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for a mysql DSN without parseTime")
	}

	t.Setenv("AUDIT_DB_DSN", "imapauth:secret@tcp(db:3306)/imapauth?parseTime=true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AuditDBDriver != "mysql" {
		t.Fatalf("unexpected driver %q", cfg.AuditDBDriver)
	}
}

func TestLoadLockoutSettings(t *testing.T) {
	t.Setenv("IMAP_HOST", "mail.example.com")
	t.Setenv("LOCKOUT_FAILURES", "5")
	t.Setenv("LOCKOUT_WINDOW_MIN", "10")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LockoutFailures != 5 || cfg.LockoutWindow != 10*time.Minute {
		t.Fatalf("unexpected lockout config %d / %s", cfg.LockoutFailures, cfg.LockoutWindow)
	}

	t.Setenv("LOCKOUT_FAILURES", "-1")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for negative LOCKOUT_FAILURES")
	}
}
