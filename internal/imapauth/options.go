package imapauth

import (
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gitpan/Authen-Simple-IMAP/internal/authen"
)

// Protocol selects a plain or TLS-wrapped connection.
type Protocol string

const (
	ProtocolIMAP  Protocol = "IMAP"
	ProtocolIMAPS Protocol = "IMAPS"
)

const (
	// DefaultTimeout bounds connection setup when Options.Timeout is zero.
	DefaultTimeout = 90 * time.Second

	// DefaultProtocol is plain IMAP, even though IMAPS is what most
	// deployments want.
	DefaultProtocol = ProtocolIMAP

	defaultIMAPPort  = 143
	defaultIMAPSPort = 993
)

// ParseProtocol accepts "IMAP" or "IMAPS" in any case. The empty string
// resolves to DefaultProtocol.
func ParseProtocol(v string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "":
		return DefaultProtocol, nil
	case string(ProtocolIMAP):
		return ProtocolIMAP, nil
	case string(ProtocolIMAPS):
		return ProtocolIMAPS, nil
	default:
		return "", &ConfigError{Field: "protocol", Reason: strconv.Quote(v) + " is not one of IMAP, IMAPS"}
	}
}

// Options configures an Adapter. Either Session, or Host with an optional
// Protocol, decides how the session is obtained.
type Options struct {
	Host     string
	Port     int
	Protocol string

	// Session, when set, is used as-is and no connection is attempted.
	Session Session

	// Timeout bounds the whole connection setup. Zero means DefaultTimeout.
	Timeout time.Duration
	// ConnectTimeout is handed to the TCP dialer. Zero leaves it unset.
	ConnectTimeout time.Duration

	// EscapeSlash doubles backslashes in passwords. Nil means true.
	EscapeSlash *bool

	TLSConfig *tls.Config
	Log       authen.Logger
}

// Validate checks the option combination without touching the network.
func (o Options) Validate() error {
	if o.Timeout < 0 {
		return &ConfigError{Field: "timeout", Reason: "must not be negative"}
	}
	if o.ConnectTimeout < 0 {
		return &ConfigError{Field: "connect timeout", Reason: "must not be negative"}
	}
	if o.Port < 0 || o.Port > 65535 {
		return &ConfigError{Field: "port", Reason: "out of range"}
	}
	if o.Session != nil {
		return nil
	}
	if _, err := ParseProtocol(o.Protocol); err != nil {
		return err
	}
	if strings.TrimSpace(o.Host) == "" {
		return &ConfigError{Field: "host", Reason: "required when no session is supplied"}
	}
	return nil
}

func (o Options) protocol() Protocol {
	p, err := ParseProtocol(o.Protocol)
	if err != nil {
		return ""
	}
	return p
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

func (o Options) escapeSlash() bool {
	return o.EscapeSlash == nil || *o.EscapeSlash
}

// addr joins host and port. A host that already carries a port wins.
func (o Options) addr() string {
	host := strings.TrimSpace(o.Host)
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := o.Port
	if port == 0 {
		port = defaultIMAPPort
		if o.protocol() == ProtocolIMAPS {
			port = defaultIMAPSPort
		}
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}

func (o Options) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if o.TLSConfig != nil {
		cfg = o.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		host := o.addr()
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		cfg.ServerName = host
	}
	return cfg
}

// Bool returns a pointer to v, for Options.EscapeSlash.
func Bool(v bool) *bool { return &v }
