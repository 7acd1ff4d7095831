// Package imapauth authenticates a username and password by attempting an
// IMAP LOGIN against a mail server.
//
// Construction establishes one session, bounded by a deadline so that a
// server which accepts the TCP connection but never greets cannot hang the
// caller. Every authentication reuses that session.
package imapauth

import (
	"context"
	"sync"
	"time"

	imapclient "github.com/emersion/go-imap/client"

	"github.com/gitpan/Authen-Simple-IMAP/internal/authen"
)

// Adapter checks credentials against a single IMAP session. Calls are
// serialized: one LOGIN is in flight at a time.
type Adapter struct {
	mu          sync.Mutex
	session     Session
	escapeSlash bool
	log         authen.Logger
}

// New validates opts and establishes the session. No Adapter is returned
// when either step fails.
func New(ctx context.Context, opts Options) (*Adapter, error) {
	log := authen.OrDiscard(opts.Log)
	if err := opts.Validate(); err != nil {
		log.Error("invalid imap options", "error", err)
		return nil, err
	}
	if opts.Session == nil {
		log.Debug("connecting to imap server", "protocol", opts.protocol(), "addr", opts.addr(), "timeout", opts.timeout())
	}
	s, err := Establish(ctx, opts)
	if err != nil {
		log.Error("imap connection setup failed", "error", err)
		return nil, err
	}
	return &Adapter{session: s, escapeSlash: opts.escapeSlash(), log: log}, nil
}

// NewAuthenticator builds an Adapter and wraps it for the framework's
// Authenticate entry point.
func NewAuthenticator(ctx context.Context, opts Options, aopts ...authen.Option) (*authen.Authenticator, *Adapter, error) {
	a, err := New(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	all := append([]authen.Option{authen.WithLogger(a.log)}, aopts...)
	return authen.New(a, all...), a, nil
}

// Check implements authen.Checker.
func (a *Adapter) Check(ctx context.Context, username, password string) bool {
	return a.Verify(ctx, username, password) == nil
}

// Verify is Check with the failure reason attached. A nil error means the
// server accepted the credentials. For dialed sessions a deadline on ctx
// bounds each command the LOGIN issues.
func (a *Adapter) Verify(ctx context.Context, username, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cli, ok := a.session.(*imapclient.Client); ok {
		if dl, ok := ctx.Deadline(); ok {
			left := time.Until(dl)
			if left <= 0 {
				return ctx.Err()
			}
			prev := cli.Timeout
			cli.Timeout = left
			defer func() { cli.Timeout = prev }()
		}
	}
	ok, err := check(a.session, username, password, a.escapeSlash)
	if !ok {
		a.log.Debug("imap login rejected", "user", username, "error", err)
		return err
	}
	return nil
}

// Close logs out when the session supports it.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if lo, ok := a.session.(interface{ Logout() error }); ok {
		return lo.Logout()
	}
	return nil
}
