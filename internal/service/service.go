package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gitpan/Authen-Simple-IMAP/internal/authen"
	"github.com/gitpan/Authen-Simple-IMAP/internal/config"
	"github.com/gitpan/Authen-Simple-IMAP/internal/imapauth"
	"github.com/gitpan/Authen-Simple-IMAP/internal/metrics"
	"github.com/gitpan/Authen-Simple-IMAP/internal/models"
	"github.com/gitpan/Authen-Simple-IMAP/internal/rate"
	"github.com/gitpan/Authen-Simple-IMAP/internal/store"
)

// readyTTL is how long a reachability result is reused.
const readyTTL = 5 * time.Second

var (
	ErrVerifierDown = errors.New("cannot reach IMAP server for verification")
	ErrRateLimited  = errors.New("too many authentication attempts")
)

// RateLimitError is returned when a caller is over its limit. It matches
// ErrRateLimited under errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v, retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// AttemptStore persists the audit trail. *store.Store implements it.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error)
	GetAttempt(ctx context.Context, id string) (models.Attempt, error)
	ListAttempts(ctx context.Context, limit, offset int) ([]models.Attempt, error)
	CountFailuresSince(ctx context.Context, username string, t time.Time) (int, error)
	Ping(ctx context.Context) error
}

// Connector opens one IMAP session. imapauth.New is the production value.
type Connector func(ctx context.Context, opts imapauth.Options) (*imapauth.Adapter, error)

type AuthRequest struct {
	Username  string
	Password  string
	RemoteIP  string
	RequestID string
}

// Service authenticates requests against the configured IMAP server. Each
// request gets its own connection, so concurrent callers never share a
// session.
type Service struct {
	cfg     config.Config
	opts    imapauth.Options
	st      AttemptStore
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     authen.Logger
	cache   authen.Cache
	connect Connector
	now     func() time.Time

	readyMu  sync.Mutex
	readyAt  time.Time
	readyErr error
}

func New(cfg config.Config, st AttemptStore, m *metrics.Metrics, log authen.Logger) *Service {
	log = authen.OrDiscard(log)
	if m == nil {
		m = metrics.New(nil)
	}
	opts := cfg.IMAPOptions()
	opts.Log = log.WithAttrs("component", "imapauth")
	s := &Service{
		cfg:     cfg,
		opts:    opts,
		st:      st,
		limiter: rate.NewLimiter(),
		metrics: m,
		log:     log,
		connect: imapauth.New,
		now:     time.Now,
	}
	if cfg.AuthCacheTTL > 0 {
		s.cache = authen.NewMemoryCache(cfg.AuthCacheTTL)
	}
	return s
}

// WithConnector replaces how sessions are opened.
func (s *Service) WithConnector(c Connector) *Service {
	s.connect = c
	return s
}

// Authenticate reports whether the credentials were accepted. A false
// result with a nil error means the server rejected them; ErrVerifierDown
// and ErrRateLimited mean no verdict was reached.
func (s *Service) Authenticate(ctx context.Context, req AuthRequest) (bool, error) {
	userKey := "user:" + strings.ToLower(strings.TrimSpace(req.Username))
	limit := s.cfg.RateLimitPerMinute
	for _, key := range []string{"ip:" + req.RemoteIP, userKey} {
		if ok, wait := s.limiter.Take(key, limit, time.Minute); !ok {
			s.record(ctx, req, models.AttemptThrottled, nil)
			return false, &RateLimitError{RetryAfter: wait}
		}
	}
	if locked, err := s.lockedOut(ctx, req.Username); err != nil {
		s.log.Error("lockout check failed", "error", err, "request_id", req.RequestID)
	} else if locked {
		reason := "locked out"
		s.record(ctx, req, models.AttemptThrottled, &reason)
		return false, &RateLimitError{RetryAfter: s.cfg.LockoutWindow}
	}

	var connErr error
	checker := authen.CheckerFunc(func(ctx context.Context, username, password string) bool {
		a, err := s.open(ctx)
		if err != nil {
			connErr = err
			return false
		}
		defer func() {
			if err := a.Close(); err != nil {
				s.log.Debug("imap logout failed", "error", err)
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, s.loginTimeout())
		defer cancel()
		start := time.Now()
		ok := a.Check(ctx, username, password)
		s.metrics.LoginDuration.Observe(time.Since(start).Seconds())
		return ok
	})
	log := s.log
	if req.RequestID != "" {
		log = log.WithAttrs("request_id", req.RequestID)
	}
	ok := authen.New(checker, authen.WithLogger(log), authen.WithCache(s.cache)).
		Authenticate(ctx, req.Username, req.Password)

	switch {
	case connErr != nil:
		reason := connErr.Error()
		s.record(ctx, req, models.AttemptUnavailable, &reason)
		if imapauth.IsUnavailable(connErr) {
			return false, fmt.Errorf("%w: %v", ErrVerifierDown, connErr)
		}
		return false, connErr
	case ok:
		s.limiter.Reset(userKey)
		s.record(ctx, req, models.AttemptAccepted, nil)
		return true, nil
	default:
		s.record(ctx, req, models.AttemptRejected, nil)
		return false, nil
	}
}

// Reachable opens and closes a session to check the server answers. A
// result is reused for a few seconds so readiness polling does not turn
// into one IMAP connection per request.
func (s *Service) Reachable(ctx context.Context) error {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	now := s.now()
	if !s.readyAt.IsZero() && now.Sub(s.readyAt) < readyTTL {
		return s.readyErr
	}
	a, err := s.open(ctx)
	if err == nil {
		err = a.Close()
	}
	s.readyAt, s.readyErr = now, err
	return err
}

// Attempt returns one audit record. store.ErrNotFound means no such id.
func (s *Service) Attempt(ctx context.Context, id string) (models.Attempt, error) {
	if s.st == nil {
		return models.Attempt{}, store.ErrNotFound
	}
	return s.st.GetAttempt(ctx, id)
}

func (s *Service) lockedOut(ctx context.Context, username string) (bool, error) {
	if s.st == nil || s.cfg.LockoutFailures <= 0 {
		return false, nil
	}
	n, err := s.st.CountFailuresSince(ctx, username, s.now().Add(-s.cfg.LockoutWindow))
	if err != nil {
		return false, err
	}
	return n >= s.cfg.LockoutFailures, nil
}

func (s *Service) loginTimeout() time.Duration {
	if s.opts.Timeout > 0 {
		return s.opts.Timeout
	}
	return imapauth.DefaultTimeout
}

func (s *Service) Ping(ctx context.Context) error {
	if s.st == nil {
		return nil
	}
	return s.st.Ping(ctx)
}

func (s *Service) RecentAttempts(ctx context.Context, limit, offset int) ([]models.Attempt, error) {
	if s.st == nil {
		return []models.Attempt{}, nil
	}
	return s.st.ListAttempts(ctx, limit, offset)
}

func (s *Service) open(ctx context.Context) (*imapauth.Adapter, error) {
	start := time.Now()
	a, err := s.connect(ctx, s.opts)
	outcome := "ok"
	var te *imapauth.TimeoutError
	switch {
	case errors.As(err, &te):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	proto, _ := imapauth.ParseProtocol(s.opts.Protocol)
	s.metrics.ConnectDuration.WithLabelValues(string(proto), outcome).Observe(time.Since(start).Seconds())
	return a, err
}

func (s *Service) record(ctx context.Context, req AuthRequest, result models.AttemptResult, reason *string) {
	s.metrics.AttemptsTotal.WithLabelValues(string(result)).Inc()
	if s.st == nil {
		return
	}
	_, err := s.st.InsertAttempt(ctx, models.Attempt{
		Username:  req.Username,
		RemoteIP:  req.RemoteIP,
		Result:    result,
		Reason:    reason,
		RequestID: req.RequestID,
	})
	if err != nil {
		s.log.Error("record auth attempt failed", "error", err, "request_id", req.RequestID)
	}
}
