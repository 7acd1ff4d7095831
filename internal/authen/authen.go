// Package authen is a small pluggable-authentication framework. An adapter
// implements Checker; Authenticator wraps it with the behavior every adapter
// shares: an optional callback, an optional result cache, and logging.
package authen

import (
	"context"
)

// Checker performs one credential check against a backend.
type Checker interface {
	Check(ctx context.Context, username, password string) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, username, password string) bool

func (f CheckerFunc) Check(ctx context.Context, username, password string) bool {
	return f(ctx, username, password)
}

// Callback runs before the checker. When decided is true its ok result is
// final and the checker is not consulted.
type Callback func(ctx context.Context, username, password string) (ok bool, decided bool)

type Authenticator struct {
	checker  Checker
	log      Logger
	cache    Cache
	callback Callback
}

type Option func(*Authenticator)

func WithLogger(l Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.log = l
		}
	}
}

func WithCache(c Cache) Option {
	return func(a *Authenticator) { a.cache = c }
}

func WithCallback(cb Callback) Option {
	return func(a *Authenticator) { a.callback = cb }
}

func New(checker Checker, opts ...Option) *Authenticator {
	a := &Authenticator{checker: checker, log: Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate reports whether username and password are accepted.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) bool {
	if a.callback != nil {
		if ok, decided := a.callback(ctx, username, password); decided {
			a.report(username, ok, "callback")
			return ok
		}
	}
	if a.cache != nil && a.cache.Get(username, password) {
		a.report(username, true, "cache")
		return true
	}
	ok := a.checker.Check(ctx, username, password)
	if ok && a.cache != nil {
		a.cache.Set(username, password)
	}
	a.report(username, ok, "adapter")
	return ok
}

func (a *Authenticator) report(username string, ok bool, source string) {
	if ok {
		a.log.Info("authenticated user", "user", username, "source", source)
		return
	}
	a.log.Warn("failed to authenticate user", "user", username, "source", source)
}
