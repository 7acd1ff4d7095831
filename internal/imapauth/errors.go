package imapauth

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid option combination. It is raised before
// any network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("imapauth: invalid %s: %s", e.Field, e.Reason)
}

// ConnectError reports a transport failure while setting up the session:
// DNS, refused connection, TLS handshake, bad greeting.
type ConnectError struct {
	Protocol Protocol
	Addr     string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("imapauth: failed to connect to %s server %s: %v", e.Protocol, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TimeoutError reports that connection setup outlived its deadline.
type TimeoutError struct {
	Protocol Protocol
	Err      error
}

func (e *TimeoutError) Error() string {
	if e.Protocol == "" {
		return "timeout while connecting to server"
	}
	return fmt.Sprintf("timeout while connecting to %s server", e.Protocol)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout lets callers treat the error like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// IsUnavailable reports whether err means the server could not be used at
// all, as opposed to a configuration mistake.
func IsUnavailable(err error) bool {
	var ce *ConnectError
	var te *TimeoutError
	return errors.As(err, &ce) || errors.As(err, &te)
}
