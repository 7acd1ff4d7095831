package imapauth

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	imapclient "github.com/emersion/go-imap/client"
)

// Session is an IMAP connection able to run a LOGIN command. A nil error
// means the server accepted the credentials; the error text is the
// server's or transport's explanation otherwise.
//
// *client.Client from github.com/emersion/go-imap satisfies it.
type Session interface {
	Login(username, password string) error
}

// dialContext opens the TCP connection. Tests swap it to simulate a
// connect that never completes.
var dialContext = func(ctx context.Context, d *net.Dialer, network, addr string) (net.Conn, error) {
	return d.DialContext(ctx, network, addr)
}

// deadlineDialer binds every connection it opens to ctx: the dial honours
// cancellation and the raw conn inherits the deadline, so a server that
// accepts but never greets cannot block the caller.
type deadlineDialer struct {
	ctx    context.Context
	dialer net.Dialer

	mu   sync.Mutex
	conn net.Conn
}

func (d *deadlineDialer) Dial(network, addr string) (net.Conn, error) {
	conn, err := dialContext(d.ctx, &d.dialer, network, addr)
	if err != nil {
		return nil, err
	}
	if dl, ok := d.ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return conn, nil
}

// disarm clears the deadline so later commands are not cut short.
func (d *deadlineDialer) disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		_ = d.conn.SetDeadline(time.Time{})
	}
}

func (d *deadlineDialer) abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		_ = d.conn.Close()
	}
}

type dialResult struct {
	cli *imapclient.Client
	err error
}

// Establish produces a session according to opts. A pre-built session is
// returned unmodified. Otherwise a plain or TLS connection is opened to the
// configured host, bounded by opts.Timeout (DefaultTimeout when zero).
func Establish(ctx context.Context, opts Options) (Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	if opts.Session != nil {
		return opts.Session, nil
	}

	proto := opts.protocol()
	addr := opts.addr()
	d := &deadlineDialer{ctx: ctx, dialer: net.Dialer{Timeout: opts.ConnectTimeout}}

	done := make(chan dialResult, 1)
	go func() {
		var r dialResult
		if proto == ProtocolIMAPS {
			r.cli, r.err = imapclient.DialWithDialerTLS(d, addr, opts.tlsConfig())
		} else {
			r.cli, r.err = imapclient.DialWithDialer(d, addr)
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			d.abort()
			if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) || isTimeout(r.err) {
				return nil, &TimeoutError{Protocol: proto, Err: r.err}
			}
			return nil, &ConnectError{Protocol: proto, Addr: addr, Err: r.err}
		}
		d.disarm()
		return r.cli, nil
	case <-ctx.Done():
		d.abort()
		go func() {
			// The dial goroutine unblocks once its conn is closed.
			if r := <-done; r.err == nil {
				d.abort()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Protocol: proto, Err: ctx.Err()}
		}
		return nil, &ConnectError{Protocol: proto, Addr: addr, Err: ctx.Err()}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
