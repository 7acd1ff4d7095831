package commands

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gitpan/Authen-Simple-IMAP/internal/authen"
	"github.com/gitpan/Authen-Simple-IMAP/internal/imapauth"
)

// PasswordEnv names the environment variable read before stdin.
const PasswordEnv = "IMAP_PASSWORD"

// newAuthenticator is swapped in tests.
var newAuthenticator = imapauth.NewAuthenticator

type checkFlags struct {
	host           string
	protocol       string
	port           int
	timeout        time.Duration
	connectTimeout time.Duration
	noEscapeSlash  bool
	insecure       bool
	user           string
	verbose        bool
}

func newCheckCmd() *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify credentials with an IMAP LOGIN",
		Long: `Connect to the IMAP server and attempt a LOGIN with the given user.

The password is read from $IMAP_PASSWORD, or from the first line of stdin.

Exit status is 0 when the server accepts the credentials, 1 when it
rejects them and 2 when the server could not be reached or the flags are
invalid.

Examples:
  # Check over IMAPS
  echo "$PASS" | imapauth check --host mail.example.com --protocol IMAPS --user alice

  # Plain IMAP on a custom port with a short deadline
  IMAP_PASSWORD=secret imapauth check --host 127.0.0.1 --port 1143 --timeout 5s --user bob`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.host, "host", os.Getenv("IMAP_HOST"), "IMAP server host (default $IMAP_HOST)")
	fl.StringVar(&f.protocol, "protocol", string(imapauth.DefaultProtocol), "IMAP or IMAPS")
	fl.IntVar(&f.port, "port", 0, "server port (default 143 for IMAP, 993 for IMAPS)")
	fl.DurationVar(&f.timeout, "timeout", imapauth.DefaultTimeout, "deadline for establishing the connection")
	fl.DurationVar(&f.connectTimeout, "connect-timeout", 0, "separate TCP connect timeout (0 uses --timeout)")
	fl.BoolVar(&f.noEscapeSlash, "no-escape-slash", false, "send backslashes in the password unmodified")
	fl.BoolVar(&f.insecure, "insecure", false, "skip TLS certificate verification")
	fl.StringVarP(&f.user, "user", "u", "", "username to check")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log connection details to stderr")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runCheck(cmd *cobra.Command, f checkFlags) error {
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}

	log := authen.Discard()
	if f.verbose {
		log = authen.SlogLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	opts := imapauth.Options{
		Host:           f.host,
		Port:           f.port,
		Protocol:       f.protocol,
		Timeout:        f.timeout,
		ConnectTimeout: f.connectTimeout,
		EscapeSlash:    imapauth.Bool(!f.noEscapeSlash),
		Log:            log,
	}
	if f.insecure {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	auth, adapter, err := newAuthenticator(cmd.Context(), opts)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			log.Debug("logout failed", "error", err)
		}
	}()

	if !auth.Authenticate(cmd.Context(), f.user, password) {
		return &exitError{code: ExitRejected, err: fmt.Errorf("authentication failed for %s", f.user)}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "authenticated %s\n", f.user)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if v, ok := os.LookupEnv(PasswordEnv); ok {
		return v, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	if line == "" && errors.Is(err, io.EOF) {
		return "", errors.New("no password given on stdin or in " + PasswordEnv)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
