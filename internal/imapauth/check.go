package imapauth

import "strings"

var slashEscaper = strings.NewReplacer(`\`, `\\`)

// EscapeSlash doubles every backslash in password.
func EscapeSlash(password string) string {
	return slashEscaper.Replace(password)
}

// check runs one LOGIN on s. Rejected credentials and transport failures
// both come back as false; err carries the detail.
func check(s Session, username, password string, escapeSlash bool) (bool, error) {
	if s == nil {
		panic("imapauth: check called without a session")
	}
	if escapeSlash {
		password = EscapeSlash(password)
	}
	if err := s.Login(username, password); err != nil {
		return false, err
	}
	return true, nil
}
