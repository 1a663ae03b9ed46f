// Package auth implements the pluggable Authenticator spec.md §4.6/§6
// names: trust, scram, oauth (password-grant bridge to an external IdP),
// and gssapi (Kerberos). Every variant drives the same message exchange
// contract so internal/conn can stay mode-agnostic.
package auth

import (
	"context"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgiris/pgiris/internal/bridge"
)

// Outcome is the terminal result of one authentication attempt.
type Outcome struct {
	// Done reports whether the exchange finished (successfully or not);
	// false means Drive must be called again with the client's next message.
	Done bool
	// Authenticated is only meaningful when Done is true.
	Authenticated bool
	// IRISUser is the bridge username the connection should use for the
	// rest of its lifetime once Authenticated is true (for SCRAM/trust this
	// is the startup username; for OAuth/GSSAPI it's the mapped principal).
	IRISUser string
	// Err, if non-nil, is the reason authentication failed (already
	// SQLSTATE-classified via internal/pgerror).
	Err error
	// Reply is the next message to send the client (an AuthenticationX
	// challenge, SCRAM's AuthenticationSASLFinal, or AuthenticationOk).
	// After a successful exchange whose last Reply is not AuthenticationOk,
	// internal/conn sends AuthenticationOk itself. Nil if nothing to send
	// yet (Drive is waiting on more input it already has).
	Reply pgproto3.BackendMessage
}

// Authenticator drives one connection's authentication handshake. SCRAM and
// OAuth authenticators hold per-exchange state, so a fresh one is created per
// connection; GSSAPIAuthenticator holds none, and cmd/pgiris shares a single
// instance across connections.
type Authenticator interface {
	// Start is called once, right after StartupMessage is parsed, and
	// returns the first message to send the client (e.g.
	// AuthenticationCleartextPassword, AuthenticationSASL, or
	// AuthenticationOk directly for trust).
	Start(ctx context.Context, username, database string) (Outcome, error)

	// Continue is called with each subsequent PasswordMessage /
	// SASL{Initial,}Response / GSS message the client sends, until Outcome
	// reports Done.
	Continue(ctx context.Context, raw []byte) (Outcome, error)
}

// Mode names an authenticator variant; mirrors config.AuthMode's string
// values without importing internal/config (auth is lower in the
// dependency graph: config describes policy, auth implements it).
type Mode string

const (
	ModeTrust  Mode = "trust"
	ModeSCRAM  Mode = "scram"
	ModeOAuth  Mode = "oauth"
	ModeGSSAPI Mode = "gssapi"
)

// UserValidator checks a post-authentication identity against the IRIS
// bridge. Implemented by bridge.Session.UserExists; declared here as a
// narrow interface so this package doesn't need the full bridge.Session
// surface. No authenticator in this package calls it: GSSAPIAuthenticator
// completes without checking that the principal-mapped user exists.
type UserValidator interface {
	UserExists(ctx context.Context, name string) (bool, error)
}

var _ UserValidator = bridge.Session(nil)
