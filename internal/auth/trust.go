package auth

import (
	"context"

	"github.com/jackc/pgx/v5/pgproto3"
)

// TrustAuthenticator accepts any StartupMessage without challenging the
// client at all — spec.md §6 lists `trust` as a first-class auth mode (the
// teacher's own pkg/pgwire/conn.go skips authentication entirely; this type
// makes that behavior an explicit, named Authenticator rather than an
// absent code path, so the connection handler never special-cases "no
// auth").
type TrustAuthenticator struct{}

func NewTrust() *TrustAuthenticator { return &TrustAuthenticator{} }

func (t *TrustAuthenticator) Start(ctx context.Context, username, database string) (Outcome, error) {
	return Outcome{
		Done:          true,
		Authenticated: true,
		IRISUser:      username,
		Reply:         &pgproto3.AuthenticationOk{},
	}, nil
}

func (t *TrustAuthenticator) Continue(ctx context.Context, raw []byte) (Outcome, error) {
	// Trust never asks for a second message; a client that sends one
	// anyway is simply ignored rather than treated as a protocol error.
	return Outcome{Done: true, Authenticated: true, Reply: &pgproto3.AuthenticationOk{}}, nil
}
