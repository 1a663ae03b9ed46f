package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/service"

	"github.com/pgiris/pgiris/internal/pgerror"
)

// PrincipalMapper maps a verified Kerberos principal name (e.g.
// "alice@EXAMPLE.COM") to the IRIS bridge username the connection should
// use. Like OAuth's SubjectMapper, spec.md leaves this policy unspecified
// (see DESIGN.md); StripRealmMapper is the explicit default.
type PrincipalMapper func(principal string) (irisUser string, err error)

// GSSAPIAuthenticator implements spec.md §4.6's `gssapi` mode: the client
// sends one or more raw GSS-API tokens (PostgreSQL's GSSENCRequest/
// GSSResponse messages carry these verbatim, no SASL wrapping), which are
// verified against a service keytab using github.com/jcmturner/gokrb5/v8 —
// the same library gokrb5's own service.SPNEGOKRB5Authenticator uses for
// HTTP, generalized here to the PostgreSQL wire protocol's direct GSS
// token exchange instead of SPNEGO-over-HTTP.
//
// No pack example ships Kerberos; this is grounded on
// original_source's tests/contract/test_gssapi_auth_contract.py (the
// server-principal/keytab-driven AP-REQ verification contract) rather than
// on the teacher, since the teacher has no authentication layer to adapt.
type GSSAPIAuthenticator struct {
	kt               *keytab.Keytab
	servicePrincipal string
	settings         *service.Settings
	mapPrincipal     PrincipalMapper
}

// NewGSSAPI loads keytabPath and builds an authenticator that accepts
// connections for servicePrincipal (e.g. "postgres/iris-gateway@EXAMPLE.COM").
func NewGSSAPI(keytabPath, servicePrincipal string, mapPrincipal PrincipalMapper) (*GSSAPIAuthenticator, error) {
	kt, err := keytab.Load(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("load kerberos keytab %s: %w", keytabPath, err)
	}
	return &GSSAPIAuthenticator{
		kt:               kt,
		servicePrincipal: servicePrincipal,
		settings:         service.NewSettings(kt),
		mapPrincipal:     mapPrincipal,
	}, nil
}

func (g *GSSAPIAuthenticator) Start(ctx context.Context, username, database string) (Outcome, error) {
	// AuthenticationGSS tells the client to begin sending raw GSS-API
	// tokens. Continue answers the first valid token with AuthenticationOk,
	// so AuthenticationGSSContinue is never sent.
	return Outcome{Reply: &pgproto3.AuthenticationGSS{}}, nil
}

// Continue accepts one GSS-API token per call. A real Kerberos exchange is
// usually a single AP-REQ/AP-REP round trip (mutual authentication is
// optional and not requested here), so the common case completes on the
// first call. The mapped IRIS user name is not checked against the bridge:
// any principal the PrincipalMapper accepts is authenticated.
func (g *GSSAPIAuthenticator) Continue(ctx context.Context, raw []byte) (Outcome, error) {
	var token gssapi.KRB5Token
	if err := token.Unmarshal(raw); err != nil {
		return Outcome{}, pgerror.Auth("malformed GSS-API token: %v", err)
	}

	ok, creds, err := service.VerifyAPREQ(token.APReq, g.settings)
	if err != nil {
		return Outcome{}, pgerror.Auth("kerberos AP-REQ verification error: %v", err)
	}
	if !ok {
		return Outcome{}, pgerror.Auth("kerberos AP-REQ verification failed for service %q", g.servicePrincipal)
	}

	principal := creds.UserName() + "@" + creds.Domain()
	irisUser, err := g.mapPrincipal(principal)
	if err != nil {
		return Outcome{}, pgerror.Auth("kerberos principal %q could not be mapped to an IRIS user: %v", principal, err)
	}

	return Outcome{
		Done:          true,
		Authenticated: true,
		IRISUser:      irisUser,
		Reply:         &pgproto3.AuthenticationOk{},
	}, nil
}

// StripRealmMapper is the default PrincipalMapper: it takes the portion of
// the principal before "@REALM" as the IRIS username (spec.md §9's Open
// Questions names this as the obvious, if unverified-against-the-source,
// default).
func StripRealmMapper(principal string) (string, error) {
	for i := 0; i < len(principal); i++ {
		if principal[i] == '@' {
			if i == 0 {
				return "", fmt.Errorf("kerberos principal %q has no username portion", principal)
			}
			return principal[:i], nil
		}
	}
	return principal, nil
}
