package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgiris/pgiris/internal/pgerror"
)

const (
	protocolVersion3 = 0x00030000
	// authTimeout is spec.md §4.6/§5's "every authentication path has an
	// overall 5-second timeout".
	authTimeout = 5 * time.Second
)

// CancelLookup resolves a (pid, secret) pair from a CancelRequest to the
// live Connection it targets, implemented by the server's registry.
type CancelLookup func(pid, secret int32) (target *Connection, ok bool)

// HandleStartup drives AwaitingSSLProbe → Startup → Authenticating → Ready,
// per spec.md §4.2. cancelLookup services an inbound CancelRequest arriving
// on this socket instead of a real StartupMessage (PostgreSQL clients open
// a second, transient connection for this).
func (c *Connection) HandleStartup(ctx context.Context, cancelLookup CancelLookup) error {
	for {
		msg, err := c.backend.ReceiveStartupMessage()
		if err != nil {
			return fmt.Errorf("receive startup message: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.SSLRequest:
			// Plaintext-only deployment: reply "N" and continue (spec.md
			// §6: "if the server is configured without TLS it replies N and
			// continues in plaintext"). TLS upgrade is not implemented
			// here; the config surface still carries the
			// enabled/cert/key keys for a future net.Listener wrapper.
			if _, err := c.netConn.Write([]byte("N")); err != nil {
				return fmt.Errorf("write ssl probe reply: %w", err)
			}
			continue

		case *pgproto3.CancelRequest:
			c.serviceCancelRequest(m, cancelLookup)
			return errConnectionDone

		case *pgproto3.StartupMessage:
			return c.handleStartupMessage(ctx, m)

		default:
			return fmt.Errorf("unexpected startup message %#v", msg)
		}
	}
}

// errConnectionDone signals the caller (internal/server) to close the
// socket without further processing and without sending any response — the
// exact behavior spec.md §4.2 requires for both halves of the cancel flow
// ("close this socket; do not send any response").
var errConnectionDone = fmt.Errorf("connection done")

// IsConnectionDone reports whether err is the sentinel HandleStartup
// returns after servicing a CancelRequest.
func IsConnectionDone(err error) bool { return err == errConnectionDone }

func (c *Connection) serviceCancelRequest(m *pgproto3.CancelRequest, lookup CancelLookup) {
	target, ok := lookup(int32(m.ProcessID), int32(m.SecretKey))
	if !ok {
		// "Secret mismatch or unknown PID is silently ignored."
		return
	}
	target.Abort()
}

func (c *Connection) handleStartupMessage(ctx context.Context, msg *pgproto3.StartupMessage) error {
	if msg.ProtocolVersion != protocolVersion3 {
		return c.fatal(pgerror.Newf(pgerrcode.ProtocolViolation,
			"unsupported protocol version %#x", msg.ProtocolVersion))
	}

	c.state = StateStartup
	c.username = msg.Parameters["user"]
	c.database = msg.Parameters["database"]
	if c.database == "" {
		return c.fatal(pgerror.New(pgerrcode.InvalidAuthorizationSpecification, "database required"))
	}

	var err error
	c.backendPID, c.backendSecret, err = generateBackendIdentity()
	if err != nil {
		return err
	}

	c.state = StateAuthenticating
	if err := c.authenticate(ctx); err != nil {
		return c.fatal(err)
	}

	if c.registry != nil {
		c.registry.Register(c.backendPID, c.backendSecret, c)
	}

	params := c.catalog.ServerParameters()
	params["application_name"] = msg.Parameters["application_name"]

	msgs := []pgproto3.Message{}
	for name, value := range params {
		msgs = append(msgs, &pgproto3.ParameterStatus{Name: name, Value: value})
	}
	msgs = append(msgs,
		&pgproto3.BackendKeyData{ProcessID: uint32(c.backendPID), SecretKey: uint32(c.backendSecret)},
		&pgproto3.ReadyForQuery{TxStatus: byte(TxIdle)},
	)
	c.state = StateReady
	return c.write(msgs...)
}

// authenticate drives the configured Authenticator's Start/Continue
// exchange to completion or failure, under the overall 5-second cap.
func (c *Connection) authenticate(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	if err := c.netConn.SetReadDeadline(time.Now().Add(authTimeout)); err == nil {
		defer c.netConn.SetReadDeadline(time.Time{})
	}

	outcome, err := c.authenticator.Start(actx, c.username, c.database)
	if err != nil {
		return err
	}
	if outcome.Reply != nil {
		if err := c.write(outcome.Reply); err != nil {
			return err
		}
	}

	for !outcome.Done {
		msg, err := c.backend.Receive()
		if err != nil {
			return fmt.Errorf("receive auth message: %w", err)
		}
		raw, err := authPayload(msg)
		if err != nil {
			return err
		}
		outcome, err = c.authenticator.Continue(actx, raw)
		if err != nil {
			return err
		}
		if outcome.Reply != nil {
			if err := c.write(outcome.Reply); err != nil {
				return err
			}
		}
	}

	if !outcome.Authenticated {
		return pgerror.InvalidPassword("authentication failed for user %q", c.username)
	}
	if _, ok := outcome.Reply.(*pgproto3.AuthenticationOk); !ok {
		if err := c.write(&pgproto3.AuthenticationOk{}); err != nil {
			return err
		}
	}
	if outcome.IRISUser != "" {
		c.username = outcome.IRISUser
	}
	return nil
}

// authPayload extracts the raw bytes an Authenticator.Continue call needs
// from whichever frontend message carries the next auth step.
func authPayload(msg pgproto3.FrontendMessage) ([]byte, error) {
	switch m := msg.(type) {
	case *pgproto3.PasswordMessage:
		return []byte(m.Password), nil
	case *pgproto3.SASLInitialResponse:
		return m.Data, nil
	case *pgproto3.SASLResponse:
		return m.Data, nil
	case *pgproto3.GSSResponse:
		return m.Data, nil
	default:
		return nil, pgerror.Newf(pgerrcode.ProtocolViolation, "unexpected message %T during authentication", msg)
	}
}

// fatal reports a protocol-fatal or authentication error and marks the
// connection for teardown, per spec.md §7 ("Protocol fatal ... Action: send
// ErrorResponse if the stream is still writable, close socket").
func (c *Connection) fatal(err error) error {
	_ = c.write(errorResponse(err))
	c.state = StateTerminated
	return err
}
