package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pgiris/pgiris/internal/pgerror"
)

// SCRAMMechanism is the only SASL mechanism this server advertises —
// PostgreSQL clients (psql, libpq, pgx, the JDBC driver) all support
// SCRAM-SHA-256 as of protocol v3, and it's the one spec.md §6 names.
const SCRAMMechanism = "SCRAM-SHA-256"

const defaultSCRAMIterations = 4096

// PasswordLookup resolves the expected cleartext password for username,
// reporting ok=false if the user is unknown. SCRAMAuthenticator derives a
// fresh salted verifier from this password on every handshake rather than
// requiring a persisted salt/StoredKey/ServerKey — there is no local user
// store in front of IRIS (spec.md's Data Model carries no user catalog),
// so the single IRIS-bridge password configured at startup is what's being
// verified.
type PasswordLookup func(username string) (password string, ok bool)

type scramState int

const (
	scramAwaitingClientFirst scramState = iota
	scramAwaitingClientFinal
	scramDone
)

// SCRAMAuthenticator implements the server side of RFC 5802 SCRAM-SHA-256,
// the mechanism spec.md §4.6 names for the `scram` auth mode. Grounded on
// the teacher's general "authenticate before trusting the connection"
// shape (pkg/pgwire/conn.go's startup flow) and built fresh since no pack
// example implements server-side SASL; golang.org/x/crypto/pbkdf2 plus
// stdlib crypto/hmac+sha256 is the same construction pgx's own client-side
// SCRAM implementation uses.
type SCRAMAuthenticator struct {
	lookup     PasswordLookup
	iterations int

	state          scramState
	username       string
	password       string
	clientNonce    string
	serverNonce    string
	salt           []byte
	authMessage    string
	saltedPassword []byte
}

func NewSCRAM(lookup PasswordLookup) *SCRAMAuthenticator {
	return &SCRAMAuthenticator{lookup: lookup, iterations: defaultSCRAMIterations}
}

func (s *SCRAMAuthenticator) Start(ctx context.Context, username, database string) (Outcome, error) {
	s.username = username
	s.state = scramAwaitingClientFirst
	return Outcome{
		Reply: &pgproto3.AuthenticationSASL{AuthMechanisms: []string{SCRAMMechanism}},
	}, nil
}

func (s *SCRAMAuthenticator) Continue(ctx context.Context, raw []byte) (Outcome, error) {
	switch s.state {
	case scramAwaitingClientFirst:
		return s.handleClientFirst(raw)
	case scramAwaitingClientFinal:
		return s.handleClientFinal(raw)
	default:
		return Outcome{}, pgerror.Auth("SCRAM exchange already complete")
	}
}

// handleClientFirst parses "n,,n=<user>,r=<client-nonce>" and replies with
// the server-first-message carrying the combined nonce, salt, and
// iteration count.
func (s *SCRAMAuthenticator) handleClientFirst(raw []byte) (Outcome, error) {
	msg := string(raw)
	// Strip the GS2 header ("n,," or "y,," or "p=...,,"); this server never
	// advertises channel binding, so only the no-binding forms are valid.
	parts := strings.SplitN(msg, ",,", 2)
	if len(parts) != 2 {
		return Outcome{}, pgerror.Auth("malformed SCRAM client-first-message")
	}
	bare := parts[1]

	attrs, err := parseSCRAMAttrs(bare)
	if err != nil {
		return Outcome{}, err
	}
	clientNonce, ok := attrs["r"]
	if !ok {
		return Outcome{}, pgerror.Auth("SCRAM client-first-message missing nonce")
	}
	s.clientNonce = clientNonce

	// An unknown user must not short-circuit the exchange here — that would
	// let a client learn which usernames exist from response timing/shape
	// alone (spec.md §4.6, §8). Instead synthesize a deterministic, opaque
	// salt from the username and carry on as if the user existed; the
	// handshake then always fails at handleClientFinal's proof check, the
	// same place a genuine wrong-password attempt fails.
	password, ok := s.lookup(s.username)
	if ok {
		s.password = password
		s.salt = make([]byte, 16)
		if _, err := rand.Read(s.salt); err != nil {
			return Outcome{}, fmt.Errorf("generate SCRAM salt: %w", err)
		}
	} else {
		s.password = ""
		s.salt = fakeSaltForUnknownUser(s.username)
	}
	serverNonceBytes := make([]byte, 18)
	if _, err := rand.Read(serverNonceBytes); err != nil {
		return Outcome{}, fmt.Errorf("generate SCRAM server nonce: %w", err)
	}
	s.serverNonce = s.clientNonce + base64.RawStdEncoding.EncodeToString(serverNonceBytes)

	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d",
		s.serverNonce, base64.StdEncoding.EncodeToString(s.salt), s.iterations)

	s.authMessage = bare + "," + serverFirst
	s.saltedPassword = pbkdf2.Key([]byte(s.password), s.salt, s.iterations, sha256.Size, sha256.New)
	s.state = scramAwaitingClientFinal

	return Outcome{
		Reply: &pgproto3.AuthenticationSASLContinue{Data: []byte(serverFirst)},
	}, nil
}

// handleClientFinal parses "c=biws,r=<nonce>,p=<proof>", verifies the
// client's proof against the salted password derived in handleClientFirst,
// and replies with the server-final-message carrying the server signature.
func (s *SCRAMAuthenticator) handleClientFinal(raw []byte) (Outcome, error) {
	msg := string(raw)
	idx := strings.LastIndex(msg, ",p=")
	if idx < 0 {
		return Outcome{}, pgerror.Auth("malformed SCRAM client-final-message")
	}
	withoutProof := msg[:idx]
	attrs, err := parseSCRAMAttrs(msg)
	if err != nil {
		return Outcome{}, err
	}
	if attrs["r"] != s.serverNonce {
		return Outcome{}, pgerror.Auth("SCRAM nonce mismatch")
	}
	proofB64 := attrs["p"]
	clientProof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return Outcome{}, pgerror.Auth("malformed SCRAM client proof")
	}

	authMessage := s.authMessage + "," + withoutProof

	clientKey := hmacSHA256(s.saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)
	clientSignature := hmacSHA256(storedKey, []byte(authMessage))

	computedClientKey := xorBytes(clientProof, clientSignature)
	if !hmac.Equal(sha256Sum(computedClientKey), storedKey) {
		return Outcome{}, pgerror.InvalidPassword(fmt.Sprintf("SCRAM authentication failed for user %q", s.username))
	}

	serverKey := hmacSHA256(s.saltedPassword, []byte("Server Key"))
	serverSignature := hmacSHA256(serverKey, []byte(authMessage))
	serverFinal := "v=" + base64.StdEncoding.EncodeToString(serverSignature)

	s.state = scramDone
	return Outcome{
		Done:          true,
		Authenticated: true,
		IRISUser:      s.username,
		Reply:         &pgproto3.AuthenticationSASLFinal{Data: []byte(serverFinal)},
	}, nil
}

// unknownUserSaltPepper is not secret — it only needs to make the fake salt
// handed to a nonexistent user unpredictable to a client fishing for a
// pattern, not to protect anything an attacker could otherwise derive.
const unknownUserSaltPepper = "pgiris-scram-unknown-user-salt-v1"

// fakeSaltForUnknownUser derives a stable 16-byte salt from username alone,
// so repeated handshake attempts against the same nonexistent user always
// receive the same opaque salt. A known user's salt is drawn at random on
// every handshake, so the two cases still differ across repeated attempts.
func fakeSaltForUnknownUser(username string) []byte {
	mac := hmac.New(sha256.New, []byte(unknownUserSaltPepper))
	mac.Write([]byte(username))
	return mac.Sum(nil)[:16]
}

func parseSCRAMAttrs(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, field := range strings.Split(s, ",") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		attrs[kv[0]] = kv[1]
	}
	if len(attrs) == 0 {
		return nil, pgerror.Auth("empty SCRAM attribute list")
	}
	return attrs, nil
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}
