// Package conn implements the Connection Handler (spec.md §4.2): the
// per-socket state machine driving one PostgreSQL wire-protocol client
// through startup, authentication, and the simple/extended/COPY query
// cycles. Grounded on pkg/pgwire/conn.go's ClientConn (prepStmts/portals
// maps, addPreparedStatement/addPortal/deletePortal helpers) and
// pkg/pgwire/server.go's serveConn dispatch loop, generalized from the
// teacher's single flat switch into the explicit states spec.md §4.2 names,
// and retargeted at internal/bridge.Session instead of *db.DB/SQLite.
package conn

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pgiris/pgiris/internal/auth"
	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/catalog"
	"github.com/pgiris/pgiris/internal/translate"
	"github.com/pgiris/pgiris/internal/translate/vectoropt"
)

// State names one node of the spec.md §4.2 state machine:
// AwaitingSSLProbe → Startup → Authenticating → Ready ⇄ {InSimpleQuery,
// InExtended, InCopyIn, InCopyOut} → Terminated.
type State int

const (
	StateAwaitingSSLProbe State = iota
	StateStartup
	StateAuthenticating
	StateReady
	StateInSimpleQuery
	StateInExtended
	StateInCopyIn
	StateInCopyOut
	StateTerminated
)

// TxStatus is the single byte ReadyForQuery reports: 'I' idle, 'T' in a
// transaction, 'E' a failed transaction awaiting ROLLBACK.
type TxStatus byte

const (
	TxIdle    TxStatus = 'I'
	TxInTx    TxStatus = 'T'
	TxFailed  TxStatus = 'E'
)

// PreparedStmt is spec.md §3's PreparedStmt value, owned exclusively by the
// Connection that created it.
type PreparedStmt struct {
	Name          string
	OriginalSQL   string
	TranslatedSQL string
	ParamOIDs     []uint32
	Mappings      []translate.Mapping
	// ReturnsRows is learned empirically: HandleBind sets it to whether the
	// eagerly executed Result was row-shaped. Nil before the first Bind.
	// Statement Describe does not consult it and always emits NoData.
	ReturnsRows *bool
}

// Portal is spec.md §3's Portal value. Execution happens eagerly at Bind
// time (Result/ExecErr are populated before BindComplete is sent) since
// internal/bridge.Session.Execute has no incremental/cursor mode of its
// own — Describe and Execute both just report from the buffered Result,
// and a MaxRows-limited Execute advances Cursor across repeated calls.
type Portal struct {
	Name          string
	Statement     *PreparedStmt
	ResultFormats []int16
	BoundSQL      string
	Result        *bridge.Result
	ExecErr       error
	Cursor        int
}

// Config bundles the tunables spec.md §6 names that a Connection consults
// per-request rather than once at dial time.
type Config struct {
	ResultBatchRows int
	WriteHighWater  int
	CopyInBufferCap int
	ServerVersion   string
	Namespace       string
}

// DefaultConfig matches spec.md §6/§4.2's named defaults.
func DefaultConfig() Config {
	return Config{
		ResultBatchRows: 1000,
		WriteHighWater:  5 * 1024 * 1024,
		CopyInBufferCap: 10 * 1024 * 1024,
		ServerVersion:   "14.9",
		Namespace:       "public",
	}
}

// Registry is the narrow slice of the server's connection registry a
// Connection needs: registering itself under (pid, secret) at startup and
// removing itself at teardown (spec.md §3 Ownership: "the Server owns the
// connection registry and references each Connection weakly").
type Registry interface {
	Register(pid, secret int32, c *Connection)
	Unregister(pid, secret int32)
}

// Connection is one accepted TCP socket driven through the full state
// machine. A fresh Connection is created per accept; it is not shared
// across goroutines except for the narrow Abort() path the registry uses to
// service CancelRequest (spec.md §5).
type Connection struct {
	id      uint64
	netConn net.Conn
	backend *pgproto3.Backend
	typeMap *pgtype.Map
	logger  logr.Logger

	state    State
	txStatus TxStatus

	username string
	database string

	backendPID    int32
	backendSecret int32

	prepared map[string]*PreparedStmt
	portals  map[string]*Portal

	authenticator auth.Authenticator
	translator    *translate.Translator
	pool          *bridge.Pool
	catalog       *catalog.Catalog
	registry      Registry
	cfg           Config

	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// Deps bundles the components a Connection is wired against, assembled once
// by internal/server and handed to every accepted connection.
type Deps struct {
	Authenticator func() auth.Authenticator // fresh per-connection instance
	Translator    *translate.Translator
	Pool          *bridge.Pool
	Catalog       *catalog.Catalog
	Registry      Registry
	Config        Config
	Logger        logr.Logger
}

// New wraps an accepted socket. The connection does no I/O until Serve is
// called.
func New(id uint64, nc net.Conn, deps Deps) *Connection {
	return &Connection{
		id:            id,
		netConn:       nc,
		backend:       pgproto3.NewBackend(nc, nc),
		typeMap:       pgtype.NewMap(),
		logger:        deps.Logger.WithValues("conn_id", id),
		state:         StateAwaitingSSLProbe,
		txStatus:      TxIdle,
		prepared:      make(map[string]*PreparedStmt),
		portals:       make(map[string]*Portal),
		authenticator: deps.Authenticator(),
		translator:    deps.Translator,
		pool:          deps.Pool,
		catalog:       deps.Catalog,
		registry:      deps.Registry,
		cfg:           deps.Config,
	}
}

func (c *Connection) State() State { return c.state }

// BackendPID/BackendSecret identify this connection for CancelRequest
// lookups (spec.md §3: "backend_pid is a random 1000-32767 integer;
// backend_secret a random 32-bit integer").
func (c *Connection) BackendPID() int32    { return c.backendPID }
func (c *Connection) BackendSecret() int32 { return c.backendSecret }

func generateBackendIdentity() (pid, secret int32, err error) {
	var buf [4]byte
	if _, err = rand.Read(buf[:]); err != nil {
		return 0, 0, fmt.Errorf("generate backend secret: %w", err)
	}
	secret = int32(binary.BigEndian.Uint32(buf[:]))

	if _, err = rand.Read(buf[:2]); err != nil {
		return 0, 0, fmt.Errorf("generate backend pid: %w", err)
	}
	pid = 1000 + int32(binary.BigEndian.Uint16(buf[:2]))%(32767-1000+1)
	return pid, secret, nil
}

// Close tears the connection down, removing it from the registry if it was
// ever registered (spec.md §3 Lifecycle: "it removes itself from the server
// registry during teardown").
func (c *Connection) Close() error {
	c.state = StateTerminated
	if c.registry != nil && c.backendPID != 0 {
		c.registry.Unregister(c.backendPID, c.backendSecret)
	}
	return c.netConn.Close()
}

// Abort services a matched CancelRequest (spec.md §5): it interrupts
// whatever bridge call is currently in flight. Safe to call concurrently
// with the connection's own goroutine.
func (c *Connection) Abort() {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// withCancel installs a cancelable context for the duration of fn, so a
// concurrent Abort() can interrupt it; used around every bridge call issued
// while Ready (spec.md §5 Cancellation).
func (c *Connection) withCancel(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelFunc = nil
		c.mu.Unlock()
		cancel()
	}()
	return fn(cctx)
}

// ReceiveMessage reads the next frontend message off the wire once the
// connection is past startup, for internal/server's dispatch loop.
func (c *Connection) ReceiveMessage() (pgproto3.FrontendMessage, error) {
	return c.backend.Receive()
}

func (c *Connection) write(msgs ...pgproto3.Message) error {
	var buf []byte
	for _, m := range msgs {
		var err error
		buf, err = m.Encode(buf)
		if err != nil {
			return fmt.Errorf("encode %T: %w", m, err)
		}
	}
	_, err := c.netConn.Write(buf)
	return err
}

func (c *Connection) readyForQuery() error {
	return c.write(&pgproto3.ReadyForQuery{TxStatus: byte(c.txStatus)})
}

func (c *Connection) addPrepared(name string, stmt *PreparedStmt) {
	// Parse with an empty name replaces the unnamed statement freely
	// (spec.md §3); named statements must be explicitly Closed first, but
	// that is enforced by the caller (HandleParse) before calling this.
	c.prepared[name] = stmt
}

func (c *Connection) deletePrepared(name string) { delete(c.prepared, name) }

func (c *Connection) addPortal(name string, p *Portal) { c.portals[name] = p }

func (c *Connection) deletePortal(name string) { delete(c.portals, name) }

// vectorOptimize applies the Vector Optimizer (spec.md §4.5) to a
// translated statement's final SQL/params pair, right before execution.
func (c *Connection) vectorOptimize(sql string, params []any) (string, []any) {
	optimized, remaining, _ := vectoropt.Optimize(sql, params)
	return optimized, remaining
}
