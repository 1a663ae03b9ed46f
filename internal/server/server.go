// Package server implements the TCP acceptor and connection registry
// spec.md §3/§5 assigns to "the Server": it owns the listener, hands each
// accepted socket to a fresh internal/conn.Connection, and resolves
// CancelRequest lookups against the (pid, secret) registry those
// connections register themselves into.
//
// Grounded on pkg/pgwire/server.go's DBServer (sync.Map connection
// tracking, errgroup.Group fan-out, Start/Stop lifecycle), generalized from
// dispatching *ClientConn's internal methods to calling out to
// internal/conn.Connection's exported Handle* methods per message type, and
// from a SQLite-file-per-database model to a single shared bridge.Pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgproto3"
	"golang.org/x/sync/errgroup"

	"github.com/pgiris/pgiris/internal/auth"
	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/catalog"
	"github.com/pgiris/pgiris/internal/conn"
	"github.com/pgiris/pgiris/internal/translate"
)

// regKey is the registry's lookup key: one CancelRequest carries exactly
// this (pid, secret) pair (spec.md §5).
type regKey struct {
	pid    int32
	secret int32
}

// Server accepts PostgreSQL wire-protocol connections and drives each one
// through internal/conn's state machine.
type Server struct {
	listener net.Listener
	group    errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc
	logger   logr.Logger

	mu       sync.Mutex
	registry map[regKey]*conn.Connection

	nextID uint64

	address       string
	authenticator func() auth.Authenticator
	translator    *translate.Translator
	pool          *bridge.Pool
	catalog       *catalog.Catalog
	connConfig    conn.Config
}

// Deps bundles the shared, construction-time components every accepted
// connection is wired against (spec.md §9 Design Notes: "model as
// construction-time dependencies passed into the Server").
type Deps struct {
	Address       string
	Authenticator func() auth.Authenticator
	Translator    *translate.Translator
	Pool          *bridge.Pool
	Catalog       *catalog.Catalog
	ConnConfig    conn.Config
	Logger        logr.Logger
}

func New(deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:           ctx,
		cancel:        cancel,
		logger:        deps.Logger,
		registry:      make(map[regKey]*conn.Connection),
		address:       deps.Address,
		authenticator: deps.Authenticator,
		translator:    deps.Translator,
		pool:          deps.Pool,
		catalog:       deps.Catalog,
		connConfig:    deps.ConnConfig,
	}
}

// Register implements conn.Registry.
func (s *Server) Register(pid, secret int32, c *conn.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[regKey{pid, secret}] = c
}

// Unregister implements conn.Registry.
func (s *Server) Unregister(pid, secret int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registry, regKey{pid, secret})
}

// lookup implements conn.CancelLookup against the registry.
func (s *Server) lookup(pid, secret int32) (*conn.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.registry[regKey{pid, secret}]
	return c, ok
}

// Start binds the listener and begins accepting in the background,
// returning once the listener is live.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.address, err)
	}
	s.listener = l
	s.logger.Info("listening", "address", s.address)

	s.group.Go(func() error {
		err := s.serve()
		if s.ctx.Err() != nil {
			return nil
		}
		return err
	})
	return nil
}

// Addr reports the listener's bound address, useful when Start was called
// with a ":0" port and the caller needs to learn what was actually bound.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener, cancels every in-flight connection, and waits
// for the accept loop and all connection goroutines to return.
func (s *Server) Stop() error {
	var stopErr error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			stopErr = err
		}
	}
	s.cancel()

	s.mu.Lock()
	targets := make([]*conn.Connection, 0, len(s.registry))
	for _, c := range s.registry {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		_ = c.Close()
	}

	if err := s.group.Wait(); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

func (s *Server) serve() error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return err
		}

		id := atomic.AddUint64(&s.nextID, 1)
		c := conn.New(id, nc, conn.Deps{
			Authenticator: s.authenticator,
			Translator:    s.translator,
			Pool:          s.pool,
			Catalog:       s.catalog,
			Registry:      s,
			Config:        s.connConfig,
			Logger:        s.logger,
		})

		s.group.Go(func() error {
			defer c.Close()
			if err := s.serveConn(s.ctx, c); err != nil && s.ctx.Err() == nil {
				s.logger.Info("connection closed with error", "conn_id", id, "error", err.Error())
			}
			return nil
		})
	}
}

// serveConn drives one connection through startup and then the steady-state
// dispatch loop until Terminate, EOF, or a protocol-fatal error.
func (s *Server) serveConn(ctx context.Context, c *conn.Connection) error {
	if err := c.HandleStartup(ctx, s.lookup); err != nil {
		if conn.IsConnectionDone(err) {
			return nil
		}
		return fmt.Errorf("startup: %w", err)
	}

	for {
		msg, err := c.ReceiveMessage()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive message: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.Query:
			err = c.HandleSimpleQuery(ctx, m)
		case *pgproto3.Parse:
			err = c.HandleParse(ctx, m)
		case *pgproto3.Bind:
			err = c.HandleBind(ctx, m)
		case *pgproto3.Describe:
			err = c.HandleDescribe(ctx, m)
		case *pgproto3.Execute:
			err = c.HandleExecute(ctx, m)
		case *pgproto3.Sync:
			err = c.HandleSync(ctx, m)
		case *pgproto3.Close:
			err = c.HandleClose(ctx, m)
		case *pgproto3.Terminate:
			return nil
		default:
			return fmt.Errorf("unexpected message type %T", msg)
		}

		if err != nil {
			if c.State() == conn.StateTerminated {
				return err
			}
			s.logger.V(1).Info("message handling error", "conn_id", c.BackendPID(), "error", err.Error())
		}
	}
}
