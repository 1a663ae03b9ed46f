// Command pgiris runs the PostgreSQL wire-protocol bridge to InterSystems
// IRIS (spec.md's OVERVIEW). Grounded on cmd/kqlite/main.go's
// signal.NotifyContext + flag-parsed run(ctx) shape, generalized from a
// single-process SQLite server into the Server/Connection/Translator/Bridge
// wiring SPEC_FULL.md names.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/oauth2"

	"github.com/pgiris/pgiris/internal/auth"
	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/bridge/sqlitebridge"
	"github.com/pgiris/pgiris/internal/catalog"
	"github.com/pgiris/pgiris/internal/conn"
	"github.com/pgiris/pgiris/internal/config"
	"github.com/pgiris/pgiris/internal/logging"
	"github.com/pgiris/pgiris/internal/server"
	"github.com/pgiris/pgiris/internal/translate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.New("pgiris", logging.ParseLevel(cfg.LogLevel), "")

	dialer := newDialer(cfg)
	pool, err := bridge.NewPool(dialer, int32(cfg.IRISPoolSize))
	if err != nil {
		return fmt.Errorf("start bridge pool: %w", err)
	}
	defer pool.Close()

	translator := translate.NewTranslator(
		translate.WithCacheCapacity(cfg.TranslationCacheSize),
		translate.WithUnsupportedPolicy(translate.UnsupportedPolicy(cfg.UnsupportedPolicy)),
	)
	cat := catalog.New("PostgreSQL 14.9 (pgiris bridge over IRIS)", cfg.IRISNamespace)

	authenticatorFactory, err := newAuthenticatorFactory(cfg)
	if err != nil {
		return fmt.Errorf("configure authenticator: %w", err)
	}

	srv := server.New(server.Deps{
		Address:       cfg.Addr(),
		Authenticator: authenticatorFactory,
		Translator:    translator,
		Pool:          pool,
		Catalog:       cat,
		ConnConfig: conn.Config{
			ResultBatchRows: cfg.ResultBatchSize,
			WriteHighWater:  cfg.WriteHighWater,
			CopyInBufferCap: cfg.CopyInBufferSize,
			ServerVersion:   "14.9",
			Namespace:       cfg.IRISNamespace,
		},
		Logger: logger,
	})

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("pgiris listening", "address", cfg.Addr())

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newDialer picks the bridge.Dialer implementation. No pure-Go IRIS driver
// exists anywhere in this repository's reference material (see DESIGN.md),
// so the default deployment backend is sqlitebridge, the same
// database/sql-backed adapter an eventual IRIS ODBC/JDBC bridge driver
// would plug into via IRISHost/IRISPort once one is vendored.
func newDialer(cfg config.Config) bridge.Dialer {
	path := cfg.IRISNamespace + ".db"
	if cfg.IRISHost != "" {
		path = fmt.Sprintf("iris-%s-%d.db", cfg.IRISHost, cfg.IRISPort)
	}
	return sqlitebridge.New(path)
}

// newAuthenticatorFactory returns a func() auth.Authenticator building a
// fresh authenticator instance per connection (Authenticator holds
// per-handshake mutable state, e.g. SCRAM's nonce/salt), configured from
// cfg.AuthMode.
func newAuthenticatorFactory(cfg config.Config) (func() auth.Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthTrust:
		return func() auth.Authenticator { return auth.NewTrust() }, nil

	case config.AuthSCRAM:
		lookup := func(username string) (string, bool) {
			if cfg.IRISUser != "" && username == cfg.IRISUser {
				return cfg.IRISPassword, true
			}
			return "", false
		}
		return func() auth.Authenticator { return auth.NewSCRAM(lookup) }, nil

	case config.AuthOAuth:
		mapSubject := func(tokenUsername string) (string, error) { return tokenUsername, nil }
		validate := func(ctx context.Context, token *oauth2.Token) (string, error) {
			sub, ok := token.Extra("sub").(string)
			if !ok || sub == "" {
				return "", errors.New("oauth token carries no sub claim")
			}
			return sub, nil
		}
		return func() auth.Authenticator {
			return auth.NewOAuthBridge(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthTokenURL, mapSubject, validate)
		}, nil

	case config.AuthGSSAPI:
		// GSSAPIAuthenticator carries no per-handshake mutable state beyond
		// what Continue's arguments supply, so one instance (built once,
		// failing fast here if the keytab doesn't load) is shared by every
		// connection rather than rebuilt per accept.
		gssapiAuth, err := auth.NewGSSAPI(cfg.KerberosKeytabPath, cfg.KerberosServicePrincipal, auth.StripRealmMapper)
		if err != nil {
			return nil, fmt.Errorf("load kerberos keytab: %w", err)
		}
		return func() auth.Authenticator { return gssapiAuth }, nil

	default:
		return nil, fmt.Errorf("unrecognized auth mode %q", cfg.AuthMode)
	}
}
