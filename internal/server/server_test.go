package server_test

import (
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/auth"
	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/bridge/sqlitebridge"
	"github.com/pgiris/pgiris/internal/catalog"
	"github.com/pgiris/pgiris/internal/conn"
	"github.com/pgiris/pgiris/internal/logging"
	"github.com/pgiris/pgiris/internal/server"
	"github.com/pgiris/pgiris/internal/translate"
)

// dial opens a raw TCP connection to addr and drives the StartupMessage/
// trust-auth handshake to ReadyForQuery, returning a ready-to-use Frontend.
func dial(addr net.Addr) (*pgproto3.Frontend, net.Conn) {
	nc, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	Expect(err).NotTo(HaveOccurred())

	startup := &pgproto3.StartupMessage{
		ProtocolVersion: 0x00030000,
		Parameters:      map[string]string{"user": "alice", "database": "USER"},
	}
	_, err = nc.Write(startup.Encode(nil))
	Expect(err).NotTo(HaveOccurred())

	fe := pgproto3.NewFrontend(nc, nc)
	for {
		msg, err := fe.Receive()
		Expect(err).NotTo(HaveOccurred())
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			break
		}
	}
	return fe, nc
}

var _ = Describe("Server", func() {
	var (
		srv  *server.Server
		pool *bridge.Pool
	)

	BeforeEach(func() {
		var err error
		pool, err = bridge.NewPool(sqlitebridge.New(":memory:"), 4)
		Expect(err).NotTo(HaveOccurred())

		srv = server.New(server.Deps{
			Address:       "127.0.0.1:0",
			Authenticator: func() auth.Authenticator { return auth.NewTrust() },
			Translator:    translate.NewTranslator(),
			Pool:          pool,
			Catalog:       catalog.New("", "public"),
			ConnConfig:    conn.DefaultConfig(),
			Logger:        logging.Discard(),
		})
		Expect(srv.Start()).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(srv.Stop()).NotTo(HaveOccurred())
		pool.Close()
	})

	It("completes the startup handshake and answers a simple query", func() {
		fe, nc := dial(srv.Addr())
		defer nc.Close()

		Expect(fe.Send(&pgproto3.Query{String: "CREATE TABLE widgets (id INTEGER, name TEXT)"})).To(Succeed())
		for {
			msg, err := fe.Receive()
			Expect(err).NotTo(HaveOccurred())
			if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
				break
			}
			if _, ok := msg.(*pgproto3.ErrorResponse); ok {
				Fail("unexpected error response creating table")
			}
		}

		Expect(fe.Send(&pgproto3.Query{String: "INSERT INTO widgets (id, name) VALUES (1, 'sprocket')"})).To(Succeed())
		for {
			msg, err := fe.Receive()
			Expect(err).NotTo(HaveOccurred())
			if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
				break
			}
		}

		Expect(fe.Send(&pgproto3.Query{String: "SELECT id, name FROM widgets"})).To(Succeed())
		var gotRow bool
		for {
			msg, err := fe.Receive()
			Expect(err).NotTo(HaveOccurred())
			switch m := msg.(type) {
			case *pgproto3.DataRow:
				gotRow = true
				Expect(string(m.Values[1])).To(Equal("sprocket"))
			case *pgproto3.ReadyForQuery:
				goto done
			}
		}
	done:
		Expect(gotRow).To(BeTrue())
	})

	It("handles multiple connections concurrently, each with its own backend identity", func() {
		fe1, nc1 := dial(srv.Addr())
		defer nc1.Close()
		fe2, nc2 := dial(srv.Addr())
		defer nc2.Close()

		Expect(fe1.Send(&pgproto3.Query{String: "SELECT version()"})).To(Succeed())
		Expect(fe2.Send(&pgproto3.Query{String: "SELECT version()"})).To(Succeed())

		drain := func(fe *pgproto3.Frontend) {
			for {
				msg, err := fe.Receive()
				Expect(err).NotTo(HaveOccurred())
				if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
					return
				}
			}
		}
		drain(fe1)
		drain(fe2)
	})

	It("terminates a connection cleanly on Terminate", func() {
		fe, nc := dial(srv.Addr())
		Expect(fe.Send(&pgproto3.Terminate{})).To(Succeed())
		nc.Close()
	})

	It("services a CancelRequest by aborting the targeted connection without replying", func() {
		_, nc := dial(srv.Addr())
		defer nc.Close()

		cancelConn, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
		Expect(err).NotTo(HaveOccurred())
		defer cancelConn.Close()

		cancel := &pgproto3.CancelRequest{ProcessID: 0, SecretKey: 0}
		_, err = cancelConn.Write(cancel.Encode(nil))
		Expect(err).NotTo(HaveOccurred())

		// An unmatched cancel is silently ignored: the socket closes with no
		// response rather than an error.
		buf := make([]byte, 1)
		cancelConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, err = cancelConn.Read(buf)
		Expect(err).To(HaveOccurred())
	})
})
