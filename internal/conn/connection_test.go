package conn

import (
	"context"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/auth"
	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/bridge/sqlitebridge"
	"github.com/pgiris/pgiris/internal/catalog"
	"github.com/pgiris/pgiris/internal/logging"
	"github.com/pgiris/pgiris/internal/translate"
)

// noopRegistry satisfies Registry without tracking anything; these tests
// drive a single Connection directly and never need CancelRequest lookups.
type noopRegistry struct{}

func (noopRegistry) Register(int32, int32, *Connection) {}
func (noopRegistry) Unregister(int32, int32)            {}

// serveLoop mirrors internal/server's dispatch loop closely enough to drive
// a Connection end-to-end over an in-process pipe, without depending on the
// server package (which itself depends on this one).
func serveLoop(ctx context.Context, c *Connection) {
	lookup := func(int32, int32) (*Connection, bool) { return nil, false }
	if err := c.HandleStartup(ctx, lookup); err != nil {
		return
	}
	for {
		msg, err := c.ReceiveMessage()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *pgproto3.Query:
			_ = c.HandleSimpleQuery(ctx, m)
		case *pgproto3.Parse:
			_ = c.HandleParse(ctx, m)
		case *pgproto3.Bind:
			_ = c.HandleBind(ctx, m)
		case *pgproto3.Describe:
			_ = c.HandleDescribe(ctx, m)
		case *pgproto3.Execute:
			_ = c.HandleExecute(ctx, m)
		case *pgproto3.Sync:
			_ = c.HandleSync(ctx, m)
		case *pgproto3.Close:
			_ = c.HandleClose(ctx, m)
		case *pgproto3.Terminate:
			return
		default:
			return
		}
	}
}

// dialConnection wires a fresh Connection over a net.Pipe, starts serving it
// in the background, and drives the StartupMessage/trust-auth handshake to
// ReadyForQuery, returning a ready-to-use Frontend for the test to drive.
func dialConnection() (*pgproto3.Frontend, *bridge.Pool, func()) {
	serverSide, clientSide := net.Pipe()

	pool, err := bridge.NewPool(sqlitebridge.New(":memory:"), 4)
	Expect(err).NotTo(HaveOccurred())

	c := New(1, serverSide, Deps{
		Authenticator: func() auth.Authenticator { return auth.NewTrust() },
		Translator:    translate.NewTranslator(),
		Pool:          pool,
		Catalog:       catalog.New("", "public"),
		Registry:      noopRegistry{},
		Config:        DefaultConfig(),
		Logger:        logging.Discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go serveLoop(ctx, c)

	startup := &pgproto3.StartupMessage{
		ProtocolVersion: 0x00030000,
		Parameters:      map[string]string{"user": "alice", "database": "USER"},
	}
	_, err = clientSide.Write(startup.Encode(nil))
	Expect(err).NotTo(HaveOccurred())

	fe := pgproto3.NewFrontend(clientSide, clientSide)
	for {
		msg, err := fe.Receive()
		Expect(err).NotTo(HaveOccurred())
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			break
		}
	}

	teardown := func() {
		cancel()
		clientSide.Close()
		pool.Close()
	}
	return fe, pool, teardown
}

func drainToReady(fe *pgproto3.Frontend) []pgproto3.BackendMessage {
	var got []pgproto3.BackendMessage
	for {
		msg, err := fe.Receive()
		Expect(err).NotTo(HaveOccurred())
		got = append(got, msg)
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			return got
		}
	}
}

var _ = Describe("Connection extended-query protocol", func() {
	It("drives a full Parse/Bind/Describe/Execute/Sync round trip", func() {
		fe, _, teardown := dialConnection()
		defer teardown()

		Expect(fe.Send(&pgproto3.Query{String: "CREATE TABLE widgets_extended (id INTEGER, name TEXT)"})).To(Succeed())
		drainToReady(fe)
		Expect(fe.Send(&pgproto3.Query{String: "INSERT INTO widgets_extended (id, name) VALUES (1, 'sprocket')"})).To(Succeed())
		drainToReady(fe)

		Expect(fe.Send(&pgproto3.Parse{Query: "SELECT id, name FROM widgets_extended WHERE id = $1"})).To(Succeed())
		Expect(fe.Send(&pgproto3.Bind{
			Parameters:           [][]byte{[]byte("1")},
			ParameterFormatCodes: []int16{0},
		})).To(Succeed())
		Expect(fe.Send(&pgproto3.Describe{ObjectType: 'P'})).To(Succeed())
		Expect(fe.Send(&pgproto3.Execute{})).To(Succeed())
		Expect(fe.Send(&pgproto3.Sync{})).To(Succeed())

		msgs := drainToReady(fe)

		var sawParseComplete, sawBindComplete, sawRowDescription, sawCommandComplete bool
		var gotRow bool
		for _, m := range msgs {
			switch v := m.(type) {
			case *pgproto3.ParseComplete:
				sawParseComplete = true
			case *pgproto3.BindComplete:
				sawBindComplete = true
			case *pgproto3.RowDescription:
				sawRowDescription = true
			case *pgproto3.DataRow:
				gotRow = true
				Expect(string(v.Values[1])).To(Equal("sprocket"))
			case *pgproto3.CommandComplete:
				sawCommandComplete = true
			case *pgproto3.ErrorResponse:
				Fail("unexpected error response: " + v.Message)
			}
		}
		Expect(sawParseComplete).To(BeTrue())
		Expect(sawBindComplete).To(BeTrue())
		Expect(sawRowDescription).To(BeTrue())
		Expect(gotRow).To(BeTrue())
		Expect(sawCommandComplete).To(BeTrue())
	})

	It("suspends a portal when MaxRows is smaller than the result set", func() {
		fe, _, teardown := dialConnection()
		defer teardown()

		Expect(fe.Send(&pgproto3.Query{String: "CREATE TABLE widgets_portal (id INTEGER)"})).To(Succeed())
		drainToReady(fe)
		for _, v := range []string{"1", "2", "3"} {
			Expect(fe.Send(&pgproto3.Query{String: "INSERT INTO widgets_portal (id) VALUES (" + v + ")"})).To(Succeed())
			drainToReady(fe)
		}

		Expect(fe.Send(&pgproto3.Parse{Query: "SELECT id FROM widgets_portal ORDER BY id"})).To(Succeed())
		Expect(fe.Send(&pgproto3.Bind{})).To(Succeed())
		Expect(fe.Send(&pgproto3.Execute{MaxRows: 2})).To(Succeed())
		Expect(fe.Send(&pgproto3.Sync{})).To(Succeed())

		msgs := drainToReady(fe)
		var sawSuspended bool
		rowCount := 0
		for _, m := range msgs {
			switch m.(type) {
			case *pgproto3.PortalSuspended:
				sawSuspended = true
			case *pgproto3.DataRow:
				rowCount++
			}
		}
		Expect(sawSuspended).To(BeTrue())
		Expect(rowCount).To(Equal(2))
	})
})

var _ = Describe("Connection transaction verbs", func() {
	It("round-trips BEGIN/COMMIT and reports tx_status on ReadyForQuery", func() {
		fe, _, teardown := dialConnection()
		defer teardown()

		Expect(fe.Send(&pgproto3.Query{String: "BEGIN"})).To(Succeed())
		msgs := drainToReady(fe)
		rfq, ok := lastReadyForQuery(msgs)
		Expect(ok).To(BeTrue())
		Expect(rfq.TxStatus).To(Equal(byte('T')))

		Expect(fe.Send(&pgproto3.Query{String: "COMMIT"})).To(Succeed())
		msgs = drainToReady(fe)
		rfq, ok = lastReadyForQuery(msgs)
		Expect(ok).To(BeTrue())
		Expect(rfq.TxStatus).To(Equal(byte('I')))
	})
})

func lastReadyForQuery(msgs []pgproto3.BackendMessage) (*pgproto3.ReadyForQuery, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if rfq, ok := msgs[i].(*pgproto3.ReadyForQuery); ok {
			return rfq, true
		}
	}
	return nil, false
}

var _ = Describe("Connection COPY subprotocol", func() {
	It("treats the first row as a header and excludes it from the inserted count", func() {
		fe, _, teardown := dialConnection()
		defer teardown()

		Expect(fe.Send(&pgproto3.Query{String: "CREATE TABLE t_copyin (id INTEGER, v TEXT)"})).To(Succeed())
		drainToReady(fe)

		Expect(fe.Send(&pgproto3.Query{
			String: "COPY t_copyin(id,v) FROM STDIN WITH (FORMAT csv, HEADER true)",
		})).To(Succeed())

		msg, err := fe.Receive()
		Expect(err).NotTo(HaveOccurred())
		_, ok := msg.(*pgproto3.CopyInResponse)
		Expect(ok).To(BeTrue())

		payload := "id,v\n1,a\n2,b\n"
		Expect(fe.Send(&pgproto3.CopyData{Data: []byte(payload)})).To(Succeed())
		Expect(fe.Send(&pgproto3.CopyDone{})).To(Succeed())

		msgs := drainToReady(fe)
		var tag string
		for _, m := range msgs {
			if cc, ok := m.(*pgproto3.CommandComplete); ok {
				tag = string(cc.CommandTag)
			}
		}
		Expect(tag).To(Equal("COPY 2"))
	})

	It("streams a SELECT's rows back as CSV over COPY TO STDOUT", func() {
		fe, _, teardown := dialConnection()
		defer teardown()

		Expect(fe.Send(&pgproto3.Query{String: "CREATE TABLE t_copyout (id INTEGER, v TEXT)"})).To(Succeed())
		drainToReady(fe)
		Expect(fe.Send(&pgproto3.Query{String: "INSERT INTO t_copyout (id, v) VALUES (1, 'a')"})).To(Succeed())
		drainToReady(fe)

		Expect(fe.Send(&pgproto3.Query{String: "COPY (SELECT id, v FROM t_copyout) TO STDOUT"})).To(Succeed())

		msgs := drainToReady(fe)
		var sawCopyOut, sawDone bool
		var data []byte
		for _, m := range msgs {
			switch v := m.(type) {
			case *pgproto3.CopyOutResponse:
				sawCopyOut = true
			case *pgproto3.CopyData:
				data = append(data, v.Data...)
			case *pgproto3.CopyDone:
				sawDone = true
			}
		}
		Expect(sawCopyOut).To(BeTrue())
		Expect(sawDone).To(BeTrue())
		Expect(string(data)).To(ContainSubstring("1,a"))
	})
})

var _ = Describe("Connection vector-operator translation", func() {
	It("rewrites a <-> query before it ever reaches the bridge", func() {
		fe, _, teardown := dialConnection()
		defer teardown()

		Expect(fe.Send(&pgproto3.Query{String: "CREATE TABLE docs_vec (id INTEGER, embedding TEXT)"})).To(Succeed())
		drainToReady(fe)

		Expect(fe.Send(&pgproto3.Query{
			String: "SELECT id FROM docs_vec WHERE embedding <-> TO_VECTOR('[1,2,3]') < 1",
		})).To(Succeed())

		msgs := drainToReady(fe)
		var errMsg string
		for _, m := range msgs {
			if er, ok := m.(*pgproto3.ErrorResponse); ok {
				errMsg = er.Message
			}
		}
		// The reference SQLite backend has no VECTOR_COSINE builtin, so this
		// necessarily errors — but the error naming VECTOR_COSINE proves the
		// <-> operator really was rewritten before execution, not passed
		// through as literal pgvector syntax SQLite would reject differently.
		Expect(errMsg).To(ContainSubstring("VECTOR_COSINE"))
	})
})

var _ = Describe("Connection cancellation", func() {
	It("Abort interrupts a withCancel-wrapped bridge call in flight", func() {
		_, pool, teardown := dialConnection()
		defer teardown()

		serverSide, clientSide := net.Pipe()
		defer clientSide.Close()
		c := New(2, serverSide, Deps{
			Authenticator: func() auth.Authenticator { return auth.NewTrust() },
			Translator:    translate.NewTranslator(),
			Pool:          pool,
			Catalog:       catalog.New("", "public"),
			Registry:      noopRegistry{},
			Config:        DefaultConfig(),
			Logger:        logging.Discard(),
		})

		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			err := c.withCancel(context.Background(), func(cctx context.Context) error {
				close(started)
				<-cctx.Done()
				return cctx.Err()
			})
			done <- err
		}()

		<-started
		c.Abort()

		select {
		case err := <-done:
			Expect(err).To(HaveOccurred())
		case <-time.After(2 * time.Second):
			Fail("Abort did not interrupt the in-flight call")
		}
	})
})
