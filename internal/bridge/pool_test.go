package bridge_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/bridge/sqlitebridge"
)

var _ = Describe("Pool", func() {
	It("dials up to size sessions and reuses them through WithSession", func() {
		ctx := context.Background()
		pool, err := bridge.NewPool(sqlitebridge.New(":memory:"), 2)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		err = pool.WithSession(ctx, func(sess bridge.Session) error {
			_, execErr := sess.Execute(ctx, "SELECT 1", nil)
			return execErr
		})
		Expect(err).NotTo(HaveOccurred())

		total, _, _ := pool.Stat()
		Expect(total).To(BeNumerically(">=", 1))
	})

	It("releases a leased session back for reuse after Release", func() {
		ctx := context.Background()
		pool, err := bridge.NewPool(sqlitebridge.New(":memory:"), 1)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		lease, err := pool.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		lease.Release(ctx)

		_, idle, _ := pool.Stat()
		Expect(idle).To(Equal(int32(1)))
	})

	It("propagates fn's error from WithSession without destroying a healthy session", func() {
		ctx := context.Background()
		pool, err := bridge.NewPool(sqlitebridge.New(":memory:"), 1)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		err = pool.WithSession(ctx, func(sess bridge.Session) error {
			_, execErr := sess.Execute(ctx, "SELEKT GARBAGE", nil)
			return execErr
		})
		Expect(err).To(HaveOccurred())

		_, idle, _ := pool.Stat()
		Expect(idle).To(Equal(int32(1)))
	})
})
