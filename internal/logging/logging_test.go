package logging_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/logging"
)

var _ = Describe("New", func() {
	It("builds an enabled logger at info level by default", func() {
		logger := logging.New("pgiris-test", logging.LevelInfo, "")
		Expect(logger.Enabled()).To(BeTrue())
		logger.Info("hello", "k", "v")
	})

	It("enables verbose V() logging at debug level", func() {
		logger := logging.New("pgiris-test", logging.LevelDebug, "")
		Expect(logger.V(1).Enabled()).To(BeTrue())
		logger.V(1).Info("verbose")
		logger.V(2).Info("more verbose")
	})

	It("writes log output to the given file", func() {
		const logFilename = "logging_test.log"
		defer os.Remove(logFilename)

		logger := logging.New("pgiris-test", logging.LevelInfo, logFilename)
		logger.Info("written to file")

		f, err := os.Open(logFilename)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		buf := make([]byte, 1024)
		n, _ := f.Read(buf)
		Expect(n).To(BeNumerically(">", 0))
	})
})

var _ = Describe("ParseLevel", func() {
	It("parses the known level names case-insensitively", func() {
		Expect(logging.ParseLevel("debug")).To(Equal(logging.LevelDebug))
		Expect(logging.ParseLevel("INFO")).To(Equal(logging.LevelInfo))
		Expect(logging.ParseLevel("Warn")).To(Equal(logging.LevelWarn))
		Expect(logging.ParseLevel("error")).To(Equal(logging.LevelError))
	})

	It("defaults unrecognized names to info", func() {
		Expect(logging.ParseLevel("nonsense")).To(Equal(logging.LevelInfo))
	})
})

var _ = Describe("Discard", func() {
	It("returns a logger that is always disabled", func() {
		logger := logging.Discard()
		Expect(logger.Enabled()).To(BeFalse())
	})
})
