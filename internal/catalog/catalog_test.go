package catalog_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/catalog"
)

var _ = Describe("New", func() {
	It("defaults the server version and namespace when empty", func() {
		c := catalog.New("", "")
		Expect(c.ServerVersion).To(Equal("PostgreSQL 14.9 (pgiris bridge over IRIS)"))
		Expect(c.Namespace).To(Equal("public"))
	})

	It("keeps explicit values", func() {
		c := catalog.New("PostgreSQL 14.9 (custom)", "USER")
		Expect(c.ServerVersion).To(Equal("PostgreSQL 14.9 (custom)"))
		Expect(c.Namespace).To(Equal("USER"))
	})
})

var _ = Describe("Intercept", func() {
	var c *catalog.Catalog

	BeforeEach(func() {
		c = catalog.New("PostgreSQL 14.9 (pgiris bridge over IRIS)", "public")
	})

	It("answers version() calls locally", func() {
		result, ok := c.Intercept("SELECT version()", "admin")
		Expect(ok).To(BeTrue())
		Expect(result.Columns).To(HaveLen(1))
		Expect(result.Rows[0].Values[0].Native).To(Equal("PostgreSQL 14.9 (pgiris bridge over IRIS)"))
	})

	It("answers current_user both as a call and a bare keyword", func() {
		result, ok := c.Intercept("SELECT current_user()", "alice")
		Expect(ok).To(BeTrue())
		Expect(result.Rows[0].Values[0].Native).To(Equal("alice"))

		result, ok = c.Intercept("SELECT CURRENT_USER", "alice")
		Expect(ok).To(BeTrue())
		Expect(result.Rows[0].Values[0].Native).To(Equal("alice"))
	})

	It("answers current_schema with the configured namespace", func() {
		result, ok := c.Intercept("select current_schema()", "alice")
		Expect(ok).To(BeTrue())
		Expect(result.Rows[0].Values[0].Native).To(Equal("public"))
	})

	It("tolerates a trailing semicolon and surrounding whitespace", func() {
		_, ok := c.Intercept("  SELECT version();  ", "admin")
		Expect(ok).To(BeTrue())
	})

	It("answers pg_catalog table introspection queries", func() {
		result, ok := c.Intercept("SELECT * FROM pg_catalog.pg_namespace", "alice")
		Expect(ok).To(BeTrue())
		Expect(result.Rows).To(HaveLen(1))
		Expect(result.Rows[0].Values[1].Native).To(Equal("public"))
	})

	It("answers a bare pg_ table reference without the pg_catalog. prefix", func() {
		result, ok := c.Intercept("SELECT * FROM pg_type", "alice")
		Expect(ok).To(BeTrue())
		Expect(len(result.Rows)).To(BeNumerically(">", 0))
	})

	It("falls through for anything it doesn't recognize", func() {
		_, ok := c.Intercept("SELECT * FROM widgets", "alice")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ServerParameters", func() {
	It("includes the parameters a Startup response must announce", func() {
		c := catalog.New("", "")
		params := c.ServerParameters()
		Expect(params).To(HaveKeyWithValue("server_version", "14.9"))
		Expect(params).To(HaveKeyWithValue("server_encoding", "UTF8"))
		Expect(params).To(HaveKey("TimeZone"))
	})
})
