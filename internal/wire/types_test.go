package wire_test

import (
	"github.com/jackc/pgx/v5/pgtype"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/wire"
)

var _ = Describe("OIDForIRISType", func() {
	It("maps known IRIS type names to their PostgreSQL OID", func() {
		Expect(wire.OIDForIRISType("BIGINT")).To(Equal(uint32(pgtype.Int8OID)))
		Expect(wire.OIDForIRISType("VARCHAR")).To(Equal(uint32(pgtype.VarcharOID)))
		Expect(wire.OIDForIRISType("VECTOR")).To(Equal(uint32(wire.VectorOID)))
	})

	It("strips a parenthesized length/precision suffix before lookup", func() {
		Expect(wire.OIDForIRISType("VARCHAR(255)")).To(Equal(uint32(pgtype.VarcharOID)))
		Expect(wire.OIDForIRISType("numeric(10,2)")).To(Equal(uint32(pgtype.NumericOID)))
	})

	It("defaults unrecognized types to text", func() {
		Expect(wire.OIDForIRISType("SOMETHING_WEIRD")).To(Equal(uint32(pgtype.TextOID)))
	})
})

var _ = Describe("TypeSizeForOID", func() {
	It("reports fixed sizes for fixed-width types", func() {
		Expect(wire.TypeSizeForOID(pgtype.Int2OID)).To(Equal(int16(2)))
		Expect(wire.TypeSizeForOID(pgtype.Int8OID)).To(Equal(int16(8)))
		Expect(wire.TypeSizeForOID(pgtype.BoolOID)).To(Equal(int16(1)))
	})

	It("reports -1 for variable-length types", func() {
		Expect(wire.TypeSizeForOID(pgtype.TextOID)).To(Equal(int16(-1)))
	})
})

var _ = Describe("CommandTag", func() {
	It("formats SELECT/INSERT/UPDATE/DELETE/COPY with row counts", func() {
		Expect(wire.CommandTag("SELECT", 3)).To(Equal("SELECT 3"))
		Expect(wire.CommandTag("insert", 1)).To(Equal("INSERT 0 1"))
		Expect(wire.CommandTag("UPDATE", 0)).To(Equal("UPDATE 0"))
		Expect(wire.CommandTag("DELETE", 42)).To(Equal("DELETE 42"))
		Expect(wire.CommandTag("COPY", 1000)).To(Equal("COPY 1000"))
	})

	It("formats bare transaction/DDL verbs with no row count", func() {
		Expect(wire.CommandTag("BEGIN", 0)).To(Equal("BEGIN"))
		Expect(wire.CommandTag("commit", 0)).To(Equal("COMMIT"))
		Expect(wire.CommandTag("CREATE", 0)).To(Equal("CREATE"))
	})
})

var _ = Describe("ParamOIDForPGType", func() {
	It("maps common client-declared OIDs back to IRIS type names", func() {
		Expect(wire.ParamOIDForPGType(pgtype.Int4OID)).To(Equal("INTEGER"))
		Expect(wire.ParamOIDForPGType(pgtype.BoolOID)).To(Equal("BOOLEAN"))
		Expect(wire.ParamOIDForPGType(pgtype.ByteaOID)).To(Equal("VARBINARY"))
	})

	It("defaults unrecognized OIDs to VARCHAR", func() {
		Expect(wire.ParamOIDForPGType(999999)).To(Equal("VARCHAR"))
	})
})
