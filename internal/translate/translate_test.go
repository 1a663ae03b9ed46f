package translate_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/translate"
)

var _ = Describe("Translator", Ordered, func() {
	var tr *translate.Translator

	BeforeEach(func() {
		tr = translate.NewTranslator()
	})

	It("rewrites BEGIN into START TRANSACTION", func() {
		res, err := tr.Translate(context.Background(), "BEGIN", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.SQL).To(Equal("START TRANSACTION"))
		Expect(res.Class).To(Equal(translate.ClassTransactionControl))
	})

	It("moves TOP n into a trailing LIMIT n", func() {
		res, err := tr.Translate(context.Background(), "SELECT TOP 10 * FROM widgets ORDER BY id", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.SQL).To(Equal("SELECT * FROM WIDGETS ORDER BY id LIMIT 10"))
	})

	It("rewrites the cosine-distance operator into VECTOR_COSINE", func() {
		res, err := tr.Translate(context.Background(), "SELECT id FROM docs WHERE embedding <-> TO_VECTOR('[1,2,3]')", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.SQL).To(ContainSubstring("VECTOR_COSINE(embedding, TO_VECTOR('[1,2,3]'))"))
	})

	It("folds unquoted identifiers after FROM to uppercase, leaving quoted ones alone", func() {
		res, err := tr.Translate(context.Background(), `SELECT * FROM widgets`, translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.SQL).To(Equal("SELECT * FROM WIDGETS"))
	})

	It("rewrites %SQLUPPER into UPPER", func() {
		res, err := tr.Translate(context.Background(), "SELECT %SQLUPPER(name) FROM widgets", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.SQL).To(ContainSubstring("UPPER(name)"))
	})

	It("rewrites JSON_TABLE into a jsonb_to_recordset-based construction", func() {
		res, err := tr.Translate(context.Background(),
			`SELECT * FROM JSON_TABLE(payload, '$' COLUMNS (id INT, name TEXT))`, translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.SQL).To(ContainSubstring("jsonb_to_recordset(payload) AS t(id INT, name TEXT)"))
	})

	It("strips a trailing semicolon only in extended mode", func() {
		simple, err := tr.Translate(context.Background(), "SELECT 1;", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(simple.SQL).To(Equal("SELECT 1;"))

		extended, err := tr.Translate(context.Background(), "SELECT 1;", translate.ModeExtended)
		Expect(err).NotTo(HaveOccurred())
		Expect(extended.SQL).To(Equal("SELECT 1"))
	})

	It("serves repeated identical calls from cache", func() {
		first, err := tr.Translate(context.Background(), "SELECT TOP 1 * FROM widgets", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.CacheHit).To(BeFalse())

		second, err := tr.Translate(context.Background(), "SELECT TOP 1 * FROM widgets", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.CacheHit).To(BeTrue())
		Expect(second.SQL).To(Equal(first.SQL))
	})

	It("caches simple and extended mode translations separately", func() {
		_, err := tr.Translate(context.Background(), "SELECT 1;", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())

		extended, err := tr.Translate(context.Background(), "SELECT 1;", translate.ModeExtended)
		Expect(err).NotTo(HaveOccurred())
		Expect(extended.CacheHit).To(BeFalse())
	})

	It("reports unknown %... constructs as unsupported under the error policy", func() {
		errTr := translate.NewTranslator(translate.WithUnsupportedPolicy(translate.PolicyError))
		res, err := errTr.Translate(context.Background(), "SELECT %Frobnicate(1)", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Unsupported).To(HaveLen(1))
		Expect(res.Unsupported[0].Action).To(Equal("error"))
	})

	It("treats %SYSTEM.* constructs as administrative under the hybrid policy", func() {
		res, err := tr.Translate(context.Background(), "SELECT %SYSTEM.SQL.Foo()", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Unsupported).To(HaveLen(1))
		Expect(res.Unsupported[0].Action).To(Equal("error"))
	})

	It("passes unknown constructs through as a warning under the hybrid policy", func() {
		res, err := tr.Translate(context.Background(), "SELECT %Frobnicate(1)", translate.ModeSimple)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Unsupported).To(HaveLen(1))
		Expect(res.Unsupported[0].Action).To(Equal("warning"))
	})
})

var _ = Describe("SummarizeConfidence", func() {
	It("defaults to excellent confidence when no rule fired", func() {
		summary := translate.SummarizeConfidence(nil)
		Expect(summary.Level).To(Equal(translate.ConfidenceExcellent))
		Expect(summary.Overall).To(Equal(1.0))
	})

	It("flags critical-confidence mappings as a risk factor", func() {
		summary := translate.SummarizeConfidence([]translate.Mapping{
			{Kind: "iffy", Confidence: 0.1},
		})
		Expect(summary.Level).To(Equal(translate.ConfidenceCritical))
		Expect(summary.CriticalCount).To(Equal(1))
		Expect(summary.RiskFactors).NotTo(BeEmpty())
	})
})
