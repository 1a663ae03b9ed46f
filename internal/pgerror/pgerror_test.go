package pgerror_test

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/pgerror"
)

var _ = Describe("Error", func() {
	It("carries its SQLSTATE and renders the cause's message", func() {
		err := pgerror.Newf(pgerrcode.SyntaxError, "bad token %q", "FROB")
		Expect(pgerror.Code(err)).To(Equal(pgerrcode.SyntaxError))
		Expect(err.Error()).To(Equal(`bad token "FROB"`))
	})

	It("defaults Code to InternalError for a plain error", func() {
		Expect(pgerror.Code(errors.New("boom"))).To(Equal(pgerrcode.InternalError))
		Expect(pgerror.Code(nil)).To(Equal(""))
	})

	It("is not fatal unless explicitly marked", func() {
		err := pgerror.New(pgerrcode.SyntaxError, "oops")
		Expect(pgerror.IsFatal(err)).To(BeFalse())
		Expect(pgerror.IsFatal(err.AsFatal())).To(BeTrue())
	})

	It("WithCode preserves the wrapped cause for errors.As", func() {
		original := pgerror.New(pgerrcode.SyntaxError, "oops").WithDetail("extra context")
		recoded := pgerror.WithCode(original, pgerrcode.FeatureNotSupported)
		Expect(recoded.Code).To(Equal(pgerrcode.FeatureNotSupported))
		Expect(recoded.Detail).To(Equal("extra context"))

		var pe *pgerror.Error
		Expect(errors.As(fmt.Errorf("wrapped: %w", recoded), &pe)).To(BeTrue())
		Expect(pe.Code).To(Equal(pgerrcode.FeatureNotSupported))
	})

	It("WithHint/WithConstraint attach the extra ErrorResponse fields without mutating the original", func() {
		base := pgerror.New(pgerrcode.UniqueViolation, "duplicate key")
		decorated := base.WithHint("try a different id").WithConstraint("widgets_pkey")
		Expect(decorated.Hint).To(Equal("try a different id"))
		Expect(decorated.Constraint).To(Equal("widgets_pkey"))
		Expect(base.Hint).To(BeEmpty())
	})

	DescribeTable("taxonomy constructors map to the right SQLSTATE",
		func(build func(string, ...any) *pgerror.Error, wantCode string, wantFatal bool) {
			err := build("x")
			Expect(err.Code).To(Equal(wantCode))
			Expect(err.Fatal).To(Equal(wantFatal))
		},
		Entry("Syntax", pgerror.Syntax, pgerrcode.SyntaxErrorOrAccessRuleViolation, false),
		Entry("Unsupported", pgerror.Unsupported, pgerrcode.FeatureNotSupported, false),
		Entry("Connection", pgerror.Connection, pgerrcode.ConnectionException, false),
		Entry("Canceled", pgerror.Canceled, pgerrcode.QueryCanceled, false),
		Entry("Auth", pgerror.Auth, pgerrcode.InvalidAuthorizationSpecification, true),
		Entry("InvalidPassword", pgerror.InvalidPassword, pgerrcode.InvalidPassword, true),
	)
})
