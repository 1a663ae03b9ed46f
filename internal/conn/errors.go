package conn

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgiris/pgiris/internal/pgerror"
)

// errorResponse builds the ErrorResponse message for err, filling the
// severity/sqlstate/message/detail/hint fields spec.md §4.1 names.
func errorResponse(err error) *pgproto3.ErrorResponse {
	code := pgerror.Code(err)
	severity := "ERROR"
	if pgerror.IsFatal(err) {
		severity = "FATAL"
	}
	resp := &pgproto3.ErrorResponse{
		Severity: severity,
		Code:     code,
		Message:  err.Error(),
	}

	var pe *pgerror.Error
	if errors.As(err, &pe) {
		resp.Detail = pe.Detail
		resp.Hint = pe.Hint
		resp.ConstraintName = pe.Constraint
	}
	return resp
}

// translationPolicyError maps spec.md §7's translation-unsupported taxonomy
// to SQLSTATE 0A000.
func translationPolicyError(construct string) error {
	return pgerror.Newf(pgerrcode.FeatureNotSupported, "unsupported construct: %s", construct)
}
