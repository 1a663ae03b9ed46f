package conn

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/pgerror"
	"github.com/pgiris/pgiris/internal/translate"
	"github.com/pgiris/pgiris/internal/wire"
)

var (
	reBegin    = regexp.MustCompile(`(?i)^(BEGIN|START\s+TRANSACTION)\b`)
	reCommit   = regexp.MustCompile(`(?i)^(COMMIT|END)\b`)
	reRollback   = regexp.MustCompile(`(?i)^ROLLBACK\b`)
	reRollbackTo = regexp.MustCompile(`(?i)^ROLLBACK\s+TO\b`)
	reCopyFrom = regexp.MustCompile(`(?i)^COPY\s+([^\s(]+)\s*(\([^)]*\))?\s+FROM\s+STDIN(?:\s+WITH\s*\(([^)]*)\))?`)
	reCopyTo   = regexp.MustCompile(`(?i)^COPY\s+(.+?)\s+TO\s+STDOUT`)
)

// HandleSimpleQuery implements the simple-query flow of spec.md §4.2. A
// single Query message may carry several `;`-separated statements mixing
// transaction verbs, DML, and vector queries in one body (SPEC_FULL.md §9's
// "Mixed-dialect statement batches"); each gets its own response group and
// the whole body ends in exactly one ReadyForQuery.
func (c *Connection) HandleSimpleQuery(ctx context.Context, msg *pgproto3.Query) error {
	c.state = StateInSimpleQuery
	defer func() { c.state = StateReady }()

	spans := translate.SplitStatements(msg.String)
	executedAny := false
	for _, span := range spans {
		text := strings.TrimSpace(span.Text)
		if text == "" {
			continue
		}
		executedAny = true
		if err := c.executeSimpleStatement(ctx, text); err != nil {
			// First error stops processing the remaining statements in this
			// batch (spec.md §7 Propagation policy); ReadyForQuery below
			// still fires so the client can recover.
			break
		}
	}
	if !executedAny {
		if err := c.write(&pgproto3.EmptyQueryResponse{}); err != nil {
			return err
		}
	}
	return c.readyForQuery()
}

func (c *Connection) executeSimpleStatement(ctx context.Context, text string) error {
	switch {
	case reBegin.MatchString(text):
		return c.execTransactionVerb(ctx, "BEGIN")
	case reCommit.MatchString(text):
		return c.execTransactionVerb(ctx, "COMMIT")
	case reRollback.MatchString(text) && !reRollbackTo.MatchString(text):
		return c.execTransactionVerb(ctx, "ROLLBACK")
	case reCopyFrom.MatchString(text):
		return c.handleCopyFromStdin(ctx, text)
	case reCopyTo.MatchString(text):
		return c.handleCopyToStdout(ctx, text)
	}

	if result, ok := c.catalog.Intercept(text, c.username); ok {
		return c.sendResult(result, firstKeyword(text))
	}

	res, err := c.translator.Translate(ctx, text, translate.ModeSimple)
	if err != nil {
		return c.reportQueryError(err)
	}
	if blocked := firstBlockingUnsupported(res.Unsupported); blocked != nil {
		return c.reportQueryError(translationPolicyError(blocked.Construct))
	}

	finalSQL, _ := c.vectorOptimize(res.SQL, nil)

	var result *bridge.Result
	execErr := c.withCancel(ctx, func(cctx context.Context) error {
		return c.pool.WithSession(cctx, func(sess bridge.Session) error {
			r, err := sess.Execute(cctx, finalSQL, nil)
			result = r
			return err
		})
	})
	if execErr != nil {
		return c.reportQueryError(mapExecutionError(execErr))
	}
	return c.sendResult(result, firstKeyword(text))
}

// firstBlockingUnsupported returns the first ConstructOutcome whose policy
// action is "error" (spec.md §7's `hybrid`: administrative verbs abort).
func firstBlockingUnsupported(outcomes []translationOutcome) *translationOutcome {
	for i := range outcomes {
		if outcomes[i].Action == "error" {
			return &outcomes[i]
		}
	}
	return nil
}

// translationOutcome aliases translate.ConstructOutcome so this file doesn't
// need to repeat the import qualifier everywhere.
type translationOutcome = translate.ConstructOutcome

func (c *Connection) execTransactionVerb(ctx context.Context, verb string) error {
	execErr := c.withCancel(ctx, func(cctx context.Context) error {
		return c.pool.WithSession(cctx, func(sess bridge.Session) error {
			switch verb {
			case "BEGIN":
				return sess.Begin(cctx)
			case "COMMIT":
				return sess.Commit(cctx)
			case "ROLLBACK":
				return sess.Rollback(cctx)
			}
			return nil
		})
	})
	if execErr != nil {
		return c.reportQueryError(mapExecutionError(execErr))
	}

	switch verb {
	case "BEGIN":
		c.txStatus = TxInTx
	case "COMMIT", "ROLLBACK":
		c.txStatus = TxIdle
	}
	return c.write(&pgproto3.CommandComplete{CommandTag: []byte(verb)})
}

// sendResult streams a bridge.Result as RowDescription/DataRow*/
// CommandComplete, flushing every cfg.ResultBatchRows per spec.md §4.2's
// back-pressure rule.
func (c *Connection) sendResult(result *bridge.Result, verb string) error {
	if result == nil {
		return c.write(&pgproto3.CommandComplete{CommandTag: []byte(wire.CommandTag(verb, 0))})
	}
	if result.Columns != nil {
		if err := c.write(wire.RowDescription(result.Columns)); err != nil {
			return err
		}
		batch := c.cfg.ResultBatchRows
		if batch <= 0 {
			batch = 1000
		}
		pending := make([]pgproto3.Message, 0, batch)
		for _, row := range result.Rows {
			dr, err := wire.DataRow(row.Values, c.typeMap)
			if err != nil {
				return err
			}
			pending = append(pending, dr)
			if len(pending) >= batch {
				if err := c.write(pending...); err != nil {
					return err
				}
				pending = pending[:0]
			}
		}
		if len(pending) > 0 {
			if err := c.write(pending...); err != nil {
				return err
			}
		}
		return c.write(&pgproto3.CommandComplete{
			CommandTag: []byte(wire.CommandTag(verb, int64(len(result.Rows)))),
		})
	}
	return c.write(&pgproto3.CommandComplete{
		CommandTag: []byte(wire.CommandTag(verb, result.Affected)),
	})
}

func (c *Connection) reportQueryError(err error) error {
	if c.txStatus == TxInTx {
		c.txStatus = TxFailed
	}
	return c.write(errorResponse(err))
}

// mapExecutionError classifies whatever the bridge surfaced, when it wasn't
// already SQLSTATE-classified: a canceled bridge call becomes 57014
// (query_canceled), anything else 42000.
func mapExecutionError(err error) error {
	if pgerror.Code(err) != "" && pgerror.Code(err) != pgerrcode.InternalError {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return pgerror.Canceled("canceling statement due to user request")
	}
	return pgerror.Newf(pgerrcode.SyntaxErrorOrAccessRuleViolation, "%v", err)
}

func firstKeyword(sql string) string {
	trimmed := strings.TrimSpace(sql)
	end := strings.IndexFunc(trimmed, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' })
	if end < 0 {
		return strings.ToUpper(trimmed)
	}
	return strings.ToUpper(trimmed[:end])
}
