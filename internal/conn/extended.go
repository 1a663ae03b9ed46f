package conn

import (
	"context"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/pgerror"
	"github.com/pgiris/pgiris/internal/translate"
	"github.com/pgiris/pgiris/internal/wire"
)

// This file implements the extended-query flow (spec.md §4.2) as flat,
// independently dispatched handlers — one per message type — rather than a
// nested per-message loop. That mirrors the newer ClientConn.handleParse /
// handleBind / handleDescribe / handleExecute / handleSync methods in
// pkg/pgwire/conn.go, not the older nested loop in
// pkg/pgwire/handler_extended.go, which SPEC_FULL.md §7 flags as superseded
// within the teacher's own history (see DESIGN.md).

// HandleParse implements the Parse step: translate the statement once under
// ModeExtended and stash it under msg.Name for later Bind calls.
func (c *Connection) HandleParse(ctx context.Context, msg *pgproto3.Parse) error {
	c.state = StateInExtended

	if msg.Name != "" {
		if _, exists := c.prepared[msg.Name]; exists {
			return c.reportQueryError(pgerror.Newf(pgerrcode.DuplicatePreparedStatement,
				"prepared statement %q already exists", msg.Name))
		}
	}

	res, err := c.translator.Translate(ctx, msg.Query, translate.ModeExtended)
	if err != nil {
		return c.reportQueryError(err)
	}
	if blocked := firstBlockingUnsupported(res.Unsupported); blocked != nil {
		return c.reportQueryError(translationPolicyError(blocked.Construct))
	}

	c.addPrepared(msg.Name, &PreparedStmt{
		Name:          msg.Name,
		OriginalSQL:   msg.Query,
		TranslatedSQL: res.SQL,
		ParamOIDs:     msg.ParameterOIDs,
		Mappings:      res.Mappings,
	})
	return c.write(&pgproto3.ParseComplete{})
}

// HandleBind implements the Bind step: substitute the bound parameter
// values into the translated statement's text (spec.md §4.2 "Parameter
// substitution") and execute it eagerly, since the bridge has no separate
// plan/bind/execute phases of its own.
func (c *Connection) HandleBind(ctx context.Context, msg *pgproto3.Bind) error {
	c.state = StateInExtended

	stmt, ok := c.prepared[msg.PreparedStatement]
	if !ok {
		return c.reportQueryError(pgerror.Newf(pgerrcode.InvalidSQLStatementName,
			"prepared statement %q does not exist", msg.PreparedStatement))
	}

	boundSQL, err := substituteParams(stmt.TranslatedSQL, msg.Parameters, msg.ParameterFormatCodes, stmt.ParamOIDs)
	if err != nil {
		return c.reportQueryError(pgerror.Newf(pgerrcode.InvalidParameterValue, "%v", err))
	}
	finalSQL, _ := c.vectorOptimize(boundSQL, nil)

	portal := &Portal{
		Name:          msg.DestinationPortal,
		Statement:     stmt,
		ResultFormats: msg.ResultFormatCodes,
		BoundSQL:      finalSQL,
	}

	execErr := c.withCancel(ctx, func(cctx context.Context) error {
		return c.pool.WithSession(cctx, func(sess bridge.Session) error {
			r, err := sess.Execute(cctx, finalSQL, nil)
			portal.Result = r
			return err
		})
	})
	if execErr != nil {
		return c.reportQueryError(mapExecutionError(execErr))
	}

	returnsRows := portal.Result != nil && portal.Result.Columns != nil
	stmt.ReturnsRows = &returnsRows

	c.addPortal(msg.DestinationPortal, portal)
	return c.write(&pgproto3.BindComplete{})
}

// HandleDescribe implements Describe for both statements ('S') and portals
// ('P'). Statement Describe reports ParameterDescription followed by NoData:
// true row shape isn't known until Bind has actually executed the
// statement, so RowDescription is deferred to a portal Describe/Execute
// after Bind.
func (c *Connection) HandleDescribe(ctx context.Context, msg *pgproto3.Describe) error {
	switch msg.ObjectType {
	case 'S':
		stmt, ok := c.prepared[msg.Name]
		if !ok {
			return c.reportQueryError(pgerror.Newf(pgerrcode.InvalidSQLStatementName,
				"prepared statement %q does not exist", msg.Name))
		}
		if err := c.write(&pgproto3.ParameterDescription{ParameterOIDs: stmt.ParamOIDs}); err != nil {
			return err
		}
		// Row shape isn't known pre-Bind; a portal Describe after Bind
		// reports the real RowDescription instead.
		return c.write(&pgproto3.NoData{})

	case 'P':
		portal, ok := c.portals[msg.Name]
		if !ok {
			return c.reportQueryError(pgerror.Newf(pgerrcode.InvalidCursorName,
				"portal %q does not exist", msg.Name))
		}
		if portal.Result != nil && portal.Result.Columns != nil {
			return c.write(wire.RowDescription(portal.Result.Columns))
		}
		return c.write(&pgproto3.NoData{})

	default:
		return c.reportQueryError(pgerror.Newf(pgerrcode.ProtocolViolation,
			"unknown Describe target %q", string(msg.ObjectType)))
	}
}

// HandleExecute implements Execute: stream the portal's already-buffered
// result, honoring msg.MaxRows by slicing from the portal's cursor and
// replying PortalSuspended instead of CommandComplete when more rows remain.
func (c *Connection) HandleExecute(ctx context.Context, msg *pgproto3.Execute) error {
	portal, ok := c.portals[msg.Portal]
	if !ok {
		return c.reportQueryError(pgerror.Newf(pgerrcode.InvalidCursorName,
			"portal %q does not exist", msg.Portal))
	}

	verb := firstKeyword(portal.Statement.OriginalSQL)

	if portal.Result == nil || portal.Result.Columns == nil {
		affected := int64(0)
		if portal.Result != nil {
			affected = portal.Result.Affected
		}
		return c.write(&pgproto3.CommandComplete{CommandTag: []byte(wire.CommandTag(verb, affected))})
	}

	rows := portal.Result.Rows
	start := portal.Cursor
	end := len(rows)
	limited := false
	if msg.MaxRows > 0 && start+int(msg.MaxRows) < end {
		end = start + int(msg.MaxRows)
		limited = true
	}

	batch := c.cfg.ResultBatchRows
	if batch <= 0 {
		batch = 1000
	}
	pending := make([]pgproto3.Message, 0, batch)
	for i := start; i < end; i++ {
		dr, err := wire.DataRow(rows[i].Values, c.typeMap)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
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
	portal.Cursor = end

	if limited {
		return c.write(&pgproto3.PortalSuspended{})
	}
	return c.write(&pgproto3.CommandComplete{CommandTag: []byte(wire.CommandTag(verb, int64(portal.Cursor)))})
}

// HandleSync implements Sync: emit the one ReadyForQuery that closes out
// this extended-protocol exchange and return to the steady Ready state.
func (c *Connection) HandleSync(ctx context.Context, msg *pgproto3.Sync) error {
	c.state = StateReady
	return c.readyForQuery()
}

// HandleClose implements Close for both statements and portals.
func (c *Connection) HandleClose(ctx context.Context, msg *pgproto3.Close) error {
	switch msg.ObjectType {
	case 'S':
		c.deletePrepared(msg.Name)
	case 'P':
		c.deletePortal(msg.Name)
	default:
		return c.reportQueryError(pgerror.Newf(pgerrcode.ProtocolViolation,
			"unknown Close target %q", string(msg.ObjectType)))
	}
	return c.write(&pgproto3.CloseComplete{})
}
