package conn

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgproto3"
	"golang.org/x/sync/errgroup"

	"github.com/pgiris/pgiris/internal/bridge"
	"github.com/pgiris/pgiris/internal/pgerror"
	"github.com/pgiris/pgiris/internal/translate"
)

// copyBatchRows is the row-count flush threshold spec.md §4.4 names for
// COPY FROM STDIN's batched inserts.
const copyBatchRows = 1000

// handleCopyFromStdin implements spec.md §4.4's COPY FROM STDIN: the client
// streams CSV rows as CopyData messages, which are parsed and batched into
// bridge.Session.ExecuteMany calls of up to copyBatchRows rows, forcing an
// early partial-batch flush once the inbound buffer reaches
// cfg.CopyInBufferCap bytes.
//
// Grounded on pkg/pgwire/copy_from.go's io.Pipe+errgroup shape (receive loop
// on one goroutine, consumer on another), generalized from that file's
// whole-file-to-disk replication into row-oriented CSV parsing feeding the
// bridge.
func (c *Connection) handleCopyFromStdin(ctx context.Context, text string) error {
	c.state = StateInCopyIn
	defer func() { c.state = StateReady }()

	m := reCopyFrom.FindStringSubmatch(text)
	if m == nil {
		return c.reportQueryError(pgerror.Newf(pgerrcode.SyntaxErrorOrAccessRuleViolation, "malformed COPY FROM STDIN"))
	}
	table := m[1]
	columns := strings.TrimSpace(m[2])
	opts := parseCopyOptions(m[3])

	if err := c.write(&pgproto3.CopyInResponse{OverallFormat: 0}); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	var g errgroup.Group
	rowsCh := make(chan []string, 1)

	g.Go(func() error {
		defer close(rowsCh)
		reader := csv.NewReader(pr)
		reader.FieldsPerRecord = -1
		for {
			record, err := reader.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return pgerror.Newf("22P04", "COPY data parse error: %v", err)
			}
			rowsCh <- record
		}
	})

	bufCap := c.cfg.CopyInBufferCap
	if bufCap <= 0 {
		bufCap = 10 * 1024 * 1024
	}

	var recvErr error
	buffered := 0
	g.Go(func() error {
		for {
			msg, err := c.backend.Receive()
			if err != nil {
				pw.CloseWithError(err)
				return fmt.Errorf("receive copy message: %w", err)
			}
			switch cm := msg.(type) {
			case *pgproto3.CopyData:
				buffered += len(cm.Data)
				if buffered > bufCap {
					pw.CloseWithError(pgerror.New("53200", "COPY inbound buffer limit exceeded"))
					return nil
				}
				if _, err := pw.Write(cm.Data); err != nil {
					return nil
				}
			case *pgproto3.CopyDone:
				pw.Close()
				return nil
			case *pgproto3.CopyFail:
				pw.CloseWithError(fmt.Errorf("copy failed by client: %s", cm.Message))
				return nil
			default:
				pw.CloseWithError(fmt.Errorf("unexpected message %T during COPY", msg))
				return nil
			}
		}
	})

	insertSQL := buildCopyInsert(table, columns)
	var affected int64
	batch := make([][]any, 0, copyBatchRows)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		execErr := c.withCancel(ctx, func(cctx context.Context) error {
			return c.pool.WithSession(cctx, func(sess bridge.Session) error {
				br, err := sess.ExecuteMany(cctx, insertSQL, batch)
				if br != nil {
					affected += br.Affected
				}
				return err
			})
		})
		batch = batch[:0]
		return execErr
	}

	skipHeader := opts.Header
	for record := range rowsCh {
		if skipHeader {
			skipHeader = false
			continue
		}
		row := make([]any, len(record))
		for i, v := range record {
			row[i] = v
		}
		batch = append(batch, row)
		if len(batch) >= copyBatchRows {
			if err := flush(); err != nil {
				recvErr = err
			}
		}
	}
	if recvErr == nil {
		if err := flush(); err != nil {
			recvErr = err
		}
	}

	if err := g.Wait(); err != nil && recvErr == nil {
		recvErr = err
	}

	if recvErr != nil {
		return c.reportQueryError(mapExecutionError(recvErr))
	}
	return c.write(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("COPY %d", affected))})
}

// copyOptions is the subset of COPY's `WITH (...)` clause this server acts
// on. FORMAT is accepted (CSV is the only wire format this implementation
// ever speaks) but otherwise unused; only HEADER changes row handling.
type copyOptions struct {
	Header bool
}

// parseCopyOptions reads the comma-separated `key value` pairs inside a
// COPY statement's `WITH (...)` clause (spec.md's end-to-end scenario:
// `WITH (FORMAT csv, HEADER true)`). An empty clause (no WITH at all)
// yields the zero value.
func parseCopyOptions(clause string) copyOptions {
	var opts copyOptions
	for _, part := range strings.Split(clause, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "HEADER":
			opts.Header = len(fields) == 1 || (!strings.EqualFold(fields[1], "false") && fields[1] != "0")
		}
	}
	return opts
}

func buildCopyInsert(table, columnList string) string {
	if columnList == "" {
		return fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholderList(0))
	}
	cols := strings.Split(strings.Trim(columnList, "()"), ",")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columnList[1:len(columnList)-1], placeholderList(len(cols)))
}

// placeholderList builds "?, ?, ..." IRIS-native positional placeholders for
// n columns; n == 0 (no column list given) returns a single "?", so such an
// insert binds exactly one value per row.
func placeholderList(n int) string {
	if n == 0 {
		return "?"
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}

// handleCopyToStdout implements spec.md §4.4's COPY TO STDOUT: the target
// query is translated and executed exactly like a simple-query SELECT, then
// its rows are streamed back as CSV-encoded CopyData messages.
func (c *Connection) handleCopyToStdout(ctx context.Context, text string) error {
	c.state = StateInCopyOut
	defer func() { c.state = StateReady }()

	m := reCopyTo.FindStringSubmatch(text)
	if m == nil {
		return c.reportQueryError(pgerror.Newf(pgerrcode.SyntaxErrorOrAccessRuleViolation, "malformed COPY TO STDOUT"))
	}
	target := strings.TrimSpace(m[1])

	selectSQL := target
	if !strings.HasPrefix(strings.ToUpper(target), "SELECT") {
		selectSQL = "SELECT * FROM " + target
	}

	res, err := c.translator.Translate(ctx, selectSQL, translate.ModeSimple)
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

	numCols := 0
	if result != nil {
		numCols = len(result.Columns)
	}
	if err := c.write(&pgproto3.CopyOutResponse{
		OverallFormat:     0,
		ColumnFormatCodes: make([]uint16, numCols),
	}); err != nil {
		return err
	}

	var rowCount int64
	if result != nil {
		for _, row := range result.Rows {
			data, err := csvEncodeRow(row)
			if err != nil {
				return err
			}
			if err := c.write(&pgproto3.CopyData{Data: data}); err != nil {
				return err
			}
			rowCount++
		}
	}

	if err := c.write(&pgproto3.CopyDone{}); err != nil {
		return err
	}
	return c.write(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("COPY %d", rowCount))})
}

func csvEncodeRow(row bridge.Row) ([]byte, error) {
	fields := make([]string, len(row.Values))
	for i, v := range row.Values {
		if v.Null {
			fields[i] = ""
			continue
		}
		fields[i] = fmt.Sprintf("%v", v.Native)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, fmt.Errorf("encode CSV row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
