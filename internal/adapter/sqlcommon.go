package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/obs/errs"
)

// sqlConn wraps the *sql.DB that one Open call created. Each Open opens and
// pings its own *sql.DB (sized by the adapter's poolSizer), and Close closes
// that *sql.DB; executors do not share a pool.
type sqlConn struct {
	db   *sql.DB
	dead bool
}

func (c *sqlConn) Dead() bool { return c.dead }

// sqlAdapter implements Adapter atop database/sql for any driver registered
// under driverName (mysql, sqlite). Postgres uses pgxAdapter instead, since
// pgx's native pool exposes richer timing/cancellation hooks.
type sqlAdapter struct {
	driverName string
	// poolSizer adjusts a freshly opened *sql.DB's pool limits; distinct
	// drivers want distinct defaults (sqlite is effectively single-writer).
	poolSizer func(db *sql.DB)
}

func (a *sqlAdapter) Open(ctx context.Context, params ConnParams) (Connection, error) {
	db, err := sql.Open(a.driverName, params.DSN)
	if err != nil {
		return nil, errs.AdapterConfigError(fmt.Sprintf("open %s DSN", a.driverName), err)
	}
	if a.poolSizer != nil {
		a.poolSizer(db)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		if isAuthError(err) {
			return nil, errs.AdapterAuthError(fmt.Sprintf("authenticate to %s", a.driverName), err)
		}
		return nil, errs.AdapterConnectError(fmt.Sprintf("connect to %s", a.driverName), err)
	}
	return &sqlConn{db: db}, nil
}

func (a *sqlAdapter) Execute(ctx context.Context, conn Connection, op Operation) OpResult {
	c := conn.(*sqlConn)
	start := time.Now()

	sqlText, args := bindPlaceholders(op.SQLTemplate, op.Binds)

	if op.ExpectsRows {
		rows, err := c.db.QueryContext(ctx, sqlText, args...)
		if err != nil {
			return classifyError(c, start, err)
		}
		defer rows.Close()
		var count int64
		for rows.Next() {
			count++
		}
		if err := rows.Err(); err != nil {
			return classifyError(c, start, err)
		}
		return OpResult{ElapsedMs: elapsedSince(start), Success: true, RowsReturned: &count}
	}

	res, err := c.db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return classifyError(c, start, err)
	}
	n, _ := res.RowsAffected()
	return OpResult{ElapsedMs: elapsedSince(start), Success: true, RowsReturned: &n}
}

func (a *sqlAdapter) Close(conn Connection) {
	c, ok := conn.(*sqlConn)
	if !ok || c.db == nil {
		return
	}
	_ = c.db.Close()
}

func (a *sqlAdapter) Cancellable() bool { return true }

func (a *sqlAdapter) Cancel(ctx context.Context, conn Connection) error {
	// database/sql cancellation is handled by cancelling the context passed
	// to Execute; there is nothing further to do at the connection level.
	return nil
}

func (a *sqlAdapter) ServerTimingsSupported() bool { return false }

// classifyError marks the connection dead on transport-fatal conditions
// and otherwise reports a query-level failure (spec §4.1).
func classifyError(c *sqlConn, start time.Time, err error) OpResult {
	class := model.ErrorClassQuery
	if isTransportError(err) {
		class = model.ErrorClassTransport
		c.dead = true
	}
	return OpResult{ElapsedMs: elapsedSince(start), Success: false, ErrorClass: class, Err: err}
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "auth") || strings.Contains(msg, "password") || strings.Contains(msg, "access denied")
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"broken pipe", "connection reset", "connection refused", "bad connection", "i/o timeout", "eof", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// bindPlaceholders returns sqlTemplate and binds unchanged: the template's
// bind markers are left in place and binds are passed through to the driver
// as query parameters, so no value is ever spliced into the SQL text (spec
// §4.1 "substitutes binds safely").
func bindPlaceholders(sqlTemplate string, binds []any) (string, []any) {
	return sqlTemplate, binds
}
