package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/obs/errs"
)

// pgxConn holds one dedicated pgxpool connection for the lifetime of an
// executor, so Open/Close map onto spec §4.1 one-to-one with a worker's
// target_connections rather than sharing pgx's own internal pool.
type pgxConn struct {
	pool *pgxpool.Pool
	conn *pgxpool.Conn
	dead bool
}

func (c *pgxConn) Dead() bool { return c.dead }

type pgxAdapter struct {
	pools map[string]*pgxpool.Pool
}

func newPgxAdapter() Adapter { return &pgxAdapter{pools: map[string]*pgxpool.Pool{}} }

func init() {
	Register("postgres", newPgxAdapter)
}

func (a *pgxAdapter) poolFor(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if p, ok := a.pools[dsn]; ok {
		return p, nil
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.pools[dsn] = p
	return p, nil
}

func (a *pgxAdapter) Open(ctx context.Context, params ConnParams) (Connection, error) {
	pool, err := a.poolFor(ctx, params.DSN)
	if err != nil {
		return nil, errs.AdapterConfigError("parse postgres DSN", err)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := pool.Acquire(acquireCtx)
	if err != nil {
		if isPgAuthError(err) {
			return nil, errs.AdapterAuthError("authenticate to postgres", err)
		}
		return nil, errs.AdapterConnectError("acquire postgres connection", err)
	}
	return &pgxConn{pool: pool, conn: conn}, nil
}

func (a *pgxAdapter) Execute(ctx context.Context, conn Connection, op Operation) OpResult {
	c := conn.(*pgxConn)
	start := time.Now()

	if op.ExpectsRows {
		rows, err := c.conn.Query(ctx, op.SQLTemplate, op.Binds...)
		if err != nil {
			return classifyPgError(c, start, err)
		}
		var count int64
		for rows.Next() {
			count++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return classifyPgError(c, start, err)
		}
		return OpResult{ElapsedMs: elapsedSince(start), Success: true, RowsReturned: &count}
	}

	tag, err := c.conn.Exec(ctx, op.SQLTemplate, op.Binds...)
	if err != nil {
		return classifyPgError(c, start, err)
	}
	n := tag.RowsAffected()
	return OpResult{ElapsedMs: elapsedSince(start), Success: true, RowsReturned: &n}
}

func (a *pgxAdapter) Close(conn Connection) {
	c, ok := conn.(*pgxConn)
	if !ok || c.conn == nil {
		return
	}
	c.conn.Release()
}

func (a *pgxAdapter) Cancellable() bool { return true }

func (a *pgxAdapter) Cancel(ctx context.Context, conn Connection) error {
	c, ok := conn.(*pgxConn)
	if !ok {
		return nil
	}
	return c.conn.Conn().PgConn().CancelRequest(ctx)
}

// ServerTimingsSupported is false: pgx does not surface backend execution
// time without EXPLAIN ANALYZE, which this adapter does not run inline on
// every operation. Application-side elapsed time is authoritative (spec §4.1).
func (a *pgxAdapter) ServerTimingsSupported() bool { return false }

func classifyPgError(c *pgxConn, start time.Time, err error) OpResult {
	class := model.ErrorClassQuery
	if isPgTransportError(err) {
		class = model.ErrorClassTransport
		c.dead = true
	}
	return OpResult{ElapsedMs: elapsedSince(start), Success: false, ErrorClass: class, Err: err}
}

func isPgAuthError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "password")
}

func isPgTransportError(err error) bool {
	if err == pgx.ErrTxClosed {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"broken pipe", "connection reset", "closed", "eof", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
