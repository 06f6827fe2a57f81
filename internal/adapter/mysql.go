package adapter

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver
)

func init() {
	Register("mysql", func() Adapter {
		return &sqlAdapter{
			driverName: "mysql",
			poolSizer: func(db *sql.DB) {
				// Let the worker's target_connections, not the driver's
				// own pool, govern concurrency; cap generously above any
				// realistic benchmark target so Execute never blocks on
				// pool exhaustion instead of on the target itself.
				db.SetMaxOpenConns(512)
				db.SetMaxIdleConns(512)
			},
		}
	})
}
