package adapter

import (
	"database/sql"

	_ "modernc.org/sqlite" // registers the "sqlite" driver, CGo-free
)

func init() {
	Register("sqlite", func() Adapter {
		return &sqlAdapter{
			driverName: "sqlite",
			poolSizer: func(db *sql.DB) {
				// modernc.org/sqlite serializes writers; a single
				// connection avoids SQLITE_BUSY storms under concurrency,
				// matching how the teacher's filestore.jsondb treats its
				// own sqlite handle as effectively single-writer.
				db.SetMaxOpenConns(1)
			},
		}
	})
}
