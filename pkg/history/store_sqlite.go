//go:build !cgo

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"
)

const driverName = "jobwatch-sqlite"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

// openDB opens a pure-Go SQLite database. Remote libsql URLs need the cgo
// build.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if isRemoteDSN(dsn) {
		return nil, errors.New("libsql URL requires cgo-enabled build")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	if err := configureLocal(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history store: %w", err)
	}
	return db, nil
}
