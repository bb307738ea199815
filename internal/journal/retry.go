package journal

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// beginImmediateWithRetry starts a BEGIN IMMEDIATE transaction on conn,
// retrying with exponential backoff on SQLITE_BUSY. database/sql's
// BeginTx doesn't expose SQLite's transaction modes (and the ncruces
// driver's BeginTx defaults to DEFERRED), so the teacher's lineage
// issues BEGIN IMMEDIATE as raw SQL on a dedicated *sql.Conn the same
// way internal/storage/sqlite/queries.go does — that file references a
// beginImmediateWithRetry helper (and the queries.go comment describing
// it) but the helper's own definition wasn't present in the retrieved
// snapshot, so it's rebuilt here against cenkalti/backoff/v4, one of
// the teacher's own direct dependencies, rather than a bespoke loop.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second

	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
