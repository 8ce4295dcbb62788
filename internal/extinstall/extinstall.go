// Package extinstall serializes DuckDB extension installation
// (httpfs/motherduck/postgres scanner) behind a process-wide mutex with
// bounded retry, since concurrent `INSTALL`/`LOAD` calls against the same
// extensions directory are not guaranteed reentrant (spec.md §9).
package extinstall

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/teaguesterling/bird/internal/errs"
)

var mu sync.Mutex

// Ensure runs INSTALL then LOAD for ext, retrying transient failures
// (e.g. a concurrent writer mid-install, or a flaky download) with an
// exponential backoff, capped at five retries after the first attempt.
func Ensure(ctx context.Context, db *sql.DB, ext string) error {
	mu.Lock()
	defer mu.Unlock()

	op := func() error {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL %s", ext)); err != nil {
			return err
		}
		_, err := db.ExecContext(ctx, fmt.Sprintf("LOAD %s", ext))
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return errs.Extensionf(ext, err)
	}
	return nil
}
