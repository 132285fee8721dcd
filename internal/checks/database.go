package checks

import (
	"context"
	"database/sql"
	"errors"

	"github.com/keithlinneman/kprobe/internal/backends"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/readiness"
)

// Database verifies every configured connection pool answers SELECT 1.
// With no pools configured it is always ready.
type Database struct {
	DBs    *backends.Databases
	Logger log.Logger
}

func (d *Database) Name() string { return "database" }

func (d *Database) Check(ctx context.Context) readiness.Outcome {
	for _, db := range d.DBs.All() {
		err := backends.SelectOne(ctx, db.DB)
		if err == nil {
			continue
		}
		if errors.Is(err, sql.ErrNoRows) {
			return readiness.NotReady("db: database '" + db.Name + "' is not responding")
		}
		loggerOr(ctx, d.Logger).Warn(ctx, "database readiness check failed", "database", db.Name, "err", err)
		return readiness.NotReady("db: could not connect to database '" + db.Name + "'")
	}
	return readiness.Ready()
}

func loggerOr(ctx context.Context, l log.Logger) log.Logger {
	if l != nil {
		return l
	}
	return log.FromContext(ctx)
}
