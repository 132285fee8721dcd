package backends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// database/sql drivers selectable from the backends file
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Database is one named connection pool.
type Database struct {
	Name string
	DB   *sql.DB
}

// Databases is an immutable, name-ordered set of connection pools.
type Databases struct {
	items []Database
}

// driverAliases maps common names onto registered database/sql drivers.
var driverAliases = map[string]string{
	"sqlite3":    "sqlite",
	"postgres":   "pgx",
	"postgresql": "pgx",
	"mariadb":    "mysql",
}

// DriverName resolves an alias to the registered driver name.
func DriverName(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	if alias, ok := driverAliases[d]; ok {
		return alias
	}
	return d
}

// OpenDatabases opens a pool per spec. Pools connect lazily; nothing is
// dialled here. On error every pool opened so far is closed.
func OpenDatabases(specs map[string]DatabaseSpec) (*Databases, error) {
	set := &Databases{}
	for _, name := range sortedKeys(specs) {
		spec := specs[name]
		driver := DriverName(spec.Driver)
		db, err := sql.Open(driver, spec.DSN)
		if err != nil {
			_ = set.Close()
			return nil, xerrors.Wrapf(err, "open database %q (driver %s, registered: %s)", name, driver, strings.Join(sql.Drivers(), ","))
		}
		if spec.MaxOpenConns > 0 {
			db.SetMaxOpenConns(spec.MaxOpenConns)
		}
		if spec.MaxIdleConns > 0 {
			db.SetMaxIdleConns(spec.MaxIdleConns)
		}
		if spec.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(spec.ConnMaxLifetime)
		}
		set.items = append(set.items, Database{Name: name, DB: db})
	}
	return set, nil
}

// NewDatabases wraps already-open pools, keyed by name.
func NewDatabases(dbs map[string]*sql.DB) *Databases {
	set := &Databases{}
	for _, name := range sortedKeys(dbs) {
		set.items = append(set.items, Database{Name: name, DB: dbs[name]})
	}
	return set
}

// All returns the pools in name order. A nil set is empty.
func (s *Databases) All() []Database {
	if s == nil {
		return nil
	}
	return s.items
}

func (s *Databases) Len() int { return len(s.All()) }

func (s *Databases) Get(name string) (*sql.DB, bool) {
	for _, d := range s.All() {
		if d.Name == name {
			return d.DB, true
		}
	}
	return nil, false
}

func (s *Databases) Names() []string {
	out := make([]string, 0, s.Len())
	for _, d := range s.All() {
		out = append(out, d.Name)
	}
	return out
}

// Ping runs SELECT 1 on the named pool.
func (s *Databases) Ping(ctx context.Context, name string) error {
	db, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("database %q is not configured", name)
	}
	return SelectOne(ctx, db)
}

func (s *Databases) Close() error {
	var errs []error
	for _, d := range s.All() {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database %q: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

// SelectOne round-trips a trivial query. sql.ErrNoRows is returned as-is.
func SelectOne(ctx context.Context, db *sql.DB) error {
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}
