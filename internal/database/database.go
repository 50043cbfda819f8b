package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// DefaultURL is used when neither DATABASE_URL nor DB_URL is set.
const DefaultURL = "sqlite:///./app.db"

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSchemaNotMigrated is returned when an operation needs a column the
	// current schema version does not have.
	ErrSchemaNotMigrated = errors.New("schema not migrated")

	// ErrNameTaken is returned when a rename collides with another row.
	ErrNameTaken = errors.New("name already in use")
)

// Dialect identifies the SQL flavour behind a Database.
type Dialect int

const (
	// DialectSQLite is the default embedded store.
	DialectSQLite Dialect = iota
	// DialectPostgres is used for postgres:// URLs.
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Options controls how a Database is opened.
type Options struct {
	// AutoMigrate applies pending migrations on open. When false the schema
	// is left as found and Capabilities reflect the recorded version.
	AutoMigrate bool
}

// DefaultOptions returns the options used by the server.
func DefaultOptions() Options {
	return Options{AutoMigrate: true}
}

// Database wraps the connection pool with the dialect and schema state
// detected at startup.
type Database struct {
	db      *sql.DB
	dialect Dialect
	dsn     string

	// mu serializes writers; SQLite allows one writer at a time and the
	// busy timeout alone is not enough under bursts of job progress updates.
	mu sync.RWMutex

	version int
	caps    Capabilities
}

// ParseURL splits a database URL into a driver dialect and DSN.
//
//	sqlite:///./app.db     -> sqlite, ./app.db
//	sqlite:////var/app.db  -> sqlite, /var/app.db
//	postgres://u:p@h/db    -> postgres, unchanged
//	/data/app.db           -> sqlite, /data/app.db
func ParseURL(url string) (Dialect, string, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return ParseURL(DefaultURL)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DialectPostgres, url, nil
	case strings.HasPrefix(url, "sqlite:///"):
		path := strings.TrimPrefix(url, "sqlite:///")
		if path == "" {
			return DialectSQLite, "", fmt.Errorf("sqlite URL %q has no path", url)
		}
		return DialectSQLite, path, nil
	case strings.HasPrefix(url, "sqlite://"):
		return DialectSQLite, "", fmt.Errorf("sqlite URL %q must use three slashes", url)
	case strings.Contains(url, "://"):
		return DialectSQLite, "", fmt.Errorf("unsupported database URL scheme in %q", url)
	default:
		return DialectSQLite, url, nil
	}
}

// Open connects to the database named by url and brings the schema up to
// date (unless opts.AutoMigrate is false).
func Open(ctx context.Context, url string, opts Options) (*Database, error) {
	dialect, dsn, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch dialect {
	case DialectPostgres:
		logging.Info("Database: postgres")
		db, err = sql.Open("postgres", dsn)
	default:
		logging.Info("Database path: %s", dsn)
		if err := diagnoseDatabasePermissions(dsn); err != nil {
			logging.Warn("Database permission diagnostics: %v", err)
		}
		// Use WAL mode and other optimizations
		// busy_timeout helps prevent "database is locked" errors
		connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=on", dsn)
		db, err = sql.Open("sqlite3", connStr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:      db,
		dialect: dialect,
		dsn:     dsn,
	}

	if err := d.initialize(ctx, opts); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database ready (%s, schema v%d, fingerprints=%v, featured images=%v)",
		dialect, d.version, d.caps.SupportsFingerprint, d.caps.SupportsFeaturedImage)
	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Dialect returns the SQL dialect in use.
func (d *Database) Dialect() Dialect {
	return d.dialect
}

// Ping checks the connection, used by readiness probes.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *Database) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertID runs an INSERT ... RETURNING id statement.
func (d *Database) insertID(ctx context.Context, q queryer, query string, args ...any) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, d.rebind(query+" RETURNING id"), args...).Scan(&id)
	return id, err
}

// withTx runs fn inside a transaction, committing on success.
// The caller must hold d.mu for writing.
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	txStart := time.Now()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(time.Since(txStart).Seconds())
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(time.Since(txStart).Seconds())
	return nil
}

// observeQuery starts timing an operation; call the returned func with the
// final error.
func observeQuery(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		recordQuery(operation, start, err)
	}
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// closeRows closes a result set, logging failures.
func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		logging.Warn("failed to close %s rows: %v", what, err)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return nil
	}

	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, suffix := range []string{"", "-wal", "-shm"} {
		path := dbPath + suffix
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", path, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file %s is read-only! Mode: %v", path, info.Mode())
			if suffix == "" {
				continue
			}
			if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
				logging.Error("Failed to fix %s permissions: %v", path, chmodErr)
			} else {
				logging.Info("Fixed %s permissions", path)
			}
		}
	}

	return nil
}
