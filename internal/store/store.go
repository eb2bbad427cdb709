// Package store is the embedded contact database: a WAL-mode SQLite file
// holding the imported and external contact partitions, communication
// sightings, and incremental sync cursors.
//
// The main process opens the store read-write with a single connection
// (sole-writer pattern); the query offloader opens an independent read-only
// connection against the same file. WAL mode is what makes the concurrent
// reader-while-writer case safe without cross-connection locking.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnavailable marks failures of the underlying database, as opposed to
// "zero matching rows" (empty result, nil error). Callers branch with
// errors.Is.
var ErrUnavailable = errors.New("contact store unavailable")

// unavailableError wraps a driver error so it matches ErrUnavailable while
// keeping the original chain intact.
type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.op, e.err)
}

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(op string, err error) error {
	return &unavailableError{op: op, err: err}
}

// Options configures Open. Key is the symmetric encryption key for the
// database file; it travels only in this startup value, never over a
// message channel after open. An empty key opens an unencrypted store.
type Options struct {
	Path     string
	Key      string
	ReadOnly bool
}

// Store provides access to the contact database. Not safe for use after
// Close. A read-write Store holds exactly one connection.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	readOnly bool

	contactStmts contactStatements
	commStmts    commStatements
	cursorStmts  cursorStatements
}

// Statements are grouped by table to avoid one flat field list.
type contactStatements struct {
	upsert, get, markDeleted, listActive, search *sql.Stmt
}

type commStatements struct {
	insert, touch, groups, searchGroups *sql.Stmt
}

type cursorStatements struct {
	get, save *sql.Stmt
}

// Open opens the database at opts.Path and applies pragmas. Read-write
// opens also run migrations and prepare the write statements.
// Read-only opens skip migrations and add query_only so the connection can
// never write, which is the offloader's contract.
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn(opts))
	if err != nil {
		return nil, unavailable("opening database", err)
	}

	// Sole-writer pattern: one connection, so pragmas and prepared
	// statements always apply to the connection that runs the queries.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if !opts.ReadOnly {
		if err := runMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &Store{db: db, logger: logger, readOnly: opts.ReadOnly}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, unavailable("preparing statements", err)
	}

	logger.Debug("contact store ready",
		slog.String("path", opts.Path),
		slog.Bool("read_only", opts.ReadOnly),
	)

	return s, nil
}

// dsn builds the connection string. DSN pragmas apply to every connection,
// which matters if the sole-writer limit is ever lifted. The key pragma is
// applied before any statement runs; plain SQLite builds ignore it,
// SQLCipher-compatible builds decrypt with it.
func dsn(opts Options) string {
	s := "file:" + opts.Path +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)" +
		"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"

	if opts.Key != "" {
		s += "&_pragma=key(" + url.QueryEscape(opts.Key) + ")"
	}

	if opts.ReadOnly {
		s += "&mode=ro&_pragma=query_only(1)"
	}

	return s
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return unavailable("running migrations", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// prepareStatements prepares all repeated queries. Read-only stores skip
// the write statements so query_only never rejects their preparation.
func (s *Store) prepareStatements(ctx context.Context) error {
	reads := []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&s.contactStmts.get, sqlGetContact},
		{&s.contactStmts.listActive, sqlListActiveContacts},
		{&s.contactStmts.search, sqlSearchContacts},
		{&s.commStmts.groups, sqlCommunicationGroups},
		{&s.commStmts.searchGroups, sqlSearchCommunicationGroups},
		{&s.cursorStmts.get, sqlGetCursor},
	}

	writes := []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&s.contactStmts.upsert, sqlUpsertContact},
		{&s.contactStmts.markDeleted, sqlMarkContactDeleted},
		{&s.commStmts.insert, sqlInsertCommunication},
		{&s.commStmts.touch, sqlTouchContactCommunication},
		{&s.cursorStmts.save, sqlSaveCursor},
	}

	all := reads
	if !s.readOnly {
		all = append(all, writes...)
	}

	for _, p := range all {
		stmt, err := s.db.PrepareContext(ctx, p.sql)
		if err != nil {
			return err
		}

		*p.stmt = stmt
	}

	return nil
}

// DB exposes the underlying handle for components that share the
// connection (migration checks in tests).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database. Prepared statements are closed implicitly.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}
