package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/emart/api/internal/platform/config"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/repositories"
	"github.com/emart/api/internal/relations"
)

const uniqueViolation = "23505"

// Store keeps every collection in one documents table with a jsonb payload. Pipelines are compiled
// to SQL, so joins run in the database rather than through a lookup.
type Store struct {
	db     *sql.DB
	unique map[string][]string
}

var (
	_ repositories.Backend = (*Store)(nil)
	_ relations.Loader     = (*Store)(nil)
)

// Open connects using cfg and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewStore(db), nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, unique: repositories.UniqueFields}
}

// EnsureSchema creates the documents table and the unique indexes for repositories.UniqueFields.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.unique) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(unique map[string][]string) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			seq BIGSERIAL NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection_seq ON documents (collection, seq)`,
	}
	collections := make([]string, 0, len(unique))
	for collection := range unique {
		collections = append(collections, collection)
	}
	sort.Strings(collections)
	for _, collection := range collections {
		for _, field := range unique[collection] {
			stmts = append(stmts, fmt.Sprintf(
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_%s_%s ON documents ((data->>'%s')) WHERE collection = '%s' AND COALESCE(data->>'%s', '') <> ''`,
				collection, field, field, collection, field))
		}
	}
	return stmts
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) (querier, bool) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx, true
	}
	return s.db, false
}

// RunInTx runs fn in a database transaction. Nested calls join the outer transaction. Reads made
// with the transaction context lock the rows they return.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is required")
	}
	if _, inTx := s.conn(ctx); inTx {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("transaction.begin", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapError("transaction.commit", err)
	}
	return nil
}

// Get fetches a single document.
func (s *Store) Get(ctx context.Context, collection, id string) (query.Document, error) {
	q, inTx := s.conn(ctx)
	stmt := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if inTx {
		stmt += ` FOR UPDATE`
	}
	var raw []byte
	if err := q.QueryRowContext(ctx, stmt, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.NewNotFoundError(collection+".get", collection, id)
		}
		return nil, wrapError(collection+".get", err)
	}
	return decodeDocument(raw)
}

// Insert stores a new document; duplicate ids and unique values surface as conflicts.
func (s *Store) Insert(ctx context.Context, collection string, doc query.Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("postgres: %s insert requires %s", collection, query.IDField)
	}
	raw, err := encodeJSON(doc)
	if err != nil {
		return err
	}
	q, _ := s.conn(ctx)
	_, err = q.ExecContext(ctx, `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`, collection, id, string(raw))
	return wrapError(collection+".insert", err)
}

// Replace overwrites an existing document.
func (s *Store) Replace(ctx context.Context, collection string, doc query.Document) error {
	raw, err := encodeJSON(doc)
	if err != nil {
		return err
	}
	q, _ := s.conn(ctx)
	res, err := q.ExecContext(ctx, `UPDATE documents SET data = $3::jsonb WHERE collection = $1 AND id = $2`, collection, doc.ID(), string(raw))
	return affected(res, err, collection+".replace", collection, doc.ID())
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	q, _ := s.conn(ctx)
	res, err := q.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return affected(res, err, collection+".delete", collection, id)
}

// Increment adds deltas in one UPDATE using numeric arithmetic, so money stays exact.
func (s *Store) Increment(ctx context.Context, collection, id string, deltas map[string]decimal.Decimal) error {
	stmt, args := incrementStatement(collection, id, deltas)
	q, _ := s.conn(ctx)
	res, err := q.ExecContext(ctx, stmt, args...)
	return affected(res, err, collection+".increment", collection, id)
}

func incrementStatement(collection, id string, deltas map[string]decimal.Decimal) (string, []any) {
	fields := make([]string, 0, len(deltas))
	for field := range deltas {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	args := []any{collection, id}
	expr := "data"
	for _, field := range fields {
		args = append(args, []string{field}, deltas[field].String())
		path, delta := len(args)-1, len(args)
		expr = fmt.Sprintf("jsonb_set(%s, $%d::text[], to_jsonb(COALESCE((data #>> $%d::text[])::numeric, 0) + $%d::numeric))", expr, path, path, delta)
	}
	return fmt.Sprintf("UPDATE documents SET data = %s WHERE collection = $1 AND id = $2", expr), args
}

// Aggregate compiles stages to SQL and runs them.
func (s *Store) Aggregate(ctx context.Context, collection string, stages []query.Stage) ([]query.Document, error) {
	stmt, err := CompilePipeline(collection, stages)
	if err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, collection+".aggregate", stmt.SQL, stmt.Args...)
}

// LoadBy fetches the documents whose field matches one of keys in a single round trip.
func (s *Store) LoadBy(ctx context.Context, collection, field string, keys []string) ([]query.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if field == "" || field == query.IDField {
		return s.queryDocuments(ctx, collection+".load", `SELECT data FROM documents WHERE collection = $1 AND id = ANY($2::text[]) ORDER BY seq`, collection, keys)
	}
	return s.queryDocuments(ctx, collection+".load",
		`SELECT data FROM documents WHERE collection = $1 AND data #>> $2::text[] = ANY($3::text[]) ORDER BY seq`,
		collection, strings.Split(field, "."), keys)
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return wrapError("ping", s.db.PingContext(ctx))
}

// Close closes the pool.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func (s *Store) queryDocuments(ctx context.Context, op, stmt string, args ...any) ([]query.Document, error) {
	q, _ := s.conn(ctx)
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var docs []query.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapError(op, err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return docs, nil
}

func affected(res sql.Result, err error, op, collection, id string) error {
	if err != nil {
		return wrapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapError(op, err)
	}
	if n == 0 {
		return repositories.NewNotFoundError(op, collection, id)
	}
	return nil
}

// wrapError classifies driver errors. Context errors pass through unchanged.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return repositories.NewConflictError(op, err)
		}
		return &repositories.Error{Op: op, Err: err}
	}
	return repositories.NewUnavailableError(op, err)
}
