// Package sourcedb resolves column type names and nullability from the
// source database on behalf of the schema catalog. It is the core's only
// ordinary (non-replication) SQL collaborator.
package sourcedb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func pgxTxOptions() pgx.TxOptions {
	return pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
}

// QueryError wraps a failed metadata-resolution query, per the core's
// error taxonomy. The caller is expected to roll back any open source
// transaction before surfacing it.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("sourcedb: query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Handler resolves metadata through an ordinary SQL connection pool to the
// source database, separate from the replication connection.
type Handler struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Connect opens a new pool using dsn and wraps it.
func Connect(ctx context.Context, dsn string) (*Handler, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sourcedb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sourcedb: ping: %w", err)
	}
	return &Handler{pool: pool}, nil
}

// Close releases the underlying pool.
func (h *Handler) Close() {
	h.pool.Close()
}

// FetchColumnType resolves a type OID and atttypmod to its human-readable
// name, e.g. "numeric(10,2)" or "timestamp with time zone".
func (h *Handler) FetchColumnType(ctx context.Context, typeID uint32, atttypmod int32) (string, error) {
	const query = `SELECT format_type($1, $2) AS data_type`

	var typeName string
	if err := h.pool.QueryRow(ctx, query, typeID, atttypmod).Scan(&typeName); err != nil {
		return "", &QueryError{Query: query, Err: err}
	}
	return typeName, nil
}

// FetchColumnOptional resolves whether a column lacks a NOT NULL
// constraint (optional = true).
func (h *Handler) FetchColumnOptional(ctx context.Context, namespace, table, column string) (bool, error) {
	const query = `SELECT attnotnull FROM pg_attribute WHERE attrelid = ($1 || '.' || $2)::regclass AND attname = $3`

	var notNull bool
	if err := h.pool.QueryRow(ctx, query, namespace, table, column).Scan(&notNull); err != nil {
		return false, &QueryError{Query: query, Err: err}
	}
	return !notNull, nil
}

// PublicationTable names one table enumerated by pg_publication_tables.
type PublicationTable struct {
	Schema string
	Table  string
}

// FetchPublicationTables opens a repeatable-read snapshot transaction
// pinned to snapshotID and enumerates the tables exposed by publication.
// Used by the slot-created hook to seed an initial sync.
func (h *Handler) FetchPublicationTables(ctx context.Context, publication, snapshotID string) ([]PublicationTable, error) {
	tx, err := h.pool.BeginTx(ctx, pgxTxOptions())
	if err != nil {
		return nil, fmt.Errorf("sourcedb: begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if snapshotID != "" {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET TRANSACTION SNAPSHOT '%s'", snapshotID)); err != nil {
			return nil, fmt.Errorf("sourcedb: set transaction snapshot: %w", err)
		}
	}

	const query = `SELECT schemaname, tablename FROM pg_publication_tables WHERE pubname = $1`
	rows, err := tx.Query(ctx, query, publication)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	var tables []PublicationTable
	for rows.Next() {
		var t PublicationTable
		if err := rows.Scan(&t.Schema, &t.Table); err != nil {
			return nil, &QueryError{Query: query, Err: err}
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	return tables, nil
}
