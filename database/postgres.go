package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPingTimeout     = 5 * time.Second
)

// PostgresStore keeps every collection in one JSONB table keyed by
// (collection, natural_key).
type PostgresStore struct {
	DB *sqlx.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewPostgresStoreFromDB(db)
	if err := store.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// NewPostgresStoreFromDB wraps an existing connection without touching the schema.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (p *PostgresStore) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
            collection TEXT NOT NULL,
            natural_key TEXT NOT NULL,
            id UUID NOT NULL,
            body JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (collection, natural_key)
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_id ON documents(id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_body ON documents USING GIN (body)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(collection, created_at)`,
	}

	for _, query := range queries {
		if _, err := p.DB.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}

const upsertDocumentQuery = `
        INSERT INTO documents (collection, natural_key, id, body)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (collection, natural_key) DO UPDATE SET
            body = EXCLUDED.body,
            updated_at = now()
        RETURNING (xmax = 0) AS inserted`

// BulkUpsert writes items in one transaction. A document whose natural key
// already exists is overwritten wholesale.
func (p *PostgresStore) BulkUpsert(ctx context.Context, collection string, items []any, keyField string) (UpsertResult, error) {
	var result UpsertResult
	if len(items) == 0 {
		return result, nil
	}

	docs, err := prepare(collection, items, keyField)
	if err != nil {
		return result, err
	}

	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PreparexContext(ctx, upsertDocumentQuery)
	if err != nil {
		return result, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		var inserted bool
		if err := stmt.QueryRowxContext(ctx, collection, doc.Key, doc.ID, doc.Body).Scan(&inserted); err != nil {
			return UpsertResult{}, fmt.Errorf("failed to upsert %s %q: %w", collection, doc.Key, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return result, nil
}

// fieldElements expands a JSONB field into text rows; scalars become a
// single row so one predicate serves both shapes.
const fieldElements = `jsonb_array_elements_text(CASE jsonb_typeof(body->$%d::text) WHEN 'array' THEN body->$%d::text ELSE jsonb_build_array(body->$%d::text) END)`

func (p *PostgresStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	query, args, err := buildQuery(collection, filter)
	if err != nil {
		return nil, err
	}

	rows, err := p.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func buildQuery(collection string, filter Filter) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`SELECT body FROM documents WHERE collection = $1`)
	args := []any{collection}

	for _, c := range filter.Conditions {
		var pred, value string
		switch c.Op {
		case OpEq:
			pred, value = "val = $%d", c.Value
		case OpGte:
			pred, value = "val >= $%d", c.Value
		case OpLte:
			pred, value = "val <= $%d", c.Value
		case OpPrefix:
			pred, value = `val LIKE $%d ESCAPE '\'`, escapeLike(c.Value)+"%"
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", c.Op)
		}

		fieldArg := len(args) + 1
		valueArg := fieldArg + 1
		args = append(args, c.Field, value)

		fmt.Fprintf(&b, " AND EXISTS (SELECT 1 FROM "+fieldElements+" AS v(val) WHERE "+pred+")",
			fieldArg, fieldArg, fieldArg, valueArg)
	}

	b.WriteString(" ORDER BY created_at, natural_key")
	return b.String(), args, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Distinct lists the distinct values of field across a collection, flattening
// array fields.
func (p *PostgresStore) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	query := `SELECT DISTINCT val FROM documents, ` + fmt.Sprintf(fieldElements, 2, 2, 2) + ` AS v(val)
        WHERE collection = $1 AND val IS NOT NULL ORDER BY val`

	var values []string
	if err := p.DB.SelectContext(ctx, &values, query, collection, field); err != nil {
		return nil, fmt.Errorf("failed to list distinct %s.%s: %w", collection, field, err)
	}
	return values, nil
}

func (p *PostgresStore) GetByID(ctx context.Context, collection, id string) (Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var body []byte
	err := p.DB.QueryRowxContext(ctx, `SELECT body FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", collection, id, err)
	}

	return decodeDocument(body)
}

func (p *PostgresStore) Close() error {
	return p.DB.Close()
}

func decodeDocument(body []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
