package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool used by PostgresBucket.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `
CREATE SEQUENCE IF NOT EXISTS ojs_kv_revision;
CREATE TABLE IF NOT EXISTS ojs_kv (
	bucket   TEXT   NOT NULL,
	key      TEXT   NOT NULL,
	value    BYTEA  NOT NULL,
	revision BIGINT NOT NULL,
	PRIMARY KEY (bucket, key)
);`

// PostgresBucket stores one bucket as rows of the shared ojs_kv table.
// Revisions are drawn from a single sequence, so a deleted and recreated
// key never reuses a revision.
type PostgresBucket struct {
	db   DB
	name string
}

// NewPostgresBucket returns a bucket backed by db. Call Migrate once per
// database before use.
func NewPostgresBucket(db DB, name string) *PostgresBucket {
	return &PostgresBucket{db: db, name: name}
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate creates the table and revision sequence if they are missing.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate kv schema: %w", err)
	}
	return nil
}

func (b *PostgresBucket) Name() string { return b.name }

func (b *PostgresBucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	var value []byte
	var rev int64
	err := b.db.QueryRow(ctx,
		`SELECT value, revision FROM ojs_kv WHERE bucket = $1 AND key = $2`,
		b.name, key).Scan(&value, &rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrKeyNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return value, uint64(rev), nil
}

func (b *PostgresBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	var rev int64
	err := b.db.QueryRow(ctx, `
		INSERT INTO ojs_kv (bucket, key, value, revision)
		VALUES ($1, $2, $3, nextval('ojs_kv_revision'))
		ON CONFLICT (bucket, key)
		DO UPDATE SET value = EXCLUDED.value, revision = EXCLUDED.revision
		RETURNING revision`,
		b.name, key, value).Scan(&rev)
	if err != nil {
		return 0, err
	}
	return uint64(rev), nil
}

func (b *PostgresBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	var rev int64
	err := b.db.QueryRow(ctx, `
		INSERT INTO ojs_kv (bucket, key, value, revision)
		VALUES ($1, $2, $3, nextval('ojs_kv_revision'))
		ON CONFLICT (bucket, key) DO NOTHING
		RETURNING revision`,
		b.name, key, value).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrKeyExists
	}
	if err != nil {
		return 0, err
	}
	return uint64(rev), nil
}

func (b *PostgresBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	var rev int64
	err := b.db.QueryRow(ctx, `
		UPDATE ojs_kv SET value = $3, revision = nextval('ojs_kv_revision')
		WHERE bucket = $1 AND key = $2 AND revision = $4
		RETURNING revision`,
		b.name, key, value, int64(revision)).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRevisionMismatch
	}
	if err != nil {
		return 0, err
	}
	return uint64(rev), nil
}

func (b *PostgresBucket) Delete(ctx context.Context, key string, revision uint64) error {
	if revision == 0 {
		_, err := b.db.Exec(ctx, `DELETE FROM ojs_kv WHERE bucket = $1 AND key = $2`, b.name, key)
		return err
	}
	tag, err := b.db.Exec(ctx,
		`DELETE FROM ojs_kv WHERE bucket = $1 AND key = $2 AND revision = $3`,
		b.name, key, int64(revision))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRevisionMismatch
	}
	return nil
}

func (b *PostgresBucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.Query(ctx, `SELECT key FROM ojs_kv WHERE bucket = $1`, b.name)
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect keys: %w", err)
	}
	return keys, nil
}
