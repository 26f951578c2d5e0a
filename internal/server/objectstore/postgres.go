package objectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cosauth/internal/dbx"
	"github.com/dmitrijs2005/cosauth/internal/server/objectstore/migrations"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresStore emulates a bucket with a single key/blob table. ETags are
// random per write, so IfMatch detects any intervening write.
type PostgresStore struct {
	db   *sql.DB
	conn dbx.DBTX
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

var newETag = func() string { return `"` + uuid.NewString() + `"` }

// OpenPostgresStore opens a pgx-backed connection pool.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, conn: db}
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Object, error) {
	query :=
		`SELECT data, content_type, etag FROM objects
		 WHERE key = $1`

	o := &Object{Key: key}
	err := p.conn.QueryRowContext(ctx, query, key).Scan(&o.Data, &o.ContentType, &o.ETag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageError("get", key, err)
	}
	return o, nil
}

func (p *PostgresStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) (string, error) {
	etag := newETag()

	var (
		query string
		args  []any
	)
	switch {
	case opts.IfNoneMatch:
		query =
			`INSERT INTO objects (key, data, content_type, etag, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (key) DO NOTHING`
		args = []any{key, data, opts.ContentType, etag}
	case opts.IfMatch != "":
		query =
			`UPDATE objects SET data = $2, content_type = $3, etag = $4, updated_at = now()
			 WHERE key = $1 AND etag = $5`
		args = []any{key, data, opts.ContentType, etag, opts.IfMatch}
	default:
		query =
			`INSERT INTO objects (key, data, content_type, etag, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (key) DO UPDATE
			 SET data = EXCLUDED.data, content_type = EXCLUDED.content_type,
			     etag = EXCLUDED.etag, updated_at = EXCLUDED.updated_at`
		args = []any{key, data, opts.ContentType, etag}
	}

	res, err := p.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return "", storageError("put", key, err)
	}

	if opts.IfNoneMatch || opts.IfMatch != "" {
		n, err := res.RowsAffected()
		if err != nil {
			return "", storageError("put", key, err)
		}
		if n == 0 {
			return "", ErrPreconditionFailed
		}
	}
	return etag, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.conn.ExecContext(ctx, `DELETE FROM objects WHERE key = $1`, key); err != nil {
		return storageError("delete", key, err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, prefix string, limit int, marker string) (*ListPage, error) {
	query :=
		`SELECT key FROM objects
		 WHERE starts_with(key, $1) AND key > $2
		 ORDER BY key`
	args := []any{prefix, marker}
	if limit > 0 {
		// One extra row tells whether another page exists.
		query += `
		 LIMIT $3`
		args = append(args, limit+1)
	}

	rows, err := p.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storageError("list", prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list", prefix, err)
	}

	page := &ListPage{Keys: keys}
	if limit > 0 && len(keys) > limit {
		page.Keys = keys[:limit]
		page.NextMarker = keys[limit-1]
	}
	return page, nil
}

// EnsureContainer applies the embedded migrations.
func (p *PostgresStore) EnsureContainer(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, p.db, "."); err != nil {
		return storageError("migrate", "objects", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return storageError("ping", "", err)
	}
	return nil
}
