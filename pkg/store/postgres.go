package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in one table through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	slog.Info("Opening database", "driver", "postgres")
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS documents (
		path text not null primary key,
		text text not null default '',
		attachment bytea,
		attachment_name text,
		updated_at timestamptz not null
		)`,
	); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}
	if _, err := pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS documents_updated_at ON documents (updated_at)`,
	); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create updated_at index: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Load(ctx context.Context, path string) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return Document{}, err
	}
	var text string
	var data []byte
	var name *string
	var updatedAt time.Time
	if err := p.pool.QueryRow(ctx,
		`SELECT text, attachment, attachment_name, updated_at FROM documents WHERE path = $1`,
		path,
	).Scan(&text, &data, &name, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{Path: path}, nil
		}
		return Document{}, fmt.Errorf("failed to query document: %w", err)
	}
	doc := Document{Path: path, Text: text, UpdatedAt: updatedAt}
	if name != nil {
		if data == nil {
			data = []byte{}
		}
		doc.Attachment = &Attachment{Name: *name, Data: data}
	}
	return doc, nil
}

func (p *Postgres) SaveText(ctx context.Context, path, text string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO documents (path, text, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (path) DO UPDATE SET text = EXCLUDED.text, updated_at = EXCLUDED.updated_at`,
		path, text,
	); err != nil {
		return fmt.Errorf("failed to save text: %w", err)
	}
	return nil
}

func (p *Postgres) SaveAttachment(ctx context.Context, path string, attachment *Attachment) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	var data []byte
	var name *string
	if attachment != nil {
		data = attachment.Data
		if data == nil {
			data = []byte{}
		}
		name = &attachment.Name
	}
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO documents (path, attachment, attachment_name, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (path) DO UPDATE SET attachment = EXCLUDED.attachment,
		attachment_name = EXCLUDED.attachment_name, updated_at = EXCLUDED.updated_at`,
		path, data, name,
	); err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

func (p *Postgres) Expire(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to expire documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
