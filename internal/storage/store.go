package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"amlwatch/internal/config"
)

var ErrNotFound = errors.New("storage: key not found")

// TokenStore persists named string values across process restarts.
type TokenStore interface {
	Init(ctx context.Context) error
	Close() error
	Load(ctx context.Context, name string) (string, error)
	Save(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

func NewStore(cfg config.StorageConfig) (TokenStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemory(), nil
	case "", "file":
		return NewFile(cfg.DSN)
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db     *sql.DB
	load   string
	upsert string
	remove string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Load(ctx context.Context, name string) (string, error) {
	var value string
	err := b.db.QueryRowContext(ctx, b.load, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (b *baseStore) Save(ctx context.Context, name, value string) error {
	_, err := b.db.ExecContext(ctx, b.upsert, name, value, nowUTC())
	return err
}

func (b *baseStore) Delete(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx, b.remove, name)
	return err
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
