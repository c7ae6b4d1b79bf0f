// Package postgres provides storage in PostgreSQL. Every multi-row write
// runs inside a single transaction via RunInTx; callers only ever observe
// fully applied or fully rolled back writes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/toolshare/toolshare/api"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and pings it to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// notFound converts the driver's empty-result error into the API sentinel.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return api.ErrNotFound
	}
	return err
}

// GetUser returns the shallow projection of a user.
func (pg *Postgres) GetUser(ctx context.Context, userID string) (api.User, error) {
	var u user
	err := pg.bun.NewSelect().
		Model(&u).
		Where("u.id = ?", userID).
		Scan(ctx)
	if err != nil {
		return api.User{}, fmt.Errorf("select user: %w", notFound(err))
	}
	return u.APIUser(), nil
}
