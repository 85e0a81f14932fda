package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/retry"
)

// userRow is one row of the users table.
type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID    string `bun:"id,pk"`
	Role  string `bun:"role,notnull"`
	Email string `bun:"email,nullzero"`
}

// SQLStore reads user records from a SQL table.
type SQLStore struct {
	db     *bun.DB
	table  string
	logger observability.Logger
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens dsn and waits for the database to answer. DSNs starting
// with postgres:// or postgresql:// use PostgreSQL; anything else is a
// SQLite path.
func OpenSQLStore(ctx context.Context, dsn, table string, opts ...Option) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("userstore: dsn is required")
	}
	o := applyOptions(opts)

	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}

	err = retry.Do(ctx, o.retry, func() error {
		return db.PingContext(ctx)
	}, &retry.Options{
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			o.logger.Warn("user store not reachable, retrying",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: ping database: %w", err)
	}

	return NewSQLStore(db, table, opts...), nil
}

// NewSQLStore wraps an open database. The store takes ownership of db.
func NewSQLStore(db *bun.DB, table string, opts ...Option) *SQLStore {
	o := applyOptions(opts)
	if table == "" {
		table = config.DefaultUserTable
	}
	return &SQLStore{
		db:     db,
		table:  table,
		logger: o.logger,
	}
}

func openDB(dsn string) (*bun.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		sqldb.SetMaxOpenConns(25)
		sqldb.SetMaxIdleConns(25)
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("userstore: open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Resolve implements auth.Resolver.
func (s *SQLStore) Resolve(ctx context.Context, subject string) (*auth.UserRecord, error) {
	ctx, span := tracer.Start(ctx, "userstore.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("edgegw.userstore", "sql"))

	var row userRow
	err := s.db.NewSelect().
		Model(&row).
		ModelTableExpr("? AS u", bun.Ident(s.table)).
		Column("role", "email").
		Where("id = ?", subject).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		span.SetStatus(codes.Error, "store unavailable")
		s.logger.WithContext(ctx).Warn("user store lookup failed", observability.Error(err))
		return nil, unavailable(err)
	}

	return record(subject, row.Role, row.Email)
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
