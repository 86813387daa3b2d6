package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrMultipleOwners indica que una misma direccion/hex/email resuelve a mas de un usuario.
	ErrMultipleOwners   = errors.New("multiple users own the same identity")
	// ErrDuplicateAddress indica que otra transaccion ya creo la direccion en la comunidad.
	ErrDuplicateAddress = errors.New("address already exists in community")
)

// pg unique_violation
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// DBTX es el subconjunto de pgx que comparten el pool y una transaccion.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store agrupa los repositorios que participan en una misma unidad de trabajo.
type Store interface {
	Users() UserRepository
	Profiles() ProfileRepository
	Addresses() AddressRepository
	SsoTokens() SsoTokenRepository
	Outbox() OutboxRepository
	Communities() CommunityRepository
}

// Database expone el store sobre el pool y el primitivo de transaccion.
type Database interface {
	Store() Store
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

type PgStore struct {
	db DBTX
}

func NewPgStore(db DBTX) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Users() UserRepository            { return NewPgUserRepository(s.db) }
func (s *PgStore) Profiles() ProfileRepository      { return NewPgProfileRepository(s.db) }
func (s *PgStore) Addresses() AddressRepository     { return NewPgAddressRepository(s.db) }
func (s *PgStore) SsoTokens() SsoTokenRepository    { return NewPgSsoTokenRepository(s.db) }
func (s *PgStore) Outbox() OutboxRepository         { return NewPgOutboxRepository(s.db) }
func (s *PgStore) Communities() CommunityRepository { return NewPgCommunityRepository(s.db) }

// PgDatabase implementa Database sobre pgxpool.
type PgDatabase struct {
	pool *pgxpool.Pool
}

func NewPgDatabase(pool *pgxpool.Pool) *PgDatabase {
	return &PgDatabase{pool: pool}
}

func (d *PgDatabase) Store() Store {
	return NewPgStore(d.pool)
}

// WithinTx ejecuta fn en una transaccion; cualquier error hace rollback completo.
func (d *PgDatabase) WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgStore(tx))
	})
}

// rowScanner cubre pgx.Row y pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
