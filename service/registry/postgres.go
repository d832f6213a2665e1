package registry

import (
	"context"
	"time"

	"PRelay/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
	connection_id TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	connected_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS connections_user_id_idx ON connections (user_id);
`

// PostgresBackend keeps the registry in the connections table. Every
// session holds one pooled connection until it is closed.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "unable to connect to database")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "postgres ping failed")
	}
	return &PostgresBackend{pool: pool}, nil
}

// EnsureSchema creates the connections table if missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, schema)
	return errs.Wrap(err)
}

func (b *PostgresBackend) Open(ctx context.Context) (Session, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgSession{conn: conn}, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

type pgSession struct {
	conn *pgxpool.Conn
}

func (s *pgSession) Close() error {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
	return nil
}

func (s *pgSession) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM connections WHERE user_id = $1`, userID)
	return err
}

func (s *pgSession) Insert(ctx context.Context, c Connection) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO connections (user_id, connection_id, connected_at) VALUES ($1, $2, $3)
		 ON CONFLICT (connection_id) DO UPDATE SET user_id = EXCLUDED.user_id, connected_at = EXCLUDED.connected_at`,
		c.UserID, c.ConnectionID, c.ConnectedAt)
	return err
}

func (s *pgSession) DeleteByConnection(ctx context.Context, connectionID string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM connections WHERE connection_id = $1`, connectionID)
	return err
}

func (s *pgSession) UserByConnection(ctx context.Context, connectionID string) (string, bool, error) {
	var userID string
	err := s.conn.QueryRow(ctx, `SELECT user_id FROM connections WHERE connection_id = $1 LIMIT 1`, connectionID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

func (s *pgSession) List(ctx context.Context) ([]Connection, error) {
	rows, err := s.conn.Query(ctx, `SELECT user_id, connection_id, connected_at FROM connections ORDER BY connected_at, connection_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Connection, 0)
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.UserID, &c.ConnectionID, &c.ConnectedAt); err != nil {
			return nil, err
		}
		c.ConnectedAt = c.ConnectedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
