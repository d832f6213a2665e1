// Package registry is the shared record of which user is reachable through
// which gateway connection. It is the single source of truth across relay
// invocations; no relay process keeps connection state of its own.
package registry

import (
	"context"
	"time"

	"PRelay/tools/errs"
)

// Connection is one registered user and the gateway connection it uses.
type Connection struct {
	UserID       string    `json:"user_id" bson:"user_id"`
	ConnectionID string    `json:"connection_id" bson:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at" bson:"connected_at"`
}

// Store is the narrow set of primitive operations a backend provides.
// Every operation is idempotent with respect to absent records.
type Store interface {
	DeleteByUser(ctx context.Context, userID string) error
	Insert(ctx context.Context, c Connection) error
	DeleteByConnection(ctx context.Context, connectionID string) error
	UserByConnection(ctx context.Context, connectionID string) (userID string, found bool, err error)
	List(ctx context.Context) ([]Connection, error)
}

// Session is a Store scoped to one relay invocation.
type Session interface {
	Store
	Close() error
}

// Backend opens sessions against a concrete store.
type Backend interface {
	Open(ctx context.Context) (Session, error)
	Close() error
}

// Registry is the handle the relay works with during one invocation.
// It must be closed on every exit path.
type Registry struct {
	s Session
}

// Open acquires a registry session from b.
func Open(ctx context.Context, b Backend) (*Registry, error) {
	s, err := b.Open(ctx)
	if err != nil {
		return nil, errs.ErrRegistryUnavailable.WithCause(err, "open session")
	}
	return &Registry{s: s}, nil
}

func (r *Registry) Close() error {
	return r.s.Close()
}

// Put records that userID is reachable at connectionID, replacing any
// previous record for the user.
//
// The delete and insert are two separate store calls. Two concurrent Puts
// for the same user may both insert; the registry then holds two records
// for the user until one of the connections goes away.
func (r *Registry) Put(ctx context.Context, userID, connectionID string, connectedAt time.Time) error {
	if err := r.s.DeleteByUser(ctx, userID); err != nil {
		return errs.ErrRegistryUnavailable.WithCause(err, "delete by user", "userId", userID)
	}
	c := Connection{UserID: userID, ConnectionID: connectionID, ConnectedAt: connectedAt.UTC()}
	if err := r.s.Insert(ctx, c); err != nil {
		return errs.ErrRegistryUnavailable.WithCause(err, "insert", "userId", userID, "connectionId", connectionID)
	}
	return nil
}

func (r *Registry) RemoveByUser(ctx context.Context, userID string) error {
	if err := r.s.DeleteByUser(ctx, userID); err != nil {
		return errs.ErrRegistryUnavailable.WithCause(err, "delete by user", "userId", userID)
	}
	return nil
}

func (r *Registry) RemoveByConnection(ctx context.Context, connectionID string) error {
	if err := r.s.DeleteByConnection(ctx, connectionID); err != nil {
		return errs.ErrRegistryUnavailable.WithCause(err, "delete by connection", "connectionId", connectionID)
	}
	return nil
}

func (r *Registry) GetUserByConnection(ctx context.Context, connectionID string) (string, bool, error) {
	userID, found, err := r.s.UserByConnection(ctx, connectionID)
	if err != nil {
		return "", false, errs.ErrRegistryUnavailable.WithCause(err, "lookup", "connectionId", connectionID)
	}
	return userID, found, nil
}

func (r *Registry) ListAll(ctx context.Context) ([]Connection, error) {
	list, err := r.s.List(ctx)
	if err != nil {
		return nil, errs.ErrRegistryUnavailable.WithCause(err, "list")
	}
	return list, nil
}
