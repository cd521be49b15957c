// Package sessionstore keeps the serialized wallet session between runs.
//
// Every store holds at most one session under a fixed key. Stores never look
// inside the string they keep; validation is the client's job on restore.
package sessionstore

import (
	"context"

	"moff.io/moff-wallet/internal/config"
	"moff.io/moff-wallet/pkg/errors"
)

// DefaultKey is the name a session is saved under when none is configured.
const DefaultKey = "sessioninfo.json"

// Store persists one serialized session.
type Store interface {
	// Load returns the saved session. ok is false when nothing is saved.
	Load(ctx context.Context) (session string, ok bool, err error)
	Save(ctx context.Context, session string) error
	// Delete removes the saved session and reports whether there was one.
	Delete(ctx context.Context) (bool, error)
	Close() error
}

// New builds the store selected by the session_store driver.
func New(ctx context.Context, conf *config.SessionStore) (Store, error) {
	key := conf.Key
	if key == "" {
		key = DefaultKey
	}
	switch conf.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverFile, "":
		return NewFileStore(conf.Path, key)
	case config.DriverRedis:
		return NewRedisStore(ctx, &conf.Redis, key, conf.TTL)
	case config.DriverS3:
		return NewS3Store(ctx, conf.AwsS3.BucketName(), conf.AwsS3.Region(), key)
	case config.DriverPostgres:
		return OpenPostgresStore(&conf.Postgres, key)
	case config.DriverSqlite:
		return OpenSqliteStore(conf.SqlitePath, key)
	default:
		return nil, errors.Errorf("unknown session store driver %q", conf.Driver)
	}
}
