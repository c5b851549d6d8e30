package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/web3"
)

// DefaultCursorKey is used when no key is configured.
const DefaultCursorKey = "nexus:listener:cursor"

// Config describes the Redis connection used by the cursor store.
type Config struct {
	Address  string
	Password string
	DB       int
	Key      string
}

type kv interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// CursorStore persists the last processed event id under a single key.
type CursorStore struct {
	client kv
	closer func() error
	key    string
}

// NewCursorStore dials Redis and verifies the connection.
func NewCursorStore(ctx context.Context, cfg Config) (*CursorStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "redis cursor store requires an address")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "connect redis")
	}
	store := newCursorStore(client, cfg.Key)
	store.closer = client.Close
	return store, nil
}

func newCursorStore(client kv, key string) *CursorStore {
	if key == "" {
		key = DefaultCursorKey
	}
	return &CursorStore{client: client, key: key}
}

// Load returns the saved cursor, or nil when none was saved yet.
func (s *CursorStore) Load(ctx context.Context) (*web3.EventID, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load cursor")
	}
	var id web3.EventID
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformed, err, "decode cursor",
			xerrors.WithMetadata("key", s.key))
	}
	if id.IsZero() {
		return nil, nil
	}
	return &id, nil
}

// Save overwrites the cursor.
func (s *CursorStore) Save(ctx context.Context, id web3.EventID) error {
	encoded, err := json.Marshal(id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode cursor")
	}
	if err := s.client.Set(ctx, s.key, encoded, 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save cursor")
	}
	return nil
}

// Close releases the Redis connection.
func (s *CursorStore) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
