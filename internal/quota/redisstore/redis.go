package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotagate/quotagate/internal/quota"
)

// SchemaVersion tags every persisted value; a payload written by an
// unknown build is a load error, not a silent fresh state.
const SchemaVersion = 1

const keyPrefix = "quotagate:"

// Store persists per-identifier state in Redis. It lets several
// gateway restarts (though not concurrent instances) share one durable
// state.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Config configures the Redis store.
type Config struct {
	Addr     string
	Password string
	DB       int

	// TTL bounds how long idle state is kept. Zero keeps it forever.
	TTL time.Duration
}

func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client, ttl: cfg.TTL}
}

type persistedState struct {
	Version int          `json:"version"`
	Last    int64        `json:"last"`
	Tokens  quota.Bucket `json:"tokens"`
}

func (s *Store) Load(ctx context.Context, id string) (*quota.State, error) {
	val, err := s.client.Get(ctx, keyPrefix+id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var rec persistedState
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if rec.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported state schema version %d", rec.Version)
	}
	return &quota.State{Last: rec.Last, Bucket: rec.Tokens}, nil
}

func (s *Store) Save(ctx context.Context, id string, st *quota.State) error {
	payload, err := json.Marshal(persistedState{
		Version: SchemaVersion,
		Last:    st.Last,
		Tokens:  st.Bucket,
	})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+id, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
