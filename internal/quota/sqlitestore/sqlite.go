package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/quotagate/quotagate/internal/quota"
)

// SchemaVersion tags every persisted row so the serialized layout can
// evolve without silently corrupting state written by older builds.
const SchemaVersion = 1

// Store persists per-identifier state in a SQLite database. It is
// suitable for single-instance deployments that need decisions to
// survive restarts.
type Store struct {
	db        *sql.DB
	saveStmt  *sql.Stmt
	loadStmt  *sql.Stmt
	closeOnce sync.Once
}

// Config configures the SQLite store.
type Config struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// New opens (or creates) a store at path with default settings.
func New(path string) (*Store, error) {
	return NewWithConfig(Config{Path: path})
}

func NewWithConfig(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actor_states (
		identifier TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		state      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) prepare() error {
	var err error
	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO actor_states (identifier, version, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	s.loadStmt, err = s.db.Prepare(`
		SELECT version, state FROM actor_states WHERE identifier = ?`)
	if err != nil {
		return fmt.Errorf("prepare load: %w", err)
	}
	return nil
}

// persistedState is the serialized row payload. The bucket is stored
// under "tokens" to match the on-disk layout readers expect.
type persistedState struct {
	Last   int64        `json:"last"`
	Tokens quota.Bucket `json:"tokens"`
}

func (s *Store) Load(ctx context.Context, id string) (*quota.State, error) {
	var (
		version int64
		payload string
	)
	err := s.loadStmt.QueryRowContext(ctx, id).Scan(&version, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if version != SchemaVersion {
		return nil, fmt.Errorf("unsupported state schema version %d", version)
	}

	var rec persistedState
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &quota.State{Last: rec.Last, Bucket: rec.Tokens}, nil
}

func (s *Store) Save(ctx context.Context, id string, st *quota.State) error {
	payload, err := json.Marshal(persistedState{Last: st.Last, Tokens: st.Bucket})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.saveStmt.ExecContext(ctx, id, SchemaVersion, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close releases the database handle. It is safe to call more than
// once.
func (s *Store) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		if s.saveStmt != nil {
			s.saveStmt.Close()
		}
		if s.loadStmt != nil {
			s.loadStmt.Close()
		}
		closeErr = s.db.Close()
	})
	return closeErr
}
