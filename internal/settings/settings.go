// Package settings provides the typed key/value runtime configuration
// read by the scheduler daemon and the supervisor's health evaluation.
//
// Values are stored in Postgres with an optional Redis read-through
// cache in front. Changing a setting does not affect an already-running
// daemon: the daemon loads its configuration once at startup, so
// callers must restart it (via the supervisor) for new values to apply.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/db"
	"github.com/shiomiya/notihub/internal/redis"
)

// Setting keys.
const (
	KeyHeartbeatInterval = "heartbeat_interval"
	KeyTaskCheckInterval = "task_check_interval"
	KeyHeartbeatTimeout  = "heartbeat_timeout"
	KeyReclaimAfter      = "reclaim_after"
)

// ErrUnknownKey is returned for keys outside the known setting set.
var ErrUnknownKey = errors.New("unknown setting key")

// ErrOutOfRange is returned when a write falls outside the allowed range.
var ErrOutOfRange = errors.New("setting value out of range")

type bounds struct {
	def, min, max int
}

// All values are whole seconds. Put additionally rejects any write that
// would leave heartbeat_timeout <= heartbeat_interval.
var ranges = map[string]bounds{
	KeyHeartbeatInterval: {def: 10, min: 5, max: 60},
	KeyTaskCheckInterval: {def: 60, min: 10, max: 600},
	KeyHeartbeatTimeout:  {def: 60, min: 30, max: 300},
	KeyReclaimAfter:      {def: 180, min: 60, max: 3600},
}

// Scheduler is the bulk view handed to the daemon at startup.
type Scheduler struct {
	HeartbeatInterval time.Duration
	TaskCheckInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReclaimAfter      time.Duration
}

// Store reads and writes scheduler settings with read-through cache
// semantics: Redis first (when configured), then Postgres, then the
// built-in default when the row is absent.
type Store struct {
	db     *db.DB
	cache  *redis.SettingsCache // nil when redis is not configured
	logger *zap.Logger
}

// New creates a settings store. cache may be nil to disable caching.
func New(database *db.DB, cache *redis.SettingsCache, logger *zap.Logger) *Store {
	return &Store{db: database, cache: cache, logger: logger}
}

// Default returns the built-in default for a key.
func Default(key string) (int, error) {
	b, ok := ranges[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return b.def, nil
}

// Validate checks a value against the allowed range for its key.
func Validate(key string, value int) error {
	b, ok := ranges[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if value < b.min || value > b.max {
		return fmt.Errorf("%w: %s=%d (allowed %d-%d)", ErrOutOfRange, key, value, b.min, b.max)
	}
	return nil
}

// Get reads one setting, falling back to the default when unset.
func (s *Store) Get(ctx context.Context, key string) (int, error) {
	b, ok := ranges[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if s.cache != nil {
		if n, ok := s.cache.GetInt(ctx, key); ok {
			return n, nil
		}
	}

	var value int
	err := s.db.Pool().QueryRow(ctx,
		`SELECT value FROM scheduler_settings WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return b.def, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query setting %s: %w", key, err)
	}

	if s.cache != nil {
		s.cache.SetInt(ctx, key, value)
	}
	return value, nil
}

const upsertSetting = `
	INSERT INTO scheduler_settings (key, value) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
`

// Put validates and persists one setting, then refreshes the cache.
// The stored value is untouched when validation fails.
func (s *Store) Put(ctx context.Context, key string, value int) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	if err := s.checkTimeoutMargin(ctx, map[string]int{key: value}); err != nil {
		return err
	}

	if _, err := s.db.Pool().Exec(ctx, upsertSetting, key, value); err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}

	if s.cache != nil {
		s.cache.SetInt(ctx, key, value)
	}
	s.logger.Info("scheduler setting updated",
		zap.String("key", key),
		zap.Int("value", value),
	)
	return nil
}

// PutAll validates the whole update set against ranges and the
// heartbeat margin, then persists every key in one transaction. A
// rejected set leaves all stored settings untouched, never just the
// keys that happened to be written first.
func (s *Store) PutAll(ctx context.Context, updates map[string]int) error {
	for key, value := range updates {
		if err := Validate(key, value); err != nil {
			return err
		}
	}
	if err := s.checkTimeoutMargin(ctx, updates); err != nil {
		return err
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settings update: %w", err)
	}
	defer tx.Rollback(ctx)

	for key, value := range updates {
		if _, err := tx.Exec(ctx, upsertSetting, key, value); err != nil {
			return fmt.Errorf("store setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settings update: %w", err)
	}

	for key, value := range updates {
		if s.cache != nil {
			s.cache.SetInt(ctx, key, value)
		}
		s.logger.Info("scheduler setting updated",
			zap.String("key", key),
			zap.Int("value", value),
		)
	}
	return nil
}

// checkTimeoutMargin evaluates the margin rule against the effective
// pair after the updates would apply: each of the two values comes from
// the update set when present, else from the store.
func (s *Store) checkTimeoutMargin(ctx context.Context, updates map[string]int) error {
	_, touchesInterval := updates[KeyHeartbeatInterval]
	_, touchesTimeout := updates[KeyHeartbeatTimeout]
	if !touchesInterval && !touchesTimeout {
		return nil
	}

	effective := func(key string) (int, error) {
		if v, ok := updates[key]; ok {
			return v, nil
		}
		return s.Get(ctx, key)
	}

	interval, err := effective(KeyHeartbeatInterval)
	if err != nil {
		return err
	}
	timeout, err := effective(KeyHeartbeatTimeout)
	if err != nil {
		return err
	}
	return checkMargin(interval, timeout)
}

// checkMargin enforces heartbeat_timeout > heartbeat_interval so a
// healthy daemon can never be reported down between two beats.
func checkMargin(interval, timeout int) error {
	if timeout <= interval {
		return fmt.Errorf("%w: heartbeat_timeout=%d must exceed heartbeat_interval=%d", ErrOutOfRange, timeout, interval)
	}
	return nil
}

// LoadScheduler reads the full scheduler configuration in one call.
// Used by the daemon at startup; the values are fixed for its lifetime.
func (s *Store) LoadScheduler(ctx context.Context) (Scheduler, error) {
	var out Scheduler
	for _, item := range []struct {
		key string
		dst *time.Duration
	}{
		{KeyHeartbeatInterval, &out.HeartbeatInterval},
		{KeyTaskCheckInterval, &out.TaskCheckInterval},
		{KeyHeartbeatTimeout, &out.HeartbeatTimeout},
		{KeyReclaimAfter, &out.ReclaimAfter},
	} {
		value, err := s.Get(ctx, item.key)
		if err != nil {
			return Scheduler{}, err
		}
		*item.dst = time.Duration(value) * time.Second
	}
	return out, nil
}
