package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/covey-team/covey/pkg/models"
)

// Defaults for RedisStore options.
const (
	DefaultPrefix      = "covey"
	DefaultTTL         = 1 * time.Hour
	DefaultLockTTL     = 10 * time.Second
	DefaultLockRetries = 5
	DefaultLockBackoff = 50 * time.Millisecond
	DefaultListLimit   = 100

	scanBatch = 100
)

// releaseScript deletes the lock key only when it still holds the caller's
// token, so a lock stolen after TTL expiry is never released by the old owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures a RedisStore.
type Options struct {
	// Client is the Redis client. Required.
	Client *redis.Client
	// Prefix namespaces all keys. Defaults to "covey".
	Prefix string
	// TTL is the default time-to-live applied on every write.
	// Defaults to 1 hour.
	TTL time.Duration
	// LockTTL bounds how long a crashed holder can block writers.
	// Defaults to 10 seconds.
	LockTTL time.Duration
	// LockRetries is the number of acquisition attempts. Defaults to 5.
	LockRetries int
	// LockBackoff is the initial retry back-off; it doubles per attempt.
	// Defaults to 50ms.
	LockBackoff time.Duration
}

// RedisStore is the Redis-backed StateStore.
//
// Key layout:
//
//	<prefix>:execution:<execid>  serialized ExecutionState (JSON), TTL reset on write
//	<prefix>:lock:<execid>       ephemeral lock token
type RedisStore struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	lockTTL     time.Duration
	lockRetries int
	lockBackoff time.Duration
}

// NewRedisStore creates a RedisStore, applying defaults for unset options.
func NewRedisStore(opts Options) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrNotInitialized)
	}
	s := &RedisStore{
		rdb:         opts.Client,
		prefix:      opts.Prefix,
		ttl:         opts.TTL,
		lockTTL:     opts.LockTTL,
		lockRetries: opts.LockRetries,
		lockBackoff: opts.LockBackoff,
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	if s.lockRetries <= 0 {
		s.lockRetries = DefaultLockRetries
	}
	if s.lockBackoff <= 0 {
		s.lockBackoff = DefaultLockBackoff
	}
	return s, nil
}

func (s *RedisStore) stateKey(executionID string) string {
	return s.prefix + ":execution:" + executionID
}

func (s *RedisStore) lockKey(executionID string) string {
	return s.prefix + ":lock:" + executionID
}

// Create establishes initial state with empty events, team states/results,
// errors, and default metrics. SET NX detects duplicate creates atomically.
func (s *RedisStore) Create(ctx context.Context, executionID, teamID string, execCtx models.ExecutionContext) error {
	state := models.NewExecutionState(executionID, teamID, execCtx)
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	ok, err := s.rdb.SetNX(ctx, s.stateKey(executionID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, executionID)
	}
	return nil
}

// Get reads the full state without locking. Absent keys yield (nil, nil).
func (s *RedisStore) Get(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	payload, err := s.rdb.Get(ctx, s.stateKey(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var state models.ExecutionState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &state, nil
}

// UpdateStatus sets the execution status under the lock.
func (s *RedisStore) UpdateStatus(ctx context.Context, executionID string, status models.ExecutionStatus) error {
	return s.mutate(ctx, executionID, func(state *models.ExecutionState) error {
		state.Status = status
		return nil
	})
}

// AddEvent appends one event to the ordered event list under the lock.
func (s *RedisStore) AddEvent(ctx context.Context, executionID string, event models.ExecutionEvent) error {
	return s.mutate(ctx, executionID, func(state *models.ExecutionState) error {
		state.Events = append(state.Events, event)
		return nil
	})
}

// UpdateTeamState replaces one sub-team slot under the lock.
func (s *RedisStore) UpdateTeamState(ctx context.Context, executionID, teamID string, teamState models.TeamState) error {
	return s.mutate(ctx, executionID, func(state *models.ExecutionState) error {
		if state.TeamStates == nil {
			state.TeamStates = map[string]models.TeamState{}
		}
		state.TeamStates[teamID] = teamState
		return nil
	})
}

// UpdateTeamResult replaces one sub-team result under the lock.
func (s *RedisStore) UpdateTeamResult(ctx context.Context, executionID, teamID string, result models.TeamResult) error {
	return s.mutate(ctx, executionID, func(state *models.ExecutionState) error {
		if state.TeamResults == nil {
			state.TeamResults = map[string]models.TeamResult{}
		}
		state.TeamResults[teamID] = result
		return nil
	})
}

// UpdateSummary sets the execution summary under the lock.
func (s *RedisStore) UpdateSummary(ctx context.Context, executionID string, summary models.ExecutionSummary) error {
	return s.mutate(ctx, executionID, func(state *models.ExecutionState) error {
		state.Summary = &summary
		return nil
	})
}

// AddError appends one ErrorInfo under the lock.
func (s *RedisStore) AddError(ctx context.Context, executionID string, errInfo models.ErrorInfo) error {
	return s.mutate(ctx, executionID, func(state *models.ExecutionState) error {
		state.Errors = append(state.Errors, errInfo)
		return nil
	})
}

// UpdateMetrics replaces the execution metrics under the lock.
func (s *RedisStore) UpdateMetrics(ctx context.Context, executionID string, metrics models.ExecutionMetrics) error {
	return s.mutate(ctx, executionID, func(state *models.ExecutionState) error {
		state.Metrics = metrics
		return nil
	})
}

// List enumerates execution ids matching the filter via a bounded SCAN.
// Filters on team id and status are applied client-side from the stored
// state. The scan is not consistent across concurrent inserts.
func (s *RedisStore) List(ctx context.Context, filter ListFilter) ([]string, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	pattern := s.prefix + ":execution:*"
	keyPrefix := s.prefix + ":execution:"

	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		for _, key := range keys {
			executionID := key[len(keyPrefix):]
			if filter.TeamID == "" && filter.Status == "" {
				ids = append(ids, executionID)
			} else {
				state, err := s.Get(ctx, executionID)
				if err != nil || state == nil {
					continue
				}
				if filter.TeamID != "" && state.TeamID != filter.TeamID {
					continue
				}
				if filter.Status != "" && state.Status != filter.Status {
					continue
				}
				ids = append(ids, executionID)
			}
			if len(ids) >= limit {
				return ids, nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// Delete removes the state key.
func (s *RedisStore) Delete(ctx context.Context, executionID string) error {
	if err := s.rdb.Del(ctx, s.stateKey(executionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Ping verifies backend connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// mutate runs a read-modify-write on the state under the execution lock,
// bumps UpdatedAt, and resets the TTL on write.
func (s *RedisStore) mutate(ctx context.Context, executionID string, fn func(*models.ExecutionState) error) error {
	token, err := s.acquireLock(ctx, executionID)
	if err != nil {
		return err
	}
	defer s.releaseLock(executionID, token)

	key := s.stateKey(executionID)
	payload, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var state models.ExecutionState
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	if err := fn(&state); err != nil {
		return err
	}
	state.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(&state)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := s.rdb.Set(ctx, key, updated, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// acquireLock takes the per-execution lock with a unique owner token,
// retrying with doubling back-off up to the configured budget.
func (s *RedisStore) acquireLock(ctx context.Context, executionID string) (string, error) {
	token := uuid.New().String()
	key := s.lockKey(executionID)
	backoff := s.lockBackoff

	for attempt := 0; attempt < s.lockRetries; attempt++ {
		ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrLockFailed, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrLockFailed, executionID, s.lockRetries)
}

// releaseLock releases the lock via compare-and-delete on the owner token.
// Uses a background context so a cancelled caller still releases promptly.
func (s *RedisStore) releaseLock(executionID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, s.rdb, []string{s.lockKey(executionID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("Failed to release execution lock",
			"execution_id", executionID, "error", err)
	}
}
