package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

// CheckpointStore persists a dispatcher's cursor. Save never moves a cursor backwards.
type CheckpointStore interface {
	Load(ctx context.Context, name string) (int64, error)
	Save(ctx context.Context, name string, seq int64) error
}

// PostgresCheckpoints stores cursors in dispatcher_checkpoints.
type PostgresCheckpoints struct {
	db *sqlx.DB
}

func NewPostgresCheckpoints(db *sqlx.DB) *PostgresCheckpoints {
	return &PostgresCheckpoints{db: db}
}

func (c *PostgresCheckpoints) Load(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := c.db.GetContext(ctx, &seq, `SELECT last_sequence FROM dispatcher_checkpoints WHERE name = $1`, name)
	if err != nil {
		err = sqlutil.HandlePGError(err)
		if errors.Is(err, models.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load checkpoint %s: %w", name, err)
	}
	return seq, nil
}

func (c *PostgresCheckpoints) Save(ctx context.Context, name string, seq int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO dispatcher_checkpoints (name, last_sequence, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_sequence = GREATEST(dispatcher_checkpoints.last_sequence, EXCLUDED.last_sequence),
		    updated_at = now()`, name, seq)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", name, sqlutil.HandlePGError(err))
	}
	return nil
}

// saveIfGreater only moves the stored value forward.
var saveIfGreater = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '-1')
if tonumber(ARGV[1]) > current then
  redis.call('SET', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// RedisCheckpoints stores cursors as plain integer keys.
type RedisCheckpoints struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCheckpoints(client redis.Cmdable, prefix string) *RedisCheckpoints {
	if prefix == "" {
		prefix = "tixmarket:dispatcher:checkpoint:"
	}
	return &RedisCheckpoints{client: client, prefix: prefix}
}

func (c *RedisCheckpoints) Load(ctx context.Context, name string) (int64, error) {
	raw, err := c.client.Get(ctx, c.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint %s: %w", name, err)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt checkpoint %s: %w", name, err)
	}
	return seq, nil
}

func (c *RedisCheckpoints) Save(ctx context.Context, name string, seq int64) error {
	if err := saveIfGreater.Run(ctx, c.client, []string{c.prefix + name}, seq).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", name, err)
	}
	return nil
}

// MemoryCheckpoints keeps cursors in process.
type MemoryCheckpoints struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{seqs: make(map[string]int64)}
}

func (c *MemoryCheckpoints) Load(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqs[name], nil
}

func (c *MemoryCheckpoints) Save(_ context.Context, name string, seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seqs[name] {
		c.seqs[name] = seq
	}
	return nil
}
