package capacity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evalforge/backend/eval"
	"github.com/evalforge/backend/metrics"
)

// claimScript decrements the free-slot counter only while it is positive.
// The script runs atomically inside Redis, so claim-and-decrement is one
// indivisible step even across multiple dispatcher processes.
var claimScript = redis.NewScript(`
local free = tonumber(redis.call('GET', KEYS[1]) or '0')
if free <= 0 then
	return 0
end
redis.call('DECR', KEYS[1])
redis.call('SET', KEYS[2], 'claimed')
return 1
`)

// releaseScript increments the counter only if the slot key still marks the
// slot as claimed, making release idempotent across processes.
var releaseScript = redis.NewScript(`
local state = redis.call('GET', KEYS[2])
if state ~= 'claimed' then
	return 0
end
redis.call('SET', KEYS[2], 'released', 'EX', ARGV[1])
redis.call('INCR', KEYS[1])
return 1
`)

// RedisPool shares one capacity budget between several dispatcher processes.
type RedisPool struct {
	logger  *slog.Logger
	client  *redis.Client
	freeKey string
}

func NewRedisPool(logger *slog.Logger, client *redis.Client, name string, size int) (*RedisPool, error) {
	p := &RedisPool{
		logger:  logger.With("module", "capacity"),
		client:  client,
		freeKey: fmt.Sprintf("capacity:%s:free", name),
	}
	// seed the counter once; NX keeps restarts from resetting live state
	err := client.SetNX(context.Background(), p.freeKey, size, 0).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to seed capacity counter: %w", err)
	}
	return p, nil
}

func (p *RedisPool) slotKey(evalID uuid.UUID) string {
	return fmt.Sprintf("capacity:slot:%s", evalID)
}

func (p *RedisPool) TryClaim(ctx context.Context, evalID uuid.UUID) (*Slot, error) {
	keys := []string{p.freeKey, p.slotKey(evalID)}
	res, err := claimScript.Run(ctx, p.client, keys).Int()
	if err != nil {
		return nil, eval.ErrSandboxUnavailable().SetDebug(err)
	}
	if res == 0 {
		return nil, eval.ErrCapacityExceeded()
	}
	return &Slot{EvalID: evalID, ClaimedAt: time.Now()}, nil
}

func (p *RedisPool) Release(ctx context.Context, slot *Slot) (bool, error) {
	if !slot.released.CompareAndSwap(false, true) {
		metrics.DoubleReleases.Inc()
		p.logger.Warn("double release ignored", "eval_id", slot.EvalID)
		return false, nil
	}
	keys := []string{p.freeKey, p.slotKey(slot.EvalID)}
	const slotTtlSec = 24 * 60 * 60 // released markers expire after a day
	res, err := releaseScript.Run(ctx, p.client, keys, slotTtlSec).Int()
	if err != nil {
		// the local flag is already flipped; surface the error so the
		// caller can decide whether capacity accounting drifted
		return false, fmt.Errorf("failed to release slot: %w", err)
	}
	if res == 0 {
		metrics.DoubleReleases.Inc()
		p.logger.Warn("slot already released in redis", "eval_id", slot.EvalID)
		return false, nil
	}
	return true, nil
}

func (p *RedisPool) Free(ctx context.Context) (int, error) {
	free, err := p.client.Get(ctx, p.freeKey).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to read capacity counter: %w", err)
	}
	return free, nil
}
