package hold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/domain"
)

// Redis stores each held sale as a JSON string under its own key and keeps a
// set of ids per terminal for listing. Snapshots expire after ttl when ttl is
// positive.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedis(addr string, password string, db int, ttl time.Duration) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisWithClient(client, "retailpos", ttl)
}

func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "retailpos"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) heldKey(id string) string {
	return fmt.Sprintf("%s:held:%s", r.prefix, id)
}

func (r *Redis) terminalKey(branchID string, terminalID string) string {
	return fmt.Sprintf("%s:held-index:%s/%s", r.prefix, branchID, terminalID)
}

func (r *Redis) Hold(ctx context.Context, held domain.HeldSale) (domain.HeldSale, error) {
	held, err := prepare(held, r.now())
	if err != nil {
		return domain.HeldSale{}, err
	}
	payload, err := json.Marshal(held)
	if err != nil {
		return domain.HeldSale{}, domain.External("encode held sale", err)
	}

	index := r.terminalKey(held.BranchID, held.TerminalID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.heldKey(held.ID), payload, r.ttl)
		pipe.SAdd(ctx, index, held.ID)
		if r.ttl > 0 {
			pipe.Expire(ctx, index, r.ttl)
		}
		return nil
	})
	if err != nil {
		return domain.HeldSale{}, domain.External("hold sale", err)
	}
	return held, nil
}

func (r *Redis) List(ctx context.Context, branchID string, terminalID string) ([]domain.HeldSale, error) {
	index := r.terminalKey(branchID, terminalID)
	ids, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, domain.External("list held sales", err)
	}
	if len(ids) == 0 {
		return []domain.HeldSale{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.heldKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.External("list held sales", err)
	}

	result := make([]domain.HeldSale, 0, len(values))
	stale := make([]any, 0)
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var held domain.HeldSale
		if err := json.Unmarshal([]byte(str), &held); err != nil {
			return nil, domain.External("decode held sale", err)
		}
		result = append(result, held)
	}
	if len(stale) > 0 {
		_ = r.client.SRem(ctx, index, stale...).Err()
	}
	sortNewestFirst(result)
	return result, nil
}

// Resume watches the snapshot key, decodes it and deletes it in one
// MULTI/EXEC. A concurrent resume of the same id aborts the transaction, so
// only one caller receives the snapshot. A snapshot that fails to decode is
// left in place.
func (r *Redis) Resume(ctx context.Context, branchID string, terminalID string, id string) (domain.HeldSale, error) {
	key := r.heldKey(id)
	var held domain.HeldSale
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return notFound(id)
		}
		if err != nil {
			return domain.External("resume held sale", err)
		}
		if err := json.Unmarshal([]byte(val), &held); err != nil {
			return domain.External("decode held sale", err)
		}
		if !ownedBy(held, branchID, terminalID) {
			return notFound(id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.terminalKey(branchID, terminalID), id)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return held, nil
	case errors.Is(err, redis.TxFailedErr):
		return domain.HeldSale{}, notFound(id)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrExternal):
		return domain.HeldSale{}, err
	default:
		return domain.HeldSale{}, domain.External("resume held sale", err)
	}
}

func (r *Redis) Discard(ctx context.Context, branchID string, terminalID string, id string) error {
	_, err := r.Resume(ctx, branchID, terminalID, id)
	return err
}
