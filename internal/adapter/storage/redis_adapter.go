package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	productListKey           = "products_list"
	productListGenerationKey = "products_list:gen"
	productListTTL           = 10 * time.Minute
	idempotencyKeyTTL        = 24 * time.Hour
	notificationQueueKey     = "queue:order_confirmed"
	queuePollTimeout         = time.Second
)

// setProductListScript stores the listing only if no invalidation happened
// since the caller read the generation.
var setProductListScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if current ~= tonumber(ARGV[1]) then
	return 0
end

redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

var (
	_ port.ProductListCache       = (*RedisAdapter)(nil)
	_ port.IdempotencyStore       = (*RedisAdapter)(nil)
	_ port.NotificationDispatcher = (*RedisAdapter)(nil)
	_ port.NotificationSource     = (*RedisAdapter)(nil)
)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetProductList(ctx context.Context) ([]domain.Product, int64, bool, error) {
	values, err := r.client.MGet(ctx, productListKey, productListGenerationKey).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("get product list: %w", err)
	}

	var generation int64
	if raw, ok := values[1].(string); ok {
		generation, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, false, fmt.Errorf("parse list generation: %w", err)
		}
	}

	raw, ok := values[0].(string)
	if !ok {
		return nil, generation, false, nil
	}

	var products []domain.Product
	if err := json.Unmarshal([]byte(raw), &products); err != nil {
		return nil, generation, false, fmt.Errorf("decode product list: %w", err)
	}
	return products, generation, true, nil
}

func (r *RedisAdapter) SetProductList(ctx context.Context, generation int64, products []domain.Product) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("encode product list: %w", err)
	}

	keys := []string{productListKey, productListGenerationKey}
	ttl := int64(productListTTL / time.Second)
	if err := setProductListScript.Run(ctx, r.client, keys, generation, payload, ttl).Err(); err != nil {
		return fmt.Errorf("set product list: %w", err)
	}
	return nil
}

func (r *RedisAdapter) InvalidateProductList(ctx context.Context) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, productListGenerationKey)
		pipe.Del(ctx, productListKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate product list: %w", err)
	}
	return nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Dispatch(ctx context.Context, event domain.OrderConfirmedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.LPush(ctx, notificationQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Receive blocks until an event is queued or ctx is done.
func (r *RedisAdapter) Receive(ctx context.Context) (domain.OrderConfirmedEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.OrderConfirmedEvent{}, err
		}

		result, err := r.client.BRPop(ctx, queuePollTimeout, notificationQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.OrderConfirmedEvent{}, ctx.Err()
			}
			return domain.OrderConfirmedEvent{}, fmt.Errorf("pop event: %w", err)
		}

		var event domain.OrderConfirmedEvent
		if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
			return domain.OrderConfirmedEvent{}, fmt.Errorf("decode event: %w", err)
		}
		return event, nil
	}
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
