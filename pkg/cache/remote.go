package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/terracache/terracache/internal/circuit"
)

// metaSuffix namespaces the metadata record kept next to each L2 value.
const metaSuffix = ":meta"

// remoteTier is the networked L2 cache. Every failure degrades to a miss
// or no-op; nothing propagates to callers. Availability is governed by a
// circuit breaker: open means silent no-ops, and after the open timeout a
// half-open probe rides the next operation and can restore the tier.
// An empty endpoint constructs a permanently disabled tier.
type remoteTier struct {
	client    *redis.Client
	breaker   *circuit.Breaker
	keyPrefix string
	opTimeout time.Duration
	logger    *zap.Logger

	// touches tracks fire-and-forget metadata updates so close can wait
	// for them.
	touches sync.WaitGroup
}

func newRemoteTier(config *L2Config, logger *zap.Logger) *remoteTier {
	t := &remoteTier{
		keyPrefix: config.KeyPrefix,
		opTimeout: config.OpTimeout,
		logger:    logger,
	}

	if config.Endpoint == "" {
		logger.Info("no endpoint configured, tier disabled")
		return t
	}

	t.breaker = circuit.New(circuit.Config{
		FailureThreshold: 5,
		OpenTimeout:      config.ReopenInterval,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(from, to circuit.State) {
			logger.Warn("availability changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	t.client = redis.NewClient(&redis.Options{
		Addr:         config.Endpoint,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.OpTimeout,
		ReadTimeout:  config.OpTimeout,
		WriteTimeout: config.OpTimeout,
	})

	probeCtx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	defer cancel()
	if err := t.client.Ping(probeCtx).Err(); err != nil {
		logger.Warn("connectivity probe failed, starting unavailable", zap.Error(err))
		t.breaker.Trip()
	} else {
		logger.Info("connected", zap.String("endpoint", config.Endpoint))
	}

	return t
}

// configured reports whether an endpoint was ever supplied.
func (t *remoteTier) configured() bool {
	return t.client != nil
}

// available reports whether operations currently reach the server.
func (t *remoteTier) available() bool {
	return t.configured() && t.breaker.State() != circuit.StateOpen
}

// get returns the stored bytes for key. Hits trigger a fire-and-forget
// accessed_at update on the metadata record.
func (t *remoteTier) get(ctx context.Context, key string) ([]byte, bool) {
	if !t.configured() {
		return nil, false
	}

	var data []byte
	err := t.breaker.Do(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
		defer cancel()

		b, err := t.client.Get(opCtx, t.keyPrefix+key).Bytes()
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		t.logDegraded("get", key, err)
		return nil, false
	}

	t.touchMeta(key)
	return data, true
}

// set stores data under key with a server-side expiry (ttl 0 means none)
// and writes the metadata record beside it.
func (t *remoteTier) set(ctx context.Context, key string, data []byte, ttl time.Duration) bool {
	if !t.configured() {
		return false
	}

	err := t.breaker.Do(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
		defer cancel()

		fullKey := t.keyPrefix + key
		if err := t.client.Set(opCtx, fullKey, data, ttl).Err(); err != nil {
			return err
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		metaKey := fullKey + metaSuffix
		if err := t.client.HSet(opCtx, metaKey,
			"created_at", now,
			"accessed_at", now,
			"size_bytes", len(data),
		).Err(); err != nil {
			return err
		}
		if ttl > 0 {
			return t.client.Expire(opCtx, metaKey, ttl).Err()
		}
		return nil
	})
	if err != nil {
		t.logDegraded("set", key, err)
		return false
	}
	return true
}

// delete removes the value and its metadata record, reporting whether the
// value existed.
func (t *remoteTier) delete(ctx context.Context, key string) bool {
	if !t.configured() {
		return false
	}

	var existed bool
	err := t.breaker.Do(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
		defer cancel()

		fullKey := t.keyPrefix + key
		n, err := t.client.Del(opCtx, fullKey).Result()
		if err != nil {
			return err
		}
		existed = n > 0
		return t.client.Del(opCtx, fullKey+metaSuffix).Err()
	})
	if err != nil {
		t.logDegraded("delete", key, err)
		return false
	}
	return existed
}

// clear sweeps every key under the configured prefix. Never a server
// flush.
func (t *remoteTier) clear(ctx context.Context) {
	if !t.configured() {
		return
	}

	err := t.breaker.Do(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
		defer cancel()

		keys, err := t.client.Keys(opCtx, t.keyPrefix+"*").Result()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return t.client.Del(opCtx, keys...).Err()
	})
	if err != nil {
		t.logDegraded("clear", "", err)
	}
}

// ping checks connectivity outside the breaker, for health snapshots.
func (t *remoteTier) ping(ctx context.Context, timeout time.Duration) error {
	if !t.configured() {
		return errors.New("not configured")
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.client.Ping(opCtx).Err()
}

// close waits for in-flight metadata touches and closes the client.
func (t *remoteTier) close() error {
	if !t.configured() {
		return nil
	}
	t.touches.Wait()
	return t.client.Close()
}

// touchMeta updates the metadata record's accessed_at without blocking the
// read path.
func (t *remoteTier) touchMeta(key string) {
	t.touches.Add(1)
	go func() {
		defer t.touches.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.opTimeout)
		defer cancel()

		metaKey := t.keyPrefix + key + metaSuffix
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if err := t.client.HSet(ctx, metaKey, "accessed_at", now).Err(); err != nil {
			t.logger.Debug("metadata touch failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

func (t *remoteTier) logDegraded(op, key string, err error) {
	switch {
	case errors.Is(err, redis.Nil):
		// Ordinary miss.
	case errors.Is(err, circuit.ErrOpen), errors.Is(err, circuit.ErrTooManyProbes):
		t.logger.Debug("short-circuited", zap.String("op", op))
	default:
		t.logger.Warn("operation degraded",
			zap.String("op", op),
			zap.String("key", key),
			zap.Error(err))
	}
}
