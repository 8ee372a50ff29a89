package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "pullpay:subscriptions:"

// RedisLedger keeps one hash per payee with a JSON encoded record per payer
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger creates a ledger over an existing client
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{
		client: client,
		prefix: redisKeyPrefix,
	}
}

// NewRedisLedgerFromURL parses url, connects and verifies the connection
func NewRedisLedgerFromURL(ctx context.Context, url string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLedger(client), nil
}

// Client exposes the underlying client for health checks
func (l *RedisLedger) Client() *redis.Client {
	return l.client
}

// Close closes the underlying client
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) key(payee string) string {
	return l.prefix + payee
}

// Get retrieves a committed record
func (l *RedisLedger) Get(ctx context.Context, payee, payer string) (Record, bool, error) {
	raw, err := l.client.HGet(ctx, l.key(payee), payer).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	} else if err != nil {
		return Record{}, false, fmt.Errorf("redis hget failed: %w", err)
	}

	rec, err := decodeRedisRecord(raw)
	if err != nil {
		return Record{}, false, err
	}

	return rec, true, nil
}

// Set stores a record outside of any unit of work
func (l *RedisLedger) Set(ctx context.Context, payee, payer string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return l.client.HSet(ctx, l.key(payee), payer, data).Err()
}

// Subscribers lists the records held by payee
func (l *RedisLedger) Subscribers(ctx context.Context, payee string) ([]Entry, error) {
	all, err := l.client.HGetAll(ctx, l.key(payee)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	entries := make([]Entry, 0, len(all))
	for payer, raw := range all {
		rec, err := decodeRedisRecord(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Payee: payee, Payer: payer, Record: rec})
	}
	sortEntries(entries)

	return entries, nil
}

// Update runs fn against a buffered view and commits with WATCH/MULTI. The
// commit fails with ErrConflict if the stored value of any record fn read
// differs from the value fn saw. Values are compared, not versions, so a
// record rewritten with identical contents does not conflict.
func (l *RedisLedger) Update(ctx context.Context, fn UnitFunc) error {
	if parent, ok := unitFrom(ctx, l).(*overlay); ok {
		return runNested(ctx, l, parent, fn)
	}

	unitCtx, hooks := beginHooks(ctx)
	if err := l.update(unitCtx, fn); err != nil {
		return hooks.abort(ctx, err)
	}
	hooks.commit()
	return nil
}

func (l *RedisLedger) update(ctx context.Context, fn UnitFunc) error {
	reads := &redisReads{ledger: l, seen: make(map[recordKey]redisObservation)}
	unit := newOverlay(reads)
	if err := fn(withUnit(ctx, l, unit), unit); err != nil {
		return err
	}
	if len(unit.order) == 0 {
		return nil
	}

	keys := make([]string, 0, len(reads.seen)+len(unit.order))
	for k := range reads.seen {
		keys = append(keys, l.key(k.payee))
	}
	for _, k := range unit.order {
		keys = append(keys, l.key(k.payee))
	}

	err := l.client.Watch(ctx, func(rtx *redis.Tx) error {
		for k, obs := range reads.seen {
			raw, err := rtx.HGet(ctx, l.key(k.payee), k.payer).Result()
			exists := err == nil
			if err != nil && err != redis.Nil {
				return fmt.Errorf("redis hget failed: %w", err)
			}
			if exists != obs.exists || raw != obs.raw {
				return ErrConflict
			}
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range unit.order {
				data, err := json.Marshal(unit.writes[k])
				if err != nil {
					return fmt.Errorf("failed to marshal record: %w", err)
				}
				pipe.HSet(ctx, l.key(k.payee), k.payer, data)
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

type redisObservation struct {
	raw    string
	exists bool
}

// redisReads records the raw value of every key read during a unit
type redisReads struct {
	ledger *RedisLedger
	seen   map[recordKey]redisObservation
}

func (r *redisReads) Get(ctx context.Context, payee, payer string) (Record, bool, error) {
	raw, err := r.ledger.client.HGet(ctx, r.ledger.key(payee), payer).Result()
	if err == redis.Nil {
		r.seen[recordKey{payee, payer}] = redisObservation{}
		return Record{}, false, nil
	} else if err != nil {
		return Record{}, false, fmt.Errorf("redis hget failed: %w", err)
	}

	r.seen[recordKey{payee, payer}] = redisObservation{raw: raw, exists: true}
	rec, err := decodeRedisRecord(raw)
	if err != nil {
		return Record{}, false, err
	}

	return rec, true, nil
}

func (r *redisReads) Set(ctx context.Context, payee, payer string, rec Record) error {
	return errors.New("ledger: direct write during unit of work")
}

func decodeRedisRecord(raw string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}
