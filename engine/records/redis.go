package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

const keyPrefix = "pricing:"

// RedisStore keeps records in Redis. Supersede runs under WATCH on the
// key's active pointer, so a racing Put aborts with ErrWriteConflict.
//
// Keys:
//
//	pricing:rec:{id}                 record JSON
//	pricing:active:{item}:{hash}     id of the active record
//	pricing:history:{item}           sorted set of ids scored by research time
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore wraps rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisStore(rdb), nil
}

func recKey(id string) string              { return keyPrefix + "rec:" + id }
func activeKey(itemID, hash string) string { return keyPrefix + "active:" + itemID + ":" + hash }
func historyKey(itemID string) string      { return keyPrefix + "history:" + itemID }

func (s *RedisStore) Active(ctx context.Context, itemID, contextHash string) (domain.ResearchRecord, error) {
	id, err := s.rdb.Get(ctx, activeKey(itemID, contextHash)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ResearchRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ResearchRecord{}, fmt.Errorf("load active pointer: %w", err)
	}
	return s.load(ctx, s.rdb, id)
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, id string) (domain.ResearchRecord, error) {
	var r domain.ResearchRecord
	b, err := c.Get(ctx, recKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return r, domain.ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("load record %s: %w", id, err)
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode record %s: %w", id, err)
	}
	return r, nil
}

func (s *RedisStore) Put(ctx context.Context, rec domain.ResearchRecord) (domain.ResearchRecord, error) {
	rec = prepare(rec, s.now())
	body, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("encode record: %w", err)
	}
	ak := activeKey(rec.ItemID, rec.ContextHash)

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var prev []byte
		prevID, err := tx.Get(ctx, ak).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			old, err := s.load(ctx, tx, prevID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if err == nil {
				old.IsActive = false
				if prev, err = json.Marshal(old); err != nil {
					return err
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if prev != nil {
				p.Set(ctx, recKey(prevID), prev, 0)
			}
			p.Set(ctx, recKey(rec.ID), body, 0)
			p.Set(ctx, ak, rec.ID, 0)
			p.ZAdd(ctx, historyKey(rec.ItemID), redis.Z{Score: float64(rec.ResearchDate.UnixMilli()), Member: rec.ID})
			return nil
		})
		return err
	}, ak)
	if errors.Is(err, redis.TxFailedErr) {
		return rec, fmt.Errorf("supersede %s: %w", ak, domain.ErrWriteConflict)
	}
	if err != nil {
		return rec, fmt.Errorf("put record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) History(ctx context.Context, itemID string, limit int) ([]domain.ResearchRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.rdb.ZRevRange(ctx, historyKey(itemID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("load history index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]domain.ResearchRecord, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r domain.ResearchRecord
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", ids[i], err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
