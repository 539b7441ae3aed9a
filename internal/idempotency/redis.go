package idempotency

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
)

const (
	fieldState       = "state"
	fieldStatus      = "status"
	fieldContentType = "content_type"
	fieldBody        = "body"

	statePending = "pending"
	stateDone    = "done"
)

// reserveScript claims a key and sets its expiry atomically.
var reserveScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	return 1
end
return 0
`)

var _ Store = (*Redis)(nil)

// Redis implements Store with one hash per key.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis creates a Redis store. Keys are namespaced with prefix.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Reserve(ctx context.Context, key string, ttl time.Duration) (*Response, error) {
	k := r.key(key)

	claimed, err := reserveScript.Run(ctx, r.rdb, []string{k}, fieldState, statePending, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, errors.Wrap(err, "reserve")
	}
	if claimed == 1 {
		return nil, nil
	}

	vals, err := r.rdb.HGetAll(ctx, k).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load response")
	}
	if vals[fieldState] != stateDone {
		return nil, ErrInProgress
	}
	status, err := strconv.Atoi(vals[fieldStatus])
	if err != nil {
		return nil, errors.Wrap(err, "parse status")
	}
	return &Response{
		Status:      status,
		ContentType: vals[fieldContentType],
		Body:        []byte(vals[fieldBody]),
	}, nil
}

func (r *Redis) Save(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	k := r.key(key)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k,
			fieldState, stateDone,
			fieldStatus, resp.Status,
			fieldContentType, resp.ContentType,
			fieldBody, resp.Body,
		)
		p.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "save response")
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrap(err, "release")
	}
	return nil
}
