package sessionstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"moff.io/moff-wallet/internal/config"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

const redisKeyPrefix = "moff:wallet:session:"

// RedisStore keeps the session in one redis string, expiring after ttl when ttl is set.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore connects to redis and checks the connection with a ping.
func NewRedisStore(ctx context.Context, cred *config.DBCredential, key string, ttl time.Duration) (*RedisStore, error) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%v:%v", cred.Address, cred.Port),
		Password: cred.Password,
		DB:       int(db),
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.WrapAndReport(err, "ping to redis")
	}
	log.Infof("Connected to redis session store %v", cred.GetRedisAddress())
	return NewRedisStoreWithClient(client, key, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: redisKeyPrefix + key, ttl: ttl}
}

// Client exposes the connection so the control api can share it for rate limiting.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) Load(ctx context.Context) (string, bool, error) {
	session, err := r.client.Get(ctx, r.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WrapAndReport(err, "get session from redis")
	}
	return session, true, nil
}

func (r *RedisStore) Save(ctx context.Context, session string) error {
	return errors.WrapAndReport(r.client.Set(ctx, r.key, session, r.ttl).Err(), "save session to redis")
}

func (r *RedisStore) Delete(ctx context.Context) (bool, error) {
	n, err := r.client.Del(ctx, r.key).Result()
	if err != nil {
		return false, errors.WrapAndReport(err, "delete session from redis")
	}
	return n > 0, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
