package credstore

import (
	"context"

	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisFieldToken      = "token"
	redisFieldCustomerID = "customerId"
)

// RedisOptions configures the redis store.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// Redis keeps the session in a redis hash.
type Redis struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// OpenRedis connects to redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storageError("connect to", err)
	}
	return NewRedis(client, opts.Key, logger), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, key string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = constants.DefaultRedisKey
	}
	return &Redis{client: client, key: key, logger: logger}
}

func (r *Redis) Load(ctx context.Context) (Credentials, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Credentials{}, storageError("read", err)
	}
	return Credentials{
		Token:      values[redisFieldToken],
		CustomerID: values[redisFieldCustomerID],
	}, nil
}

func (r *Redis) Save(ctx context.Context, creds Credentials) error {
	if err := checkSave(creds); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.HSet(ctx, r.key, redisFieldToken, creds.Token, redisFieldCustomerID, creds.CustomerID)
		return nil
	})
	if err != nil {
		return storageError("save", err)
	}
	r.logger.Debug("saved session",
		zap.String("op", "credstore.Redis.Save"),
		zap.String("key", r.key),
	)
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return storageError("clear", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
