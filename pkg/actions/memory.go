package actions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryKeyPrefix prefixes every cross-instance memory key.
const MemoryKeyPrefix = "TRACARDI-USER-MEMORY-"

// MemoryClient is the subset of a Redis client the memory plugins use.
// *redis.Client satisfies it.
type MemoryClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

type readFromMemoryConfig struct {
	Key string `json:"key" validate:"required"`
}

// readFromMemory reads a value stored by write_to_memory.
type readFromMemory struct {
	client MemoryClient
	key    string
}

func newReadFromMemory(client MemoryClient) Factory {
	return func(init map[string]interface{}) (Action, error) {
		var cfg readFromMemoryConfig
		if err := decodeInit(init, &cfg); err != nil {
			return nil, err
		}
		return &readFromMemory{client: client, key: cfg.Key}, nil
	}
}

func (a *readFromMemory) Run(ctx context.Context, in *Context) (Result, error) {
	key, err := memoryKey(in, a.key)
	if err != nil {
		return failure(err), nil
	}

	raw, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return failure(fmt.Errorf("no value stored under %s", key)), nil
	}
	if err != nil {
		return failure(err), nil
	}

	value, err := decodeMemory(raw)
	if err != nil {
		return failure(err), nil
	}
	return Result{Port: PortSuccess, Value: map[string]interface{}{"value": value}}, nil
}

type writeToMemoryConfig struct {
	Key   string      `json:"key" validate:"required"`
	Value interface{} `json:"value"`
	TTL   int         `json:"ttl" validate:"gte=0"`
}

// writeToMemory stores a value for read_from_memory, optionally with a TTL in
// seconds.
type writeToMemory struct {
	client MemoryClient
	key    string
	value  interface{}
	ttl    time.Duration
}

func newWriteToMemory(client MemoryClient) Factory {
	return func(init map[string]interface{}) (Action, error) {
		var cfg writeToMemoryConfig
		if err := decodeInit(init, &cfg); err != nil {
			return nil, err
		}
		if _, ok := init["value"]; !ok {
			return nil, fmt.Errorf("value is required")
		}
		return &writeToMemory{
			client: client,
			key:    cfg.Key,
			value:  cfg.Value,
			ttl:    time.Duration(cfg.TTL) * time.Second,
		}, nil
	}
}

func (a *writeToMemory) Run(ctx context.Context, in *Context) (Result, error) {
	key, err := memoryKey(in, a.key)
	if err != nil {
		return failure(err), nil
	}

	dot, err := in.Dot()
	if err != nil {
		return Result{}, err
	}
	value, err := dot.Resolve(a.value)
	if err != nil {
		return failure(err), nil
	}

	encoded, err := encodeMemory(value)
	if err != nil {
		return failure(err), nil
	}

	if err := a.client.Set(ctx, key, encoded, a.ttl).Err(); err != nil {
		return failure(err), nil
	}
	return Result{Port: PortSuccess, Value: in.Payload}, nil
}

// memoryKey resolves the configured key reference to a Redis key.
func memoryKey(in *Context, ref string) (string, error) {
	dot, err := in.Dot()
	if err != nil {
		return "", err
	}
	v, err := dot.Get(ref)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", fmt.Errorf("memory key %s is empty", ref)
	}
	return MemoryKeyPrefix + fmt.Sprint(v), nil
}

func encodeMemory(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode memory value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeMemory(raw string) (interface{}, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode memory value: %w", err)
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data), nil
	}
	return v, nil
}
