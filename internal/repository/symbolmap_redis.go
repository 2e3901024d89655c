package repository

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/logbridge/internal/symbols"
	"github.com/redis/go-redis/v9"
)

// RedisSymbolSource serves symbol maps uploaded to Redis, one hash per
// permutation: field = obfuscated name, value = the remaining map columns.
type RedisSymbolSource struct {
	client *redis.Client
	prefix string
}

func NewRedisSymbolSource(client *redis.Client, prefix string) *RedisSymbolSource {
	if prefix == "" {
		prefix = "symbolmap"
	}
	return &RedisSymbolSource{client: client, prefix: prefix}
}

func (s *RedisSymbolSource) key(permutation string) string {
	return s.prefix + ":" + permutation
}

func (s *RedisSymbolSource) Name() string { return "redis:" + s.prefix }

func (s *RedisSymbolSource) Validate(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSymbolSource) Load(ctx context.Context, permutation string) (*symbols.SymbolMap, error) {
	fields, err := s.client.HGetAll(ctx, s.key(permutation)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.key(permutation), err)
	}
	if len(fields) == 0 {
		return nil, symbols.ErrNotFound
	}
	entries := make(map[string]symbols.Symbol, len(fields))
	for name, value := range fields {
		sym, err := symbols.ParseEntry(value)
		if err != nil {
			return nil, fmt.Errorf("%s field %s: %w", s.key(permutation), name, err)
		}
		entries[name] = sym
	}
	return symbols.NewSymbolMap(permutation, s.Name(), entries), nil
}

// Store uploads m under its permutation, replacing any previous upload.
func (s *RedisSymbolSource) Store(ctx context.Context, m *symbols.SymbolMap) error {
	values := make(map[string]interface{}, m.Len())
	m.Each(func(key string, sym symbols.Symbol) {
		values[key] = symbols.FormatEntry(sym)
	})
	key := s.key(m.Permutation())
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.HSet(ctx, key, values)
	}
	_, err := pipe.Exec(ctx)
	return err
}
