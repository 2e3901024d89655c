package repository

import (
	"context"
	"encoding/json"

	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisRecordRepo keeps a capped list of recent resolved records so several
// bridge instances can share one view of client errors.
type RedisRecordRepo struct {
	client  *redis.Client
	listKey string
	listMax int
}

func NewRedisRecordRepo(client *redis.Client, listKey string, listMax int) *RedisRecordRepo {
	if listKey == "" {
		listKey = "client_logs"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisRecordRepo{
		client:  client,
		listKey: listKey,
		listMax: listMax,
	}
}

// Log implements sink.Sink.
func (r *RedisRecordRepo) Log(ctx context.Context, rec *model.LogRecord) error {
	if rec == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.listKey, payload)
	pipe.LTrim(ctx, r.listKey, 0, int64(r.listMax-1))
	_, err = pipe.Exec(ctx)
	return err
}

// List returns up to limit records at or above minLevel, newest first.
func (r *RedisRecordRepo) List(ctx context.Context, limit int, minLevel model.Level) ([]*model.LogRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	fetch := limit * 5
	if fetch < 100 {
		fetch = 100
	}
	if fetch > r.listMax {
		fetch = r.listMax
	}
	items, err := r.client.LRange(ctx, r.listKey, 0, int64(fetch-1)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	results := make([]*model.LogRecord, 0, limit)
	for _, raw := range items {
		var rec model.LogRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.Level < minLevel {
			continue
		}
		results = append(results, &rec)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}
