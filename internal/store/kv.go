package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Settings keys persisted in Redis. Values are strings; list values are
// JSON-encoded arrays.
const (
	KeyRetentionPolicy       = "settings:media_retention_policy"
	KeyRetentionCronInterval = "settings:media_retention_cron_interval"
	KeyCacheCapacityGB       = "settings:media_cache_capacity_gb"
	KeyASRPriority           = "settings:asr_priority"
	KeyASRStrictMode         = "settings:asr_strict_mode"
	KeyASRActiveEngine       = "settings:asr_active_engine"
	KeyASRDisabledEngines    = "settings:asr_disabled_engines"
)

// Settings reads and writes runtime-tunable configuration from Redis.
// Missing keys fall back to caller-supplied defaults so a fresh deployment
// works without seeding.
type Settings struct {
	rdb *redis.Client
}

func NewSettings(rdb *redis.Client) *Settings {
	return &Settings{rdb: rdb}
}

// GetString returns the value for key, or def when the key is unset.
func (s *Settings) GetString(ctx context.Context, key, def string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return val, nil
}

// SetString stores the value for key.
func (s *Settings) SetString(ctx context.Context, key, val string) error {
	if err := s.rdb.Set(ctx, key, val, 0).Err(); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// GetFloat returns the value for key parsed as a float, or def when the key
// is unset or unparseable.
func (s *Settings) GetFloat(ctx context.Context, key string, def float64) (float64, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	f, perr := strconv.ParseFloat(val, 64)
	if perr != nil {
		return def, nil
	}
	return f, nil
}

// SetFloat stores a float value for key.
func (s *Settings) SetFloat(ctx context.Context, key string, val float64) error {
	return s.SetString(ctx, key, strconv.FormatFloat(val, 'f', -1, 64))
}

// GetBool returns the value for key parsed as a bool, or def when unset.
func (s *Settings) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	b, perr := strconv.ParseBool(val)
	if perr != nil {
		return def, nil
	}
	return b, nil
}

// SetBool stores a bool value for key.
func (s *Settings) SetBool(ctx context.Context, key string, val bool) error {
	return s.SetString(ctx, key, strconv.FormatBool(val))
}

// GetStrings returns the JSON-encoded string list stored at key, or def.
func (s *Settings) GetStrings(ctx context.Context, key string, def []string) ([]string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	var out []string
	if jerr := json.Unmarshal([]byte(val), &out); jerr != nil {
		return def, nil
	}
	return out, nil
}

// SetStrings stores a string list as JSON at key.
func (s *Settings) SetStrings(ctx context.Context, key string, vals []string) error {
	data, err := json.Marshal(vals)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	return s.SetString(ctx, key, string(data))
}

// Delete removes a setting so reads fall back to the default again.
func (s *Settings) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}
