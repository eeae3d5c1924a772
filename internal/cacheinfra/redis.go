package cacheinfra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goliatone/go-smartcache/cache"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultRedisPrefix namespaces every key the Redis store writes.
const DefaultRedisPrefix = "smartcache"

// redisDeleteBatch bounds how many rows a single Delete transaction touches.
const redisDeleteBatch = 500

// RedisConfig holds the configuration for the Redis record store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// DefaultRedisConfig returns a config pointing at a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: DefaultRedisPrefix,
	}
}

// Validate checks the connection settings.
func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.Prefix, validation.Required),
	)
}

// redisRow is the msgpack envelope stored under entry:<id>.
type redisRow struct {
	ID        string `msgpack:"id"`
	SubjectID string `msgpack:"subject_id"`
	Source    string `msgpack:"source"`
	Payload   []byte `msgpack:"payload"`
	UpdatedAt int64  `msgpack:"updated_at"`
}

func (r redisRow) entry() cache.Entry {
	return cache.Entry{
		ID:        r.ID,
		SubjectID: r.SubjectID,
		Source:    r.Source,
		Payload:   json.RawMessage(r.Payload),
		UpdatedAt: time.UnixMicro(r.UpdatedAt).UTC(),
	}
}

// RedisStore keeps one msgpack encoded row per entry plus sorted-set indexes:
//
//	<prefix>:entry:<id>                 row
//	<prefix>:idx:<subject>::<source>    ZSET of ids scored by updated_at (unix micros)
//	<prefix>:subject:<subject>          SET of sources seen for the subject
//	<prefix>:updated                    ZSET of every id scored by updated_at
//
// A row and its index memberships are always written in one MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

var _ cache.Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and pings it before returning.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return NewRedisStoreFromClient(rdb, cfg.Prefix, logger), nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes ownership
// of the client and closes it in Close.
func NewRedisStoreFromClient(client *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "RedisStore").Logger(),
	}
}

func (s *RedisStore) entryKey(id string) string {
	return s.prefix + ":entry:" + id
}

func (s *RedisStore) indexKey(subjectID, source string) string {
	return s.prefix + ":idx:" + cache.EntryKey(subjectID, source)
}

func (s *RedisStore) subjectKey(subjectID string) string {
	return s.prefix + ":subject:" + cache.SubjectKeyPrefix(subjectID)
}

func (s *RedisStore) updatedKey() string {
	return s.prefix + ":updated"
}

// FindLatest implements cache.Store. Index members whose row is gone are
// pruned and skipped, so an older live row still surfaces.
func (s *RedisStore) FindLatest(ctx context.Context, subjectID, source string) (cache.Entry, bool, error) {
	idx := s.indexKey(subjectID, source)
	for {
		ids, err := s.client.ZRevRange(ctx, idx, 0, 0).Result()
		if err != nil {
			return cache.Entry{}, false, fmt.Errorf("redis index lookup: %w", err)
		}
		if len(ids) == 0 {
			return cache.Entry{}, false, nil
		}

		row, err := s.loadRow(ctx, s.client.Get, ids[0])
		if errors.Is(err, redis.Nil) {
			s.logger.Debug().Str("id", ids[0]).Msg("Index points at a missing row.")
			if err := s.pruneOrphans(ctx, []redisCandidate{{id: ids[0], index: idx}}); err != nil {
				return cache.Entry{}, false, err
			}
			continue
		}
		if err != nil {
			return cache.Entry{}, false, err
		}
		return row.entry(), true, nil
	}
}

// Insert implements cache.Store.
func (s *RedisStore) Insert(ctx context.Context, entry cache.Entry) (cache.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UpdatedAt = cache.Normalize(entry.UpdatedAt)
	row := redisRow{
		ID:        entry.ID,
		SubjectID: entry.SubjectID,
		Source:    entry.Source,
		Payload:   append([]byte(nil), entry.Payload...),
		UpdatedAt: entry.UpdatedAt.UnixMicro(),
	}
	data, err := msgpack.Marshal(row)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("encode redis row: %w", err)
	}

	key := s.entryKey(row.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("row %s already exists", row.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.index(ctx, pipe, row)
			pipe.SAdd(ctx, s.subjectKey(row.SubjectID), row.Source)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("redis insert: %w", err)
	}

	s.logger.Debug().Str("id", row.ID).Str("key", cache.EntryKey(row.SubjectID, row.Source)).Msg("Inserted cache row.")
	return row.entry(), nil
}

// Update implements cache.Store. The row is watched so a concurrent delete
// makes the update fail instead of resurrecting it.
func (s *RedisStore) Update(ctx context.Context, entry cache.Entry) error {
	if entry.ID == "" {
		return errors.New("redis update: entry has no id")
	}
	key := s.entryKey(entry.ID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		row, err := s.loadRow(ctx, tx.Get, entry.ID)
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis update: row %s not found", entry.ID)
		}
		if err != nil {
			return err
		}

		row.Payload = append([]byte(nil), entry.Payload...)
		row.UpdatedAt = cache.Normalize(entry.UpdatedAt).UnixMicro()
		data, err := msgpack.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode redis row: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.index(ctx, pipe, row)
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis update: %w", err)
		}
		return nil
	}, key)
}

// Delete implements cache.Store.
func (s *RedisStore) Delete(ctx context.Context, filter cache.Filter) error {
	if filter.IsEmpty() {
		return cache.ErrEmptyFilter
	}

	found, err := s.candidates(ctx, filter)
	if err != nil {
		return err
	}

	deleted := 0
	for start := 0; start < len(found); start += redisDeleteBatch {
		end := min(start+redisDeleteBatch, len(found))
		n, err := s.deleteBatch(ctx, found[start:end], filter)
		if err != nil {
			return err
		}
		deleted += n
	}

	s.logger.Debug().Int("deleted", deleted).Str("subject_id", filter.SubjectID).Str("source", filter.Source).
		Msg("Deleted cache rows.")
	return nil
}

// redisCandidate is an id found in an index. index is the per-key ZSET it came
// from, empty when it was found through the global age index.
type redisCandidate struct {
	id    string
	index string
}

// candidates narrows the ids a filter can match using the indexes. Rows are
// re-checked against the filter before deletion.
func (s *RedisStore) candidates(ctx context.Context, filter cache.Filter) ([]redisCandidate, error) {
	byScore := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.UpdatedBefore.IsZero() {
		byScore.Max = "(" + strconv.FormatInt(cache.Normalize(filter.UpdatedBefore).UnixMicro(), 10)
	}

	if filter.SubjectID == "" {
		ids, err := s.client.ZRangeByScore(ctx, s.updatedKey(), byScore).Result()
		if err != nil {
			return nil, fmt.Errorf("redis age index lookup: %w", err)
		}
		found := make([]redisCandidate, len(ids))
		for i, id := range ids {
			found[i] = redisCandidate{id: id}
		}
		return found, nil
	}

	sources := []string{filter.Source}
	if filter.Source == "" {
		var err error
		sources, err = s.client.SMembers(ctx, s.subjectKey(filter.SubjectID)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis subject lookup: %w", err)
		}
	}

	var found []redisCandidate
	for _, src := range sources {
		idx := s.indexKey(filter.SubjectID, src)
		ids, err := s.client.ZRangeByScore(ctx, idx, byScore).Result()
		if err != nil {
			return nil, fmt.Errorf("redis index lookup: %w", err)
		}
		for _, id := range ids {
			found = append(found, redisCandidate{id: id, index: idx})
		}
	}
	return found, nil
}

func (s *RedisStore) deleteBatch(ctx context.Context, batch []redisCandidate, filter cache.Filter) (int, error) {
	keys := make([]string, len(batch))
	for i, c := range batch {
		keys[i] = s.entryKey(c.id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis load rows: %w", err)
	}

	var rows []redisRow
	var orphans []redisCandidate
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			orphans = append(orphans, batch[i])
			continue
		}
		var row redisRow
		if err := msgpack.Unmarshal([]byte(raw), &row); err != nil {
			return 0, fmt.Errorf("decode redis row %s: %w", batch[i].id, err)
		}
		if filter.Matches(row.entry()) {
			rows = append(rows, row)
		}
	}
	if err := s.pruneOrphans(ctx, orphans); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	touched := make(map[[2]string]struct{})
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, row := range rows {
			pipe.Del(ctx, s.entryKey(row.ID))
			pipe.ZRem(ctx, s.indexKey(row.SubjectID, row.Source), row.ID)
			pipe.ZRem(ctx, s.updatedKey(), row.ID)
			touched[[2]string{row.SubjectID, row.Source}] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis delete: %w", err)
	}

	for pair := range touched {
		if err := s.dropEmptySource(ctx, pair[0], pair[1]); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// pruneOrphans removes ids whose row no longer exists from the age index and,
// when known, from the per-key index they were found in.
func (s *RedisStore) pruneOrphans(ctx context.Context, orphans []redisCandidate) error {
	if len(orphans) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range orphans {
			pipe.ZRem(ctx, s.updatedKey(), o.id)
			if o.index != "" {
				pipe.ZRem(ctx, o.index, o.id)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis prune index: %w", err)
	}
	return nil
}

func (s *RedisStore) dropEmptySource(ctx context.Context, subjectID, source string) error {
	n, err := s.client.ZCard(ctx, s.indexKey(subjectID, source)).Result()
	if err != nil {
		return fmt.Errorf("redis index size: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := s.client.SRem(ctx, s.subjectKey(subjectID), source).Err(); err != nil {
		return fmt.Errorf("redis subject cleanup: %w", err)
	}
	return nil
}

func (s *RedisStore) index(ctx context.Context, pipe redis.Pipeliner, row redisRow) {
	score := float64(row.UpdatedAt)
	pipe.ZAdd(ctx, s.indexKey(row.SubjectID, row.Source), redis.Z{Score: score, Member: row.ID})
	pipe.ZAdd(ctx, s.updatedKey(), redis.Z{Score: score, Member: row.ID})
}

func (s *RedisStore) loadRow(ctx context.Context, get func(context.Context, string) *redis.StringCmd, id string) (redisRow, error) {
	data, err := get(ctx, s.entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redisRow{}, err
		}
		return redisRow{}, fmt.Errorf("redis load row %s: %w", id, err)
	}
	var row redisRow
	if err := msgpack.Unmarshal(data, &row); err != nil {
		return redisRow{}, fmt.Errorf("decode redis row %s: %w", id, err)
	}
	return row, nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.client.Close()
	}
	return nil
}
