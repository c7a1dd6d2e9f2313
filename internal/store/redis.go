package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
)

// KeyPrefix namespaces every proxy hash
const KeyPrefix = "proxyjudge:proxy:"

// RedisStore keeps one hash per proxy address
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects using a redis:// or rediss:// URL
func OpenRedis(dsn string) (*RedisStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, errors.NewStoreError(errors.ErrorStoreUnsupportedDSN, "invalid redis URL", "", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(address string) string {
	return KeyPrefix + address
}

func (s *RedisStore) Select(ctx context.Context, address string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, key(address)).Result()
	if err != nil {
		return nil, errors.NewStoreError(errors.ErrorStoreQueryFailed, "select proxy", address, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &Record{
		Address:   address,
		Username:  fields["username"],
		Password:  fields["password"],
		Anonymity: fields["anonymity"],
		Status:    Status(fields["status"]),
		Protocols: []string{},
	}
	rec.Private = rec.Username != "" || rec.Password != ""
	rec.Working, _ = strconv.ParseBool(fields["working"])
	rec.SSL, _ = strconv.ParseBool(fields["ssl"])
	if p := fields["protocols"]; p != "" {
		rec.Protocols = strings.Split(p, ",")
	}
	if ts := fields["last_checked"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.LastChecked = t
		}
	}
	return rec, nil
}

func (s *RedisStore) UpdateData(ctx context.Context, address string, update Update) error {
	values := map[string]interface{}{}
	if update.Username != nil {
		values["username"] = *update.Username
	}
	if update.Password != nil {
		values["password"] = *update.Password
	}
	if update.Working != nil {
		values["working"] = strconv.FormatBool(*update.Working)
	}
	if update.SSL != nil {
		values["ssl"] = strconv.FormatBool(*update.SSL)
	}
	if update.Protocols != nil {
		values["protocols"] = strings.Join(update.Protocols, ",")
	}
	if update.Anonymity != nil {
		values["anonymity"] = string(*update.Anonymity)
	}
	if !update.CheckedAt.IsZero() {
		values["last_checked"] = update.CheckedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(values) == 0 {
		return nil
	}
	return s.write(ctx, address, values)
}

func (s *RedisStore) UpdateStatus(ctx context.Context, address string, status Status) error {
	return s.write(ctx, address, map[string]interface{}{"status": string(status)})
}

func (s *RedisStore) write(ctx context.Context, address string, values map[string]interface{}) error {
	if err := s.client.HSet(ctx, key(address), values).Err(); err != nil {
		return errors.NewStoreError(errors.ErrorStoreWriteFailed, "write proxy", address, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
