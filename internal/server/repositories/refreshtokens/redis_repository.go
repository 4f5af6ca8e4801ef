package refreshtokens

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisRetention keeps records past their expiry so a replayed rotated
// credential is still recognised.
const DefaultRedisRetention = 24 * time.Hour

const (
	rotateStatusNotFound = iota
	rotateStatusRevoked
	rotateStatusExpired
	rotateStatusRotated
)

// KEYS[1] old token hash, KEYS[2] new token hash.
// ARGV: now_ms, new_id, new_fp, new_encrypted, issued_ms, expires_ms,
// keep_until_ms, user_prefix, user_ttl_ms.
const rotateScript = `
local old_key = KEYS[1]
local new_key = KEYS[2]
local now_ms = tonumber(ARGV[1])

if redis.call("EXISTS", old_key) == 0 then
  return {0}
end

local vals = redis.call("HMGET", old_key, "revoked", "expires_at", "user_id")
if vals[1] == "1" then
  return {1}
end
local expires_ms = tonumber(vals[2])
if not expires_ms or expires_ms <= now_ms then
  return {2}
end

local user_id = vals[3]
redis.call("HSET", old_key, "revoked", "1", "revoked_at", ARGV[1], "replaced_by", ARGV[2])
redis.call("HSET", new_key,
  "id", ARGV[2],
  "user_id", user_id,
  "fingerprint", ARGV[3],
  "encrypted_token", ARGV[4],
  "issued_at", ARGV[5],
  "expires_at", ARGV[6],
  "revoked", "0")
redis.call("PEXPIREAT", new_key, ARGV[7])

local user_key = ARGV[8] .. user_id
redis.call("SADD", user_key, ARGV[3])
if redis.call("PTTL", user_key) < tonumber(ARGV[9]) then
  redis.call("PEXPIRE", user_key, ARGV[9])
end

return {3, user_id}
`

// KEYS[1] token hash. ARGV[1] now_ms.
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1])
return 1
`

// KEYS[1] user set. ARGV[1] now_ms, ARGV[2] token prefix.
const revokeAllScript = `
local changed = 0
local fps = redis.call("SMEMBERS", KEYS[1])
for _, fp in ipairs(fps) do
  local key = ARGV[2] .. fp
  if redis.call("EXISTS", key) == 0 then
    redis.call("SREM", KEYS[1], fp)
  elseif redis.call("HGET", key, "revoked") ~= "1" then
    redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[1])
    changed = changed + 1
  end
end
return changed
`

var (
	rotateLua    = redis.NewScript(rotateScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

// RedisRepository keeps each credential in a hash keyed by fingerprint plus a
// per-user set of fingerprints for bulk revocation. State changes run as Lua
// scripts so each one is atomic on the server.
type RedisRepository struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisRepository(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "rentkeeper"
	}
	if retention <= 0 {
		retention = DefaultRedisRetention
	}
	return &RedisRepository{rdb: rdb, prefix: prefix, retention: retention}
}

func (r *RedisRepository) tokenPrefix() string { return r.prefix + ":rt:" }
func (r *RedisRepository) userPrefix() string  { return r.prefix + ":rtu:" }

func (r *RedisRepository) tokenKey(fp string) string { return r.tokenPrefix() + fp }
func (r *RedisRepository) userKey(id string) string  { return r.userPrefix() + id }

func (r *RedisRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	keepUntil := t.ExpiresAt.Add(r.retention)
	key := r.tokenKey(t.Fingerprint)
	userKey := r.userKey(t.UserID)

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", t.ID,
			"user_id", t.UserID,
			"fingerprint", t.Fingerprint,
			"encrypted_token", t.EncryptedToken,
			"issued_at", t.IssuedAt.UnixMilli(),
			"expires_at", t.ExpiresAt.UnixMilli(),
			"revoked", "0",
		)
		pipe.PExpireAt(ctx, key, keepUntil)
		pipe.SAdd(ctx, userKey, t.Fingerprint)
		pipe.PExpireAt(ctx, userKey, keepUntil)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.RefreshToken, error) {
	vals, err := r.rdb.HGetAll(ctx, r.tokenKey(fingerprint)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(vals) == 0 {
		return nil, common.ErrorNotFound
	}
	return decodeToken(vals)
}

func (r *RedisRepository) Rotate(ctx context.Context, oldFingerprint string, next *models.RefreshToken, now time.Time) error {
	keepUntil := next.ExpiresAt.Add(r.retention)

	res, err := rotateLua.Run(ctx, r.rdb,
		[]string{r.tokenKey(oldFingerprint), r.tokenKey(next.Fingerprint)},
		now.UnixMilli(),
		next.ID,
		next.Fingerprint,
		next.EncryptedToken,
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		keepUntil.UnixMilli(),
		r.userPrefix(),
		keepUntil.Sub(now).Milliseconds(),
	).Slice()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if len(res) == 0 {
		return fmt.Errorf("redis error: empty rotate response")
	}

	code, ok := res[0].(int64)
	if !ok {
		return fmt.Errorf("redis error: invalid rotate status %v", res[0])
	}
	switch code {
	case rotateStatusNotFound, rotateStatusRevoked, rotateStatusExpired:
		return common.ErrorNotFound
	case rotateStatusRotated:
		if len(res) < 2 {
			return fmt.Errorf("redis error: rotate response without user id")
		}
		userID, ok := res[1].(string)
		if !ok {
			return fmt.Errorf("redis error: invalid user id %v", res[1])
		}
		next.UserID = userID
		return nil
	default:
		return fmt.Errorf("redis error: unknown rotate status %d", code)
	}
}

func (r *RedisRepository) Revoke(ctx context.Context, fingerprint string, now time.Time) error {
	if err := revokeLua.Run(ctx, r.rdb, []string{r.tokenKey(fingerprint)}, now.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	n, err := revokeAllLua.Run(ctx, r.rdb, []string{r.userKey(userID)}, now.UnixMilli(), r.tokenPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return n, nil
}

func decodeToken(vals map[string]string) (*models.RefreshToken, error) {
	t := &models.RefreshToken{
		ID:             vals["id"],
		UserID:         vals["user_id"],
		Fingerprint:    vals["fingerprint"],
		EncryptedToken: vals["encrypted_token"],
		Revoked:        vals["revoked"] == "1",
		ReplacedBy:     vals["replaced_by"],
	}

	var err error
	if t.IssuedAt, err = parseMillis(vals["issued_at"]); err != nil {
		return nil, fmt.Errorf("redis error: issued_at: %w", err)
	}
	if t.ExpiresAt, err = parseMillis(vals["expires_at"]); err != nil {
		return nil, fmt.Errorf("redis error: expires_at: %w", err)
	}
	if s := vals["revoked_at"]; s != "" {
		at, err := parseMillis(s)
		if err != nil {
			return nil, fmt.Errorf("redis error: revoked_at: %w", err)
		}
		t.RevokedAt = &at
	}
	return t, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
