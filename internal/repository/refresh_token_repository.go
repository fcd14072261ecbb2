package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
	"github.com/iliyamo/karaoke-backend/internal/utils"
)

const refreshSecretBytes = 32

// IssuedRefreshToken is the raw token handed to the client once.
type IssuedRefreshToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// VerifiedRefreshToken identifies a token that passed verification.
type VerifiedRefreshToken struct {
	TokenID string
}

// RefreshTokenRepo stores refresh token digests in Redis under
// auth:refresh:{userId}:{tokenId}. The raw secret is never persisted.
type RefreshTokenRepo struct {
	rdb  redis.Cmdable
	ttl  time.Duration
	salt string
	now  func() time.Time
}

// NewRefreshTokenRepo builds a store whose keys live for ttl.
func NewRefreshTokenRepo(rdb redis.Cmdable, ttl time.Duration, salt string) *RefreshTokenRepo {
	return &RefreshTokenRepo{rdb: rdb, ttl: ttl, salt: salt, now: time.Now}
}

func refreshKey(userID, tokenID string) string {
	return "auth:refresh:" + userID + ":" + tokenID
}

// Issue creates a new refresh token for userID.
func (r *RefreshTokenRepo) Issue(ctx context.Context, userID string) (*IssuedRefreshToken, error) {
	secret, err := utils.RandomSecret(refreshSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("refresh secret: %w", err)
	}
	tokenID := utils.NewTokenID()
	token := tokenID + "." + secret

	if err := r.rdb.Set(ctx, refreshKey(userID, tokenID), utils.DigestToken(r.salt, token), r.ttl).Err(); err != nil {
		return nil, apperr.Unavailable("refresh.issue", err)
	}
	return &IssuedRefreshToken{
		Token:     token,
		TokenID:   tokenID,
		ExpiresAt: r.now().Add(r.ttl).UTC(),
	}, nil
}

// SplitRefreshToken separates a wire token into id and secret.
func SplitRefreshToken(token string) (tokenID, secret string, ok bool) {
	tokenID, secret, found := strings.Cut(strings.TrimSpace(token), ".")
	if !found || tokenID == "" || secret == "" || !utils.ValidTokenID(tokenID) {
		return "", "", false
	}
	return tokenID, secret, true
}

// Verify checks token against the stored digest. Malformed, unknown and
// mismatched tokens all yield nil with a nil error; only store failures
// produce an error.
func (r *RefreshTokenRepo) Verify(ctx context.Context, userID, token string) (*VerifiedRefreshToken, error) {
	tokenID, _, ok := SplitRefreshToken(token)
	if !ok {
		return nil, nil
	}
	stored, err := r.rdb.Get(ctx, refreshKey(userID, tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("refresh.verify", err)
	}
	if !utils.ConstantTimeEqual(stored, utils.DigestToken(r.salt, strings.TrimSpace(token))) {
		return nil, nil
	}
	return &VerifiedRefreshToken{TokenID: tokenID}, nil
}

// Revoke deletes the token. Revoking an absent token is not an error.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, userID, tokenID string) error {
	if err := r.rdb.Del(ctx, refreshKey(userID, tokenID)).Err(); err != nil {
		return apperr.Unavailable("refresh.revoke", err)
	}
	return nil
}

// Rotate exchanges a valid token for a new one. The old key is deleted
// first and only the caller whose DEL removed it goes on to issue, so two
// concurrent rotations of the same token produce at most one successor.
// A token that fails verification yields nil and nothing is issued.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, userID, token string) (*IssuedRefreshToken, error) {
	v, err := r.Verify(ctx, userID, token)
	if err != nil || v == nil {
		return nil, err
	}
	n, err := r.rdb.Del(ctx, refreshKey(userID, v.TokenID)).Result()
	if err != nil {
		return nil, apperr.Unavailable("refresh.rotate", err)
	}
	if n == 0 {
		return nil, nil
	}
	return r.Issue(ctx, userID)
}

// RevokeAll removes every refresh token of userID and returns how many
// were deleted.
func (r *RefreshTokenRepo) RevokeAll(ctx context.Context, userID string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	pattern := refreshKey(userID, "*")
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, apperr.Unavailable("refresh.revoke_all", err)
		}
		if len(keys) > 0 {
			n, err := r.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, apperr.Unavailable("refresh.revoke_all", err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}
