package backend

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cache"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

func ProfileKey(userID string) string {
	return "profile:" + userID
}

func SessionKey(token string) string {
	return "session:" + utils.Fingerprint(token)
}

// session is what a bearer token maps to; the token itself is never stored.
type session struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// ProfileResolver turns a bearer token into an Identity, caching the token to
// user mapping and the user's profile separately so a role change only needs
// Forget on the profile.
type ProfileResolver struct {
	backend    types.Backend
	cache      types.CacheManager
	logger     types.Logger
	profileTTL time.Duration
	sessionTTL time.Duration
	group      singleflight.Group
}

func NewProfileResolver(backend types.Backend, cacheManager types.CacheManager, logger types.Logger, config *types.BackendConfig) *ProfileResolver {
	r := &ProfileResolver{
		backend:    backend,
		cache:      cacheManager,
		logger:     logger,
		profileTTL: 5 * time.Minute,
		sessionTTL: time.Minute,
	}

	if config != nil {
		r.profileTTL = config.ProfileTTL
		r.sessionTTL = config.SessionTTL
	}

	return r
}

func (r *ProfileResolver) Resolve(ctx context.Context, token string) (*types.Identity, error) {
	if token == "" {
		return nil, types.ErrAuthTokenMissing
	}

	sessionKey := SessionKey(token)

	value, err, shared := r.group.Do(sessionKey, func() (interface{}, error) {
		return r.resolve(ctx, token, sessionKey)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		r.logger.Debug("Identity resolution shared", zap.String("session", sessionKey))
	}

	identity := *value.(*types.Identity)
	identity.Token = token
	return &identity, nil
}

func (r *ProfileResolver) Forget(userID string) {
	if r.cache == nil || userID == "" {
		return
	}

	r.cache.Invalidate(ProfileKey(userID))
}

func (r *ProfileResolver) resolve(ctx context.Context, token, sessionKey string) (*types.Identity, error) {
	sess, ok := r.loadSession(sessionKey)
	if !ok {
		user, err := r.backend.GetUser(ctx, token)
		if err != nil {
			if types.IsError(err, types.ErrBackendUnauthorized) {
				return nil, types.Errorf(types.ErrAuthTokenInvalid, "%v", err)
			}
			return nil, err
		}

		sess = session{UserID: user.ID, Email: user.Email}
		r.store(sessionKey, sess, r.sessionTTL)
	}

	profile, err := r.loadProfile(ctx, token, sess.UserID)
	if err != nil {
		return nil, err
	}

	role, err := access.ParseRole(profile.Role)
	if err != nil {
		return nil, types.Errorf(types.ErrPermissionDenied, "user %s: %v", sess.UserID, err)
	}

	return &types.Identity{
		UserID:  sess.UserID,
		Email:   sess.Email,
		Role:    role,
		Profile: profile,
	}, nil
}

func (r *ProfileResolver) loadSession(key string) (session, bool) {
	if r.cache == nil {
		return session{}, false
	}
	return cache.Load[session](r.cache, key)
}

func (r *ProfileResolver) loadProfile(ctx context.Context, token, userID string) (*types.Profile, error) {
	key := ProfileKey(userID)

	if r.cache != nil {
		if profile, ok := cache.Load[types.Profile](r.cache, key); ok {
			return &profile, nil
		}
	}

	profile, err := r.backend.GetProfile(ctx, token, userID)
	if err != nil {
		return nil, err
	}

	r.store(key, *profile, r.profileTTL)
	return profile, nil
}

func (r *ProfileResolver) store(key string, value interface{}, ttl time.Duration) {
	if r.cache == nil {
		return
	}

	if err := r.cache.Set(key, value, ttl); err != nil {
		r.logger.Warn("Failed to cache identity data", zap.String("key", key), zap.Error(err))
	}
}
