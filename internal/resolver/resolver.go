// Package resolver maps a validated subject id to its application
// profile. Lookups are cache-fronted and time-bounded; a subject with no
// profile is indistinguishable from a bad credential to callers.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"pupitre/access/internal/model"
)

// ProfileSource is the store-side lookup. The repository satisfies it;
// the subject resolves its own row through the baseline self policy.
type ProfileSource interface {
	GetProfile(ctx context.Context, actorID, profileID string) (model.Profile, error)
}

type Resolver struct {
	source   ProfileSource
	cache    *redis.Client
	cacheTTL time.Duration
	timeout  time.Duration
}

// New builds a resolver. cache may be nil; resolution then always hits
// the store.
func New(source ProfileSource, cache *redis.Client, cacheTTL, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{source: source, cache: cache, cacheTTL: cacheTTL, timeout: timeout}
}

type cachedProfile struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Role      string  `json:"role"`
	SchoolID  *string `json:"schoolId"`
}

func cacheKey(subjectID string) string {
	return "profile:" + subjectID
}

// Resolve returns the profile for a subject, or ErrUnauthenticated when
// none exists, or ErrUpstreamUnavailable on store trouble. The role
// coming back out of the cache passes ParseRole again: cached payloads
// are as untrusted as any other external data.
func (r *Resolver) Resolve(ctx context.Context, subjectID string) (model.Profile, error) {
	if subjectID == "" {
		return model.Profile{}, model.ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if profile, ok := r.fromCache(ctx, subjectID); ok {
		return profile, nil
	}

	profile, err := r.source.GetProfile(ctx, subjectID, subjectID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Profile{}, model.ErrUnauthenticated
		}
		return model.Profile{}, model.ErrUpstreamUnavailable
	}

	r.toCache(ctx, profile)
	return profile, nil
}

// Invalidate drops a cached profile. Called after profile mutations so
// edits do not serve stale for a cache TTL.
func (r *Resolver) Invalidate(ctx context.Context, subjectID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(subjectID)).Err(); err != nil {
		log.Printf("profile cache invalidate failed for %s: %v", subjectID, err)
	}
}

func (r *Resolver) fromCache(ctx context.Context, subjectID string) (model.Profile, bool) {
	if r.cache == nil {
		return model.Profile{}, false
	}
	raw, err := r.cache.Get(ctx, cacheKey(subjectID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("profile cache read failed for %s: %v", subjectID, err)
		}
		return model.Profile{}, false
	}
	var cached cachedProfile
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return model.Profile{}, false
	}
	role, err := model.ParseRole(cached.Role)
	if err != nil {
		return model.Profile{}, false
	}
	return model.Profile{
		ID:        cached.ID,
		Email:     cached.Email,
		FirstName: cached.FirstName,
		LastName:  cached.LastName,
		Role:      role,
		SchoolID:  cached.SchoolID,
	}, true
}

func (r *Resolver) toCache(ctx context.Context, profile model.Profile) {
	if r.cache == nil || r.cacheTTL <= 0 {
		return
	}
	payload, err := json.Marshal(cachedProfile{
		ID:        profile.ID,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Role:      profile.Role.String(),
		SchoolID:  profile.SchoolID,
	})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(profile.ID), payload, r.cacheTTL).Err(); err != nil {
		log.Printf("profile cache write failed for %s: %v", profile.ID, err)
	}
}
