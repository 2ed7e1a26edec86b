package twitchapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source produces the per-tick snapshot of live streams, joined with profile
// images for the live set only (offline streamers never cost a /users call).
type Source struct {
	Helix    *HelixClient
	Profiles *ProfileCache // optional; nil disables caching
}

// FetchLive returns snapshots for every login that is currently live. A
// streams fetch failure fails the whole call; a profile fetch failure only
// degrades the snapshots (no avatar), since announcements are still correct
// without one.
func (s *Source) FetchLive(ctx context.Context, logins []string) ([]Stream, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	streams, err := s.Helix.FetchStreams(ctx, logins)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return streams, nil
	}

	missing := make([]string, 0, len(streams))
	for i := range streams {
		if url, ok := s.Profiles.Get(ctx, streams[i].UserLogin); ok {
			streams[i].ProfileImageURL = url
			continue
		}
		missing = append(missing, streams[i].UserLogin)
	}
	if len(missing) == 0 {
		return streams, nil
	}

	users, err := s.Helix.FetchUsers(ctx, missing)
	if err != nil {
		slog.Warn("profile fetch failed; announcing without avatars", slog.Any("err", err), slog.String("component", "twitch"))
		return streams, nil
	}
	byID := make(map[string]UserProfile, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for i := range streams {
		u, ok := byID[streams[i].UserID]
		if !ok {
			continue
		}
		streams[i].ProfileImageURL = u.ProfileImageURL
		s.Profiles.Set(ctx, streams[i].UserLogin, u.ProfileImageURL)
	}
	return streams, nil
}

// ProfileCache caches profile-image URLs in Redis. All methods are safe on a
// nil receiver, which is how the cache is disabled.
type ProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewProfileCache(rdb *redis.Client, ttl time.Duration) *ProfileCache {
	return &ProfileCache{rdb: rdb, ttl: ttl}
}

func (c *ProfileCache) key(login string) string {
	return fmt.Sprintf("twitchmon:profile:%s", login)
}

// Get returns the cached URL for a login. Cache errors are misses.
func (c *ProfileCache) Get(ctx context.Context, login string) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	v, err := c.rdb.Get(ctx, c.key(login)).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

// Set stores a URL; best effort, errors only logged.
func (c *ProfileCache) Set(ctx context.Context, login, url string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(login), url, c.ttl).Err(); err != nil {
		slog.Debug("profile cache set failed", slog.Any("err", err), slog.String("login", login))
	}
}
