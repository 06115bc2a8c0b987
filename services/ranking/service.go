package ranking

import (
	"context"
	"strings"

	"guild-leveling/pkg/config"
	"guild-leveling/pkg/rediskey"
	"guild-leveling/services/progression"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service answers rank and leaderboard queries straight from the progress store.
type Service struct {
	store      progression.Store
	cache      *Cache
	guildLimit int
	tracer     trace.Tracer
}

type ServiceParams struct {
	fx.In
	Store  progression.Store
	Config *config.Config
	Redis  *redis.Client        `optional:"true"`
	Tracer trace.TracerProvider `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{store: p.Store, guildLimit: DefaultGuildLimit}

	if p.Config != nil {
		lv := p.Config.Leveling
		if lv.GlobalFetchLimit > 0 {
			s.guildLimit = lv.GlobalFetchLimit
		}
		if p.Redis != nil && lv.RankCacheTTL > 0 {
			s.cache = NewCache(p.Redis, lv.RankCacheTTL)
		}
	}

	tp := p.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer("guild-leveling/ranking")
	return s
}

// RankOf returns the member's entry with its 1-based position in the guild.
func (s *Service) RankOf(ctx context.Context, guildID, userID string) (*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "ranking.RankOf", trace.WithAttributes(
		attribute.String("guild_id", guildID),
		attribute.String("user_id", userID),
	))
	defer span.End()

	if strings.TrimSpace(guildID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrNotRanked
	}

	p, err := s.store.LoadProgress(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotRanked
	}

	ahead, err := s.store.CountAhead(ctx, p)
	if err != nil {
		return nil, err
	}

	entry := toEntries([]*progression.UserProgress{p}, int(ahead)+1)[0]
	return &entry, nil
}

// TopN returns up to n entries of the guild starting at offset. n is clamped to [1,100].
func (s *Service) TopN(ctx context.Context, guildID string, n, offset int) ([]Entry, error) {
	return s.guildPage(ctx, guildID, clampPage(n), max(offset, 0))
}

func (s *Service) guildPage(ctx context.Context, guildID string, limit, offset int) ([]Entry, error) {
	ctx, span := s.tracer.Start(ctx, "ranking.TopN", trace.WithAttributes(
		attribute.String("guild_id", guildID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	))
	defer span.End()

	key := rediskey.BuildGuildPageKey(guildID, limit, offset)
	return cached(ctx, s.cache, "guild", key, func(ctx context.Context) ([]Entry, error) {
		rows, err := s.store.QueryGuild(ctx, guildID, limit, offset)
		if err != nil {
			return nil, err
		}
		return toEntries(rows, offset+1), nil
	})
}

// TopNGlobal ranks the first guildLimit records across all guilds and pages through them in memory.
func (s *Service) TopNGlobal(ctx context.Context, n, offset, guildLimit int) ([]Entry, error) {
	snapshot, err := s.globalSnapshot(ctx, guildLimit)
	if err != nil {
		return nil, err
	}
	return pageOf(snapshot, max(offset, 0), clampPage(n)), nil
}

func pageOf(snapshot []Entry, offset, limit int) []Entry {
	if offset >= len(snapshot) {
		return []Entry{}
	}
	end := min(offset+limit, len(snapshot))
	return snapshot[offset:end]
}

func (s *Service) resolveGuildLimit(guildLimit int) int {
	if guildLimit <= 0 {
		return s.guildLimit
	}
	return guildLimit
}

func (s *Service) globalSnapshot(ctx context.Context, guildLimit int) ([]Entry, error) {
	guildLimit = s.resolveGuildLimit(guildLimit)

	ctx, span := s.tracer.Start(ctx, "ranking.TopNGlobal", trace.WithAttributes(attribute.Int("guild_limit", guildLimit)))
	defer span.End()

	return cached(ctx, s.cache, "global", rediskey.BuildGlobalSnapshotKey(guildLimit), func(ctx context.Context) ([]Entry, error) {
		return s.loadGlobal(ctx, guildLimit)
	})
}

func (s *Service) loadGlobal(ctx context.Context, guildLimit int) ([]Entry, error) {
	rows, err := s.store.QueryGlobal(ctx, guildLimit)
	if err != nil {
		return nil, err
	}
	return toEntries(rows, 1), nil
}

// WarmGlobal reloads the default global snapshot into the cache.
func (s *Service) WarmGlobal(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	snapshot, err := s.loadGlobal(ctx, s.guildLimit)
	if err != nil {
		return err
	}
	s.cache.set(ctx, rediskey.BuildGlobalSnapshotKey(s.guildLimit), snapshot)
	zap.L().Debug("global leaderboard warmed", zap.Int("entries", len(snapshot)))
	return nil
}
