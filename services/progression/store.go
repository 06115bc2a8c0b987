package progression

import (
	"context"
	"errors"
	"time"

	"guild-leveling/pkg/db/option"
	"guild-leveling/pkg/db/pagination"
	"guild-leveling/pkg/repository"
	"guild-leveling/services/guild"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Store persists UserProgress with optimistic concurrency and exposes the
// ranked read queries.
type Store interface {
	// LoadProgress returns (nil, nil) when the member has no record.
	LoadProgress(ctx context.Context, guildID, userID string) (*UserProgress, error)
	// SaveProgress writes p if the stored version still equals expectedVersion
	// (0 means "no record yet") and bumps p.Version. Otherwise it returns ErrConcurrentWrite.
	SaveProgress(ctx context.Context, p *UserProgress, expectedVersion int64) error
	LoadPolicy(ctx context.Context, guildID string) (*guild.Policy, error)
	// QueryGuild orders by level desc, xp desc, user id asc.
	QueryGuild(ctx context.Context, guildID string, limit, offset int) ([]*UserProgress, error)
	// QueryGlobal orders by level desc, xp desc, guild id asc, user id asc.
	QueryGlobal(ctx context.Context, limit int) ([]*UserProgress, error)
	// CountAhead counts guild records strictly ahead of p in QueryGuild order.
	CountAhead(ctx context.Context, p *UserProgress) (int64, error)
}

// PolicyReader loads a guild policy, falling back to defaults.
type PolicyReader interface {
	Load(ctx context.Context, guildID string) (*guild.Policy, error)
}

var (
	rankOrder = []option.QuerySortBy{
		{SortBy: "level", OrderBy: "DESC"},
		{SortBy: "xp", OrderBy: "DESC"},
		{SortBy: "user_id", OrderBy: "ASC"},
	}
	globalOrder = []option.QuerySortBy{
		{SortBy: "level", OrderBy: "DESC"},
		{SortBy: "xp", OrderBy: "DESC"},
		{SortBy: "guild_id", OrderBy: "ASC"},
		{SortBy: "user_id", OrderBy: "ASC"},
	}
)

type gormStore struct {
	db       *gorm.DB
	repo     repository.Repository[UserProgress]
	policies PolicyReader
	node     *snowflake.Node
}

func NewGormStore(db *gorm.DB, policies PolicyReader, node *snowflake.Node) Store {
	return &gormStore{
		db:       db,
		repo:     repository.ProvideStore[UserProgress](db),
		policies: policies,
		node:     node,
	}
}

func (s *gormStore) LoadProgress(ctx context.Context, guildID, userID string) (*UserProgress, error) {
	return s.repo.FindOne(ctx, &UserProgress{GuildID: guildID, UserID: userID})
}

func (s *gormStore) SaveProgress(ctx context.Context, p *UserProgress, expectedVersion int64) error {
	now := time.Now().UTC()

	if expectedVersion == 0 {
		row := *p
		if row.ID == "" {
			row.ID = s.node.Generate().String()
		}
		row.Version = 1
		row.CreatedAt = now
		row.UpdatedAt = now
		if err := s.repo.Create(ctx, &row); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrConcurrentWrite
			}
			return err
		}
		*p = row
		return nil
	}

	res := s.db.WithContext(ctx).
		Model(&UserProgress{}).
		Where("id = ? AND version = ?", p.ID, expectedVersion).
		Updates(map[string]any{
			"xp":            p.XP,
			"level":         p.Level,
			"last_grant_at": p.LastGrantAt,
			"last_claim_at": p.LastClaimAt,
			"version":       expectedVersion + 1,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentWrite
	}
	p.Version = expectedVersion + 1
	p.UpdatedAt = now
	return nil
}

func (s *gormStore) LoadPolicy(ctx context.Context, guildID string) (*guild.Policy, error) {
	return s.policies.Load(ctx, guildID)
}

func (s *gormStore) QueryGuild(ctx context.Context, guildID string, limit, offset int) ([]*UserProgress, error) {
	return s.repo.Find(ctx, &UserProgress{GuildID: guildID},
		option.WithSortBy(rankOrder...),
		option.ApplyPagination(pagination.Pagination{Limit: limit, Offset: offset}),
	)
}

func (s *gormStore) QueryGlobal(ctx context.Context, limit int) ([]*UserProgress, error) {
	return s.repo.Find(ctx, &UserProgress{},
		option.WithSortBy(globalOrder...),
		option.WithLimit(limit),
	)
}

func (s *gormStore) CountAhead(ctx context.Context, p *UserProgress) (int64, error) {
	return s.repo.Count(ctx, &UserProgress{GuildID: p.GuildID},
		option.Where("(level > ? OR (level = ? AND xp > ?) OR (level = ? AND xp = ? AND user_id < ?))",
			p.Level, p.Level, p.XP, p.Level, p.XP, p.UserID),
	)
}
