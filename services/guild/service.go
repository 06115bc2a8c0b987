package guild

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"guild-leveling/pkg/celengine"
	"guild-leveling/pkg/db/option"
	"guild-leveling/pkg/repository"

	"github.com/google/cel-go/cel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPolicyNotFound = errors.New("guild policy not found")
	ErrInvalidPolicy  = errors.New("invalid policy input")
	ErrRewardNotFound = errors.New("no reward configured for level")
	ErrBonusNotFound  = errors.New("bonus rule not found")
)

const (
	maxMessageLength    = 2000
	maxCommandPrefixLen = 5
)

type Service struct {
	db   *gorm.DB
	repo repository.Repository[Policy]
	env  *cel.Env
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) (*Service, error) {
	env, err := celengine.ActivityEnv()
	if err != nil {
		return nil, err
	}
	return &Service{
		db:   p.DB,
		repo: repository.ProvideStore[Policy](p.DB),
		env:  env,
	}, nil
}

func logFor(ctx context.Context, guildID string) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
		zap.String("guild_id", guildID),
	)
}

// Find returns the stored policy or ErrPolicyNotFound.
func (s *Service) Find(ctx context.Context, guildID string) (*Policy, error) {
	p, err := s.repo.FindOne(ctx, &Policy{GuildID: guildID})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPolicyNotFound
	}
	return p, nil
}

// Load returns the stored policy, or defaults when the guild has none.
func (s *Service) Load(ctx context.Context, guildID string) (*Policy, error) {
	p, err := s.Find(ctx, guildID)
	if errors.Is(err, ErrPolicyNotFound) {
		return DefaultPolicy(guildID), nil
	}
	return p, err
}

// mutate applies fn to the locked policy row and upserts it. A missing row starts from defaults.
func (s *Service) mutate(ctx context.Context, guildID string, fn func(p *Policy) error) (*Policy, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, fmt.Errorf("%w: guild id is required", ErrInvalidPolicy)
	}

	var out *Policy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		p, err := repo.FindOne(ctx, &Policy{GuildID: guildID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if p == nil {
			p = DefaultPolicy(guildID)
		}
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = p.UpdatedAt
		}
		if err := repo.Save(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidPolicy) && !errors.Is(err, ErrRewardNotFound) && !errors.Is(err, ErrBonusNotFound) {
			logFor(ctx, guildID).Error("failed to update guild policy", zap.Error(err))
		}
		return nil, err
	}
	return out, nil
}

func (s *Service) ToggleLeveling(ctx context.Context, guildID string) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		p.LevelingEnabled = !p.LevelingEnabled
		return nil
	})
}

// SetAnnounceChannel sets where level-ups are announced; an empty id disables announcements.
func (s *Service) SetAnnounceChannel(ctx context.Context, guildID, channelID string) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		p.AnnounceChannelID = strings.TrimSpace(channelID)
		return nil
	})
}

// ToggleChannelDenylist adds or removes channelID and reports whether it is now denied.
func (s *Service) ToggleChannelDenylist(ctx context.Context, guildID, channelID string) (*Policy, bool, error) {
	var denied bool
	p, err := s.mutate(ctx, guildID, func(p *Policy) error {
		if channelID == "" {
			return fmt.Errorf("%w: channel id is required", ErrInvalidPolicy)
		}
		p.ChannelDenylist, denied = toggle(p.ChannelDenylist, channelID)
		return nil
	})
	return p, denied, err
}

// ToggleRoleDenylist adds or removes roleID and reports whether it is now denied.
func (s *Service) ToggleRoleDenylist(ctx context.Context, guildID, roleID string) (*Policy, bool, error) {
	var denied bool
	p, err := s.mutate(ctx, guildID, func(p *Policy) error {
		if roleID == "" {
			return fmt.Errorf("%w: role id is required", ErrInvalidPolicy)
		}
		p.RoleDenylist, denied = toggle(p.RoleDenylist, roleID)
		return nil
	})
	return p, denied, err
}

func toggle(list []string, id string) ([]string, bool) {
	if i := slices.Index(list, id); i >= 0 {
		return slices.Delete(slices.Clone(list), i, i+1), false
	}
	return append(slices.Clone(list), id), true
}

// AddReward sets the reward role for level, replacing any existing entry at that level.
func (s *Service) AddReward(ctx context.Context, guildID string, level int, roleID string) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		if level <= 0 {
			return fmt.Errorf("%w: reward level must be positive", ErrInvalidPolicy)
		}
		if roleID == "" {
			return fmt.Errorf("%w: role id is required", ErrInvalidPolicy)
		}
		table := slices.DeleteFunc(p.Rewards(), func(e RewardEntry) bool { return e.Level == level })
		table = append(table, RewardEntry{Level: level, RoleID: roleID})
		p.RewardTable = table
		p.RewardTable = p.Rewards()
		return nil
	})
}

func (s *Service) RemoveReward(ctx context.Context, guildID string, level int) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		before := len(p.RewardTable)
		table := slices.DeleteFunc(p.Rewards(), func(e RewardEntry) bool { return e.Level == level })
		if len(table) == before {
			return ErrRewardNotFound
		}
		p.RewardTable = table
		return nil
	})
}

func (s *Service) SetXPRate(ctx context.Context, guildID string, rate float64) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return fmt.Errorf("%w: xp rate must be a positive number", ErrInvalidPolicy)
		}
		if rate > MaxXPRate {
			return fmt.Errorf("%w: xp rate cannot exceed %g", ErrInvalidPolicy, MaxXPRate)
		}
		p.XPRateMultiplier = rate
		return nil
	})
}

func (s *Service) SetCooldown(ctx context.Context, guildID string, cooldown time.Duration) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		if cooldown < 0 || cooldown > MaxCooldown {
			return fmt.Errorf("%w: cooldown must be between 0 and %s", ErrInvalidPolicy, MaxCooldown)
		}
		p.Cooldown = cooldown
		return nil
	})
}

func (s *Service) SetLevelUpMessage(ctx context.Context, guildID, message string) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		message = strings.TrimSpace(message)
		if message == "" || len(message) > maxMessageLength {
			return fmt.Errorf("%w: message must be 1-%d characters", ErrInvalidPolicy, maxMessageLength)
		}
		p.LevelUpMessage = message
		return nil
	})
}

func (s *Service) SetCommandPrefix(ctx context.Context, guildID, prefix string) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		if prefix == "" || len(prefix) > maxCommandPrefixLen || strings.ContainsAny(prefix, " \t\n") {
			return fmt.Errorf("%w: prefix must be 1-%d characters without spaces", ErrInvalidPolicy, maxCommandPrefixLen)
		}
		p.CommandPrefix = prefix
		return nil
	})
}

// PutBonusRule validates the rule's expression and stores it, replacing a rule with the same name.
func (s *Service) PutBonusRule(ctx context.Context, guildID string, rule BonusRule) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		if rule.Name == "" {
			return fmt.Errorf("%w: bonus rule name is required", ErrInvalidPolicy)
		}
		if rule.Multiplier <= 0 || math.IsNaN(rule.Multiplier) || math.IsInf(rule.Multiplier, 0) {
			return fmt.Errorf("%w: bonus multiplier must be a positive number", ErrInvalidPolicy)
		}
		if rule.Multiplier > MaxBonusMultiplier {
			return fmt.Errorf("%w: bonus multiplier cannot exceed %g", ErrInvalidPolicy, MaxBonusMultiplier)
		}
		if err := celengine.ValidateExpression(s.env, rule.Expression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
		rules := slices.DeleteFunc(slices.Clone([]BonusRule(p.BonusRules)), func(r BonusRule) bool { return r.Name == rule.Name })
		p.BonusRules = append(rules, rule)
		return nil
	})
}

func (s *Service) RemoveBonusRule(ctx context.Context, guildID, name string) (*Policy, error) {
	return s.mutate(ctx, guildID, func(p *Policy) error {
		before := len(p.BonusRules)
		rules := slices.DeleteFunc(slices.Clone([]BonusRule(p.BonusRules)), func(r BonusRule) bool { return r.Name == name })
		if len(rules) == before {
			return ErrBonusNotFound
		}
		p.BonusRules = rules
		return nil
	})
}
