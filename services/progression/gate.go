package progression

import (
	"math"
	"math/rand/v2"
	"time"

	"guild-leveling/pkg/celengine"
	"guild-leveling/pkg/levelcurve"
	"guild-leveling/services/guild"

	"go.uber.org/zap"
)

const (
	MinPassiveXP = 15
	MaxPassiveXP = 25
	MinDailyXP   = 100
	MaxDailyXP   = 300
)

type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectDisabled      RejectReason = "leveling_disabled"
	RejectChannelDenied RejectReason = "channel_denied"
	RejectRoleDenied    RejectReason = "role_denied"
	RejectCooldown      RejectReason = "cooldown"
)

// Rand is the random source for grant amounts; math/rand/v2 by default.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// uniform returns an integer in [lo, hi].
func uniform(r Rand, lo, hi int) int64 {
	return int64(lo + r.IntN(hi-lo+1))
}

// BonusEvaluator returns the product of all bonus multipliers matching ev.
type BonusEvaluator interface {
	Multiplier(policy *guild.Policy, ev ActivityEvent) float64
}

type Decision struct {
	Granted bool
	Reason  RejectReason
	Amount  int64
}

// Gate decides whether a passive activity earns XP and how much. It has no side effects.
type Gate struct {
	rand  Rand
	bonus BonusEvaluator
}

func NewGate(bonus BonusEvaluator) *Gate {
	return &Gate{rand: globalRand{}, bonus: bonus}
}

// WithRand returns a copy of the gate drawing from r.
func (g *Gate) WithRand(r Rand) *Gate {
	c := *g
	c.rand = r
	return &c
}

func (g *Gate) Decide(policy *guild.Policy, current *UserProgress, ev ActivityEvent, now time.Time) Decision {
	if !policy.LevelingEnabled {
		return Decision{Reason: RejectDisabled}
	}
	if policy.ChannelDenied(ev.ChannelID) {
		return Decision{Reason: RejectChannelDenied}
	}
	if policy.AnyRoleDenied(ev.ActorRoleIDs) {
		return Decision{Reason: RejectRoleDenied}
	}
	if current != nil && current.LastGrantAt != nil && now.Sub(*current.LastGrantAt) < policy.Cooldown {
		return Decision{Reason: RejectCooldown}
	}

	multiplier := policy.XPRateMultiplier
	if g.bonus != nil {
		multiplier *= g.bonus.Multiplier(policy, ev)
	}

	amount := math.Floor(float64(uniform(g.rand, MinPassiveXP, MaxPassiveXP)) * multiplier)
	switch {
	case amount < 0 || math.IsNaN(amount):
		return Decision{Granted: true}
	case amount >= float64(levelcurve.MaxXP):
		// stored policies may predate the multiplier caps
		return Decision{Granted: true, Amount: levelcurve.MaxXP}
	}
	return Decision{Granted: true, Amount: int64(amount)}
}

// CELBonus evaluates guild bonus rules written as CEL expressions.
type CELBonus struct {
	cache *celengine.ProgramCache
}

func NewCELBonus() (*CELBonus, error) {
	env, err := celengine.ActivityEnv()
	if err != nil {
		return nil, err
	}
	return &CELBonus{cache: celengine.NewProgramCache(env)}, nil
}

func (b *CELBonus) Multiplier(policy *guild.Policy, ev ActivityEvent) float64 {
	if len(policy.BonusRules) == 0 {
		return 1
	}

	roles := ev.ActorRoleIDs
	if roles == nil {
		roles = []string{}
	}
	attrs := map[string]any{
		celengine.VarGuildID:   ev.GuildID,
		celengine.VarUserID:    ev.UserID,
		celengine.VarChannelID: ev.ChannelID,
		celengine.VarRoleIDs:   roles,
		celengine.VarIsBooster: ev.IsBooster,
	}

	m := 1.0
	for _, rule := range policy.BonusRules {
		prg, err := b.cache.Get(rule.Expression)
		if err != nil {
			zap.L().Warn("skipping bonus rule", zap.String("guild_id", policy.GuildID), zap.String("rule", rule.Name), zap.Error(err))
			continue
		}
		ok, err := celengine.Evaluate(prg, attrs)
		if err != nil {
			zap.L().Warn("bonus rule evaluation failed", zap.String("guild_id", policy.GuildID), zap.String("rule", rule.Name), zap.Error(err))
			continue
		}
		if ok && rule.Multiplier > 0 {
			m *= rule.Multiplier
		}
	}
	return m
}
