package progression

import (
	"math"
	"testing"
	"time"

	"guild-leveling/pkg/levelcurve"
	"guild-leveling/services/guild"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fixedRand always returns v (clamped to n-1).
type fixedRand int

func (f fixedRand) IntN(n int) int {
	if int(f) >= n {
		return n - 1
	}
	return int(f)
}

func newTestGate(t *testing.T, r Rand) *Gate {
	t.Helper()
	bonus, err := NewCELBonus()
	require.NoError(t, err)
	return NewGate(bonus).WithRand(r)
}

func TestGateRejections(t *testing.T) {
	gate := newTestGate(t, fixedRand(0))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ev := ActivityEvent{GuildID: "g1", UserID: "u1", ChannelID: "c1", ActorRoleIDs: []string{"r1"}}

	disabled := guild.DefaultPolicy("g1")
	disabled.LevelingEnabled = false
	require.Equal(t, RejectDisabled, gate.Decide(disabled, &UserProgress{}, ev, now).Reason)

	channel := guild.DefaultPolicy("g1")
	channel.ChannelDenylist = []string{"c1"}
	require.Equal(t, RejectChannelDenied, gate.Decide(channel, &UserProgress{}, ev, now).Reason)

	role := guild.DefaultPolicy("g1")
	role.RoleDenylist = []string{"r1"}
	require.Equal(t, RejectRoleDenied, gate.Decide(role, &UserProgress{}, ev, now).Reason)

	d := gate.Decide(guild.DefaultPolicy("g1"), &UserProgress{}, ev, now)
	require.True(t, d.Granted)
	require.Equal(t, RejectNone, d.Reason)
}

func TestGateCooldownBoundary(t *testing.T) {
	gate := newTestGate(t, fixedRand(0))
	policy := guild.DefaultPolicy("g1")
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &UserProgress{LastGrantAt: &last}
	ev := ActivityEvent{GuildID: "g1", UserID: "u1"}

	early := gate.Decide(policy, p, ev, last.Add(policy.Cooldown-time.Millisecond))
	require.False(t, early.Granted)
	require.Equal(t, RejectCooldown, early.Reason)

	require.True(t, gate.Decide(policy, p, ev, last.Add(policy.Cooldown)).Granted)
	require.True(t, gate.Decide(policy, p, ev, last.Add(policy.Cooldown+time.Millisecond)).Granted)
}

func TestGateAmount(t *testing.T) {
	policy := guild.DefaultPolicy("g1")
	ev := ActivityEvent{GuildID: "g1", UserID: "u1"}
	now := time.Now()

	require.Equal(t, int64(MinPassiveXP), newTestGate(t, fixedRand(0)).Decide(policy, &UserProgress{}, ev, now).Amount)
	require.Equal(t, int64(MaxPassiveXP), newTestGate(t, fixedRand(100)).Decide(policy, &UserProgress{}, ev, now).Amount)

	policy.XPRateMultiplier = 2
	require.Equal(t, int64(30), newTestGate(t, fixedRand(0)).Decide(policy, &UserProgress{}, ev, now).Amount)

	// booster x1.5 on top of rate x2: floor(25 * 2 * 1.5)
	ev.IsBooster = true
	require.Equal(t, int64(75), newTestGate(t, fixedRand(10)).Decide(policy, &UserProgress{}, ev, now).Amount)

	// floor(15 * 1.5) = 22
	policy.XPRateMultiplier = 1
	require.Equal(t, int64(22), newTestGate(t, fixedRand(0)).Decide(policy, &UserProgress{}, ev, now).Amount)
}

func TestGateAmountWithinBounds(t *testing.T) {
	gate := newTestGate(t, globalRand{})
	policy := guild.DefaultPolicy("g1")
	ev := ActivityEvent{GuildID: "g1", UserID: "u1"}
	for i := 0; i < 500; i++ {
		d := gate.Decide(policy, &UserProgress{}, ev, time.Now())
		require.GreaterOrEqual(t, d.Amount, int64(MinPassiveXP))
		require.LessOrEqual(t, d.Amount, int64(MaxPassiveXP))
	}
}

func TestGateAmountSaturatesOnHugeMultipliers(t *testing.T) {
	gate := newTestGate(t, fixedRand(10))
	ev := ActivityEvent{GuildID: "g1", UserID: "u1", IsBooster: true}
	now := time.Now()

	for _, rate := range []float64{1e17, 1e19, 1e300, math.Inf(1)} {
		policy := guild.DefaultPolicy("g1")
		policy.XPRateMultiplier = rate
		d := gate.Decide(policy, &UserProgress{}, ev, now)
		require.True(t, d.Granted)
		require.Equal(t, levelcurve.MaxXP, d.Amount, "rate %g", rate)
	}
}

func TestCELBonusRules(t *testing.T) {
	bonus, err := NewCELBonus()
	require.NoError(t, err)

	policy := guild.DefaultPolicy("g1")
	policy.BonusRules = append(policy.BonusRules,
		guild.BonusRule{Name: "event", Expression: `channel_id == "events"`, Multiplier: 2},
		guild.BonusRule{Name: "broken", Expression: `channel_id +`, Multiplier: 10},
	)

	require.Equal(t, 1.0, bonus.Multiplier(policy, ActivityEvent{ChannelID: "general"}))
	require.Equal(t, 2.0, bonus.Multiplier(policy, ActivityEvent{ChannelID: "events"}))
	require.Equal(t, 3.0, bonus.Multiplier(policy, ActivityEvent{ChannelID: "events", IsBooster: true}))
}
