package progression

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guild-leveling/pkg/config"
	"guild-leveling/pkg/levelcurve"
	"guild-leveling/services/guild"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

type handlerMock struct {
	mu      sync.Mutex
	changes []LevelChanged
	err     error
}

func (h *handlerMock) OnLevelChanged(ctx context.Context, change LevelChanged) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, change)
	return h.err
}

func (h *handlerMock) all() []LevelChanged {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LevelChanged(nil), h.changes...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	store   *memStore
	handler *handlerMock
	clock   *clock
}

func newFixture(t *testing.T, r Rand, mutate ...func(cfg *config.Config)) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Leveling.StoreTimeout = time.Second
	cfg.Leveling.MaxRetries = 5
	for _, m := range mutate {
		m(cfg)
	}

	f := &fixture{
		store:   newMemStore(),
		handler: &handlerMock{},
		clock:   &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc, err = NewService(ServiceParams{
		Store:   f.store,
		Gate:    newTestGate(t, r),
		Config:  cfg,
		Node:    node,
		Handler: f.handler,
		Rand:    r,
		Clock:   f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) activity(guildID, userID string) ActivityEvent {
	return ActivityEvent{GuildID: guildID, UserID: userID, ChannelID: "c1", Timestamp: f.clock.Now()}
}

func TestApplyPassiveActivity_Grants(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	ctx := context.Background()

	res, err := f.svc.ApplyPassiveActivity(ctx, f.activity("g1", "u1"))
	require.NoError(t, err)
	require.True(t, res.Granted)
	require.Equal(t, int64(15), res.Amount)
	require.Equal(t, int64(15), res.After.XP)
	require.Equal(t, 0, res.After.Level)
	require.Nil(t, res.Change)

	row, ok := f.store.get("g1", "u1")
	require.True(t, ok)
	require.Equal(t, int64(15), row.XP)
	require.Equal(t, int64(1), row.Version)
	require.NotNil(t, row.LastGrantAt)
	require.True(t, row.LastGrantAt.Equal(f.clock.Now()))
}

func TestApplyPassiveActivity_RejectionIsSilent(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	ctx := context.Background()

	_, err := f.svc.ApplyPassiveActivity(ctx, f.activity("g1", "u1"))
	require.NoError(t, err)

	f.clock.Advance(guild.DefaultCooldown - time.Millisecond)
	res, err := f.svc.ApplyPassiveActivity(ctx, f.activity("g1", "u1"))
	require.NoError(t, err)
	require.False(t, res.Granted)
	require.Equal(t, res.Before, res.After)
	require.Equal(t, 1, f.store.saves)

	f.clock.Advance(2 * time.Millisecond)
	res, err = f.svc.ApplyPassiveActivity(ctx, f.activity("g1", "u1"))
	require.NoError(t, err)
	require.True(t, res.Granted)
	require.Equal(t, int64(30), res.After.XP)
}

func TestApplyPassiveActivity_DisabledGuild(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	policy := guild.DefaultPolicy("g1")
	policy.LevelingEnabled = false
	f.store.setPolicy(policy)

	res, err := f.svc.ApplyPassiveActivity(context.Background(), f.activity("g1", "u1"))
	require.NoError(t, err)
	require.False(t, res.Granted)
	_, ok := f.store.get("g1", "u1")
	require.False(t, ok)
}

func TestApplyPassiveActivity_LevelUpEmitsOnce(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	f.store.put(UserProgress{ID: "1", GuildID: "g1", UserID: "u1", XP: 90})

	res, err := f.svc.ApplyPassiveActivity(context.Background(), f.activity("g1", "u1"))
	require.NoError(t, err)
	require.NotNil(t, res.Change)
	require.Equal(t, 0, res.Change.From)
	require.Equal(t, 1, res.Change.To)
	require.Equal(t, CausePassive, res.Change.Cause)
	require.NotEmpty(t, res.Change.EventID)

	require.Len(t, f.handler.all(), 1)
}

func TestConcurrentPassiveGrantsCommitOnce(t *testing.T) {
	f := newFixture(t, fixedRand(0), func(cfg *config.Config) { cfg.Leveling.MaxRetries = 20 })
	ctx := context.Background()

	const workers = 16
	var granted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.svc.ApplyPassiveActivity(ctx, f.activity("g1", "u1"))
			require.NoError(t, err)
			if res.Granted {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), granted.Load())
	row, _ := f.store.get("g1", "u1")
	require.Equal(t, int64(15), row.XP)
	require.Equal(t, int64(1), row.Version)
}

func TestConcurrentAdminDeltasAllApply(t *testing.T) {
	f := newFixture(t, fixedRand(0), func(cfg *config.Config) { cfg.Leveling.MaxRetries = 100 })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyAdminDelta(ctx, "g1", "u1", 10)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	row, _ := f.store.get("g1", "u1")
	require.Equal(t, int64(200), row.XP)
	require.Equal(t, levelcurve.LevelFor(200), row.Level)
}

func TestConflictRetriesAreBounded(t *testing.T) {
	f := newFixture(t, fixedRand(0), func(cfg *config.Config) { cfg.Leveling.MaxRetries = 3 })
	var attempts int
	f.store.beforeSave = func(p *UserProgress, expected int64) error {
		attempts++
		return ErrConcurrentWrite
	}

	_, err := f.svc.ApplyAdminDelta(context.Background(), "g1", "u1", 50)
	require.ErrorIs(t, err, ErrConcurrentWrite)
	require.Equal(t, 4, attempts)
}

func TestConflictThenSuccess(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	f.store.put(UserProgress{ID: "1", GuildID: "g1", UserID: "u1", XP: 10})

	raced := false
	f.store.beforeSave = func(p *UserProgress, expected int64) error {
		if !raced {
			raced = true
			// another writer commits between our read and our write
			f.store.put(UserProgress{ID: "1", GuildID: "g1", UserID: "u1", XP: 500, Level: levelcurve.LevelFor(500), Version: expected + 1})
		}
		return nil
	}

	res, err := f.svc.ApplyAdminDelta(context.Background(), "g1", "u1", 5)
	require.NoError(t, err)
	require.Equal(t, int64(505), res.After.XP)
}

func TestStoreTimeoutIsUnavailable(t *testing.T) {
	f := newFixture(t, fixedRand(0), func(cfg *config.Config) { cfg.Leveling.StoreTimeout = 10 * time.Millisecond })
	f.store.loadFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.svc.ApplyAdminDelta(context.Background(), "g1", "u1", 5)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = f.svc.ApplyPassiveActivity(context.Background(), f.activity("g1", "u1"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestApplyAdminDelta_ClampsAtZero(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	f.store.put(UserProgress{ID: "1", GuildID: "g1", UserID: "u1", XP: 120, Level: 1})

	res, err := f.svc.ApplyAdminDelta(context.Background(), "g1", "u1", -500)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.After.XP)
	require.Equal(t, 0, res.After.Level)
	require.Equal(t, int64(-120), res.Amount)
	require.NotNil(t, res.Change)
	require.Equal(t, 1, res.Change.From)
	require.Equal(t, 0, res.Change.To)
}

func TestApplyAdminDelta_MultiLevelJumpIsOneFact(t *testing.T) {
	f := newFixture(t, fixedRand(0))

	res, err := f.svc.ApplyAdminDelta(context.Background(), "g1", "u1", levelcurve.CumulativeXPForLevel(3))
	require.NoError(t, err)
	require.Equal(t, 3, res.After.Level)

	changes := f.handler.all()
	require.Len(t, changes, 1)
	require.Equal(t, 0, changes[0].From)
	require.Equal(t, 3, changes[0].To)
}

func TestApplyAdminDelta_RejectsOverflow(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	_, err := f.svc.ApplyAdminDelta(context.Background(), "g1", "u1", MaxAdminDelta+1)
	require.ErrorIs(t, err, ErrInvalidAdminInput)
}

func TestSetLevelRoundTrip(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	ctx := context.Background()

	for _, level := range []int{0, 1, 2, 7, 42, 500} {
		res, err := f.svc.SetLevel(ctx, "g1", "u1", level)
		require.NoError(t, err)
		require.Equal(t, level, res.After.Level)
		require.Equal(t, levelcurve.CumulativeXPForLevel(level), res.After.XP)
	}

	_, err := f.svc.SetLevel(ctx, "g1", "u1", 501)
	require.ErrorIs(t, err, ErrInvalidAdminInput)
	_, err = f.svc.SetLevel(ctx, "g1", "u1", -1)
	require.ErrorIs(t, err, ErrInvalidAdminInput)
}

func TestResetIsIdempotent(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	ctx := context.Background()
	last := f.clock.Now()
	f.store.put(UserProgress{ID: "1", GuildID: "g1", UserID: "u1", XP: 1000, Level: levelcurve.LevelFor(1000), LastGrantAt: &last, LastClaimAt: &last})

	first, err := f.svc.Reset(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, first.Change)
	require.Equal(t, 0, first.Change.To)

	second, err := f.svc.Reset(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Nil(t, second.Change)

	row, _ := f.store.get("g1", "u1")
	require.Equal(t, int64(0), row.XP)
	require.Equal(t, 0, row.Level)
	require.Nil(t, row.LastGrantAt)
	require.Nil(t, row.LastClaimAt)
	require.Equal(t, first.After.XP, second.After.XP)
	require.Equal(t, first.After.Level, second.After.Level)
}

func TestRemoveXPDropsOneLevel(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	f.store.put(UserProgress{ID: "1", GuildID: "g1", UserID: "u1", XP: 300, Level: 2})

	res, err := f.svc.Apply(context.Background(), AdminCommand{Kind: CommandRemoveXP, GuildID: "g1", UserID: "u1", Amount: 150})
	require.NoError(t, err)
	require.Equal(t, int64(150), res.After.XP)
	require.Equal(t, 1, res.After.Level)
	require.GreaterOrEqual(t, res.After.XP, levelcurve.CumulativeXPForLevel(1))
	require.Less(t, res.After.XP, levelcurve.CumulativeXPForLevel(2))
	require.Equal(t, int64(-150), res.Amount)

	changes := f.handler.all()
	require.Len(t, changes, 1)
	require.Equal(t, 2, changes[0].From)
	require.Equal(t, 1, changes[0].To)
	require.Equal(t, CauseAdmin, changes[0].Cause)

	row, _ := f.store.get("g1", "u1")
	require.Equal(t, int64(150), row.XP)
	require.Equal(t, 1, row.Level)
}

func TestRemoveXPClampsAtZero(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	f.store.put(UserProgress{ID: "1", GuildID: "g1", UserID: "u1", XP: 30})

	res, err := f.svc.Apply(context.Background(), AdminCommand{Kind: CommandRemoveXP, GuildID: "g1", UserID: "u1", Amount: 100})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.After.XP)
	require.Equal(t, 0, res.After.Level)
	require.Nil(t, res.Change)
	require.Empty(t, f.handler.all())
}

func TestXPSaturatesAtCurveMaximum(t *testing.T) {
	f := newFixture(t, fixedRand(10))
	ctx := context.Background()

	policy := guild.DefaultPolicy("g1")
	policy.XPRateMultiplier = 1e17
	f.store.setPolicy(policy)

	for i := 0; i < 3; i++ {
		ev := f.activity("g1", "u1")
		ev.IsBooster = true
		res, err := f.svc.ApplyPassiveActivity(ctx, ev)
		require.NoError(t, err)
		require.True(t, res.Granted)
		require.GreaterOrEqual(t, res.After.XP, int64(0))
		require.Equal(t, levelcurve.MaxXP, res.After.XP)
		require.Equal(t, levelcurve.MaxLevel, res.After.Level)
		f.clock.Advance(guild.DefaultCooldown)
	}

	res, err := f.svc.ApplyAdminDelta(ctx, "g1", "u1", MaxAdminDelta)
	require.NoError(t, err)
	require.Equal(t, levelcurve.MaxXP, res.After.XP)
	require.Equal(t, int64(0), res.Amount)

	res, err = f.svc.ClaimDaily(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Equal(t, levelcurve.MaxXP, res.After.XP)

	row, _ := f.store.get("g1", "u1")
	require.Equal(t, levelcurve.MaxXP, row.XP)
}

func TestApplyValidatesCommands(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	ctx := context.Background()

	cases := []AdminCommand{
		{Kind: CommandAddXP, GuildID: "g1", UserID: "u1", Amount: 0},
		{Kind: CommandRemoveXP, GuildID: "g1", UserID: "u1", Amount: -5},
		{Kind: CommandAddXP, GuildID: "", UserID: "u1", Amount: 5},
		{Kind: "bogus", GuildID: "g1", UserID: "u1"},
	}
	for _, cmd := range cases {
		_, err := f.svc.Apply(ctx, cmd)
		require.ErrorIs(t, err, ErrInvalidAdminInput, "%+v", cmd)
	}

	res, err := f.svc.Apply(ctx, AdminCommand{Kind: CommandAddXP, GuildID: "g1", UserID: "u1", Amount: 255})
	require.NoError(t, err)
	require.Equal(t, 2, res.After.Level)
}

func TestClaimDaily(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	ctx := context.Background()

	res, err := f.svc.ClaimDaily(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Equal(t, int64(MinDailyXP), res.Amount)
	require.Equal(t, 1, res.After.Level)
	require.NotNil(t, res.Change)

	f.clock.Advance(23 * time.Hour)
	_, err = f.svc.ClaimDaily(ctx, "g1", "u1")
	require.ErrorIs(t, err, ErrClaimOnCooldown)
	var cd *ClaimCooldownError
	require.True(t, errors.As(err, &cd))
	require.Equal(t, time.Hour, cd.Remaining)

	// daily claims do not touch the passive cooldown
	grant, err := f.svc.ApplyPassiveActivity(ctx, f.activity("g1", "u1"))
	require.NoError(t, err)
	require.True(t, grant.Granted)

	f.clock.Advance(time.Hour)
	res, err = f.svc.ClaimDaily(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2*MinDailyXP+MinPassiveXP), res.After.XP)
}

func TestClaimDailyDisabledGuild(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	policy := guild.DefaultPolicy("g1")
	policy.LevelingEnabled = false
	f.store.setPolicy(policy)

	_, err := f.svc.ClaimDaily(context.Background(), "g1", "u1")
	require.ErrorIs(t, err, ErrGrantRejected)
}

func TestDispatchFailureKeepsWrite(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	f.handler.err = errors.New("queue down")

	res, err := f.svc.SetLevel(context.Background(), "g1", "u1", 5)
	require.NoError(t, err)
	require.Error(t, res.DispatchErr)

	row, ok := f.store.get("g1", "u1")
	require.True(t, ok)
	require.Equal(t, 5, row.Level)
}

func TestProgressView(t *testing.T) {
	f := newFixture(t, fixedRand(0))
	ctx := context.Background()

	view, err := f.svc.Progress(ctx, "g1", "nobody")
	require.NoError(t, err)
	require.Equal(t, int64(0), view.XP)
	require.Equal(t, int64(100), view.Progress.NeededForLevel)

	_, err = f.svc.ApplyAdminDelta(ctx, "g1", "u1", 177)
	require.NoError(t, err)
	view, err = f.svc.Progress(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Equal(t, 1, view.Level)
	require.Equal(t, int64(77), view.Progress.EarnedInLevel)
	require.Equal(t, 49, view.Progress.Percent)
}

func TestToAPIError(t *testing.T) {
	require.Nil(t, ToAPIError(nil))
	require.ErrorContains(t, ToAPIError(ErrConcurrentWrite), "conflict")
	require.ErrorContains(t, ToAPIError(ErrInvalidAdminInput), "bad_request")
	require.ErrorContains(t, ToAPIError(&ClaimCooldownError{Remaining: time.Minute}), "too_many_requests")
}
