package progression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guild-leveling/pkg/config"
	"guild-leveling/pkg/levelcurve"
	"guild-leveling/services/guild"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultStoreTimeout  = 3 * time.Second
	defaultMaxRetries    = 5
	defaultMaxAdminLevel = 500
	defaultDailyCooldown = 24 * time.Hour
	// MaxAdminDelta bounds a single admin adjustment so XP cannot overflow.
	MaxAdminDelta = int64(1_000_000_000_000)
)

// LevelChangeHandler receives LevelChanged facts after the write that produced them has committed.
type LevelChangeHandler interface {
	OnLevelChanged(ctx context.Context, change LevelChanged) error
}

// Service is the only writer of UserProgress. Each mutation is a read, modify,
// compare-and-swap cycle retried a bounded number of times.
type Service struct {
	store   Store
	gate    *Gate
	handler LevelChangeHandler
	node    *snowflake.Node
	rand    Rand
	now     func() time.Time
	tracer  trace.Tracer

	storeTimeout  time.Duration
	maxRetries    int
	maxAdminLevel int
	dailyCooldown time.Duration

	grants       metric.Int64Counter
	levelChanges metric.Int64Counter
	conflicts    metric.Int64Counter
}

type ServiceParams struct {
	fx.In
	Store   Store
	Gate    *Gate
	Config  *config.Config
	Node    *snowflake.Node
	Handler LevelChangeHandler   `optional:"true"`
	Tracer  trace.TracerProvider `optional:"true"`
	Meter   metric.MeterProvider `optional:"true"`
	Rand    Rand                 `optional:"true"`
	Clock   func() time.Time     `name:"clock" optional:"true"`
}

func NewService(p ServiceParams) (*Service, error) {
	s := &Service{
		store:         p.Store,
		gate:          p.Gate,
		handler:       p.Handler,
		node:          p.Node,
		rand:          p.Rand,
		now:           p.Clock,
		storeTimeout:  defaultStoreTimeout,
		maxRetries:    defaultMaxRetries,
		maxAdminLevel: defaultMaxAdminLevel,
		dailyCooldown: defaultDailyCooldown,
	}

	if p.Config != nil {
		lv := p.Config.Leveling
		if lv.StoreTimeout > 0 {
			s.storeTimeout = lv.StoreTimeout
		}
		if lv.MaxRetries > 0 {
			s.maxRetries = lv.MaxRetries
		}
		if lv.MaxAdminLevel > 0 {
			s.maxAdminLevel = lv.MaxAdminLevel
		}
		if lv.DailyCooldown > 0 {
			s.dailyCooldown = lv.DailyCooldown
		}
	}
	if s.rand == nil {
		s.rand = globalRand{}
	}
	if s.gate == nil {
		s.gate = NewGate(nil)
	}
	s.gate = s.gate.WithRand(s.rand)
	if s.now == nil {
		s.now = time.Now
	}

	tp := p.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer("guild-leveling/progression")

	mp := p.Meter
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("guild-leveling/progression")

	var err error
	if s.grants, err = meter.Int64Counter("leveling.passive_grants", metric.WithDescription("Passive activity decisions by outcome")); err != nil {
		return nil, err
	}
	if s.levelChanges, err = meter.Int64Counter("leveling.level_changes", metric.WithDescription("Committed level transitions")); err != nil {
		return nil, err
	}
	if s.conflicts, err = meter.Int64Counter("leveling.cas_conflicts", metric.WithDescription("Lost compare-and-swap attempts")); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) start(ctx context.Context, op, guildID, userID string) (context.Context, trace.Span, *zap.Logger) {
	ctx, span := s.tracer.Start(ctx, "progression."+op, trace.WithAttributes(
		attribute.String("guild_id", guildID),
		attribute.String("user_id", userID),
	))
	sc := span.SpanContext()
	log := zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
	)
	return ctx, span, log
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrGrantRejected) && !errors.Is(err, ErrClaimOnCooldown) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// storeCall bounds fn by the store timeout and classifies its error.
func (s *Service) storeCall(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConcurrentWrite):
		return err
	case errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

func (s *Service) loadPolicy(ctx context.Context, guildID string) (*guild.Policy, error) {
	var policy *guild.Policy
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		policy, err = s.store.LoadPolicy(ctx, guildID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = guild.DefaultPolicy(guildID)
	}
	return policy, nil
}

func (s *Service) loadProgress(ctx context.Context, guildID, userID string) (*UserProgress, error) {
	var p *UserProgress
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.store.LoadProgress(ctx, guildID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &UserProgress{GuildID: guildID, UserID: userID}
	}
	return p, nil
}

// mutation edits next in place and reports whether anything should be written.
type mutation func(next *UserProgress) (bool, error)

func (s *Service) mutate(ctx context.Context, log *zap.Logger, guildID, userID string, cause Cause, fn mutation) (*Result, error) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		current, err := s.loadProgress(ctx, guildID, userID)
		if err != nil {
			return nil, err
		}

		before := *current
		next := *current
		changed, err := fn(&next)
		if err != nil {
			return nil, err
		}
		if !changed {
			return &Result{Before: before, After: before}, nil
		}

		next.Level = levelcurve.LevelFor(next.XP)
		err = s.storeCall(ctx, func(ctx context.Context) error {
			return s.store.SaveProgress(ctx, &next, before.Version)
		})
		if errors.Is(err, ErrConcurrentWrite) {
			s.conflicts.Add(ctx, 1)
			log.Debug("compare-and-swap lost, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		res := &Result{Before: before, After: next}
		if before.Level != next.Level {
			res.Change = &LevelChanged{
				EventID:    s.eventID(),
				GuildID:    guildID,
				UserID:     userID,
				From:       before.Level,
				To:         next.Level,
				Cause:      cause,
				OccurredAt: s.now().UTC(),
			}
			s.levelChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", string(cause))))
		}
		return res, nil
	}

	log.Warn("giving up after repeated write conflicts", zap.Int("attempts", s.maxRetries+1))
	return nil, ErrConcurrentWrite
}

func (s *Service) eventID() string {
	if s.node == nil {
		return ""
	}
	return s.node.Generate().String()
}

// dispatch hands the level change downstream. Failures never undo the write.
func (s *Service) dispatch(ctx context.Context, log *zap.Logger, res *Result) {
	if res.Change == nil || s.handler == nil {
		return
	}
	if err := s.handler.OnLevelChanged(ctx, *res.Change); err != nil {
		res.DispatchErr = err
		log.Error("level change dispatch failed",
			zap.Int("from", res.Change.From),
			zap.Int("to", res.Change.To),
			zap.Error(err),
		)
	}
}

func validKey(guildID, userID string) bool {
	return strings.TrimSpace(guildID) != "" && strings.TrimSpace(userID) != ""
}

// ApplyPassiveActivity grants XP for ev when the gate allows it. A rejection
// returns a Result with Granted false and a nil error.
func (s *Service) ApplyPassiveActivity(ctx context.Context, ev ActivityEvent) (res *Result, err error) {
	ctx, span, log := s.start(ctx, "ApplyPassiveActivity", ev.GuildID, ev.UserID)
	defer func() { endSpan(span, err) }()

	if !validKey(ev.GuildID, ev.UserID) {
		return nil, fmt.Errorf("%w: guild and user are required", ErrInvalidActivity)
	}

	now := ev.Timestamp
	if now.IsZero() {
		now = s.now()
	}

	policy, err := s.loadPolicy(ctx, ev.GuildID)
	if err != nil {
		log.Error("failed to load guild policy", zap.Error(err))
		return nil, err
	}

	var decision Decision
	res, err = s.mutate(ctx, log, ev.GuildID, ev.UserID, CausePassive, func(next *UserProgress) (bool, error) {
		decision = s.gate.Decide(policy, next, ev, now)
		if !decision.Granted {
			return false, nil
		}
		next.XP = levelcurve.AddXP(next.XP, decision.Amount)
		granted := now
		next.LastGrantAt = &granted
		return true, nil
	})
	if err != nil {
		log.Error("passive grant failed", zap.Error(err))
		return nil, err
	}

	if !decision.Granted {
		s.grants.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(decision.Reason))))
		log.Debug("passive grant rejected", zap.String("reason", string(decision.Reason)))
		return res, nil
	}

	s.grants.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "granted")))
	res.Granted = true
	res.Amount = decision.Amount
	s.dispatch(ctx, log, res)
	return res, nil
}

// ApplyAdminDelta adds signedAmount to the member's XP, clamping the result at zero.
func (s *Service) ApplyAdminDelta(ctx context.Context, guildID, userID string, signedAmount int64) (res *Result, err error) {
	ctx, span, log := s.start(ctx, "ApplyAdminDelta", guildID, userID)
	defer func() { endSpan(span, err) }()

	if !validKey(guildID, userID) {
		return nil, fmt.Errorf("%w: guild and user are required", ErrInvalidAdminInput)
	}
	if signedAmount > MaxAdminDelta || signedAmount < -MaxAdminDelta {
		return nil, fmt.Errorf("%w: amount exceeds %d", ErrInvalidAdminInput, MaxAdminDelta)
	}

	res, err = s.mutate(ctx, log, guildID, userID, CauseAdmin, func(next *UserProgress) (bool, error) {
		next.XP = levelcurve.AddXP(next.XP, signedAmount)
		return true, nil
	})
	if err != nil {
		log.Error("admin xp adjustment failed", zap.Int64("amount", signedAmount), zap.Error(err))
		return nil, err
	}

	res.Amount = res.After.XP - res.Before.XP
	log.Info("admin xp adjusted", zap.Int64("requested", signedAmount), zap.Int64("applied", res.Amount))
	s.dispatch(ctx, log, res)
	return res, nil
}

// SetLevel places the member at the start of targetLevel.
func (s *Service) SetLevel(ctx context.Context, guildID, userID string, targetLevel int) (res *Result, err error) {
	ctx, span, log := s.start(ctx, "SetLevel", guildID, userID)
	defer func() { endSpan(span, err) }()

	if !validKey(guildID, userID) {
		return nil, fmt.Errorf("%w: guild and user are required", ErrInvalidAdminInput)
	}
	if targetLevel < 0 || targetLevel > s.maxAdminLevel {
		return nil, fmt.Errorf("%w: level must be between 0 and %d", ErrInvalidAdminInput, s.maxAdminLevel)
	}

	res, err = s.mutate(ctx, log, guildID, userID, CauseSetLevel, func(next *UserProgress) (bool, error) {
		next.XP = levelcurve.CumulativeXPForLevel(targetLevel)
		return true, nil
	})
	if err != nil {
		log.Error("set level failed", zap.Int("level", targetLevel), zap.Error(err))
		return nil, err
	}

	log.Info("level set", zap.Int("level", targetLevel))
	s.dispatch(ctx, log, res)
	return res, nil
}

// Reset zeroes XP and level and clears both cooldown timestamps.
func (s *Service) Reset(ctx context.Context, guildID, userID string) (res *Result, err error) {
	ctx, span, log := s.start(ctx, "Reset", guildID, userID)
	defer func() { endSpan(span, err) }()

	if !validKey(guildID, userID) {
		return nil, fmt.Errorf("%w: guild and user are required", ErrInvalidAdminInput)
	}

	res, err = s.mutate(ctx, log, guildID, userID, CauseReset, func(next *UserProgress) (bool, error) {
		next.XP = 0
		next.LastGrantAt = nil
		next.LastClaimAt = nil
		return true, nil
	})
	if err != nil {
		log.Error("reset failed", zap.Error(err))
		return nil, err
	}

	log.Info("progress reset")
	s.dispatch(ctx, log, res)
	return res, nil
}

// ClaimDaily grants the daily bonus once per cooldown window.
func (s *Service) ClaimDaily(ctx context.Context, guildID, userID string) (res *Result, err error) {
	ctx, span, log := s.start(ctx, "ClaimDaily", guildID, userID)
	defer func() { endSpan(span, err) }()

	if !validKey(guildID, userID) {
		return nil, fmt.Errorf("%w: guild and user are required", ErrInvalidActivity)
	}

	policy, err := s.loadPolicy(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !policy.LevelingEnabled {
		return nil, fmt.Errorf("%w: %s", ErrGrantRejected, RejectDisabled)
	}

	now := s.now()
	var amount int64
	res, err = s.mutate(ctx, log, guildID, userID, CauseDaily, func(next *UserProgress) (bool, error) {
		if next.LastClaimAt != nil {
			if elapsed := now.Sub(*next.LastClaimAt); elapsed < s.dailyCooldown {
				return false, &ClaimCooldownError{Remaining: s.dailyCooldown - elapsed}
			}
		}
		amount = uniform(s.rand, MinDailyXP, MaxDailyXP)
		next.XP = levelcurve.AddXP(next.XP, amount)
		claimed := now
		next.LastClaimAt = &claimed
		return true, nil
	})
	if err != nil {
		if !errors.Is(err, ErrClaimOnCooldown) {
			log.Error("daily claim failed", zap.Error(err))
		}
		return nil, err
	}

	res.Granted = true
	res.Amount = amount
	s.dispatch(ctx, log, res)
	return res, nil
}

// Apply validates an AdminCommand and routes it to the matching mutator.
func (s *Service) Apply(ctx context.Context, cmd AdminCommand) (*Result, error) {
	switch cmd.Kind {
	case CommandAddXP, CommandRemoveXP:
		if cmd.Amount <= 0 {
			return nil, fmt.Errorf("%w: amount must be a positive number", ErrInvalidAdminInput)
		}
		amount := cmd.Amount
		if cmd.Kind == CommandRemoveXP {
			amount = -amount
		}
		return s.ApplyAdminDelta(ctx, cmd.GuildID, cmd.UserID, amount)
	case CommandSetLevel:
		return s.SetLevel(ctx, cmd.GuildID, cmd.UserID, cmd.Level)
	case CommandReset:
		return s.Reset(ctx, cmd.GuildID, cmd.UserID)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidAdminInput, cmd.Kind)
	}
}

// Progress reads the member's record; members without one are reported at zero.
func (s *Service) Progress(ctx context.Context, guildID, userID string) (*ProgressView, error) {
	if !validKey(guildID, userID) {
		return nil, fmt.Errorf("%w: guild and user are required", ErrInvalidActivity)
	}
	p, err := s.loadProgress(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	return &ProgressView{
		UserProgress: *p,
		Progress:     levelcurve.ProgressWithinLevel(p.XP, p.Level),
	}, nil
}
