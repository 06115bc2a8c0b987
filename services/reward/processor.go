package reward

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"guild-leveling/services/guild"
	"guild-leveling/services/progression"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Processor turns a committed LevelChanged into role changes and an announcement.
type Processor struct {
	policies  PolicyLoader
	actuator  Actuator
	announcer Announcer
}

func NewProcessor(policies *guild.Service, actuator Actuator, announcer Announcer) *Processor {
	return newProcessor(policies, actuator, announcer)
}

func newProcessor(policies PolicyLoader, actuator Actuator, announcer Announcer) *Processor {
	return &Processor{policies: policies, actuator: actuator, announcer: announcer}
}

// Process reconciles reward roles and announces level-ups. Role and announcement
// failures are reported together; neither one cancels the other.
func (p *Processor) Process(ctx context.Context, change progression.LevelChanged) error {
	sc := trace.SpanFromContext(ctx).SpanContext()
	log := zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("event_id", change.EventID),
		zap.String("guild_id", change.GuildID),
		zap.String("user_id", change.UserID),
		zap.Int("from", change.From),
		zap.Int("to", change.To),
	)

	policy, err := p.policies.Load(ctx, change.GuildID)
	if err != nil {
		log.Error("failed to load guild policy", zap.Error(err))
		return fmt.Errorf("load policy: %w", err)
	}

	// role and announcement failures are independent; both are reported
	var (
		wg          sync.WaitGroup
		roleErr     error
		announceErr error
	)

	if table := policy.Rewards(); len(table) > 0 {
		wg.Go(func() {
			roleErr = p.reconcile(ctx, log, table, change)
		})
	}

	if change.Up() && policy.AnnounceChannelID != "" {
		wg.Go(func() {
			announceErr = p.announcer.NotifyLevelChange(ctx, change.GuildID, change.UserID, change.From, change.To, policy.AnnounceChannelID)
			if announceErr != nil {
				log.Warn("level-up announcement failed", zap.Error(announceErr))
			}
		})
	}

	wg.Wait()
	return errors.Join(roleErr, announceErr)
}

func (p *Processor) reconcile(ctx context.Context, log *zap.Logger, table []guild.RewardEntry, change progression.LevelChanged) error {
	held, err := p.actuator.HeldRoles(ctx, change.GuildID, change.UserID)
	if err != nil {
		log.Error("failed to read member roles", zap.Error(err))
		return &ActuatorError{GuildID: change.GuildID, UserID: change.UserID, Failures: map[string]error{"*": err}}
	}

	delta := Reconcile(table, change.From, change.To, held)
	if delta.Empty() {
		return nil
	}

	if err := p.actuator.ApplyRoleDelta(ctx, change.GuildID, change.UserID, delta); err != nil {
		// XP stays committed; roles need manual repair.
		log.Error("reward role actuation failed",
			zap.String("add", delta.Add),
			zap.Strings("remove", delta.Remove),
			zap.Error(err),
		)
		return err
	}

	log.Info("reward roles reconciled", zap.String("add", delta.Add), zap.Strings("remove", delta.Remove))
	return nil
}
