package ranking

import (
	"context"
	"time"

	"guild-leveling/pkg/config"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Warmer periodically refreshes the cached global leaderboard.
type Warmer struct {
	svc      *Service
	interval time.Duration
	sched    gocron.Scheduler
	started  bool
}

func NewWarmer(cfg *config.Config, svc *Service) (*Warmer, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Warmer{svc: svc, interval: cfg.Leveling.GlobalWarmInterval, sched: sched}, nil
}

func (w *Warmer) Start() error {
	if w.svc.cache == nil || w.interval <= 0 {
		zap.L().Info("leaderboard warmer disabled")
		return nil
	}

	_, err := w.sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			defer cancel()
			if err := w.svc.WarmGlobal(ctx); err != nil {
				zap.L().Warn("global leaderboard warm failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}

	w.sched.Start()
	w.started = true
	zap.L().Info("leaderboard warmer started", zap.Duration("interval", w.interval))
	return nil
}

func (w *Warmer) Stop() error {
	if !w.started {
		return nil
	}
	return w.sched.Shutdown()
}

func registerWarmer(lc fx.Lifecycle, w *Warmer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return w.Start() },
		OnStop:  func(ctx context.Context) error { return w.Stop() },
	})
}
