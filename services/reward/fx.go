package reward

import (
	"guild-leveling/pkg/config"
	"guild-leveling/pkg/discord"
	"guild-leveling/pkg/task"
	"guild-leveling/pkg/taskname"
	"guild-leveling/services/guild"
	"guild-leveling/services/progression"

	"github.com/bwmarrin/discordgo"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type SinkParams struct {
	fx.In
	Config   *config.Config
	Policies *guild.Service
	Session  *discordgo.Session `optional:"true"`
}

// ProvideSinks picks the platform adapters, or log-only sinks when no bot is configured.
func ProvideSinks(p SinkParams) (Actuator, Announcer) {
	if p.Session == nil || !discord.Enabled(p.Config) {
		return logSink{}, logSink{}
	}
	return NewDiscordActuator(p.Session), NewDiscordAnnouncer(p.Session, p.Policies)
}

type HandlerParams struct {
	fx.In
	Config    *config.Config
	Processor *Processor
	Enqueuer  task.Enqueuer `optional:"true"`
}

// ProvideLevelChangeHandler routes engine facts through the queue when async dispatch is on.
func ProvideLevelChangeHandler(p HandlerParams) progression.LevelChangeHandler {
	if p.Config.Leveling.AsyncDispatch && p.Enqueuer != nil {
		zap.L().Info("level changes dispatched through the task queue")
		return NewQueueDispatcher(p.Enqueuer)
	}
	zap.L().Info("level changes processed inline")
	return NewInlineDispatcher(p.Processor)
}

func RegisterTaskHandlers(mux *asynq.ServeMux, processor *Processor) {
	mux.HandleFunc(taskname.LevelChanged, processor.HandleLevelChangedTask)
}

var Module = fx.Module("reward",
	fx.Provide(
		ProvideSinks,
		NewProcessor,
		ProvideLevelChangeHandler,
	),
	fx.Invoke(RegisterTaskHandlers),
)
