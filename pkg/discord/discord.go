package discord

import (
	"context"

	"guild-leveling/pkg/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentMessageContent

var Module = fx.Module("discord",
	fx.Provide(NewSession),
)

// NewSession builds the bot session. The gateway is opened on start only when a token is configured.
func NewSession(lc fx.Lifecycle, cfg *config.Config) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = Intents
	dg.StateEnabled = true

	if cfg.Discord.Token == "" {
		zap.L().Warn("[Discord] no bot token configured, gateway disabled")
		return dg, nil
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := dg.Open(); err != nil {
				zap.L().Error("[Discord] failed to open gateway", zap.Error(err))
				return err
			}
			zap.L().Info("[Discord] gateway connected")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return dg.Close()
		},
	})

	return dg, nil
}

// Enabled reports whether a platform session will actually connect.
func Enabled(cfg *config.Config) bool {
	return cfg.Discord.Token != ""
}
