package discordbot

import (
	"guild-leveling/pkg/config"
	"guild-leveling/pkg/discord"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideAdminChecker(s *discordgo.Session) AdminChecker {
	return SessionAdminChecker(s)
}

// Register attaches the message handler before the gateway opens.
func Register(cfg *config.Config, s *discordgo.Session, bot *Bot) {
	if !discord.Enabled(cfg) {
		return
	}
	s.AddHandler(bot.OnMessageCreate)
	zap.L().Info("discord message handler registered")
}

var Module = fx.Module("discordbot",
	fx.Provide(
		NewHandlers,
		BuildRegistry,
		ProvideAdminChecker,
		NewBot,
	),
	fx.Invoke(Register),
)
