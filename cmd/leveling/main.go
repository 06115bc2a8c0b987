package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"guild-leveling/pkg/config"
	"guild-leveling/pkg/db"
	"guild-leveling/pkg/discord"
	"guild-leveling/pkg/hashistack/secretmanager"
	"guild-leveling/pkg/health"
	"guild-leveling/pkg/httpapi"
	"guild-leveling/pkg/logger"
	"guild-leveling/pkg/otelcol"
	"guild-leveling/pkg/profiling"
	"guild-leveling/pkg/redis"
	"guild-leveling/pkg/server"
	"guild-leveling/pkg/task"
	"guild-leveling/services/discordbot"
	"guild-leveling/services/guild"
	"guild-leveling/services/progression"
	"guild-leveling/services/ranking"
	"guild-leveling/services/reward"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		fx.Provide(provideSnowflakeNode),
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		health.Module,
		httpapi.Module,
		guild.Module,
		guild.Gateway,
		progression.Module,
		progression.Gateway,
		reward.Module,
		ranking.Module,
		ranking.Gateway,
		discord.Module,
		discordbot.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
