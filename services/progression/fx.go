package progression

import (
	"guild-leveling/pkg/config"
	"guild-leveling/services/guild"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type StoreParams struct {
	fx.In
	DB       *gorm.DB
	Policies *guild.Service
	Node     *snowflake.Node
}

func ProvideStore(p StoreParams) Store {
	return NewGormStore(p.DB, p.Policies, p.Node)
}

func Migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.AutoMigrate(&UserProgress{})
}

var Module = fx.Module("progression",
	fx.Provide(
		ProvideStore,
		fx.Annotate(NewCELBonus, fx.As(new(BonusEvaluator))),
		NewGate,
		NewService,
	),
	fx.Invoke(Migrate),
)

var Gateway = fx.Module("progression.gateway",
	fx.Invoke(RegisterHTTPHandlers),
)
