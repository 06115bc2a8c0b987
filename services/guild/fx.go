package guild

import (
	"guild-leveling/pkg/config"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

func Migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.AutoMigrate(&Policy{})
}

var Module = fx.Module("guild",
	fx.Provide(NewService),
	fx.Invoke(Migrate),
)
