package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // http | grpc
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Metrics struct {
		Enable         bool   `mapstructure:"ENABLE"`
		PushAddr       string `mapstructure:"PUSH_ADDR"`
		HTTPServerPort uint32 `mapstructure:"HTTP_SERVER_PORT"`
	} `mapstructure:"METRICS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
		AdminToken   string        `mapstructure:"ADMIN_TOKEN"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"` // sqlite | postgres | mysql
		Path           string `mapstructure:"PATH"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Discord struct {
		Token string `mapstructure:"TOKEN"`
	} `mapstructure:"DISCORD"`
	Leveling Leveling `mapstructure:"LEVELING"`
}

// Leveling tunes the progression engine and its read side.
type Leveling struct {
	StoreTimeout       time.Duration `mapstructure:"STORE_TIMEOUT"`
	MaxRetries         int           `mapstructure:"MAX_RETRIES"`
	MaxAdminLevel      int           `mapstructure:"MAX_ADMIN_LEVEL"`
	DailyCooldown      time.Duration `mapstructure:"DAILY_COOLDOWN"`
	AsyncDispatch      bool          `mapstructure:"ASYNC_DISPATCH"`
	RankCacheTTL       time.Duration `mapstructure:"RANK_CACHE_TTL"`
	GlobalFetchLimit   int           `mapstructure:"GLOBAL_FETCH_LIMIT"`
	GlobalWarmInterval time.Duration `mapstructure:"GLOBAL_WARM_INTERVAL"`
	WorkerConcurrency  int           `mapstructure:"WORKER_CONCURRENCY"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "guild-leveling")
	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("GRPC_SERVER.ADDR", ":9090")
	v.SetDefault("DATABASE.TYPE", "sqlite")
	v.SetDefault("DATABASE.PATH", "leveling.db")
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("OTEL.PROTOCOL", "http")
	v.SetDefault("METRICS.HTTP_SERVER_PORT", 9464)
	v.SetDefault("LEVELING.STORE_TIMEOUT", 3*time.Second)
	v.SetDefault("LEVELING.MAX_RETRIES", 5)
	v.SetDefault("LEVELING.MAX_ADMIN_LEVEL", 500)
	v.SetDefault("LEVELING.DAILY_COOLDOWN", 24*time.Hour)
	v.SetDefault("LEVELING.ASYNC_DISPATCH", true)
	v.SetDefault("LEVELING.RANK_CACHE_TTL", 30*time.Second)
	v.SetDefault("LEVELING.GLOBAL_FETCH_LIMIT", 200)
	v.SetDefault("LEVELING.GLOBAL_WARM_INTERVAL", time.Minute)
	v.SetDefault("LEVELING.WORKER_CONCURRENCY", 10)
}

func LoadConfig(p Params) *Config {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("failed to load .env", zap.Error(err))
	}

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		loadSecrets(p.Vault, &cfg)
	}

	return &cfg
}

func loadSecrets(client *vault.Client, cfg *Config) {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Discord.Token = get("discord_token", cfg.Discord.Token)
	cfg.Database.User = get("database_user", cfg.Database.User)
	cfg.Database.Password = get("database_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Server.AdminToken = get("admin_token", cfg.Server.AdminToken)
}
