package health

import (
	"context"
	"time"

	"github.com/gogo/status"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

var Module = fx.Module("health",
	fx.Provide(NewChecker),
	fx.Invoke(Register),
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Report struct {
	Status string       `json:"status"`
	Deps   []Dependency `json:"deps"`
}

func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Checker pings the database and redis. It also serves grpc.health.v1.
type Checker struct {
	grpc_health_v1.UnimplementedHealthServer
	db    *gorm.DB
	redis *redis.Client
}

type Params struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func NewChecker(p Params) *Checker {
	return &Checker{db: p.DB, redis: p.Redis}
}

func Register(s *grpc.Server, c *Checker) {
	grpc_health_v1.RegisterHealthServer(s, c)
}

func (c *Checker) Readiness(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	report := Report{Status: StatusHealthy}

	if c.db != nil {
		dep := Dependency{Name: c.db.Name(), Status: StatusHealthy}
		sqlDB, err := c.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			report.Status = StatusUnhealthy
		}
		report.Deps = append(report.Deps, dep)
	}

	if c.redis != nil {
		// redis backs only the cache and the queue; degrade rather than fail readiness.
		dep := Dependency{Name: "redis", Status: StatusHealthy}
		if err := c.redis.Ping(ctx).Err(); err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		report.Deps = append(report.Deps, dep)
	}

	return report
}

func (c *Checker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	report := c.Readiness(ctx)
	if !report.Healthy() {
		zap.L().Warn("health check failing", zap.Any("deps", report.Deps))
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (c *Checker) Watch(req *grpc_health_v1.HealthCheckRequest, srv grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch method not implemented")
}
