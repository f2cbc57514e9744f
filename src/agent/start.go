// Package agent assembles the stores, engine and front ends from a loaded
// configuration and runs them as modules.
package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/stake-plus/mememo/src/agent/core"
	"github.com/stake-plus/mememo/src/api/webserver"
	"github.com/stake-plus/mememo/src/cache"
	"github.com/stake-plus/mememo/src/challenge"
	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/config"
	"github.com/stake-plus/mememo/src/data"
	"github.com/stake-plus/mememo/src/discord"
	"github.com/stake-plus/mememo/src/dispatch"
	"github.com/stake-plus/mememo/src/executor"
	"github.com/stake-plus/mememo/src/grants"
	"github.com/stake-plus/mememo/src/logging"
	"github.com/stake-plus/mememo/src/sweeper"
)

// Agent is a fully wired instance.
type Agent struct {
	Config     *config.Config
	Grants     grants.Store
	Cache      cache.Store
	Challenges *challenge.Manager
	Dispatcher *dispatch.Dispatcher
	Sweeper    *sweeper.Module
	Modules    *core.Manager

	db    *gorm.DB
	redis *redis.Client
}

// Stores opens the grant and cache stores named by cfg. Without a MySQL DSN
// grants live in memory; without a Redis URL so does the cache.
func Stores(ctx context.Context, cfg *config.Config, c clock.Clock) (grants.Store, cache.Store, *gorm.DB, *redis.Client, error) {
	var (
		gs  grants.Store
		cs  cache.Store
		db  *gorm.DB
		rdb *redis.Client
		err error
	)
	if cfg.Storage.MySQLDSN != "" {
		db, err = data.ConnectMySQL(cfg.Storage.MySQLDSN)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		gs = grants.NewGormStore(db, c)
		log.Printf("agent: grants stored in mysql")
	} else {
		gs = grants.NewMemoryStore(c)
		log.Printf("agent: no mysql dsn, grants are kept in memory and lost on restart")
	}

	if cfg.Storage.RedisURL != "" {
		rdb, err = data.ConnectRedis(ctx, cfg.Storage.RedisURL)
		if err != nil {
			closeDB(db)
			return nil, nil, nil, nil, err
		}
		cs = cache.NewRedisStore(rdb, cfg.Storage.CachePrefix, c)
		log.Printf("agent: result cache stored in redis")
	} else {
		cs = cache.NewMemoryStore(c)
	}
	return gs, cs, db, rdb, nil
}

// New wires every component without starting anything.
func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	if err := logging.Configure(cfg.Agent.LogLevel); err != nil {
		return nil, err
	}
	c := clock.Real{}

	gs, cs, db, rdb, err := Stores(ctx, cfg, c)
	if err != nil {
		return nil, err
	}
	a := &Agent{Config: cfg, Grants: gs, Cache: cs, db: db, redis: rdb}
	if db != nil {
		cfg.ApplySettings(db)
	}

	notifier, err := newNotifier(cfg, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Challenges = challenge.NewManager(gs, challenge.Options{
		ChallengeTTL: cfg.Agent.ChallengeExpiry.Std(),
		GrantTTL:     cfg.Agent.GrantExpiry.Std(),
		Notifier:     notifier,
		Clock:        c,
	})

	reg, err := cfg.Registry()
	if err != nil {
		a.Close()
		return nil, err
	}
	shell := executor.NewShell(cfg.Env, cfg.Secrets)
	shell.Path = cfg.Agent.Shell
	a.Dispatcher = dispatch.New(reg, gs, cs, shell, dispatch.Options{
		DefaultTimeout: cfg.Agent.DefaultTimeout.Std(),
		MaxConcurrent:  cfg.Agent.MaxConcurrent,
		RateLimit:      rate.Limit(cfg.Agent.RateLimit.PerMinute / 60),
		RateBurst:      cfg.Agent.RateLimit.Burst,
		Clock:          c,
	})
	log.Printf("agent: %d services registered", reg.Len())

	apiLimiter := webserver.DefaultLimiter()
	a.Sweeper = sweeper.New(cfg.Agent.SweepInterval.Std(), c,
		sweeper.Target{Name: "grants", Sweep: gs.Sweep},
		sweeper.Target{Name: "cache", Sweep: cs.Sweep},
		sweeper.Target{Name: "challenges", Sweep: func(ctx context.Context, now time.Time) (int, error) {
			expired, purged := a.Challenges.Sweep(ctx, now)
			return expired + purged, nil
		}},
		sweeper.Target{Name: "limiters", Sweep: func(_ context.Context, now time.Time) (int, error) {
			return a.Dispatcher.PruneLimiters() + apiLimiter.Cleanup(now), nil
		}},
	)
	a.Modules = core.NewManager(a.Sweeper)

	if cfg.Discord.Enabled {
		bridge, err := discord.NewBridge(cfg.Discord, &discord.Handler{
			Dispatcher: a.Dispatcher,
			Challenges: a.Challenges,
			Grants:     gs,
			Services:   reg.All,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Challenges.WithResolvedHook(bridge.NotifyResolved)
		_ = a.Modules.Add(bridge)
	} else {
		log.Printf("agent: discord disabled via configuration")
	}

	if cfg.API.Enabled {
		_ = a.Modules.Add(webserver.NewServer(cfg.API, cfg.Auth3p.Secret, webserver.Deps{
			Dispatcher: a.Dispatcher,
			Grants:     gs,
			Cache:      cs,
			Challenges: a.Challenges,
			Limiter:    apiLimiter,
		}))
	} else {
		log.Printf("agent: http api disabled via configuration")
	}
	return a, nil
}

func newNotifier(cfg *config.Config, rdb *redis.Client) (challenge.Notifier, error) {
	switch cfg.Auth3p.Notifier {
	case config.NotifierWebhook:
		return challenge.WebhookNotifier{
			URL:        cfg.Auth3p.WebhookURL,
			RespondURL: cfg.Auth3p.PublicURL,
		}, nil
	case config.NotifierRedis:
		if rdb == nil {
			return nil, fmt.Errorf("agent: auth3p notifier %q needs storage.redis_url", cfg.Auth3p.Notifier)
		}
		return challenge.RedisStreamNotifier{
			Redis:      rdb,
			Stream:     cfg.Auth3p.Stream,
			RespondURL: cfg.Auth3p.PublicURL,
		}, nil
	default:
		return challenge.LogNotifier{}, nil
	}
}

// Run starts all modules and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	defer a.Close()
	log.Printf("agent: starting modules %v", a.Modules.Names())
	err := a.Modules.Run(ctx, 10*time.Second)
	a.Challenges.Wait()
	return err
}

// Close releases store connections.
func (a *Agent) Close() {
	closeDB(a.db)
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("agent: close redis: %v", err)
		}
	}
	a.db, a.redis = nil, nil
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
