// Command engineserver runs the reward engine's HTTP command/query
// surface, journal-tail websocket, admin diagnostics, and periodic
// maintenance scheduler as a single process, following the teacher's
// cmd/appserver wiring style: flags override config file values,
// which override baked-in defaults, and Postgres/Redis are optional
// (in-memory storage when no DSN/address is given).
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/finova-network/reward-engine/infrastructure/logging"
	"github.com/finova-network/reward-engine/internal/cards"
	"github.com/finova-network/reward-engine/internal/config"
	"github.com/finova-network/reward-engine/internal/domain"
	"github.com/finova-network/reward-engine/internal/engine"
	"github.com/finova-network/reward-engine/internal/engine/auditlog"
	"github.com/finova-network/reward-engine/internal/engine/scheduler"
	"github.com/finova-network/reward-engine/internal/httpapi"
	"github.com/finova-network/reward-engine/internal/httpapi/admin"
	"github.com/finova-network/reward-engine/internal/httpapi/stream"
	"github.com/finova-network/reward-engine/internal/journal"
	"github.com/finova-network/reward-engine/internal/platform/database"
	"github.com/finova-network/reward-engine/internal/platform/migrations"
	"github.com/finova-network/reward-engine/internal/store"
	"github.com/finova-network/reward-engine/internal/store/cache"
	"github.com/finova-network/reward-engine/internal/store/postgres"
)

func main() {
	// godotenv.Load is a no-op (not fatal) when no .env file is
	// present, matching local-dev convenience without requiring one
	// in production containers that inject real environment variables.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env load: %v", err)
	}

	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	redisAddr := flag.String("redis-addr", "", "Redis address for network-context/daily-counter caches (in-process when empty)")
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	cardCatalogPath := flag.String("card-catalog", "", "Path to the card catalog JSON file")
	sweepSpec := flag.String("sweep-cron", "0 */15 * * * *", "cron spec (with seconds) for the RP-tier-hysteresis maintenance sweep")
	flag.Parse()

	cfg := config.New()
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := config.LoadFile(trimmed)
		if err != nil {
			log.Fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	}

	log_ := logging.New("reward-engine", cfg.Logging.Level, cfg.Logging.Format)
	zapLogger := newZapLogger(cfg.Logging.Format)
	defer zapLogger.Sync()

	rootCtx := context.Background()

	var (
		users   store.Users
		sess    store.Sessions
		edges   store.ReferralEdges
		cardsDB store.CardEffects
		daily   store.DailyCounters
		dedup   store.ActivityDedup
	)

	dsnVal := resolveDSN(*dsn, cfg)
	var db *sql.DB
	if dsnVal != "" {
		var err error
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		pg := postgres.Open(db)
		users, sess, edges, cardsDB, dedup = pg, pg, pg, pg, pg
		defer db.Close()
	} else {
		mem := store.NewMemoryStore()
		users, sess, edges, cardsDB, dedup, daily = mem, mem, mem, mem, mem, mem
	}

	var netCtxCache *cache.NetworkContextCache
	if addrVal := strings.TrimSpace(*redisAddr); addrVal != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addrVal})
		netCtxCache = cache.NewNetworkContextCache(rdb, cfg.Engine.NetworkSizeStaleness)
		if daily == nil {
			daily = cache.NewDailyCounters(rdb)
		}
	} else if daily == nil {
		daily = store.NewMemoryStore()
	}

	cardDefs := loadCardCatalog(*cardCatalogPath)
	jrn := journal.NewMemoryJournal()
	secret := resolveSecret(cfg)
	recorder := auditlog.New(os.Stdout)
	jrn.OnAppend = recorder.Record

	eng := engine.New(
		cfg.Engine,
		users, sess, edges, cardsDB, daily, dedup,
		jrn,
		networkContextProvider(netCtxCache),
		cardDefs,
		secret,
		log_,
	)

	cmdHandler := httpapi.NewHandler(eng, time.Now)
	queryHandler := httpapi.NewQueryHandler(eng, time.Now)
	router, ok := httpapi.NewRouter(cmdHandler, queryHandler, zapLogger).(*chi.Mux)
	if !ok {
		log.Fatal("httpapi.NewRouter did not return a *chi.Mux")
	}

	streamHandler := stream.New(eng, time.Second, log_)
	router.Get("/v1/users/{user_id}/journal/stream", streamHandler.ServeTail)

	adminHandler := admin.New(eng, noopUserLister, eng.SettlementBreaker())
	admin.Mount(router, adminHandler)

	sched := scheduler.New(eng, noopUserLister, log_)
	if _, err := sched.ScheduleMaintenanceSweep(*sweepSpec); err != nil {
		log.Fatalf("schedule maintenance sweep: %v", err)
	}
	sched.Start()

	listenAddr := determineAddr(*addr, cfg)
	srv := &http.Server{Addr: listenAddr, Handler: router}

	go func() {
		log.Printf("reward engine listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// noopUserLister stands in until a directory service supplies the
// live user population; maintenance sweeps are a no-op until wired to
// one.
func noopUserLister(ctx context.Context) ([]string, error) { return nil, nil }

func newZapLogger(format string) *zap.Logger {
	if format == "json" {
		l, _ := zap.NewProduction()
		return l
	}
	l, _ := zap.NewDevelopment()
	return l
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	if cfg.Server.Port != 0 {
		host := cfg.Server.Host
		if host == "" {
			host = "0.0.0.0"
		}
		return host + ":" + strconv.Itoa(cfg.Server.Port)
	}
	return ":8080"
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func resolveSecret(cfg *config.Config) []byte {
	if key := strings.TrimSpace(os.Getenv("SETTLEMENT_TOKEN_SECRET")); key != "" {
		return []byte(key)
	}
	if cfg.Security.SecretEncryptionKey != "" {
		return []byte(cfg.Security.SecretEncryptionKey)
	}
	log.Println("WARNING: no settlement token secret configured; using an insecure development default")
	return []byte("insecure-development-secret-do-not-use-in-production")
}

// networkContextProvider adapts the optional Redis-backed network-size
// cache to engine.NetworkContextProvider. With no cache configured
// (in-memory deployment, e.g. local dev or tests) it reports a single
// isolated node, matching the in-memory store's lack of any
// network-wide user directory.
func networkContextProvider(c *cache.NetworkContextCache) engine.NetworkContextProvider {
	return func(ctx context.Context) (domain.NetworkContext, error) {
		if c == nil {
			return domain.NetworkContext{TotalUsers: 1, TotalReferrals: 0, AsOf: time.Now()}, nil
		}
		nc, ok, err := c.Get(ctx)
		if err != nil {
			return domain.NetworkContext{}, err
		}
		if !ok {
			return domain.NetworkContext{TotalUsers: 1, TotalReferrals: 0, AsOf: time.Now()}, nil
		}
		return nc, nil
	}
}

func loadCardCatalog(path string) map[string]cards.Definition {
	if strings.TrimSpace(path) == "" {
		return map[string]cards.Definition{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read card catalog %s: %v", path, err)
	}
	defs, err := cards.LoadCatalog(data)
	if err != nil {
		log.Fatalf("parse card catalog %s: %v", path, err)
	}
	return defs
}
