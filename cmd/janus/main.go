package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/janus/internal/cache"
	memcache "github.com/dropDatabas3/janus/internal/cache/memory"
	rediscache "github.com/dropDatabas3/janus/internal/cache/redis"
	"github.com/dropDatabas3/janus/internal/config"
	"github.com/dropDatabas3/janus/internal/flow"
	httpx "github.com/dropDatabas3/janus/internal/http"
	"github.com/dropDatabas3/janus/internal/identity"
	"github.com/dropDatabas3/janus/internal/metrics"
	"github.com/dropDatabas3/janus/internal/observability/logger"
	"github.com/dropDatabas3/janus/internal/oidc"
	"github.com/dropDatabas3/janus/internal/provider"
	"github.com/dropDatabas3/janus/internal/rate"
	"github.com/dropDatabas3/janus/internal/secrets"
	"github.com/dropDatabas3/janus/internal/security/secretbox"
	"github.com/dropDatabas3/janus/internal/service"
	"github.com/dropDatabas3/janus/internal/session"
	"github.com/dropDatabas3/janus/internal/store/core"
	memstore "github.com/dropDatabas3/janus/internal/store/memory"
	pgstore "github.com/dropDatabas3/janus/internal/store/pg"
	rdb "github.com/redis/go-redis/v9"
)

func main() {
	// .env es opcional; el entorno del sistema siempre gana
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:   "janus",
		Short: "Relying-party de autenticación multi-provider (OAuth2/OIDC)",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "ruta del archivo de configuración")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el facade HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "Lista los providers habilitados en la configuración",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			reg, err := provider.NewRegistry(cfg.ProviderSettings())
			if err != nil {
				return err
			}
			for _, id := range reg.IDs() {
				fmt.Println(id)
			}
			return nil
		},
	}

	sealCmd := &cobra.Command{
		Use:   "seal [secreto]",
		Short: "Cifra un secreto con la master key para pegarlo en el YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := secretbox.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Println(ct)
			return nil
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("storage driver %q no usa migraciones", cfg.Storage.Driver)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			st, err := pgstore.New(ctx, cfg.Storage.DSN, pgstore.Config{
				MaxConns:        cfg.Storage.Postgres.MaxConns,
				MinConns:        cfg.Storage.Postgres.MinConns,
				ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
			})
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("migraciones aplicadas")
			return nil
		},
	}

	root.AddCommand(serveCmd, providersCmd, sealCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       os.Getenv("LOG_LEVEL"),
		ServiceName: "janus",
	})
	defer logger.Sync()
	log := logger.L()

	// la master key del YAML solo llena el hueco cuando el env no la trae
	if cfg.Security.SecretBoxMasterKey != "" && os.Getenv("JANUS_MASTER_KEY") == "" {
		os.Setenv("JANUS_MASTER_KEY", cfg.Security.SecretBoxMasterKey)
	}

	if err := metrics.Register(nil); err != nil {
		return err
	}

	var c cache.Cache
	switch cfg.Cache.Kind {
	case "redis":
		c = rediscache.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
	default:
		c = memcache.New(config.Duration(cfg.Cache.Memory.DefaultTTL))
	}
	defer c.Close()

	ctx := context.Background()
	var store core.SessionStore
	switch cfg.Storage.Driver {
	case "postgres":
		pgs, err := pgstore.New(ctx, cfg.Storage.DSN, pgstore.Config{
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		store = pgs
	default:
		store = memstore.New()
	}
	defer store.Close()

	registry, err := provider.NewRegistry(cfg.ProviderSettings())
	if err != nil {
		return err
	}
	log.Info("providers registered", logger.Component("main"), logger.Any("ids", registry.IDs()))

	disc := provider.NewDiscoverer(nil)
	jwks := oidc.NewJWKSCache(nil, config.Duration(cfg.Flow.JWKS.TTL))
	jwks.StartBackgroundRefresh(config.Duration(cfg.Flow.JWKS.RefreshInterval))
	defer jwks.Close()

	states := flow.NewStateStore(c, config.Duration(cfg.Flow.StateTTL))
	exchanger := flow.NewExchangeClient(nil, registry, disc, secrets.New())
	sessions := session.NewManager(store, exchanger, config.Duration(cfg.Session.TTL))

	svc := service.New(service.Deps{
		Registry:   registry,
		Discoverer: disc,
		States:     states,
		URLs:       flow.NewURLBuilder(registry, disc, states),
		Exchanger:  exchanger,
		Validator:  oidc.NewValidator(jwks, config.Duration(cfg.Flow.ClockSkew)),
		Normalizer: identity.NewNormalizer(nil),
		Sessions:   sessions,
		Linker:     session.NewLinker(store),
	})

	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		if cfg.Cache.Kind == "redis" {
			client := rdb.NewClient(&rdb.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
			defer client.Close()
			limiter = rate.NewRedisLimiter(client, cfg.Cache.Redis.Prefix+"rl:", cfg.Rate.Limit, config.Duration(cfg.Rate.Window))
		} else {
			limiter = rate.NewMemoryLimiter(cfg.Rate.Limit, config.Duration(cfg.Rate.Window))
		}
	}

	srv := httpx.New(svc, httpx.Options{
		Addr:               cfg.Server.Addr,
		CookieSecure:       strings.EqualFold(cfg.App.Env, "prod"),
		Store:              store,
		Limiter:            limiter,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-stop:
		log.Info("shutting down", logger.Component("main"), logger.String("signal", sig.String()))
	}

	sdCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sdCtx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
