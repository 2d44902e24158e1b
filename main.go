package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ferreirogomes/matricula/auth"
	"github.com/ferreirogomes/matricula/config"
	"github.com/ferreirogomes/matricula/handlers"
	"github.com/ferreirogomes/matricula/ledger"
	"github.com/ferreirogomes/matricula/notify"
	"github.com/ferreirogomes/matricula/services"
	"github.com/ferreirogomes/matricula/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	root := &cli.Command{
		Name:  "matricula",
		Usage: "Registro de imóveis com transferência multiassinatura",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "arquivo YAML de configuração", Sources: cli.EnvVars("CONFIG_FILE")},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			roleCommand(),
		},
		Action: runServer,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Sobe a API HTTP",
		Action: runServer,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Aplica as migrações do banco",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "down", Usage: "desfaz as migrações em vez de aplicar"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Database.Driver == config.DriverMemory {
				return errors.New("driver memory não tem migrações")
			}
			db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			direction := migrate.Up
			if c.Bool("down") {
				direction = migrate.Down
			}
			n, err := db.Migrate(direction)
			if err != nil {
				return err
			}
			fmt.Printf("%d migrações executadas\n", n)
			return nil
		},
	}
}

func roleCommand() *cli.Command {
	return &cli.Command{
		Name:  "assign-role",
		Usage: "Define o papel de uma carteira usando o segredo administrativo configurado",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Required: true},
			&cli.StringFlag{Name: "role", Required: true, Usage: "USER | REGULATOR | FINANCIAL"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, closeStore, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			authService := newAuthService(cfg, store, nil, logger)
			user, err := authService.AssignRole(ctx, cfg.Auth.AdminSecret, c.String("wallet"), c.String("role"))
			if err != nil {
				return err
			}
			fmt.Printf("%s agora é %s\n", user.Wallet, user.Role)
			return nil
		},
	}
}

func setup(c *cli.Command) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("nível de log inválido: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func openStore(cfg config.Config, logger *zap.Logger) (services.Store, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("usando armazenamento em memória; nada será persistido")
		return storage.NewMemoryStore(), func() {}, nil
	}
	db, err := storage.NewDB(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("falha ao conectar ao banco de dados e aplicar migrações: %w", err)
	}
	return db.Store(), func() { db.Close() }, nil
}

func newAuthService(cfg config.Config, store services.Store, metrics *services.Metrics, logger *zap.Logger) *services.AuthService {
	return services.NewAuthService(
		store,
		auth.EthereumVerifier{},
		auth.NewJWTIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		services.AuthSettings{
			Message: auth.MessageParams{
				Domain:  cfg.Auth.SIWEDomain,
				URI:     cfg.Auth.SIWEURI,
				ChainID: cfg.Auth.ChainID,
			},
			NonceTTL:    cfg.Auth.NonceTTL,
			AdminSecret: cfg.Auth.AdminSecret,
		},
		metrics,
		logger,
	)
}

func runServer(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	gateway, closeGateway, err := ledger.FromConfig(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("falha ao inicializar ledger: %w", err)
	}
	defer closeGateway()

	sinks := []notify.Sink{notify.LogSink{Log: logger.Named("notify")}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.WebhookSink{URL: cfg.Notify.WebhookURL, Client: &http.Client{Timeout: cfg.Notify.Timeout}})
	}
	dispatcher := notify.NewDispatcher(cfg.Notify.Buffer, cfg.Notify.Timeout, logger.Named("notify"), sinks...)
	defer dispatcher.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	registryService := services.NewRegistryService(store, gateway, dispatcher,
		services.WithMetrics(metrics),
		services.WithLogger(logger.Named("registry")),
		services.WithValidatorPool(cfg.Validators),
		services.WithSettlementTimeout(cfg.Ledger.Timeout),
	)
	authService := newAuthService(cfg, store, metrics, logger.Named("auth"))

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Registry:       registryService,
			Auth:           authService,
			Log:            logger,
			Gatherer:       registry,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			AuthLimiter:    handlers.NewIPLimiter(cfg.HTTP.AuthRatePerSecond, cfg.HTTP.AuthBurst),
			TrustProxy:     cfg.HTTP.TrustProxy,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("servidor HTTP no ar",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("ledger", cfg.Ledger.Mode),
			zap.String("database", cfg.Database.Driver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("encerrando servidor")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
