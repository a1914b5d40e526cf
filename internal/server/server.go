package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/payperplane/payperplane/internal/chain"
	"github.com/payperplane/payperplane/internal/config"
	"github.com/payperplane/payperplane/internal/funding"
	"github.com/payperplane/payperplane/internal/ledger"
	"github.com/payperplane/payperplane/internal/lithic"
	"github.com/payperplane/payperplane/internal/metrics"
	"github.com/payperplane/payperplane/internal/notification"
	"github.com/payperplane/payperplane/internal/routes"
)

// Deps carries the infrastructure opened by main. Every field is optional:
// without a database the ledger lives in memory, without a chain reader the
// poller stays idle.
type Deps struct {
	DB       *pgxpool.Pool
	SQLite   *gorm.DB
	Cache    *redis.Client
	Chain    chain.Reader
	Registry *prometheus.Registry
}

// Server wraps the Fiber application, the chain poller and shared dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	poller *chain.Poller
	logger *slog.Logger
}

// New builds the ledger, reconciler, poller and HTTP routes.
func New(ctx context.Context, cfg config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	m := metrics.New(deps.Registry)

	ledgerBackend, err := buildLedger(ctx, cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	var issuer funding.CardIssuer
	var simulator funding.PaymentSimulator
	if cfg.LithicAPIKey != "" {
		client := lithic.NewClient(cfg.LithicAPIKey, cfg.LithicEnvironment, logger)
		issuer, simulator = client, client
	} else {
		logger.Warn("LITHIC_API_KEY not set, using static sandbox issuer")
		issuer, simulator = funding.StaticIssuer{}, funding.StaticIssuer{}
	}

	currencies := chain.NewCurrencyResolver()
	fundingSvc, err := funding.NewService(ledgerBackend, issuer, simulator, funding.Options{
		Notifier:   notification.NewLoggerNotifier(logger),
		Metrics:    m,
		Logger:     logger,
		Currencies: currencies,
	})
	if err != nil {
		return nil, err
	}

	poller, err := buildPoller(cfg, deps, fundingSvc, currencies, m, logger)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	err = routes.Setup(app, routes.Deps{
		Cfg:      cfg,
		DB:       deps.DB,
		Cache:    deps.Cache,
		Chain:    deps.Chain,
		Poller:   poller,
		Funding:  fundingSvc,
		Gatherer: deps.Registry,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, poller: poller, logger: logger}, nil
}

func buildLedger(ctx context.Context, cfg config.Config, deps Deps, logger *slog.Logger) (ledger.Ledger, error) {
	switch {
	case deps.DB != nil:
		pg := ledger.NewPostgresLedger(deps.DB)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure fundings schema: %w", err)
		}
		logger.Info("using postgres ledger")
		return pg, nil
	case deps.SQLite != nil:
		lite, err := ledger.NewSQLiteLedger(deps.SQLite)
		if err != nil {
			return nil, fmt.Errorf("migrate sqlite ledger: %w", err)
		}
		logger.Info("using sqlite ledger")
		return lite, nil
	default:
		if !cfg.IsDev() {
			return nil, fmt.Errorf("a database is required when APP_ENV=%s", cfg.AppEnv)
		}
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
		return ledger.NewInMemory(), nil
	}
}

func buildPoller(cfg config.Config, deps Deps, handler chain.EventHandler, currencies *chain.CurrencyResolver, m *metrics.Metrics, logger *slog.Logger) (*chain.Poller, error) {
	var contract common.Address
	switch {
	case !cfg.PollerEnabled():
		logger.Warn("contract address not configured, poller will idle")
	case !common.IsHexAddress(cfg.ContractAddress):
		return nil, fmt.Errorf("invalid CONTRACT_ADDRESS %q", cfg.ContractAddress)
	case deps.Chain == nil:
		logger.Warn("no web3 provider, poller will idle")
	default:
		contract = common.HexToAddress(cfg.ContractAddress)
	}

	var cursor chain.CursorStore
	if cfg.PersistPollerCursor && deps.Cache != nil {
		cursor = chain.NewRedisCursorStore(deps.Cache, contract)
	}

	return chain.NewPoller(deps.Chain, handler, currencies, chain.PollerConfig{
		Contract:      contract,
		PollInterval:  cfg.PollInterval,
		MaxBlockRange: cfg.PollerMaxBlockRange,
		Cursor:        cursor,
		Metrics:       m,
		Logger:        logger,
	}), nil
}

// Listen starts the poller in the background and then serves HTTP until the
// app is shut down.
func (s *Server) Listen(ctx context.Context) error {
	s.poller.Start(ctx)
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the poller, waiting at most PollerStopTimeout, then drains
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.poller.Stop(s.cfg.PollerStopTimeout) {
		s.logger.Warn("poller still running at shutdown")
	}
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
