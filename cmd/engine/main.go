package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/alerts"
	"github.com/cipherzeroprotocol/solana-guard/internal/api"
	"github.com/cipherzeroprotocol/solana-guard/internal/batch"
	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/db"
	"github.com/cipherzeroprotocol/solana-guard/internal/heuristics"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/internal/session"
)

const (
	// sessionSweepInterval is how often idle investigation graphs are expired.
	sessionSweepInterval = time.Minute
	// memoryArchiveSize bounds the report archive when no database is used.
	memoryArchiveSize = 5000
)

func main() {
	cfg, err := config.Load(os.Getenv("SOLGUARD_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("Starting Solana Guard forensics engine",
		zap.String("policy", cfg.Analysis.Version),
		zap.Int("port", cfg.Server.Port))

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(log),

		fx.Provide(
			newRootContext,
			metrics.NewRegistry,
			newAnalyzer,
			newSessions,
			newHub,
			newArchive,
			newAlertManager,
			newBatchRunner,
		),

		fx.Invoke(startBackground),
		fx.Invoke(startHTTPServer),

		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Logger.Named("fx")}
		}),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Error("Failed to stop application gracefully", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Engine stopped")
}

// newRootContext lives as long as the application: background batch runs,
// the websocket hub and the session janitor all stop with it.
func newRootContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		cancel()
		return nil
	}})
	return ctx
}

func newAnalyzer(cfg *config.Config, log *logger.Logger) *heuristics.Analyzer {
	return heuristics.NewAnalyzer(cfg.Analysis, log, heuristics.WithRegistry(heuristics.NewDefaultEntityRegistry()))
}

func newSessions(cfg *config.Config, log *logger.Logger, reg *metrics.Registry) *session.Manager {
	return session.NewManager(cfg.Analysis, cfg.Server.SessionTTL, log, reg)
}

func newHub(cfg *config.Config, log *logger.Logger) *alerts.Hub {
	return alerts.NewHub(cfg.Server.AllowedOrigins, log)
}

// archive is the report store plus the PostgreSQL connection behind it,
// which is nil when the database is disabled or unreachable.
type archive struct {
	Store    db.ReportStore
	Postgres *db.PostgresStore
}

func newArchive(lc fx.Lifecycle, cfg *config.Config, log *logger.Logger) *archive {
	a := &archive{Store: db.NewMemoryStore(memoryArchiveSize)}
	if !cfg.Database.Enabled || cfg.Database.URL == "" {
		log.Info("report archive running in memory; database disabled")
		return a
	}

	pg, err := db.Connect(context.Background(), cfg.Database.URL, cfg.Database.ConnectTimeout, log)
	if err != nil {
		log.Warn("failed to connect to PostgreSQL, continuing with the in-memory archive", zap.Error(err))
		return a
	}
	if err := pg.InitSchema(context.Background()); err != nil {
		log.Warn("report archive schema init failed", zap.Error(err))
	}
	a.Store, a.Postgres = pg, pg
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		pg.Close()
		return nil
	}})
	return a
}

func newAlertManager(lc fx.Lifecycle, cfg *config.Config, log *logger.Logger, reg *metrics.Registry, hub *alerts.Hub, arc *archive) *alerts.Manager {
	mgr := alerts.NewManager(cfg.Alerts.MinSeverity, cfg.Alerts.HistorySize, log, reg, hub)
	for _, url := range cfg.Alerts.Webhooks {
		mgr.AddSink(alerts.NewWebhookSink(url))
	}
	if arc.Postgres != nil {
		mgr.AddSink(arc.Postgres)
	}
	if cfg.Alerts.NATSURL != "" {
		sink, err := alerts.NewNATSSink(cfg.Alerts.NATSURL, cfg.Alerts.NATSSubject, log)
		if err != nil {
			log.Warn("NATS alert sink unavailable", zap.String("url", cfg.Alerts.NATSURL), zap.Error(err))
		} else {
			mgr.AddSink(sink)
			lc.Append(fx.Hook{OnStop: func(context.Context) error { return sink.Close() }})
		}
	}
	return mgr
}

func newBatchRunner(cfg *config.Config, log *logger.Logger, reg *metrics.Registry, analyzer *heuristics.Analyzer, mgr *alerts.Manager, arc *archive) *batch.Runner {
	return batch.NewRunner(analyzer, cfg.Batch, log,
		batch.WithAlerts(mgr),
		batch.WithStore(arc.Store),
		batch.WithMetrics(reg))
}

func startBackground(lc fx.Lifecycle, root context.Context, hub *alerts.Hub, sessions *session.Manager) {
	lc.Append(fx.Hook{OnStart: func(context.Context) error {
		go hub.Run(root)
		go sessions.RunJanitor(root, sessionSweepInterval)
		return nil
	}})
}

type serverDeps struct {
	fx.In

	Lifecycle fx.Lifecycle
	Root      context.Context
	Config    *config.Config
	Log       *logger.Logger
	Metrics   *metrics.Registry
	Analyzer  *heuristics.Analyzer
	Sessions  *session.Manager
	Alerts    *alerts.Manager
	Hub       *alerts.Hub
	Batch     *batch.Runner
	Archive   *archive
}

func startHTTPServer(d serverDeps) {
	gin.SetMode(d.Config.Server.Mode)
	router := api.SetupRouter(api.Deps{
		Server:      d.Config.Server,
		Analyzer:    d.Analyzer,
		Sessions:    d.Sessions,
		Alerts:      d.Alerts,
		Hub:         d.Hub,
		Batch:       d.Batch,
		Reports:     d.Archive.Store,
		Metrics:     d.Metrics,
		Logger:      d.Log,
		DBConnected: d.Archive.Postgres != nil,
		BaseContext: d.Root,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.Config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					d.Log.Error("HTTP server error", zap.Error(err))
				}
			}()
			d.Log.Info("Engine running", zap.String("addr", server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Log.Info("Stopping HTTP server...")
			return server.Shutdown(ctx)
		},
	})
}
