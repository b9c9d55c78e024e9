package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mathduel/backend/internal/config"
	"github.com/mathduel/backend/internal/connquality"
	"github.com/mathduel/backend/internal/httpapi"
	"github.com/mathduel/backend/internal/hub"
	"github.com/mathduel/backend/internal/logging"
	"github.com/mathduel/backend/internal/party"
	"github.com/mathduel/backend/internal/settle"
	"github.com/mathduel/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var parties party.Store
	var ledger settle.Ledger
	if cfg.PostgresURL != "" {
		db, err := store.Open(cfg.PostgresURL)
		if err != nil {
			logger.Fatal("postgres open failed", zap.Error(err))
		}
		parties = store.NewParties(db)
		ledger = store.NewSettlements(db)
	} else {
		logger.Warn("no postgres url configured, using in-memory store")
		mem := store.NewMemory()
		parties = mem
		ledger = mem
	}

	clock := clockwork.NewRealClock()
	monitor := connquality.NewMonitor(clock, connquality.Thresholds{
		GreenMaxRTT:  cfg.GreenMaxRTT,
		GreenMaxLoss: cfg.GreenMaxLoss,
		YellowMaxRTT: cfg.YellowMaxRTT,
	}, cfg.HeartbeatWindow, cfg.HeartbeatInterval, logger.Named("connquality"))

	reconciler := settle.NewReconciler(
		settle.NewHTTPSubmitter(cfg.SettlementURL), ledger,
		cfg.SettleMaxAttempts, cfg.SettleBaseDelay, clock, logger.Named("settle"))

	h := hub.New(ctx, monitor, reconciler, clock, logger.Named("hub"))
	svc := party.NewService(ctx, parties, uuid.NewString, logger.Named("party"))

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(h, svc, monitor, cfg.PartySize, cfg.HeartbeatInterval, logger.Named("http")),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		h.Inbox() <- hub.Shutdown{}
		svc.Inbox() <- party.Shutdown{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
