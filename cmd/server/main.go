package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ballotgate/internal/audit"
	"ballotgate/internal/ledger"
	"ballotgate/internal/platform/config"
	"ballotgate/internal/platform/database"
	"ballotgate/internal/platform/httpserver"
	"ballotgate/internal/platform/logger"
	"ballotgate/internal/platform/observability"
	platformredis "ballotgate/internal/platform/redis"
	httptransport "ballotgate/internal/transport/http"
	votehandler "ballotgate/internal/vote/handler"
	votemetrics "ballotgate/internal/vote/metrics"
	"ballotgate/internal/vote/models"
	voteservice "ballotgate/internal/vote/service"
	sessionstore "ballotgate/internal/vote/store/session"
	"ballotgate/internal/vote/store/voterecord"
	"ballotgate/internal/verifier"
	"ballotgate/internal/wallet"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Setup(ctx, cfg.OTel)
	if err != nil {
		log.Error("tracing setup failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		sh(ctx, shutdownTracing)
	}()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Error("database setup failed", "error", err.Error())
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			log.Error("database migration failed", "error", err.Error())
			os.Exit(1)
		}
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis setup failed", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Stores: Postgres and Redis when configured, in-memory otherwise.
	var records voteservice.RecordStore
	var auditStore audit.Store
	var outbox *audit.PostgresStore
	if db != nil {
		records = voterecord.NewPostgres(db)
		outbox = audit.NewPostgresStore(db)
		auditStore = outbox
	} else {
		records = voterecord.NewInMemory()
		auditStore = audit.NewInMemoryStore()
	}

	var sessions voteservice.SessionStore
	if redisClient != nil {
		sessions = sessionstore.NewRedis(redisClient.Client)
	} else {
		sessions = sessionstore.NewInMemory()
	}

	signer, err := wallet.NewKeyWallet(cfg.Wallet.KeyHex)
	if err != nil {
		log.Error("wallet setup failed", "error", err.Error())
		os.Exit(1)
	}

	var ledgerClient voteservice.LedgerClient
	switch cfg.Ledger.Mode {
	case "eth":
		eth, err := ledger.DialEth(ctx, cfg.Ledger.RPCURL, cfg.Ledger.ContractAddress, signer.PrivateKey())
		if err != nil {
			log.Error("ledger setup failed", "error", err.Error())
			os.Exit(1)
		}
		defer eth.Close()
		ledgerClient = eth
	default:
		ledgerClient = ledger.NewMemory(
			models.Candidate{ID: 1, Name: "Alice Johnson"},
			models.Candidate{ID: 2, Name: "Ben Carter"},
			models.Candidate{ID: 3, Name: "Carla Mendes"},
		)
	}

	var verify voteservice.Verifier
	switch cfg.Verifier.Mode {
	case "http":
		verify = verifier.NewHTTP(cfg.Verifier.URL, cfg.Vote.SimilarityThreshold, cfg.Verifier.Timeout)
	default:
		verify = verifier.NewSimulated(cfg.Vote.SimilarityThreshold)
	}

	auditPub := audit.NewPublisher(auditStore)
	metrics := votemetrics.New()

	orchestrator := voteservice.NewOrchestrator(
		verify, signer, ledgerClient, records, sessions, auditPub, metrics, log, cfg.Vote)
	reconciler := voteservice.NewReconciler(ledgerClient, records, auditPub, metrics, log)

	router := httptransport.NewRouter(votehandler.New(orchestrator, log), log)
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting ballotgate",
			"addr", cfg.Server.Addr,
			"verifier_mode", cfg.Verifier.Mode,
			"ledger_mode", cfg.Ledger.Mode,
			"wallet", signer.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := reconciler.Run(gctx, cfg.Vote.ReconcileInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, outbox, log)
		if err != nil {
			log.Error("kafka audit sink setup failed", "error", err.Error())
			os.Exit(1)
		}
		defer sink.Close()
		g.Go(func() error {
			err := sink.Run(gctx, 5*time.Second)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// sh runs a shutdown func with a bounded context, logging is left to callers.
func sh(ctx context.Context, fn func(context.Context) error) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = fn(shutdownCtx)
}
