// Command order-service runs the credit-aware order API.
//
//	@title						ordenes-credito order service
//	@version					1.0
//	@description				Orders, store credit, pending payments and returns for neighbourhood shops.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	_ "github.com/MikeMC777/ordenes-credito/docs"
	"github.com/MikeMC777/ordenes-credito/internal/config"
	"github.com/MikeMC777/ordenes-credito/internal/database"
	"github.com/MikeMC777/ordenes-credito/internal/ledger"
	"github.com/MikeMC777/ordenes-credito/internal/metrics"
	"github.com/MikeMC777/ordenes-credito/internal/order"
	"github.com/MikeMC777/ordenes-credito/internal/payment"
	"github.com/MikeMC777/ordenes-credito/internal/policy"
	"github.com/MikeMC777/ordenes-credito/internal/watch"
)

// stores is one backend's set of repositories.
type stores struct {
	orders   order.Repository
	accounts ledger.Repository
	payments payment.Repository
	policies policy.Source
	close    func()
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		listener := watch.NewListener(pool, log.With("component", "pg_listener"), order.NotifyChannel, ledger.NotifyChannel)
		listenCtx, stopListen := context.WithCancel(ctx)
		go listener.Run(listenCtx)
		return &stores{
			orders:   order.NewPGRepo(pool, listener, log.With("component", "order_store")),
			accounts: ledger.NewPGRepo(pool, listener, log.With("component", "ledger_store")),
			payments: payment.NewPGRepo(pool),
			policies: policy.NewPGSource(pool),
			close: func() {
				stopListen()
				pool.Close()
			},
		}, nil

	case config.DriverMongo:
		client, db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		orders := order.NewMongoRepo(db, log.With("component", "order_store"))
		accounts := ledger.NewMongoRepo(db, log.With("component", "ledger_store"))
		payments := payment.NewMongoRepo(db)
		for _, ensure := range []func(context.Context) error{orders.EnsureIndexes, accounts.EnsureIndexes, payments.EnsureIndexes} {
			if err := ensure(ctx); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, fmt.Errorf("ensure indexes: %w", err)
			}
		}
		return &stores{
			orders:   orders,
			accounts: accounts,
			payments: payments,
			policies: policy.NewMongoSource(db),
			close:    func() { _ = client.Disconnect(context.Background()) },
		}, nil

	case config.DriverMemory:
		log.Warn("memory_store_in_use", "note", "data is lost on restart")
		hub := watch.NewHub()
		return &stores{
			orders:   order.NewMemoryRepo(hub),
			accounts: ledger.NewMemoryRepo(hub),
			payments: payment.NewMemoryRepo(),
			policies: policy.NewStaticSource(),
			close:    func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// services is everything the HTTP handlers call into.
type services struct {
	orders   *order.Service
	ledger   *ledger.Service
	payments *payment.Service
	log      *slog.Logger
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.close()

	m := metrics.New(prometheus.DefaultRegisterer)

	policies := st.policies
	var prepared order.PreparedTracker = order.NewMemoryTracker(cfg.PreparedTTL)
	if cfg.RedisAddr != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		policies = policy.NewCachedSource(policies, rdb, cfg.PolicyCacheTTL, log.With("component", "policy_cache"))
		prepared = order.NewRedisTracker(rdb, cfg.PreparedTTL)
	}
	var commission order.CommissionRecorder = order.NoopCommission{}
	if cfg.CommissionBaseURL != "" {
		commission = order.NewCommissionClient(cfg.CommissionBaseURL, cfg.CommissionTimeout)
	}

	ledgerSvc := ledger.NewService(st.accounts, cfg.DefaultCreditLimit, m, log.With("component", "ledger"))
	svc := &services{
		ledger: ledgerSvc,
		orders: order.NewService(st.orders, order.Deps{
			Ledger:     ledgerSvc,
			Fees:       order.FlatFee{Fee: cfg.DeliveryFee, FreeAbove: cfg.FreeDeliveryAbove},
			Commission: commission,
			Policies:   policies,
			Prepared:   prepared,
			Metrics:    m,
			Log:        log.With("component", "order"),
		}),
		payments: payment.NewService(st.payments, ledgerSvc, cfg.PendingPaymentTTL, m, log.With("component", "payment")),
		log:      log,
	}

	r := newRouter(svc, cfg.JWTSecret, m)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go svc.payments.RunSweeper(ctx, cfg.PaymentSweepInterval)

	errc := make(chan error, 2)
	go func() {
		log.Info("grpc_listening", "addr", cfg.GRPCAddr)
		errc <- gs.Serve(lis)
	}()
	go func() {
		log.Info("http_listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		log.Error("server_failed", "err", err)
	}

	log.Info("shutting_down")
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown", "err", err)
	}
	gs.GracefulStop()
	return nil
}

func main() {
	cfg := config.Load()
	log := cfg.Logger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("order_service_failed", "err", err)
		os.Exit(1)
	}
}
