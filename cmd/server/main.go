package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/api"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/authz"
	appconfig "github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/config"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/events"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/logging"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/metrics"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/paystack"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/secrets"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/memory"
	mongostore "github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/mongo"
	postgres "github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/postgres"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/telemetry"
)

const version = "1.0.0"

func newLogger(cfg appconfig.Config) (*zap.Logger, error) {
	return logging.New(cfg.ServiceName, cfg.LogLevel)
}

func setupTelemetry(lc fx.Lifecycle, cfg appconfig.Config, logger *zap.Logger) {
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.InitTracer(ctx, cfg.ServiceName, version)
			if err != nil {
				// Tracing is optional; keep serving without it.
				logger.Warn("tracing disabled", zap.Error(err))
				return nil
			}
			logger.Info("OpenTelemetry initialized")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown != nil {
				return shutdown(ctx)
			}
			return nil
		},
	})
}

// newOrderStore opens the configured backend and binds its lifecycle to Fx.
func newOrderStore(lc fx.Lifecycle, cfg appconfig.Config, logger *zap.Logger) (order.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch cfg.Store.Backend {
	case appconfig.StoreMemory:
		logger.Warn("using in-memory order store; orders are lost on restart")
		return memory.NewStore(), nil

	case appconfig.StoreMongo:
		logger.Info("connecting to MongoDB", zap.String("database", cfg.Mongo.Database))
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		store := mongostore.NewStore(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return client.Disconnect(ctx) },
		})
		return store, nil

	default:
		logger.Info("connecting to PostgreSQL",
			zap.String("database", cfg.Database.Database),
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
		)
		db, err := postgres.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return db.Close() },
		})
		return postgres.NewRepository(db), nil
	}
}

// newPublisher constructs the shared Kafka producer, or nil when Kafka is disabled.
func newPublisher(lc fx.Lifecycle, cfg appconfig.Config, logger *zap.Logger) order.Publisher {
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		logger.Info("kafka disabled; OrderPaid events will not be published")
		return nil
	}
	prod := events.NewProducerWithBrokers(cfg.Kafka.Brokers, cfg.Kafka.PaymentsTopic)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return prod.Close() },
	})
	return prod
}

func newReconciler(store order.Store, pub order.Publisher, cfg appconfig.Config, logger *zap.Logger, m *metrics.Metrics) *order.Reconciler {
	opts := []order.Option{order.WithMetrics(m), order.WithTimeout(cfg.Store.Timeout)}
	if pub != nil {
		opts = append(opts, order.WithPublisher(pub))
	}
	return order.NewReconciler(store, logger.Named("reconciler"), opts...)
}

func newPaystackClient(cfg appconfig.Config, m *metrics.Metrics) *paystack.Client {
	return paystack.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, cfg.Paystack.Timeout, paystack.WithClientMetrics(m))
}

func newAuthzClient(cfg appconfig.Config) authz.Client {
	return authz.New(cfg.Authz.APIURL, cfg.Authz.StoreID)
}

func newWebServer(cfg appconfig.Config, logger *zap.Logger, m *metrics.Metrics, rec *order.Reconciler, client *paystack.Client, store order.Store, az authz.Client) *http.Server {
	mux := http.NewServeMux()
	api.RegisterWebhookRoutes(mux, api.NewWebhookHandler(cfg.Paystack.SecretKey, rec, logger, m))
	api.RegisterVerifyRoutes(mux, api.NewVerifyHandler(client, rec, logger, m))
	api.RegisterOrdersRoutes(mux, store, az, logger)
	api.RegisterHealthRoutes(mux)
	mux.Handle("/metrics", m.Handler())

	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func registerWebServer(lc fx.Lifecycle, cfg appconfig.Config, logger *zap.Logger, shutdowner fx.Shutdowner, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if cfg.Paystack.SecretKey == "" {
				logger.Warn("PAYSTACK_SECRET_KEY is not set; webhooks and verification will fail")
			}
			go func() {
				logger.Info("HTTP API listening", zap.String("addr", cfg.HTTP.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}

func main() {
	_ = godotenv.Load()

	if exported, err := secrets.Bootstrap(context.Background()); err != nil {
		panic(fmt.Errorf("load secrets from OpenBao: %w", err))
	} else if len(exported) > 0 {
		fmt.Printf("loaded %d secrets from OpenBao\n", len(exported))
	}

	app := fx.New(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Provide(
			appconfig.Load,
			newLogger,
			metrics.New,
			newOrderStore,
			newPublisher,
			newReconciler,
			newPaystackClient,
			newAuthzClient,
			newWebServer,
		),
		fx.Invoke(
			func(logger *zap.Logger, cfg appconfig.Config) {
				logger.Info("starting", zap.String("store", cfg.Store.Backend))
			},
			setupTelemetry,
			registerWebServer,
		),
	)

	app.Run()
}
