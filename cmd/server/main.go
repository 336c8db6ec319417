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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xtrntr/escrow/internal/api"
	"github.com/xtrntr/escrow/internal/auth"
	"github.com/xtrntr/escrow/internal/config"
	"github.com/xtrntr/escrow/internal/custody"
	"github.com/xtrntr/escrow/internal/db"
	"github.com/xtrntr/escrow/internal/exchange"
	"github.com/xtrntr/escrow/internal/notify"
	"github.com/xtrntr/escrow/internal/store"
)

func main() {
	app := &cli.App{
		Name:           "escrow",
		Usage:          "escrow order ledger service",
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and websocket server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply the postgres schema",
				Action: migrate,
			},
			{
				Name:  "seed",
				Usage: "create demo users in postgres",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "password", Value: "password123", Usage: "password for every demo user"},
				},
				Action: seed,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func initLogger(level string) (*zap.Logger, error) {
	var logConfig zap.Config

	switch level {
	case "debug":
		logConfig = zap.NewDevelopmentConfig()
	default:
		logConfig = zap.NewProductionConfig()
		if lvl, err := zap.ParseAtomicLevel(level); err == nil {
			logConfig.Level = lvl
		}
	}

	logger, err := logConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := initLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore returns the order store and the user store backing it
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, auth.UserStore, error) {
	switch cfg.Store.Driver {
	case "pebble":
		p, err := store.OpenPebble(cfg.Store.PebbleDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using pebble order store", zap.String("dir", cfg.Store.PebbleDir))
		return p, auth.NewMemoryUsers(), nil
	case "postgres":
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		logger.Info("using postgres order store")
		return database, database, nil
	default:
		logger.Info("using in-memory order store")
		return store.NewMemory(), auth.NewMemoryUsers(), nil
	}
}

type closer interface {
	Close() error
}

func openPublishers(cfg *config.Config, hub *notify.Hub, logger *zap.Logger) (notify.Multi, []closer, error) {
	publishers := notify.Multi{hub}
	closers := []closer{hub}

	switch cfg.Kafka.Driver {
	case "kafka-go":
		p := notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, p)
		closers = append(closers, p)
	case "sarama":
		p, err := notify.NewSaramaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, nil, err
		}
		publishers = append(publishers, p)
		closers = append(closers, p)
	}
	if cfg.Kafka.Driver != "none" {
		logger.Info("publishing events to kafka",
			zap.String("driver", cfg.Kafka.Driver),
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}
	return publishers, closers, nil
}

// Main entry point: sets up storage, custody, exchange, and HTTP server
func serve(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orders, users, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer orders.Close()

	ledger := custody.NewPaper(cfg.Ledger.Assets...)
	if len(cfg.Ledger.Assets) == 0 {
		logger.Warn("no ledger assets configured; every order will be rejected")
	}

	hub := notify.NewHub(logger)
	publishers, closers, err := openPublishers(cfg, hub, logger)
	if err != nil {
		return fmt.Errorf("failed to open publishers: %w", err)
	}
	defer func() {
		for _, cl := range closers {
			if err := cl.Close(); err != nil {
				logger.Warn("failed to close publisher", zap.Error(err))
			}
		}
	}()

	if cfg.Engine.Owner == (common.Address{}) {
		logger.Warn("no owner configured; administrative operations are disabled")
	}
	ex := exchange.NewExchange(orders, ledger, cfg.Engine.CustodyAddress, cfg.Engine.Owner, &exchange.Options{
		MaxActiveOrders: cfg.Engine.MaxActiveOrders,
		MaxQueryCount:   cfg.Engine.MaxQueryCount,
		Publisher:       publishers,
		Logger:          logger.Named("exchange"),
	})

	authService := auth.NewAuthService(users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService.Reserve(cfg.Engine.CustodyAddress)
	handler := api.NewHandler(ex, authService, ledger, logger.Named("api"))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           api.NewRouter(handler, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrow service started",
			zap.String("app", cfg.App.Name),
			zap.String("environment", cfg.App.Environment),
			zap.Int("http_port", cfg.App.Port),
			zap.String("store", cfg.Store.Driver),
			zap.String("custody", cfg.Engine.CustodyAddress.Hex()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down escrow service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	logger.Info("escrow service stopped")
	return nil
}

func migrate(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	database, err := db.NewDB(c.Context, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(c.Context); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

// Seed the database with demo users
func seed(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	database, err := db.NewDB(c.Context, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(c.Context); err != nil {
		return err
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService.Reserve(cfg.Engine.CustodyAddress)
	for _, username := range []string{"trader1", "trader2"} {
		if _, err := database.GetUserByUsername(c.Context, username); err == nil {
			logger.Info("user already exists", zap.String("username", username))
			continue
		}
		// demo accounts get fresh keys; the key is printed so the account can be used
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key for %s: %w", username, err)
		}
		address := crypto.PubkeyToAddress(key.PublicKey)
		signature, err := auth.SignRegistration(key, username)
		if err != nil {
			return fmt.Errorf("failed to sign registration for %s: %w", username, err)
		}
		if _, err := authService.Register(c.Context, username, c.String("password"), address, signature); err != nil {
			return fmt.Errorf("failed to create %s: %w", username, err)
		}
		logger.Info("created demo user",
			zap.String("username", username),
			zap.String("address", address.Hex()),
			zap.String("private_key", hexutil.Encode(crypto.FromECDSA(key))))
	}
	return nil
}
