package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	fsAdapter "github.com/bft-labs/kiosk/internal/adapters/fs"
	httpAdapter "github.com/bft-labs/kiosk/internal/adapters/http"
	"github.com/bft-labs/kiosk/internal/adapters/mqtt"
	"github.com/bft-labs/kiosk/internal/adapters/sqlite"
	"github.com/bft-labs/kiosk/internal/app"
	"github.com/bft-labs/kiosk/internal/cliconfig"
	"github.com/bft-labs/kiosk/internal/httpapi"
	"github.com/bft-labs/kiosk/pkg/log"
)

const longHelp = `Control plane for a five-shelf vending kiosk.

Tracks shelf controller heartbeats over MQTT, reads the prepaid card reader,
checks balances against the vendor API and dispenses orders shelf by shelf.
Configure via $HOME/.kiosk/config.toml, KIOSK_* environment variables or flags.`

var exampleUsage = strings.TrimSpace(`
  kiosk --broker-url tcp://localhost:1883 --token-url https://vendor/api/token/ ...
  kiosk --config /etc/kiosk/config.toml
  kiosk catalog import products.toml`)

const shutdownGrace = 10 * time.Second

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	logger := log.Logger(log.NewZerologAdapter("info"))

	root := &cobra.Command{
		Use:           "kiosk",
		Short:         "Vending kiosk control plane",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, changed, err := loadConfig(cmd, cfgPath, &cfg)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger = log.NewZerologAdapter(cfg.LogLevel)
			logger.Info("configuration", log.Any("config", cfg.Redacted()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cfgFile, changed, logger)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.kiosk/config.toml)")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (default: $HOME/.kiosk/kiosk.db)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	root.Flags().StringVar(&cfg.BrokerURL, "broker-url", cfg.BrokerURL, "MQTT broker URL")
	root.Flags().StringVar(&cfg.MQTTClientID, "mqtt-client-id", cfg.MQTTClientID, "MQTT client id (default: random vending_<uuid>)")
	root.Flags().StringVar(&cfg.MQTTUsername, "mqtt-username", cfg.MQTTUsername, "MQTT username")
	root.Flags().StringVar(&cfg.MQTTPassword, "mqtt-password", cfg.MQTTPassword, "MQTT password")

	root.Flags().StringVar(&cfg.HeartbeatTopic, "heartbeat-topic", cfg.HeartbeatTopic, "shelf heartbeat topic filter")
	root.Flags().StringVar(&cfg.CardTopic, "card-topic", cfg.CardTopic, "card reader topic")
	root.Flags().StringVar(&cfg.CardResponseTopic, "card-response-topic", cfg.CardResponseTopic, "card response topic")
	root.Flags().StringVar(&cfg.ShelfTopic, "shelf-topic", cfg.ShelfTopic, "dispense command topic pattern (one %d)")

	root.Flags().DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "silence after which a shelf is considered dead")
	root.Flags().DurationVar(&cfg.WatchdogInterval, "watchdog-interval", cfg.WatchdogInterval, "shelf liveness sweep interval")
	root.Flags().DurationVar(&cfg.DispensePacing, "dispense-pacing", cfg.DispensePacing, "delay between dispense commands to the same shelf")
	root.Flags().DurationVar(&cfg.PublishTimeout, "publish-timeout", cfg.PublishTimeout, "broker acknowledgment timeout per publish")

	root.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP API listen address")

	root.Flags().StringVar(&cfg.TokenURL, "token-url", cfg.TokenURL, "vendor API login endpoint")
	root.Flags().StringVar(&cfg.RefreshURL, "refresh-url", cfg.RefreshURL, "vendor API token refresh endpoint")
	root.Flags().StringVar(&cfg.BalanceURL, "balance-url", cfg.BalanceURL, "vendor API balance prefix (<prefix><userid>/balance/)")
	root.Flags().StringVar(&cfg.ConsumptionURL, "consumption-url", cfg.ConsumptionURL, "vendor API consumption endpoint")
	root.Flags().StringVar(&cfg.APIUsername, "api-username", cfg.APIUsername, "vendor API service username")
	root.Flags().StringVar(&cfg.APIPassword, "api-password", cfg.APIPassword, "vendor API service password (prefer KIOSK_API_PASSWORD)")
	root.Flags().IntVar(&cfg.ConsumptionService, "consumption-service", cfg.ConsumptionService, "service id reported with consumptions")
	root.Flags().DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "vendor API HTTP timeout")

	root.AddCommand(newCatalogCommand(&cfg, &cfgPath, &logger))

	if err := root.Execute(); err != nil {
		logger.Error("kiosk", log.Err(err))
		os.Exit(1)
	}
}

// loadConfig applies the config file then KIOSK_* variables onto cfg,
// leaving explicitly set flags alone. It returns the config file in use
// ("" if none) and the set of changed flags.
func loadConfig(cmd *cobra.Command, cfgPath string, cfg *cliconfig.Config) (string, map[string]bool, error) {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return "", nil, fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return "", nil, err
		}
	} else {
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return "", nil, err
	}
	return cfgFile, changed, nil
}

func run(ctx context.Context, cfg cliconfig.Config, cfgFile string, changed map[string]bool, logger log.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	vendor := httpAdapter.NewVendorClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		httpAdapter.VendorEndpoints{
			TokenURL:       cfg.TokenURL,
			RefreshURL:     cfg.RefreshURL,
			BalanceURL:     cfg.BalanceURL,
			ConsumptionURL: cfg.ConsumptionURL,
		},
		httpAdapter.VendorCredentials{Username: cfg.APIUsername, Password: cfg.APIPassword},
		logger,
	)
	tokens := app.NewTokenManager(store, vendor, logger)
	balance := app.NewBalanceGateway(tokens, vendor, cfg.ConsumptionService, logger)

	broker, err := mqtt.New(mqtt.Config{
		BrokerURL: cfg.BrokerURL,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
	}, logger)
	if err != nil {
		return err
	}

	engine := app.NewEngine(app.EngineConfig{
		HeartbeatTopic:    cfg.HeartbeatTopic,
		CardTopic:         cfg.CardTopic,
		CardResponseTopic: cfg.CardResponseTopic,
		ShelfTopic:        cfg.ShelfTopic,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		WatchdogInterval:  cfg.WatchdogInterval,
		DispensePacing:    cfg.DispensePacing,
		PublishTimeout:    cfg.PublishTimeout,
	}, broker, balance, store, logger, nil)

	orders := app.NewOrderService(app.OrderServiceDeps{
		Cards:      engine.Cards(),
		Balance:    balance,
		Users:      store,
		Catalog:    store,
		Orders:     store,
		Dispatcher: engine,
		Device:     engine.Shelves(),
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(httpapi.NewAPI(engine, orders, store, logger), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if cfgFile != "" {
		watcher := fsAdapter.NewConfigWatcher(cfgFile, 0, func() {
			next := cfg
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err == nil {
				err = cliconfig.ApplyFileConfig(&next, fc, changed)
			}
			if err == nil {
				err = cliconfig.ApplyEnvConfig(&next, changed)
			}
			if err != nil {
				logger.Warn("config reload failed", log.Err(err))
				return
			}
			engine.ApplyTunables(next.HeartbeatTimeout, next.DispensePacing)
		}, logger)
		go watcher.Run(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http api listening", log.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, stopping...")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", log.Err(err))
	}
	orders.Wait()
	if err := engine.Stop(); err != nil {
		return errors.Join(runErr, fmt.Errorf("stop engine: %w", err))
	}
	return runErr
}
