package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/relaywatch/internal/aiservice"
	"github.com/hrygo/relaywatch/internal/api"
	"github.com/hrygo/relaywatch/internal/cache"
	"github.com/hrygo/relaywatch/internal/config"
	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/metrics"
	"github.com/hrygo/relaywatch/internal/monitor"
	"github.com/hrygo/relaywatch/internal/mtproto"
	"github.com/hrygo/relaywatch/internal/provider"
	"github.com/hrygo/relaywatch/internal/ratelimiter"
	"github.com/hrygo/relaywatch/internal/rss"
	"github.com/hrygo/relaywatch/internal/store"
	"github.com/hrygo/relaywatch/internal/store/postgres"
	"github.com/hrygo/relaywatch/internal/store/sqlite"
	"github.com/hrygo/relaywatch/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "relaywatch",
	Short: "Watches Telegram channels, filters the noise, and relays matches through an AI-assisted chat surface.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: runServer,
}

func init() {
	viper.SetDefault("port", 8080)
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().Int("port", 8080, "port the API Gateway listens on")
	rootCmd.PersistentFlags().String("driver", "sqlite", "store driver: postgres or sqlite")
	rootCmd.PersistentFlags().String("dsn", "", "store data source name")
	rootCmd.PersistentFlags().Bool("version", false, "print the version and exit")

	for _, name := range []string{"port", "driver", "dsn", "version"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("relaywatch")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func runServer(cmd *cobra.Command, args []string) {
	if viper.GetBool("version") {
		fmt.Println(version.GetCurrentVersion("prod"))
		return
	}

	cfg := config.FromEnv(os.Getenv)
	if port := viper.GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if driver := viper.GetString("driver"); driver != "" {
		cfg.DBDriver = driver
	}
	if dsn := viper.GetString("dsn"); dsn != "" {
		cfg.DBDSN = dsn
	}

	log := logging.NewTextLogger(logLevel(cfg.LogLevel))
	if cfg.Mode == "prod" {
		log = logging.Default().WithLevel(logLevel(cfg.LogLevel))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver, err := openDriver(cfg)
	if err != nil {
		log.Error("failed to open store driver", "error", err.Error())
		return
	}
	st := store.New(driver, log)
	if err := st.EnsureMonitorTables(ctx); err != nil {
		log.Error("failed to ensure monitor tables", "error", err.Error())
		return
	}
	defer st.Close()

	var metricsExporter *metrics.Exporter
	if cfg.MetricsEnabled {
		metricsExporter = metrics.New()
	}

	cacheClient, err := cache.New(cfg.CacheDSN, log)
	if err != nil {
		log.Warn("failed to connect cache, continuing without it", "error", err.Error())
		cacheClient = nil
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}

	registry := provider.NewRegistry(cfg)
	registry.SetCache(cacheClient)

	limiter := ratelimiter.New(time.Duration(cfg.RateLimitMS)*time.Millisecond, 64, log)
	defer limiter.Close()

	gateway, err := mtproto.New(mtproto.Config{
		APIID:      cfg.TelegramAPIID,
		APIHash:    cfg.TelegramAPIHash,
		SessionDir: cfg.TelegramSessionDir,
	}, limiter, log)
	if err != nil {
		log.Error("failed to construct MTProto gateway", "error", err.Error())
		return
	}

	aiSvc := aiservice.New(registry, st, nil, log)
	aiSvc.SetMetrics(metricsExporter)

	monitorSvc := monitor.New(gateway, st, monitor.Config{
		SourceChannels: cfg.SourceChannels,
		TargetChannel:  cfg.TargetChannel,
		Keywords:       cfg.Keywords,
		FromUsers:      cfg.FromUsers,
		AllowedUsers:   cfg.AllowedUsers,
		APIKeyUserIDs:  cfg.APIKeyUserIDs(),
	}, aiSvc, log)
	monitorSvc.SetMetrics(metricsExporter)

	apiServer := api.New(cfg, log, monitorSvc, aiSvc, rss.Stub{}, st, registry, metricsExporter)

	connectCtx, cancelConnect := context.WithCancel(ctx)
	go func() {
		if err := gateway.Connect(connectCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("mtproto gateway connection ended", "error", err.Error())
		}
	}()

	if err := monitorSvc.Start(ctx); err != nil {
		log.Warn("monitor service did not start", "error", err.Error())
	}

	if metricsExporter != nil {
		go pollRateLimiterDepth(ctx, limiter, metricsExporter)
	}

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api gateway stopped unexpectedly", "error", err.Error())
		}
	}()

	log.Info("relaywatch started", "port", cfg.Port, "driver", cfg.DBDriver, "mode", cfg.Mode)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, terminationSignals...)
	<-sig

	log.Info("shutting down")

	// §5's ordering: close WS connections (inside Server.Shutdown) before
	// deregistering the MTProto handler, before stopping the Monitor
	// Service, before closing the store pool (deferred above, last).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("api gateway shutdown error", "error", err.Error())
	}
	cancelConnect()
	if err := monitorSvc.Stop(); err != nil {
		log.Warn("monitor service stop error", "error", err.Error())
	}
}

// pollRateLimiterDepth feeds the rate_limiter_queue_depth gauge (§9);
// the limiter itself has no subscriber model, so this is a simple poll.
func pollRateLimiterDepth(ctx context.Context, limiter *ratelimiter.Limiter, exporter *metrics.Exporter) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exporter.SetRateLimiterQueueDepth(limiter.QueueDepth())
		}
	}
}

func openDriver(cfg *config.Config) (store.Driver, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.Open(cfg.DBDSN)
	default:
		return sqlite.Open(cfg.DBDSN)
	}
}

func logLevel(raw string) logging.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
