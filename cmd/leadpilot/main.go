package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leadpilot/leadpilot/chat/engine"
	"github.com/leadpilot/leadpilot/chat/lock"
	"github.com/leadpilot/leadpilot/chat/metrics"
	"github.com/leadpilot/leadpilot/chat/queue"
	"github.com/leadpilot/leadpilot/chat/worker"
	"github.com/leadpilot/leadpilot/internal/profile"
	"github.com/leadpilot/leadpilot/internal/version"
	"github.com/leadpilot/leadpilot/server"
	"github.com/leadpilot/leadpilot/store"
	"github.com/leadpilot/leadpilot/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "leadpilot",
	Short: "A lead-management backend with an asynchronous assistant chat pipeline.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Systemd injects its own environment; .env is for direct runs.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:              viper.GetString("mode"),
			Addr:              viper.GetString("addr"),
			Port:              viper.GetInt("port"),
			Driver:            viper.GetString("driver"),
			DSN:               viper.GetString("dsn"),
			RedisAddr:         viper.GetString("redis-addr"),
			WorkerConcurrency: viper.GetInt("worker-concurrency"),
			Version:           version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("Failed to create db driver", "error", err)
			os.Exit(1)
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("Failed to migrate", "error", err)
			os.Exit(1)
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     instanceProfile.RedisAddr,
			Password: instanceProfile.RedisPassword,
			DB:       instanceProfile.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}

		locker := lock.New(rdb, instanceProfile.LockTTL)
		chatQueue := queue.New(rdb, "chat", queue.Options{
			MaxAttempts: instanceProfile.JobMaxAttempts,
			Backoff:     instanceProfile.JobBackoff,
			Retention:   instanceProfile.JobRetention,
		})
		chatEngine, err := engine.NewOpenAIEngine(engine.Config{
			APIKey:      instanceProfile.EngineAPIKey,
			BaseURL:     instanceProfile.EngineBaseURL,
			CallTimeout: instanceProfile.LockTTL,
		})
		if err != nil {
			slog.Error("Failed to create engine", "error", err)
			os.Exit(1)
		}
		exporter := metrics.NewPipelineExporter(metrics.DefaultConfig())

		chatWorker := worker.New(worker.Config{
			Store:       storeInstance,
			Locker:      locker,
			Queue:       chatQueue,
			Engine:      chatEngine,
			Metrics:     exporter,
			Concurrency: instanceProfile.WorkerConcurrency,
		})
		go func() {
			if err := chatWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Worker stopped", "error", err)
			}
		}()

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, locker, chatQueue, chatEngine, exporter)
		if err != nil {
			slog.Error("Failed to create server", "error", err)
			os.Exit(1)
		}

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		printGreetings(instanceProfile)
		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			cancel()
		}

		<-ctx.Done()
		if err := rdb.Close(); err != nil {
			slog.Error("Failed to close redis client", "error", err)
		}
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 28091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28091, "port of server")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("redis-addr", "", "address of the shared redis instance")
	rootCmd.PersistentFlags().Int("worker-concurrency", 0, "number of chat worker goroutines")

	for _, flag := range []string{"mode", "addr", "port", "driver", "dsn", "redis-addr", "worker-concurrency"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("leadpilot")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("LeadPilot %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
