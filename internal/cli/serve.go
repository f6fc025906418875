package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gembridge/gembridge/internal/api"
	"github.com/gembridge/gembridge/internal/audit"
	"github.com/gembridge/gembridge/internal/bootstrap"
	"github.com/gembridge/gembridge/internal/config"
	"github.com/gembridge/gembridge/internal/logging"
	log "github.com/gembridge/gembridge/internal/logging"
	"github.com/gembridge/gembridge/internal/service"
	"github.com/gembridge/gembridge/internal/translator"
	"github.com/gembridge/gembridge/internal/upstream"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gembridge server",
	Long: `Start the gembridge conversion server.

Loads the configuration, initializes the audit backend, and serves the
Gemini-dialect API until interrupted.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(c *cobra.Command, args []string) {
	logging.SetupBaseLogger()

	result, err := bootstrap.Bootstrap(cfgFile)
	if err != nil {
		log.Fatalf("Failed to bootstrap: %v", err)
	}
	cfg := result.Config

	if servePort != 0 {
		cfg.Port = servePort
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logging.SetDebug(cfg.Debug)
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	sink, backend := initAuditSink(cfg)

	mapper := translator.NewModelMapper(cfg.Models.Mapping, cfg.Models.Default)
	client := upstream.NewOpenAIClient(cfg.OpenAI)
	svc := service.NewService(client, mapper, sink)
	server := api.NewServer(cfg, svc)
	if backend != nil {
		server.EnableAuditQuery(backend)
	}

	stopWatch, err := config.Watch(result.ConfigFilePath, func(fresh *config.Config) {
		bootstrap.ApplyEnvOverrides(fresh)
		mapper.Update(fresh.Models.Mapping, fresh.Models.Default)
		server.UpdateAPIKeys(fresh.APIKeys)
		logging.SetDebug(fresh.Debug)
	})
	if err != nil {
		log.Warnf("Config hot reload disabled: %v", err)
	} else {
		defer stopWatch()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		log.Infof("Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Shutdown did not complete cleanly: %v", err)
	}

	if backend != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
		if err := backend.Flush(flushCtx); err != nil {
			log.Warnf("Failed to flush audit entries: %v", err)
		}
		cancelFlush()
		if err := backend.Stop(); err != nil {
			log.Warnf("Failed to stop audit backend: %v", err)
		}
	}
}

// initAuditSink returns the configured sink and, when persistence is
// enabled, the backend for shutdown handling.
func initAuditSink(cfg *config.Config) (audit.Sink, audit.Backend) {
	if cfg.Audit.DSN == "" {
		log.Infof("Audit persistence disabled, entries go to the debug log")
		return audit.LogSink{}, nil
	}

	var flushInterval time.Duration
	if cfg.Audit.FlushInterval != "" {
		if d, parseErr := time.ParseDuration(cfg.Audit.FlushInterval); parseErr == nil {
			flushInterval = d
		} else {
			log.Warnf("Invalid audit flush-interval %q, using default", cfg.Audit.FlushInterval)
		}
	}

	backend, err := audit.NewBackend(audit.BackendConfig{
		DSN:           cfg.Audit.DSN,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: flushInterval,
		RetentionDays: cfg.Audit.RetentionDays,
	})
	if err != nil {
		log.Warnf("Failed to initialize audit backend, falling back to log sink: %v", err)
		return audit.LogSink{}, nil
	}
	if err := backend.Start(); err != nil {
		log.Warnf("Failed to start audit backend, falling back to log sink: %v", err)
		return audit.LogSink{}, nil
	}
	if sb, ok := backend.(*audit.SQLiteBackend); ok {
		log.Infof("Audit database at %s", sb.DBPath())
	} else {
		log.Infof("Audit backend initialized: %s", cfg.Audit.DSN)
	}
	return audit.NewBackendSink(backend), backend
}
