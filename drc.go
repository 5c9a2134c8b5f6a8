package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/drc/admin"
	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/index"
	"github.com/maxpert/drc/replicator"
	"github.com/maxpert/drc/telemetry"

	// adapters register themselves with the replicator
	_ "github.com/maxpert/drc/rewriter"
	_ "github.com/maxpert/drc/sink"
	_ "github.com/maxpert/drc/source"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	metricsCollectInterval = 5 * time.Second
	indexFollowInterval    = 10 * time.Millisecond
	httpShutdownTimeout    = 5 * time.Second
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("drc - change data capture log replicator")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	drcConfig, err := cfg.LoadDrcConfig(cfg.Config.DrcConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Config.DrcConfigPath).Msg("Failed to load replicator config")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var idx replicator.IndexHandle
	if drcConfig.Index.Enabled {
		memIndex, err := startIndexFollower(ctx, drcConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start index follower")
			return
		}
		idx = memIndex
	}

	repl, err := replicator.NewReplicator(replicator.ReplicatorConfig{
		Drc:   drcConfig,
		Index: idx,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create replicator")
		return
	}

	if drcConfig.Enabled {
		if err := repl.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start replicator")
			return
		}
		defer repl.Stop()
	} else {
		log.Warn().Msg("Replicator disabled in config, serving admin endpoints only")
	}

	collector := telemetry.NewMetricsCollector(repl, metricsCollectInterval)
	collector.Start()
	defer collector.Stop()

	var server *http.Server
	if cfg.Config.HTTP.Enabled {
		server, err = startHTTPServer(repl)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
			return
		}
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Int("sinks", len(drcConfig.Sinks)).
		Str("checkpoint_root", drcConfig.CheckpointRoot).
		Msg("drc started successfully")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
	}
}

// startIndexFollower builds the in-process index and keeps it following
// its own reader of the replicator's source
func startIndexFollower(ctx context.Context, drcConfig *cfg.DrcConfig) (*index.MemoryIndex, error) {
	src, err := replicator.NewSource(drcConfig.Source)
	if err != nil {
		return nil, fmt.Errorf("index source: %w", err)
	}

	memIndex := index.NewMemoryIndex()
	follower := index.NewFollower(memIndex, src, drcConfig.Index.KeyField, nil)
	go func() {
		defer src.Close()
		follower.Run(ctx, indexFollowInterval)
	}()

	log.Info().Str("key_field", drcConfig.Index.KeyField).Msg("Index follower started")
	return memIndex, nil
}

func startHTTPServer(repl *replicator.Replicator) (*http.Server, error) {
	mux := http.NewServeMux()

	if handler := telemetry.GetMetricsHandler(); handler != nil {
		mux.Handle("/metrics", handler)
	}
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(repl, strconv.FormatUint(cfg.Config.NodeID, 10)))

	addr := net.JoinHostPort(cfg.Config.HTTP.BindAddress, strconv.Itoa(cfg.Config.HTTP.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	log.Info().Str("address", addr).Msg("HTTP server listening")
	return server, nil
}
