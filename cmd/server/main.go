package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/frame-audio-service/internal/audio"
	"github.com/skypro1111/frame-audio-service/internal/config"
	"github.com/skypro1111/frame-audio-service/internal/metrics"
	"github.com/skypro1111/frame-audio-service/internal/publish"
	"github.com/skypro1111/frame-audio-service/internal/reassembly"
	"github.com/skypro1111/frame-audio-service/internal/server"
	"github.com/skypro1111/frame-audio-service/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "frame-audio-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("tcp_port", cfg.Server.TCPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("read_buffer_size", cfg.Server.ReadBufferSize),
		slog.Int("max_connections", cfg.Server.MaxConnections),
		slog.Int("max_pending_frames", cfg.Reassembly.MaxPendingFrames),
		slog.Float64("frame_timeout", cfg.Reassembly.FrameTimeout),
		slog.String("output_mode", cfg.Output.Mode),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	sink, err := buildSink(cfg, logger)
	if err != nil {
		logger.Error("Failed to create frame sink", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sessionMgr := session.NewManager(logger, cfg.Server.GetIdleTimeout(), session.ManagerConfig{
		Reassembly: reassembly.Config{
			MaxPendingFrames: cfg.Reassembly.MaxPendingFrames,
			FrameTimeout:     cfg.Reassembly.GetFrameTimeout(),
		},
		Sink: sink,
	})
	logger.Info("Session manager initialized",
		slog.Duration("idle_timeout", cfg.Server.GetIdleTimeout()),
		slog.Duration("frame_timeout", cfg.Reassembly.GetFrameTimeout()),
	)

	tcpServer := server.NewTCPServer(&cfg.Server, logger, sessionMgr, appMetrics)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, tcpServer, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := tcpServer.Start(); err != nil {
		logger.Error("Failed to start TCP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("tcp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.TCPPort)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP first so monitoring requests do not race teardown, then the
	// TCP server, then the sessions, and finally the sink once nothing can
	// deliver frames anymore.
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := tcpServer.Stop(); err != nil {
		logger.Error("Error stopping TCP server", slog.String("error", err.Error()))
	}

	sessionMgr.Stop()

	if err := sink.Close(); err != nil {
		logger.Error("Error closing frame sink", slog.String("error", err.Error()))
	}

	stats := tcpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("connections_rejected", stats.ConnectionsRejected),
		slog.Uint64("chunks_processed", stats.ChunksProcessed),
	)

	logger.Info("Service stopped")
}

// buildSink creates the frame sink the output configuration selects.
func buildSink(cfg *config.Config, logger *slog.Logger) (audio.Sink, error) {
	switch cfg.Output.Mode {
	case config.SinkNATS:
		publisher, err := publish.NewPublisher(publish.Config{
			URL:           cfg.Output.NATS.URL,
			SubjectPrefix: cfg.Output.NATS.SubjectPrefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("NATS frame publisher initialized",
			slog.String("subject_prefix", cfg.Output.NATS.SubjectPrefix),
		)
		return publisher, nil

	case config.SinkWAV:
		sink, err := audio.NewWAVDirectorySink(cfg.Output.WAV.Directory, cfg.Output.WAV.SampleRate)
		if err != nil {
			return nil, err
		}
		logger.Info("WAV directory sink initialized",
			slog.String("directory", cfg.Output.WAV.Directory),
			slog.Int("sample_rate", cfg.Output.WAV.SampleRate),
		)
		return sink, nil

	case config.SinkDiscard:
		logger.Warn("Discard sink configured, reassembled frames will be dropped")
		return &audio.DiscardSink{}, nil

	default:
		return nil, fmt.Errorf("unknown output mode %q", cfg.Output.Mode)
	}
}

// initLogger creates and configures the structured logger based on configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
