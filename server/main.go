// Package server wires a runnable sevendb-tower binary: the Control
// Tower's Topic Tailer, its reference file-backed Log Tailer, a
// Prometheus metrics endpoint, and structured logging. The network
// protocol a real Copilot-side client would speak is out of scope (see
// Non-goals); this entry point exists so the Topic Tailer can be run and
// its invariants exercised end-to-end without a log-store cluster.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sevenDatabase/controltower/internal/cache"
	"github.com/sevenDatabase/controltower/internal/config"
	"github.com/sevenDatabase/controltower/internal/logging"
	"github.com/sevenDatabase/controltower/internal/logrouter"
	"github.com/sevenDatabase/controltower/internal/logtailer"
	"github.com/sevenDatabase/controltower/internal/observability"
	"github.com/sevenDatabase/controltower/internal/tower"
)

func printBanner() {
	fmt.Print(`
 _____           _           _ _____
|     |___ ___ _| |_ ___ ___| |_   _|___ _ _ _ ___ ___
|   --| . |   | |  _| . | . | | | | | . | | | | -_|  _|
|_____|___|_|_|_|_| |___|___|_| |_| |___|_____|___|_|

`)
}

func printConfiguration(cfg *config.TowerConfig) {
	slog.Info("starting control tower")
	slog.Info("running with", slog.Int("port", cfg.Port))
	slog.Info("running with", slog.Int("cores", runtime.NumCPU()))
	slog.Info("running with", slog.Int("rooms", cfg.RoomCount))
	slog.Info("running with", slog.Int("readers-per-room", cfg.ReadersPerRoom))
	slog.Info("running with", slog.Int64("cache-size", cfg.CacheSize))
}

// Start builds and runs one Control Tower process until SIGINT/SIGTERM.
func Start() {
	cfg := config.Config
	instanceID := uuid.New()
	printBanner()

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With(slog.String("instance", instanceID.String())))
	printConfiguration(cfg)
	if cfg.LogTags != "" {
		logging.EnableMany(cfg.LogTags)
	}

	reg := prometheus.NewRegistry()
	if cfg.MetricsOn || cfg.PprofOn {
		mux := http.NewServeMux()
		if cfg.MetricsOn {
			observability.SetupPrometheus(mux, reg)
		}
		if cfg.PprofOn {
			mux.Handle("/debug/pprof/", http.DefaultServeMux)
		}
		slog.Info("metrics http server starting", slog.String("addr", cfg.MetricsAddr))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics http server exited", slog.Any("error", err))
			}
		}()
	}

	logDir := cfg.LogDir
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(config.MetadataDir, logDir)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		slog.Error("could not create log dir", slog.String("dir", logDir), slog.Any("error", err))
		os.Exit(1)
	}

	router := logrouter.New(cfg.NumLogs)
	sink := &roomSink{}
	fileTailer := logtailer.New(logtailer.Config{
		Dir:              logDir,
		RetentionRecords: cfg.RetentionRecords,
	}, sink)

	roomCfg := tower.RoomConfig{
		Tower: tower.Config{
			MaxSubscriptionLag:       cfg.MaxSubscriptionLag,
			ReadersPerRoom:           cfg.ReadersPerRoom,
			MaxFindSeqnoRequests:     cfg.MaxFindTimeRequests,
			BackpressureWarnAfter:    time.Duration(cfg.BackpressureWarnAfterMillis) * time.Millisecond,
			MinReaderRestartDuration: time.Duration(cfg.MinReaderRestartDuration) * time.Second,
			MaxReaderRestartDuration: time.Duration(cfg.MaxReaderRestartDuration) * time.Second,
			Cache: cache.Config{
				ByteBudget:                    cfg.CacheSize,
				BlockSize:                     cfg.CacheBlockSize,
				BloomBitsPerMsg:                cfg.BloomBitsPerMsg,
				CacheDataFromSystemNamespaces: cfg.CacheDataFromSystemNamespaces,
			},
		},
		QueueSize:    cfg.StorageToRoomQueueSize,
		TickInterval: time.Duration(cfg.TimerIntervalMillis) * time.Millisecond,
	}

	room := tower.NewRoom(roomCfg, router, fileTailer, logSink{}, reg)
	sink.room = room
	room.SetCacheMirror(cache.NewMirror(cfg.CacheMirrorAddr, "controltower"))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	slog.Info("ready")
	<-sigs
	slog.Info("shutting down")

	room.Close()
	if err := fileTailer.Close(); err != nil {
		slog.Warn("error closing log tailer", slog.Any("error", err))
	}
}
