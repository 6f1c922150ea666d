package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster"
	"github.com/bruceqiwang/incubator-kvrocks/internal/config"
	"github.com/bruceqiwang/incubator-kvrocks/internal/db"
	"github.com/bruceqiwang/incubator-kvrocks/internal/metrics"
	"github.com/bruceqiwang/incubator-kvrocks/internal/migrate"
	"github.com/bruceqiwang/incubator-kvrocks/internal/protocol"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

var configPath = flag.String("config", "", "path to the YAML config file")

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("load config", zap.Error(err))
		}
	}

	store, err := storage.Open(storage.Options{Dir: cfg.DataDir, Logger: logger})
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}

	ns := storage.DefaultNamespace
	if cfg.Namespace != "" {
		ns = cfg.Namespace
	}
	database := db.New(store, ns, logger)

	topology, err := cluster.Open(cfg.DataDir, cfg.NodeID, logger)
	if err != nil {
		logger.Fatal("open topology", zap.Error(err))
	}

	migrator := migrate.NewMigrator(store, ns, migrate.Config{
		MaxSpeed:     cfg.MigrateSpeed,
		PipelineSize: cfg.MigratePipelineSize,
		SeqGapLimit:  cfg.MigrateSequenceGap,
		DstAuth:      cfg.RequirePass,
		OnSuccess: func(slot uint16, nodeID string) error {
			return topology.SetSlotMigrated(slot, nodeID)
		},
	}, logger)

	handler := protocol.NewHandler(database, migrator, topology, cfg.RequirePass, logger)
	server := protocol.NewServer(cfg.Listen, handler, logger)

	var exporter *metrics.Exporter
	if cfg.MetricsListen != "" {
		exporter = metrics.NewExporter(cfg.MetricsListen)
		go func() {
			if err := exporter.Start(); err != nil {
				logger.Error("metrics exporter", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("server start", zap.Error(err))
		}
	}()
	logger.Info("kvrocks node up",
		zap.String("listen", cfg.Listen),
		zap.String("node-id", cfg.NodeID))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if err := server.Stop(); err != nil {
		logger.Error("stop server", zap.Error(err))
	}
	if exporter != nil {
		if err := exporter.Stop(); err != nil {
			logger.Error("stop metrics exporter", zap.Error(err))
		}
	}
	migrator.Close()
	if err := topology.Close(); err != nil {
		logger.Error("close topology", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("close storage", zap.Error(err))
	}
}
