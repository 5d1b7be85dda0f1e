package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/byzhang/terrastore/internal/config"
	"github.com/byzhang/terrastore/internal/coordinator"
	"github.com/byzhang/terrastore/internal/ensemble"
	"github.com/byzhang/terrastore/internal/membership"
	"github.com/byzhang/terrastore/internal/metrics"
	"github.com/byzhang/terrastore/internal/node"
	"github.com/byzhang/terrastore/internal/router"
	"github.com/byzhang/terrastore/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("node_id", cfg.Node.ID),
		zap.String("cluster", cfg.Cluster.Name),
		zap.String("rpc_addr", cfg.Node.RPCAddr))

	met := metrics.New(cfg.Node.ID)

	engine := storage.NewMemoryEngine()
	localNode := node.NewLocalNode(node.LocalNodeConfig{
		Name:        cfg.Node.ID,
		Engine:      engine,
		Concurrency: cfg.Node.Concurrency,
		QueueSize:   cfg.Node.QueueSize,
		Logger:      logger,
		Metrics:     met,
	})

	r := router.New(cfg.Cluster.Partitions).WithMetrics(met)
	clusters := []router.Cluster{{Name: cfg.Cluster.Name, IsLocal: true}}
	for _, remote := range cfg.Ensemble.Clusters {
		clusters = append(clusters, router.Cluster{Name: remote.Name})
	}
	r.SetupClusters(clusters)

	dialRemote := func(name, addr string) (node.Node, error) {
		n := node.NewRemoteNode(node.RemoteNodeConfig{
			Name:    name,
			Addr:    addr,
			Timeout: cfg.Node.Timeout,
			Logger:  logger,
			Metrics: met,
		})
		if err := n.Connect(); err != nil {
			return nil, err
		}
		return n, nil
	}

	coord := coordinator.New(coordinator.Config{
		ClusterName:  cfg.Cluster.Name,
		Router:       r,
		Local:        localNode,
		Flusher:      engine,
		Dialer:       dialRemote,
		PauseTimeout: cfg.Node.Timeout * 6,
		Logger:       logger,
	})

	group, err := membership.New(membership.Config{
		NodeName:  cfg.Node.ID,
		BindAddr:  cfg.Gossip.BindAddr,
		BindPort:  cfg.Gossip.BindPort,
		SeedNodes: cfg.Gossip.SeedNodes,
		RPCAddr:   cfg.Node.RPCAddr,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to start group membership", zap.Error(err))
	}

	if err := coord.OnLocalJoin(cfg.Node.ID, cfg.Node.RPCAddr, localNode, group.CurrentMembers()); err != nil {
		logger.Fatal("failed to join local cluster", zap.Error(err))
	}
	group.OnJoin(func(name, addr string) {
		if name == cfg.Node.ID {
			return
		}
		met.UpdateGossipMembers(len(group.CurrentMembers()))
		coord.OnNodeJoin(name, addr)
	})
	group.OnLeave(func(name, _ string) {
		met.UpdateGossipMembers(len(group.CurrentMembers()))
		coord.OnNodeLeave(name, "")
	})

	var mgr *ensemble.Manager
	if len(cfg.Ensemble.Clusters) > 0 {
		strategy := ensemble.StrategyFixed
		if cfg.Ensemble.Strategy == "adaptive" {
			strategy = ensemble.StrategyAdaptive
		}
		mgr = ensemble.New(ensemble.Config{
			Strategy: strategy,
			Interval: cfg.Ensemble.Interval,
			Router:   r,
			Logger:   logger,
			Factory: func(name, host string, port int) (node.Node, error) {
				return dialRemote(name, net.JoinHostPort(host, strconv.Itoa(port)))
			},
		})
		for _, remote := range cfg.Ensemble.Clusters {
			var contacts []node.Node
			for _, addr := range remote.Contacts {
				n, err := dialRemote(remote.Name, addr)
				if err != nil {
					logger.Warn("ensemble: failed to dial configured contact",
						zap.String("cluster", remote.Name), zap.String("addr", addr), zap.Error(err))
					continue
				}
				contacts = append(contacts, n)
			}
			if len(contacts) == 0 {
				logger.Warn("ensemble: cluster has no reachable contacts at startup",
					zap.String("cluster", remote.Name))
			}
			mgr.Track(remote.Name, contacts)
		}
		mgr.Start()
		defer mgr.Stop()
	}

	srv := node.NewServer(localNode, logger)
	go func() {
		logger.Info("node server listening", zap.String("addr", cfg.Node.RPCAddr))
		if err := srv.ListenAndServe(cfg.Node.RPCAddr); err != nil {
			logger.Info("node server stopped", zap.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, cfg.Metrics.Path, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	if err := group.Shutdown(5 * time.Second); err != nil {
		logger.Warn("error leaving group membership", zap.Error(err))
	}
	coord.Shutdown()
	if err := srv.Close(); err != nil {
		logger.Warn("error closing node server", zap.Error(err))
	}
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}

func serveMetrics(addr, path string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	logger.Info("metrics server listening", zap.String("addr", addr), zap.String("path", path))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
