// Copyright (c) 2018, Postgres Professional

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	shcmd "postgrespro.ru/logicalrepl/cmd"
	"postgrespro.ru/logicalrepl/internal/clusterstate"
	"postgrespro.ru/logicalrepl/internal/config"
	"postgrespro.ru/logicalrepl/internal/connectioninfo"
	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/metadatatracker"
	"postgrespro.ru/logicalrepl/internal/remotecluster"
	"postgrespro.ru/logicalrepl/internal/restore"
	"postgrespro.ru/logicalrepl/internal/statemachine"
	"postgrespro.ru/logicalrepl/internal/store"
	"postgrespro.ru/logicalrepl/internal/subscription"
	"postgrespro.ru/logicalrepl/internal/supervisor"
)

// LogicalReplVersion is set in Makefile.
var LogicalReplVersion = "not defined during build"

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "logicalrepld",
	Short: "logical replication control plane daemon",
	RunE:  run,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Display the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("logicalrepld " + LogicalReplVersion)
	},
}

func init() {
	rootCmd.AddCommand(cmdVersion)
	shcmd.AddCommonFlags(rootCmd, &cfg)
}

func run(cmd *cobra.Command, args []string) error {
	if err := shcmd.CheckConfig(&cfg); err != nil {
		return err
	}

	log, err := hplog.GetLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	etcdClient, err := store.NewClient(cfg.StoreConnInfo)
	if err != nil {
		return fmt.Errorf("failed to connect to cluster-state store: %w", err)
	}
	etcdStore := store.NewEtcdV3Store(etcdClient)
	defer etcdStore.Close()

	subStore := subscription.NewStore()
	registry := remotecluster.NewRegistry(log.Named("remotecluster"), nil)
	restoreBroadcaster := clusterstate.NewBroadcaster()
	master := clusterstate.NewMasterClient(etcdStore, cfg.ClusterName, log.Named("master"))
	sm := statemachine.New(log.Named("statemachine"), master, subStore)
	executor := restore.NewLoopbackExecutor(restoreBroadcaster)
	pool := restore.NewPool(cfg.SnapshotPoolSize)
	coord := restore.NewCoordinator(log.Named("restore"), pool, executor, restoreBroadcaster, sm)
	tracker := metadatatracker.New(log.Named("metadatatracker"), registry, coord, sm, subStore, cfg.TrackerInterval)
	sup := supervisor.New(log.Named("supervisor"), subStore, registry, coord, tracker)
	sup.InstallRepositoriesService(noopRepositories{})

	listener := clusterstate.NewListener(etcdStore, cfg.ClusterName, cfg.NodeName, log.Named("clusterstate"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := listener.Events(ctx)
	if err != nil {
		return fmt.Errorf("failed to start cluster-state listener: %w", err)
	}

	go func() {
		for ev := range events {
			sup.OnClusterStateEvent(ctx, ev)
		}
	}()

	log.Infof("logicalrepld started for cluster %q, node %q", cfg.ClusterName, cfg.NodeName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	cancel()
	return sup.Close()
}

// noopRepositories is a placeholder RepositoriesService: registering the
// physical shard-level repository backing a subscription is the
// out-of-scope physical-transport layer per spec.md §1's non-goals.
type noopRepositories struct{}

func (noopRepositories) Register(ctx context.Context, repoName string, ci *connectioninfo.ConnectionInfo) error {
	return nil
}

func (noopRepositories) Unregister(ctx context.Context, repoName string) error {
	return nil
}
