// Copyright (c) 2018, Postgres Professional

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"postgrespro.ru/logicalrepl/internal/config"
	"postgrespro.ru/logicalrepl/internal/store"
)

// set in Makefile
var LogicalReplVersion = "not defined during build"

// AddCommonFlags registers the flags shared by every logicalrepld
// subcommand: cluster-state store connectivity, this node's identity and
// log level, the same persistent-flags-into-a-struct shape as the
// teacher's AddCommonFlags.
func AddCommonFlags(cmd *cobra.Command, cfg *config.Config) {
	cmd.PersistentFlags().StringVar(&cfg.ClusterName, "cluster-name", "", "cluster name")
	cmd.PersistentFlags().StringVar(&cfg.NodeName, "node-name", "", "this node's name, as known to the cluster-state store")
	cmd.PersistentFlags().StringVar(&cfg.StoreConnInfo.Endpoints, "store-endpoints",
		store.DefaultEtcdEndpoints[0],
		"a comma-delimited list of store endpoints (use https scheme for tls communication)")
	cmd.PersistentFlags().StringVar(&cfg.StoreConnInfo.CAFile, "store-ca-file", "",
		"verify certificates of HTTPS-enabled store using this CA bundle")
	cmd.PersistentFlags().StringVar(&cfg.StoreConnInfo.CertFile, "store-cert-file", "",
		"certificate file for client identification to the store")
	cmd.PersistentFlags().StringVar(&cfg.StoreConnInfo.Key, "store-key", "",
		"private key file for client identification to the store")

	cmd.PersistentFlags().DurationVar(&cfg.TrackerInterval, "metadata-poll-interval", config.DefaultTrackerInterval,
		"how often the metadata tracker polls each subscribed publisher")
	cmd.PersistentFlags().IntVar(&cfg.SnapshotPoolSize, "snapshot-pool-size", config.DefaultSnapshotPoolSize,
		"number of concurrent restore submissions the snapshot pool allows")

	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info",
		"error|warn|info|debug")
}

// CheckConfig validates options that flag parsing alone can't enforce.
func CheckConfig(cfg *config.Config) error {
	if cfg.ClusterName == "" {
		return fmt.Errorf("cluster name required")
	}
	if cfg.NodeName == "" {
		return fmt.Errorf("node name required")
	}
	if cfg.SnapshotPoolSize <= 0 {
		return fmt.Errorf("snapshot pool size must be positive")
	}
	return nil
}
