// Copyright (c) 2018, Postgres Professional

// Daemon configuration, bound from cobra persistent flags the same way
// the teacher's cmd/common.go binds ClusterStoreConnInfo.
package config

import (
	"time"

	"postgrespro.ru/logicalrepl/internal/store"
)

const (
	DefaultTrackerInterval  = 30 * time.Second
	DefaultSnapshotPoolSize = 4
)

type Config struct {
	ClusterName string
	NodeName    string

	StoreConnInfo store.ConnInfo

	TrackerInterval  time.Duration
	SnapshotPoolSize int

	LogLevel string
}
