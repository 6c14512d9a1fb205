// Copyright (c) 2018, Postgres Professional

package restore

import (
	"context"
	"time"

	"postgrespro.ru/logicalrepl/internal/clusterstate"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

const (
	// RemoteRepoPrefix namespaces the synthetic repository registered
	// for each subscription's remote cluster.
	RemoteRepoPrefix = "_logicalrepl_"

	SnapshotTagLatest            = "LATEST"
	IndexOptionsLenientExpandOpen = "LENIENT_EXPAND_OPEN"

	// DefaultMasterNodeTimeout is the fixed master-node timeout spec.md
	// §4.4 step 1 requires the RestoreRequest to carry.
	DefaultMasterNodeTimeout = 30 * time.Second
)

// RepositoryName returns the synthetic repository name for subscription
// name, per spec.md §4.4/§4.7.
func RepositoryName(subscriptionName string) string {
	return RemoteRepoPrefix + subscriptionName
}

// Settings is the opaque restore-settings bag passed through from DDL.
type Settings map[string]string

// Request is the RestoreRequest built in spec.md §4.4 step 1.
type Request struct {
	SubscriptionName  string
	Repository        string
	SnapshotTag       string
	IndexOptions      string
	MasterNodeTimeout time.Duration
	Settings          Settings

	RelationNames     []subscription.RelationName
	IndicesToRestore   []string
	TemplatesToRestore []string
}

func NewRequest(subscriptionName string, settings Settings, relationNames []subscription.RelationName,
	indicesToRestore, templatesToRestore []string) *Request {
	return &Request{
		SubscriptionName:   subscriptionName,
		Repository:         RepositoryName(subscriptionName),
		SnapshotTag:        SnapshotTagLatest,
		IndexOptions:       IndexOptionsLenientExpandOpen,
		MasterNodeTimeout:  DefaultMasterNodeTimeout,
		Settings:           settings,
		RelationNames:      relationNames,
		IndicesToRestore:   indicesToRestore,
		TemplatesToRestore: templatesToRestore,
	}
}

// Executor is the external restore service the coordinator submits
// requests to. It is out of scope per spec.md §1 ("the core only drives
// [the physical replication transport]") — this interface is the drive
// point. Accept should return quickly once the request is queued;
// completion is reported later through
// clusterstate.Broadcaster.CompleteRestore, keyed by the same
// RestoreKey, mirroring the in-progress-restores table design note in
// spec.md §9.
type Executor interface {
	Accept(ctx context.Context, key clusterstate.RestoreKey, req *Request) error
}
