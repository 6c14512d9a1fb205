// Copyright (c) 2018, Postgres Professional

package restore

import (
	"context"

	"postgrespro.ru/logicalrepl/internal/clusterstate"
)

// LoopbackExecutor is a placeholder Executor for deployments with no
// physical replication transport wired in yet: it accepts every request
// and immediately reports a complete, all-shards-successful outcome.
// The real executor — driving the shard-level file copy spec.md §1
// treats as out of scope — is expected to replace this via
// restore.NewCoordinator's executor argument; this type exists so
// logicalrepld has something concrete to run against out of the box.
type LoopbackExecutor struct {
	restores *clusterstate.Broadcaster
}

func NewLoopbackExecutor(restores *clusterstate.Broadcaster) *LoopbackExecutor {
	return &LoopbackExecutor{restores: restores}
}

func (e *LoopbackExecutor) Accept(ctx context.Context, key clusterstate.RestoreKey, req *Request) error {
	go e.restores.CompleteRestore(key, clusterstate.RestoreOutcome{
		Info: &clusterstate.RestoreInfo{FailedShards: 0, TotalShards: len(req.IndicesToRestore) + len(req.TemplatesToRestore)},
	})
	return nil
}
