// Copyright (c) 2018, Postgres Professional

// RestoreCoordinator drives initial snapshot restore per subscription
// and observes completion via the cluster-state in-progress-restores
// table, per spec.md §4.4.
package restore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"postgrespro.ru/logicalrepl/internal/clusterstate"
	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/lrerrors"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

// StateUpdater is the slice of SubscriptionStateMachine the coordinator
// needs: scoped relation-state transitions.
type StateUpdater interface {
	Update(ctx context.Context, subscriptionName string, relations []subscription.RelationName,
		newState subscription.RelationState, failureReason *string) (bool, error)
}

// Coordinator implements spec.md §4.4's restore protocol.
type Coordinator struct {
	log      *hplog.Logger
	pool     *Pool
	executor Executor
	restores *clusterstate.Broadcaster
	states   StateUpdater
}

func NewCoordinator(log *hplog.Logger, pool *Pool, executor Executor,
	restores *clusterstate.Broadcaster, states StateUpdater) *Coordinator {
	return &Coordinator{log: log, pool: pool, executor: executor, restores: restores, states: states}
}

// Restore builds and submits a RestoreRequest for the named relations,
// awaits its completion and drives the per-relation state machine
// accordingly, returning the outcome boolean and/or error per spec.md
// §4.4 step 5. It blocks on the snapshot pool's acceptance and on the
// restore's completion — callers that need this to run off the
// cluster-state applier thread must invoke it from the management pool
// or their own goroutine, per spec.md §5.
func (c *Coordinator) Restore(ctx context.Context, subscriptionName string, settings Settings,
	relationNames []subscription.RelationName, indicesToRestore, templatesToRestore []string) (bool, error) {

	req := NewRequest(subscriptionName, settings, relationNames, indicesToRestore, templatesToRestore)
	key := clusterstate.RestoreKey(uuid.NewString())

	accepted := make(chan error, 1)
	submitErr := c.pool.Submit(func() {
		accepted <- c.executor.Accept(ctx, key, req)
	})
	if submitErr != nil {
		return false, lrerrors.RestoreRejected{SubscriptionName: subscriptionName, Cause: submitErr}
	}

	if err := <-accepted; err != nil {
		return false, lrerrors.RestoreRejected{SubscriptionName: subscriptionName, Cause: err}
	}

	c.restores.StartRestore(key)

	if _, err := c.states.Update(ctx, subscriptionName, relationNames, subscription.StateRestoring, nil); err != nil {
		c.log.Warnf("failed to mark subscription %q relations RESTORING: %v", subscriptionName, err)
	}

	outcome, err := c.restores.Await(ctx, key)
	if err != nil {
		return false, err
	}
	if outcome.Err != nil {
		reason := outcome.Err.Error()
		c.failRelations(ctx, subscriptionName, relationNames, reason)
		return false, outcome.Err
	}

	return c.classify(ctx, subscriptionName, relationNames, outcome.Info)
}

// classify implements the outcome table of spec.md §4.4 step 5. State
// updates happen before this function returns, so any caller observing
// the returned (bool, error) also observes the updated relation state —
// the ordering tie-break spec.md §4.4 step 6 requires.
func (c *Coordinator) classify(ctx context.Context, subscriptionName string,
	relationNames []subscription.RelationName, info *clusterstate.RestoreInfo) (bool, error) {

	if info == nil {
		c.failRelations(ctx, subscriptionName, relationNames,
			"Error while initial restoring the subscription relations")
		return false, lrerrors.RestoreMasterLost{SubscriptionName: subscriptionName}
	}

	switch {
	case info.FailedShards == 0:
		if _, err := c.states.Update(ctx, subscriptionName, relationNames,
			subscription.StateSynchronized, nil); err != nil {
			c.log.Warnf("failed to mark subscription %q relations SYNCHRONIZED: %v", subscriptionName, err)
		}
		return true, nil

	case info.FailedShards == info.TotalShards:
		c.failRelations(ctx, subscriptionName, relationNames, "restore failed: all shards failed")
		return false, lrerrors.RestoreTotal{SubscriptionName: subscriptionName}

	default:
		reason := fmt.Sprintf("restore partially failed: %d/%d shards failed", info.FailedShards, info.TotalShards)
		c.failRelations(ctx, subscriptionName, relationNames, reason)
		return false, lrerrors.RestorePartial{
			SubscriptionName: subscriptionName,
			FailedShards:     info.FailedShards,
			TotalShards:      info.TotalShards,
		}
	}
}

func (c *Coordinator) failRelations(ctx context.Context, subscriptionName string,
	relationNames []subscription.RelationName, reason string) {
	if _, err := c.states.Update(ctx, subscriptionName, relationNames,
		subscription.StateFailed, &reason); err != nil {
		c.log.Warnf("failed to mark subscription %q relations FAILED: %v", subscriptionName, err)
	}
}
