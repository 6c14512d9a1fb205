// Copyright (c) 2018, Postgres Professional

// SubscriptionStateMachine implements the per-relation state
// transitions of spec.md §4.5:
//
//	INITIALIZING -> RESTORING -> SYNCHRONIZED
//	       \____________\_____________/
//	                     v
//	                   FAILED (terminal-unless-DROP)
package statemachine

import (
	"context"
	"fmt"

	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

// ClusterMaster is the master-side RPC surface this package needs:
// UpdateSubscriptionAction, per spec.md §6. It is the single point
// where relation-state mutations become durable, serialized through the
// master's metadata-update pipeline (spec.md §5).
type ClusterMaster interface {
	UpdateSubscription(ctx context.Context, sub *subscription.Subscription) (acknowledged bool, err error)
}

// SubscriptionLookup resolves a subscription by name from the current
// projection (SubscriptionStore). Looked up fresh on every call so a
// state update always starts from the latest known value — the state
// machine itself holds no subscription state.
type SubscriptionLookup interface {
	Lookup(name string) (*subscription.Subscription, bool)
}

type StateMachine struct {
	log    *hplog.Logger
	master ClusterMaster
	lookup SubscriptionLookup
}

func New(log *hplog.Logger, master ClusterMaster, lookup SubscriptionLookup) *StateMachine {
	return &StateMachine{log: log, master: master, lookup: lookup}
}

// Update constructs a new Subscription value with the requested
// RelationInfo merged over the old mapping for exactly the named
// relations, and submits an UpdateSubscription RPC to the master.
// Returns whether the RPC was acknowledged. If the subscription no
// longer exists, returns (false, nil) without issuing an RPC, per
// spec.md §4.5 and the SubscriptionMissing testable property.
func (sm *StateMachine) Update(ctx context.Context, subscriptionName string, relations []subscription.RelationName,
	newState subscription.RelationState, failureReason *string) (bool, error) {

	if newState != subscription.StateFailed && failureReason != nil {
		return false, fmt.Errorf("failureReason must be nil unless newState is FAILED")
	}

	sub, ok := sm.lookup.Lookup(subscriptionName)
	if !ok {
		sm.log.Debugf("state update for %q skipped: subscription no longer exists", subscriptionName)
		return false, nil
	}

	info := subscription.RelationInfo{State: newState, FailureReason: failureReason}
	updates := make(map[subscription.RelationName]subscription.RelationInfo, len(relations))
	for _, r := range relations {
		updates[r] = info
	}

	updated := sub.WithRelations(updates)
	return sm.master.UpdateSubscription(ctx, updated)
}

// UpdateAll is the cluster-wide shape of Update: every relation in the
// subscription gets newState.
func (sm *StateMachine) UpdateAll(ctx context.Context, subscriptionName string,
	newState subscription.RelationState, failureReason *string) (bool, error) {

	sub, ok := sm.lookup.Lookup(subscriptionName)
	if !ok {
		sm.log.Debugf("state update for %q skipped: subscription no longer exists", subscriptionName)
		return false, nil
	}

	names := make([]subscription.RelationName, 0, len(sub.Relations))
	for name := range sub.Relations {
		names = append(names, name)
	}
	return sm.Update(ctx, subscriptionName, names, newState, failureReason)
}
