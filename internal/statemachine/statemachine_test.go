// Copyright (c) 2018, Postgres Professional

package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

type fakeLookup struct {
	subs map[string]*subscription.Subscription
}

func (f fakeLookup) Lookup(name string) (*subscription.Subscription, bool) {
	s, ok := f.subs[name]
	return s, ok
}

type fakeMaster struct {
	lastSub *subscription.Subscription
	ack     bool
	err     error
}

func (f *fakeMaster) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	f.lastSub = sub
	return f.ack, f.err
}

func TestUpdateMergesRelationsAndAcknowledges(t *testing.T) {
	sub := &subscription.Subscription{
		Name: "sub1",
		Relations: map[subscription.RelationName]subscription.RelationInfo{
			"t1": subscription.Ok(subscription.StateInitializing),
			"t2": subscription.Ok(subscription.StateInitializing),
		},
	}
	lookup := fakeLookup{subs: map[string]*subscription.Subscription{"sub1": sub}}
	master := &fakeMaster{ack: true}
	sm := New(hplog.GetLogger(), master, lookup)

	ok, err := sm.Update(context.Background(), "sub1", []subscription.RelationName{"t1"}, subscription.StateRestoring, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, subscription.StateRestoring, master.lastSub.Relations["t1"].State)
	// t2 untouched by the scoped update
	assert.Equal(t, subscription.StateInitializing, master.lastSub.Relations["t2"].State)
	// original subscription value never mutated
	assert.Equal(t, subscription.StateInitializing, sub.Relations["t1"].State)
}

func TestUpdateMissingSubscriptionReturnsFalseNoError(t *testing.T) {
	lookup := fakeLookup{subs: map[string]*subscription.Subscription{}}
	master := &fakeMaster{}
	sm := New(hplog.GetLogger(), master, lookup)

	ok, err := sm.Update(context.Background(), "gone", []subscription.RelationName{"t1"}, subscription.StateFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, master.lastSub)
}

func TestUpdateFailureReasonPreservedVerbatim(t *testing.T) {
	sub := &subscription.Subscription{
		Name:      "sub1",
		Relations: map[subscription.RelationName]subscription.RelationInfo{"t1": subscription.Ok(subscription.StateRestoring)},
	}
	lookup := fakeLookup{subs: map[string]*subscription.Subscription{"sub1": sub}}
	master := &fakeMaster{ack: true}
	sm := New(hplog.GetLogger(), master, lookup)

	reason := "publisher dropped the relation"
	_, err := sm.Update(context.Background(), "sub1", []subscription.RelationName{"t1"}, subscription.StateFailed, &reason)
	require.NoError(t, err)
	require.NotNil(t, master.lastSub.Relations["t1"].FailureReason)
	assert.Equal(t, reason, *master.lastSub.Relations["t1"].FailureReason)
}

func TestUpdateAllCoversEveryRelation(t *testing.T) {
	sub := &subscription.Subscription{
		Name: "sub1",
		Relations: map[subscription.RelationName]subscription.RelationInfo{
			"t1": subscription.Ok(subscription.StateRestoring),
			"t2": subscription.Ok(subscription.StateRestoring),
		},
	}
	lookup := fakeLookup{subs: map[string]*subscription.Subscription{"sub1": sub}}
	master := &fakeMaster{ack: true}
	sm := New(hplog.GetLogger(), master, lookup)

	ok, err := sm.UpdateAll(context.Background(), "sub1", subscription.StateSynchronized, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, subscription.StateSynchronized, master.lastSub.Relations["t1"].State)
	assert.Equal(t, subscription.StateSynchronized, master.lastSub.Relations["t2"].State)
}
