// Copyright (c) 2018, Postgres Professional

package metadatatracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgrespro.ru/logicalrepl/internal/connectioninfo"
	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/remotecluster"
	"postgrespro.ru/logicalrepl/internal/restore"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

type fakeSubs struct {
	mu   sync.Mutex
	subs map[string]*subscription.Subscription
}

func (f *fakeSubs) Lookup(name string) (*subscription.Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[name]
	return s, ok
}

type recordedUpdate struct {
	relations []subscription.RelationName
	state     subscription.RelationState
	reason    *string
}

type fakeStates struct {
	mu      sync.Mutex
	updates []recordedUpdate
}

func (f *fakeStates) Update(ctx context.Context, subscriptionName string, relations []subscription.RelationName,
	newState subscription.RelationState, failureReason *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, recordedUpdate{relations, newState, failureReason})
	return true, nil
}

func (f *fakeStates) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeCoordinator struct {
	mu    sync.Mutex
	calls [][]subscription.RelationName
}

func (f *fakeCoordinator) Restore(ctx context.Context, subscriptionName string, settings restore.Settings,
	relationNames []subscription.RelationName, indicesToRestore, templatesToRestore []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, relationNames)
	return true, nil
}

type fakePublicationsClient struct {
	resp *remotecluster.PublicationsStateResponse
	err  error
}

func (c *fakePublicationsClient) PublicationsState(ctx context.Context,
	req remotecluster.PublicationsStateRequest) (*remotecluster.PublicationsStateResponse, error) {
	return c.resp, c.err
}

func (c *fakePublicationsClient) Close() {}

func TestTickRestoresNewlyPublishedAndFailsDropped(t *testing.T) {
	sub := &subscription.Subscription{
		Name:         "sub1",
		Publications: []string{"pub1"},
		Relations: map[subscription.RelationName]subscription.RelationInfo{
			"old": subscription.Ok(subscription.StateSynchronized),
		},
	}
	subs := &fakeSubs{subs: map[string]*subscription.Subscription{"sub1": sub}}
	states := &fakeStates{}
	coord := &fakeCoordinator{}
	log := hplog.GetLogger()

	client := &fakePublicationsClient{resp: &remotecluster.PublicationsStateResponse{
		Relations:       []remotecluster.RelationRef{{Name: "new"}},
		ConcreteIndices: []string{"doc.new"},
	}}
	factory := func(ctx context.Context, name string, ci *connectioninfo.ConnectionInfo) (remotecluster.Client, error) {
		return client, nil
	}
	registry := remotecluster.NewRegistry(log, factory)
	ci, err := connectioninfo.Parse("crate://h:1234")
	require.NoError(t, err)
	_, err = registry.Connect(context.Background(), "sub1", ci)
	require.NoError(t, err)

	tr := New(log, registry, coord, states, subs, time.Hour)
	tr.tick(context.Background(), "sub1")

	require.Len(t, coord.calls, 1)
	assert.Equal(t, []subscription.RelationName{"new"}, coord.calls[0])

	require.Equal(t, 1, states.count())
	assert.Equal(t, subscription.StateFailed, states.updates[0].state)
	assert.Equal(t, []subscription.RelationName{"old"}, states.updates[0].relations)
}

func TestTickMarksFailedOnConnectError(t *testing.T) {
	sub := &subscription.Subscription{
		Name:         "sub1",
		Publications: []string{"pub1"},
		Relations: map[subscription.RelationName]subscription.RelationInfo{
			"t1": subscription.Ok(subscription.StateSynchronized),
		},
	}
	subs := &fakeSubs{subs: map[string]*subscription.Subscription{"sub1": sub}}
	states := &fakeStates{}
	coord := &fakeCoordinator{}
	log := hplog.GetLogger()
	registry := remotecluster.NewRegistry(log, nil)
	tr := New(log, registry, coord, states, subs, time.Hour)

	tr.tick(context.Background(), "sub1") // no client connected -> GetClient fails

	require.Equal(t, 1, states.count())
	assert.Equal(t, subscription.StateFailed, states.updates[0].state)
	require.NotNil(t, states.updates[0].reason)
	assert.Contains(t, *states.updates[0].reason, "connect")
}

func TestTickFailsOnPublicationsStateError(t *testing.T) {
	sub := &subscription.Subscription{
		Name:         "sub1",
		Publications: []string{"pub1"},
		Relations: map[subscription.RelationName]subscription.RelationInfo{
			"t1": subscription.Ok(subscription.StateSynchronized),
		},
	}
	subs := &fakeSubs{subs: map[string]*subscription.Subscription{"sub1": sub}}
	states := &fakeStates{}
	coord := &fakeCoordinator{}
	log := hplog.GetLogger()

	client := &fakePublicationsClient{err: assertAnError{}}
	factory := func(ctx context.Context, name string, ci *connectioninfo.ConnectionInfo) (remotecluster.Client, error) {
		return client, nil
	}
	registry := remotecluster.NewRegistry(log, factory)
	ci, err := connectioninfo.Parse("crate://h:1234")
	require.NoError(t, err)
	_, err = registry.Connect(context.Background(), "sub1", ci)
	require.NoError(t, err)

	tr := New(log, registry, coord, states, subs, time.Hour)
	tr.tick(context.Background(), "sub1")

	require.Equal(t, 1, states.count())
	require.NotNil(t, states.updates[0].reason)
	assert.Contains(t, *states.updates[0].reason, "request")
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }
