// Copyright (c) 2018, Postgres Professional

package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgrespro.ru/logicalrepl/internal/clusterstate"
	"postgrespro.ru/logicalrepl/internal/connectioninfo"
	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/lrerrors"
	"postgrespro.ru/logicalrepl/internal/metadatatracker"
	"postgrespro.ru/logicalrepl/internal/remotecluster"
	"postgrespro.ru/logicalrepl/internal/restore"
	"postgrespro.ru/logicalrepl/internal/statemachine"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

type fakeRepos struct {
	mu          sync.Mutex
	registered  []string
	unregistered []string
}

func (f *fakeRepos) Register(ctx context.Context, repoName string, ci *connectioninfo.ConnectionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, repoName)
	return nil
}

func (f *fakeRepos) Unregister(ctx context.Context, repoName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, repoName)
	return nil
}

func (f *fakeRepos) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.registered {
		if r == name {
			return true
		}
	}
	return false
}

type fakeMaster struct{}

func (fakeMaster) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	return true, nil
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeRepos) {
	log := hplog.GetLogger()
	store := subscription.NewStore()
	registry := remotecluster.NewRegistry(log, func(ctx context.Context, name string, ci *connectioninfo.ConnectionInfo) (remotecluster.Client, error) {
		return nil, assertErr{}
	})
	broadcaster := clusterstate.NewBroadcaster()
	sm := statemachine.New(log, fakeMaster{}, store)
	pool := restore.NewPool(2)
	coord := restore.NewCoordinator(log, pool, restore.NewLoopbackExecutor(broadcaster), broadcaster, sm)
	tracker := metadatatracker.New(log, registry, coord, sm, store, time.Hour)
	sup := New(log, store, registry, coord, tracker)
	repos := &fakeRepos{}
	sup.InstallRepositoriesService(repos)
	return sup, repos
}

type assertErr struct{}

func (assertErr) Error() string { return "connect refused" }

func TestOnClusterStateEventWithoutInstalledReposPanics(t *testing.T) {
	log := hplog.GetLogger()
	store := subscription.NewStore()
	registry := remotecluster.NewRegistry(log, nil)
	broadcaster := clusterstate.NewBroadcaster()
	sm := statemachine.New(log, fakeMaster{}, store)
	coord := restore.NewCoordinator(log, restore.NewPool(1), restore.NewLoopbackExecutor(broadcaster), broadcaster, sm)
	tracker := metadatatracker.New(log, registry, coord, sm, store, time.Hour)
	sup := New(log, store, registry, coord, tracker)

	assert.Panics(t, func() {
		sup.OnClusterStateEvent(context.Background(), clusterstate.Event{
			Subscriptions: subscription.NewSubscriptionsMetadata(),
			Publications:  subscription.NewPublicationsMetadata(),
		})
	})
}

func TestOnClusterStateEventRegistersRepoOnAdd(t *testing.T) {
	sup, repos := newTestSupervisor(t)

	ci, err := connectioninfo.Parse("crate://h:1234")
	require.NoError(t, err)
	subs := subscription.NewSubscriptionsMetadata()
	subs.Subscriptions["sub1"] = &subscription.Subscription{Name: "sub1", ConnectionInfo: ci}

	sup.OnClusterStateEvent(context.Background(), clusterstate.Event{
		Subscriptions: subs,
		Publications:  subscription.NewPublicationsMetadata(),
	})

	require.Eventually(t, func() bool {
		return repos.has(restore.RepositoryName("sub1"))
	}, time.Second, 10*time.Millisecond)
}

func TestCheckDDLAllowedRejectsOwnerOfActiveSubscription(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	ci, err := connectioninfo.Parse("crate://h:1234")
	require.NoError(t, err)
	subs := subscription.NewSubscriptionsMetadata()
	subs.Subscriptions["sub1"] = &subscription.Subscription{Name: "sub1", Owner: "alice", ConnectionInfo: ci}
	sup.store.Apply(subs, subscription.NewPublicationsMetadata())

	err = sup.CheckDDLAllowed("alice", true)
	require.Error(t, err)
	var dropErr lrerrors.DropSuperuser
	require.ErrorAs(t, err, &dropErr)

	require.NoError(t, sup.CheckDDLAllowed("bob", true))
}

func TestDebugDumpUnknownSubscription(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	_, ok := sup.DebugDump("nope")
	assert.False(t, ok)
}
