// Copyright (c) 2018, Postgres Professional

// Supervisor (LogicalReplicationService) composes ConnectionInfo,
// RemoteClusterRegistry, SubscriptionStore, RestoreCoordinator,
// SubscriptionStateMachine and MetadataTracker, owning the lifecycle
// reactions to cluster-state events and master-election changes
// described in spec.md §4.7.
package supervisor

import (
	"context"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/multierr"

	"postgrespro.ru/logicalrepl/internal/clusterstate"
	"postgrespro.ru/logicalrepl/internal/connectioninfo"
	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/lrerrors"
	"postgrespro.ru/logicalrepl/internal/metadatatracker"
	"postgrespro.ru/logicalrepl/internal/remotecluster"
	"postgrespro.ru/logicalrepl/internal/restore"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

// RepositoriesService is the external repository registry (shard-level
// file copy machinery, per spec.md §1's non-goals) the supervisor
// registers a synthetic repository against for each subscription.
type RepositoriesService interface {
	Register(ctx context.Context, repoName string, ci *connectioninfo.ConnectionInfo) error
	Unregister(ctx context.Context, repoName string) error
}

// Supervisor is the single writer of the mutable subscriptions/
// publications projection; every other component sees it only through
// read-only snapshots obtained via this type, per spec.md §3's ownership
// rule.
type Supervisor struct {
	log      *hplog.Logger
	store    *subscription.Store
	registry *remotecluster.Registry
	coord    *restore.Coordinator
	tracker  *metadatatracker.Tracker

	mu          sync.Mutex
	repos       RepositoriesService
	isMaster    bool
	lastOutcome map[string]string // subscriptionName -> note; only cleared on removal, never filled, not read by DebugDump
}

func New(log *hplog.Logger, store *subscription.Store, registry *remotecluster.Registry,
	coord *restore.Coordinator, tracker *metadatatracker.Tracker) *Supervisor {
	return &Supervisor{
		log:         log,
		store:       store,
		registry:    registry,
		coord:       coord,
		tracker:     tracker,
		lastOutcome: map[string]string{},
	}
}

// InstallRepositoriesService must be called exactly once, before any
// cluster-state event is processed. Calling OnClusterStateEvent before
// this is a programming error (spec.md §4.7's hard invariant), not a
// runtime condition to recover from.
func (s *Supervisor) InstallRepositoriesService(repos RepositoriesService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos = repos
}

// OnClusterStateEvent is the Supervisor's cluster-state listener
// callback. It must not block: the diff computation is synchronous and
// cheap, but per-subscription connect/tracking work is dispatched to its
// own goroutine, keeping the cluster-state applier thread free per
// spec.md §5.
func (s *Supervisor) OnClusterStateEvent(ctx context.Context, ev clusterstate.Event) {
	s.mu.Lock()
	repos := s.repos
	s.mu.Unlock()
	if repos == nil {
		panic("logicalrepl: OnClusterStateEvent called before InstallRepositoriesService")
	}

	diff := s.store.Apply(ev.Subscriptions, ev.Publications)
	subs := s.store.Subscriptions()

	for _, name := range diff.Added {
		sub := subs.Subscriptions[name]
		go s.addSubscription(ctx, name, sub)
	}
	for _, name := range diff.Removed {
		go s.removeSubscription(ctx, name)
	}

	s.onMasterChange(ev.IsLocalNodeMaster)
}

func (s *Supervisor) addSubscription(ctx context.Context, name string, sub *subscription.Subscription) {
	s.mu.Lock()
	repos := s.repos
	isMaster := s.isMaster
	s.mu.Unlock()

	repoName := restore.RepositoryName(name)
	if err := repos.Register(ctx, repoName, sub.ConnectionInfo); err != nil {
		s.log.Errorf("failed to register repository for subscription %q: %v", name, err)
		return
	}
	if _, err := s.registry.Connect(ctx, name, sub.ConnectionInfo); err != nil {
		s.log.Warnf("failed to connect remote cluster for subscription %q: %v", name, err)
	}
	if isMaster {
		s.tracker.StartTracking(name)
	}
}

func (s *Supervisor) removeSubscription(ctx context.Context, name string) {
	s.tracker.StopTracking(name)
	s.registry.Remove(name)

	s.mu.Lock()
	repos := s.repos
	delete(s.lastOutcome, name)
	s.mu.Unlock()

	if err := repos.Unregister(ctx, restore.RepositoryName(name)); err != nil {
		s.log.Warnf("failed to unregister repository for subscription %q: %v", name, err)
	}
}

// onMasterChange starts/stops the tracker as a whole; per-subscription
// tasks restart lazily as StartTracking is called for each currently
// known subscription once the tracker is running again.
func (s *Supervisor) onMasterChange(isMaster bool) {
	s.mu.Lock()
	wasMaster := s.isMaster
	s.isMaster = isMaster
	s.mu.Unlock()

	if isMaster == wasMaster {
		return
	}

	if isMaster {
		s.tracker.MaybeStart()
		for name := range s.store.Subscriptions().Subscriptions {
			s.tracker.StartTracking(name)
		}
	} else {
		s.tracker.Close()
	}
}

// Restore is the DDL-time entry point: it runs the pre-flight collision
// check synchronously (so a colliding CREATE SUBSCRIPTION fails the DDL
// caller directly) and then runs the initial restore through the
// coordinator. It returns only after the restore has completed, with the
// coordinator's outcome; it does not return early once the restore has
// been submitted.
func (s *Supervisor) Restore(ctx context.Context, catalog restore.LocalCatalog, subscriptionName string,
	settings restore.Settings, resp *remotecluster.PublicationsStateResponse) (bool, error) {

	if err := restore.VerifyTablesDoNotExist(catalog, resp); err != nil {
		return false, err
	}

	relationNames := make([]subscription.RelationName, 0, len(resp.Relations))
	for _, ref := range resp.Relations {
		relationNames = append(relationNames, subscription.RelationName(ref.Name))
	}

	return s.coord.Restore(ctx, subscriptionName, settings, relationNames,
		resp.ConcreteIndices, resp.ConcreteTemplates)
}

// CheckDDLAllowed rejects DROP SUPERUSER / ALTER ... PRIVILEGES against a
// user who owns an active subscription, synchronously at the DDL
// boundary, per spec.md §7. Role management itself remains out of
// scope; this is only the guard the (external) DDL layer is expected to
// call before mutating a user's superuser status.
func (s *Supervisor) CheckDDLAllowed(userName string, dropSuperuser bool) error {
	subs := s.store.Subscriptions()
	for _, sub := range subs.Subscriptions {
		if sub.Owner != userName {
			continue
		}
		if dropSuperuser {
			return lrerrors.DropSuperuser{UserName: userName}
		}
		return lrerrors.AlterSuperuserPrivileges{UserName: userName}
	}
	return nil
}

// DebugDump returns a spew-formatted dump of a subscription's full
// in-memory projection for operator troubleshooting, mirroring the
// teacher's bowl.go debug dumps of live unit state.
func (s *Supervisor) DebugDump(name string) (string, bool) {
	sub, ok := s.store.Subscriptions().Subscriptions[name]
	if !ok {
		return "", false
	}
	return spew.Sdump(sub), true
}

// Close tears down the tracker and the registry. Neither of them reports
// errors when closing, so Close always returns nil.
func (s *Supervisor) Close() error {
	var err error
	s.tracker.Close()
	s.registry.Close()
	return multierr.Append(err, nil)
}
