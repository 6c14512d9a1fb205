// Copyright (c) 2018, Postgres Professional

// MetadataTracker is the master-only periodic reconciler of spec.md
// §4.6: for each tracked subscription it polls the publisher for
// publication state and reconciles newly-published relations into the
// subscription via RestoreCoordinator, marking relations dropped from
// the publication FAILED rather than auto-dropping them.
package metadatatracker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"

	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/remotecluster"
	"postgrespro.ru/logicalrepl/internal/restore"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

// SubscriptionsView resolves a subscription by name against the current
// projection, the same lookup seam statemachine.SubscriptionLookup uses.
type SubscriptionsView interface {
	Lookup(name string) (*subscription.Subscription, bool)
}

// StateUpdater is the scoped-update slice of SubscriptionStateMachine
// this package drives relation states through.
type StateUpdater interface {
	Update(ctx context.Context, subscriptionName string, relations []subscription.RelationName,
		newState subscription.RelationState, failureReason *string) (bool, error)
}

// Coordinator is the slice of restore.Coordinator this package needs to
// trigger restores for newly-published relations.
type Coordinator interface {
	Restore(ctx context.Context, subscriptionName string, settings restore.Settings,
		relationNames []subscription.RelationName, indicesToRestore, templatesToRestore []string) (bool, error)
}

// Tracker owns one goroutine per tracked subscription, all cooperatively
// scheduled on the shared management pool (spec.md §4.6/§5: "one task
// per subscription... overlapping ticks for the same subscription are
// prohibited").
type Tracker struct {
	log      *hplog.Logger
	registry *remotecluster.Registry
	coord    Coordinator
	states   StateUpdater
	subs     SubscriptionsView
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	tasks   map[string]*trackTask
}

type trackTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *hplog.Logger, registry *remotecluster.Registry, coord Coordinator,
	states StateUpdater, subs SubscriptionsView, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Tracker{
		log:      log,
		registry: registry,
		coord:    coord,
		states:   states,
		subs:     subs,
		interval: interval,
		tasks:    map[string]*trackTask{},
	}
}

// MaybeStart is idempotent: it starts tracking if this node is master
// and no task is active. The caller (Supervisor) is responsible for
// calling this only when isLocalNodeElectedMaster transitions to true;
// MaybeStart itself just guards against being called twice.
func (t *Tracker) MaybeStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.log.Infof("metadata tracker started (this node is master)")
}

// StartTracking registers interest in subscriptionName. If the tracker
// is currently running (this node is master), a ticking goroutine starts
// immediately; otherwise tracking starts lazily the next time MaybeStart
// runs and the caller re-invokes StartTracking for every known
// subscription — this mirrors spec.md §4.7's "individual per-subscription
// trackers are started lazily on next add".
func (t *Tracker) StartTracking(subscriptionName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	if _, exists := t.tasks[subscriptionName]; exists {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &trackTask{cancel: cancel, done: make(chan struct{})}
	t.tasks[subscriptionName] = task
	go t.run(ctx, subscriptionName, task.done)
}

// StopTracking cancels the task for subscriptionName, if any. A tick in
// flight completes; its side effects are permitted (spec.md §5).
func (t *Tracker) StopTracking(subscriptionName string) {
	t.mu.Lock()
	task, ok := t.tasks[subscriptionName]
	if ok {
		delete(t.tasks, subscriptionName)
	}
	t.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// Close stops all tracking. Safe to call when not master. Idempotent and
// blocks only long enough to stop scheduling new ticks — it does not
// wait for an in-flight tick's side effects to finish.
func (t *Tracker) Close() {
	t.mu.Lock()
	tasks := t.tasks
	t.tasks = map[string]*trackTask{}
	t.running = false
	t.mu.Unlock()
	for _, task := range tasks {
		task.cancel()
	}
}

func (t *Tracker) run(ctx context.Context, subscriptionName string, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			t.tick(ctx, subscriptionName)
			timer.Reset(t.interval)
		}
	}
}

func (t *Tracker) tick(ctx context.Context, subscriptionName string) {
	sub, ok := t.subs.Lookup(subscriptionName)
	if !ok {
		// subscription dropped concurrently; StopTracking will arrive
		// shortly via the supervisor's remove callback.
		return
	}

	client, err := t.registry.GetClient(subscriptionName)
	if err != nil {
		t.markFailed(ctx, subscriptionName, "Failed to connect to the remote cluster")
		return
	}

	resp, err := client.PublicationsState(ctx, remotecluster.PublicationsStateRequest{
		Publications: sub.Publications,
		User:         sub.Owner,
	})
	if err != nil {
		t.markFailed(ctx, subscriptionName, "Failed to request the publications state")
		return
	}
	t.log.Debugf("publications state for %q: %s", subscriptionName, spew.Sdump(resp))

	published := map[subscription.RelationName]remotecluster.RelationRef{}
	for _, ref := range resp.Relations {
		published[subscription.RelationName(ref.Name)] = ref
	}

	var newlyPublished []subscription.RelationName
	for name := range published {
		if _, known := sub.Relations[name]; !known {
			newlyPublished = append(newlyPublished, name)
		}
	}

	var dropped []subscription.RelationName
	for name := range sub.Relations {
		if _, stillPublished := published[name]; !stillPublished {
			dropped = append(dropped, name)
		}
	}

	if len(newlyPublished) > 0 {
		indices, templates := indicesAndTemplatesFor(resp, newlyPublished)
		if _, err := t.coord.Restore(ctx, subscriptionName, nil, newlyPublished, indices, templates); err != nil {
			t.log.Warnf("restore of newly published relations for %q failed: %v", subscriptionName, err)
		}
	}

	if len(dropped) > 0 {
		reason := "relation dropped from publication"
		if _, err := t.states.Update(ctx, subscriptionName, dropped, subscription.StateFailed, &reason); err != nil {
			t.log.Warnf("failed to mark dropped relations FAILED for %q: %v", subscriptionName, err)
		}
	}
}

func (t *Tracker) markFailed(ctx context.Context, subscriptionName, reason string) {
	sub, ok := t.subs.Lookup(subscriptionName)
	if !ok {
		return
	}
	names := make([]subscription.RelationName, 0, len(sub.Relations))
	for name := range sub.Relations {
		names = append(names, name)
	}
	if len(names) == 0 {
		return
	}
	if _, err := t.states.Update(ctx, subscriptionName, names, subscription.StateFailed, &reason); err != nil {
		t.log.Warnf("failed to mark subscription %q FAILED (%s): %v", subscriptionName, reason, err)
	}
}

func indicesAndTemplatesFor(resp *remotecluster.PublicationsStateResponse,
	relations []subscription.RelationName) (indices, templates []string) {
	wanted := map[string]bool{}
	for _, r := range relations {
		wanted[string(r)] = true
	}
	for _, idx := range resp.ConcreteIndices {
		if relationNameOf(idx, wanted) {
			indices = append(indices, idx)
		}
	}
	for _, tmpl := range resp.ConcreteTemplates {
		if relationNameOf(tmpl, wanted) {
			templates = append(templates, tmpl)
		}
	}
	return
}

// relationNameOf reports whether the bare table name (the component
// after the last '.') of a concrete index/template is in wanted.
func relationNameOf(concrete string, wanted map[string]bool) bool {
	name := concrete
	if idx := strings.LastIndexByte(concrete, '.'); idx >= 0 {
		name = concrete[idx+1:]
	}
	return wanted[name]
}
