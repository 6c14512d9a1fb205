// Copyright (c) 2018, Postgres Professional

// InProgressRestores models the keyed table within the cluster-state
// snapshot that spec.md §9 describes as the language-neutral stand-in
// for "a listener that self-fires on matching state": restores are
// tracked by key in the snapshot; the coordinator subscribes to a
// broadcast of snapshot versions and filters by key, completing when the
// key disappears from in-progress and a result appears in completed.
package clusterstate

import (
	"context"
	"fmt"
	"sync"
)

// RestoreKey correlates a submitted restore with its eventual outcome;
// SPEC_FULL.md §11 grounds this on a github.com/google/uuid correlation
// id minted by the restore coordinator.
type RestoreKey string

// RestoreOutcome is the terminal state of one restore: RestoreInfo is
// nil exactly when the master was lost mid-restore (spec.md §4.4 step 5,
// "restoreInfo == null").
type RestoreOutcome struct {
	Info *RestoreInfo
	Err  error
}

// RestoreInfo mirrors the publisher-side restore completion shape.
type RestoreInfo struct {
	FailedShards int
	TotalShards  int
}

// Snapshot is one immutable version of the in-progress-restores table.
type Snapshot struct {
	Version   int64
	InFlight  map[RestoreKey]struct{}
	Completed map[RestoreKey]RestoreOutcome
}

func emptySnapshot() *Snapshot {
	return &Snapshot{InFlight: map[RestoreKey]struct{}{}, Completed: map[RestoreKey]RestoreOutcome{}}
}

// Broadcaster publishes successive Snapshot versions to any number of
// subscribers, the "atomic swaps of immutable value objects" pattern
// spec.md §9 calls for.
type Broadcaster struct {
	mu      sync.Mutex
	current *Snapshot
	subs    map[int]chan *Snapshot
	nextSub int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{current: emptySnapshot(), subs: map[int]chan *Snapshot{}}
}

func (b *Broadcaster) Current() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Broadcaster) subscribe() (int, <-chan *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan *Snapshot, 8)
	b.subs[id] = ch
	return id, ch
}

func (b *Broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

func (b *Broadcaster) publish(mutate func(*Snapshot)) *Snapshot {
	b.mu.Lock()
	next := &Snapshot{
		Version:   b.current.Version + 1,
		InFlight:  cloneInFlight(b.current.InFlight),
		Completed: cloneCompleted(b.current.Completed),
	}
	mutate(next)
	b.current = next
	subs := make([]chan *Snapshot, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- next:
		default:
			// slow subscriber: drop, it will observe the next version or
			// read Current() directly.
		}
	}
	return next
}

func cloneInFlight(m map[RestoreKey]struct{}) map[RestoreKey]struct{} {
	out := make(map[RestoreKey]struct{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCompleted(m map[RestoreKey]RestoreOutcome) map[RestoreKey]RestoreOutcome {
	out := make(map[RestoreKey]RestoreOutcome, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StartRestore records key as in flight.
func (b *Broadcaster) StartRestore(key RestoreKey) {
	b.publish(func(s *Snapshot) {
		s.InFlight[key] = struct{}{}
	})
}

// CompleteRestore moves key out of in-flight and records its outcome.
func (b *Broadcaster) CompleteRestore(key RestoreKey, outcome RestoreOutcome) {
	b.publish(func(s *Snapshot) {
		delete(s.InFlight, key)
		s.Completed[key] = outcome
	})
}

// Await blocks until key's entry disappears from in-flight, i.e. until a
// RestoreOutcome has been recorded for it, or ctx is done. If the
// completion was already recorded before Await was called (the
// "completion already carries RestoreInfo" synchronous case of spec.md
// §4.4 step 4), it returns immediately.
func (b *Broadcaster) Await(ctx context.Context, key RestoreKey) (RestoreOutcome, error) {
	if outcome, ok := b.Current().Completed[key]; ok {
		return outcome, nil
	}

	id, ch := b.subscribe()
	defer b.unsubscribe(id)

	// re-check after subscribing to close the race with a publish that
	// happened between the first check and subscribe().
	if outcome, ok := b.Current().Completed[key]; ok {
		return outcome, nil
	}

	for {
		select {
		case <-ctx.Done():
			return RestoreOutcome{}, fmt.Errorf("waiting for restore %q to complete: %w", key, ctx.Err())
		case snap := <-ch:
			if outcome, ok := snap.Completed[key]; ok {
				return outcome, nil
			}
		}
	}
}
