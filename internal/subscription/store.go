// Copyright (c) 2018, Postgres Professional

package subscription

import "sync/atomic"

// Diff carries the names added and removed by one cluster-state event,
// per spec.md §4.3 step 3.
type Diff struct {
	Added   []string
	Removed []string
}

// snapshot bundles the two metadata maps observed together so readers
// never see one updated without the other (spec.md §5: "volatile
// reference to an immutable snapshot").
type snapshot struct {
	subs  *SubscriptionsMetadata
	pubs  *PublicationsMetadata
}

// Store projects cluster-state updates into the current
// subscriptions/publications maps and computes add/remove diffs. It is
// written from a single cluster-state applier goroutine and read from
// any number of goroutines via an atomic pointer swap, mirroring the
// "volatile metadata snapshots" design note in spec.md §9.
type Store struct {
	current atomic.Pointer[snapshot]
}

func NewStore() *Store {
	s := &Store{}
	s.current.Store(&snapshot{subs: NewSubscriptionsMetadata(), pubs: NewPublicationsMetadata()})
	return s
}

// Subscriptions returns the current subscriptions snapshot. Callers must
// treat the result as read-only.
func (s *Store) Subscriptions() *SubscriptionsMetadata {
	return s.current.Load().subs
}

// Publications returns the current publications snapshot.
func (s *Store) Publications() *PublicationsMetadata {
	return s.current.Load().pubs
}

// Lookup resolves a single subscription by name against the current
// snapshot. Satisfies both statemachine.SubscriptionLookup and
// metadatatracker.SubscriptionsView without either package importing
// this one's consumers.
func (s *Store) Lookup(name string) (*Subscription, bool) {
	sub, ok := s.current.Load().subs.Subscriptions[name]
	return sub, ok
}

// Apply replaces the cached projection if either reference changed and
// is structurally different, and returns the subscription-name diff
// against the previous projection. Concurrency: must be called only from
// the single cluster-state applier goroutine (spec.md §4.3).
func (s *Store) Apply(newSubs *SubscriptionsMetadata, newPubs *PublicationsMetadata) Diff {
	prev := s.current.Load()

	subsChanged := newSubs != prev.subs && !newSubs.Equal(prev.subs)
	pubsChanged := newPubs != prev.pubs && !newPubs.Equal(prev.pubs)

	diff := diffSubscriptionNames(prev.subs, newSubs)

	if subsChanged || pubsChanged {
		next := &snapshot{subs: prev.subs, pubs: prev.pubs}
		if subsChanged {
			next.subs = newSubs
		}
		if pubsChanged {
			next.pubs = newPubs
		}
		s.current.Store(next)
	}

	return diff
}

func diffSubscriptionNames(old, new *SubscriptionsMetadata) Diff {
	var diff Diff
	for name := range new.Subscriptions {
		if _, ok := old.Subscriptions[name]; !ok {
			diff.Added = append(diff.Added, name)
		}
	}
	for name := range old.Subscriptions {
		if _, ok := new.Subscriptions[name]; !ok {
			diff.Removed = append(diff.Removed, name)
		}
	}
	return diff
}
