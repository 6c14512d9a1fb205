// Copyright (c) 2018, Postgres Professional

package subscription

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func subWithName(name string) *Subscription {
	return &Subscription{Name: name, Relations: map[RelationName]RelationInfo{}}
}

func TestStoreDiffAddedAndRemoved(t *testing.T) {
	s := NewStore()

	subs1 := NewSubscriptionsMetadata()
	subs1.Subscriptions["a"] = subWithName("a")
	subs1.Subscriptions["b"] = subWithName("b")

	diff := s.Apply(subs1, NewPublicationsMetadata())
	sort.Strings(diff.Added)
	assert.Equal(t, []string{"a", "b"}, diff.Added)
	assert.Empty(t, diff.Removed)

	subs2 := NewSubscriptionsMetadata()
	subs2.Subscriptions["b"] = subWithName("b")
	subs2.Subscriptions["c"] = subWithName("c")

	diff2 := s.Apply(subs2, NewPublicationsMetadata())
	assert.Equal(t, []string{"c"}, diff2.Added)
	assert.Equal(t, []string{"a"}, diff2.Removed)
}

func TestStoreNeverDiffsSameNameBothWays(t *testing.T) {
	s := NewStore()
	subs1 := NewSubscriptionsMetadata()
	subs1.Subscriptions["a"] = subWithName("a")
	s.Apply(subs1, NewPublicationsMetadata())

	subs2 := NewSubscriptionsMetadata()
	subs2.Subscriptions["a"] = subWithName("a")
	diff := s.Apply(subs2, NewPublicationsMetadata())
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestStoreUnchangedSnapshotKeepsSameReference(t *testing.T) {
	s := NewStore()
	subs1 := NewSubscriptionsMetadata()
	subs1.Subscriptions["a"] = subWithName("a")
	s.Apply(subs1, NewPublicationsMetadata())
	before := s.Subscriptions()

	subs2 := NewSubscriptionsMetadata()
	subs2.Subscriptions["a"] = subWithName("a")
	s.Apply(subs2, NewPublicationsMetadata())

	assert.Same(t, before, s.Subscriptions())
}
