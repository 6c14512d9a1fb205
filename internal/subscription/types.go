// Copyright (c) 2018, Postgres Professional

// Core data model: Subscription, RelationState, Publication and the
// top-level SubscriptionsMetadata/PublicationsMetadata snapshots that
// ride inside the cluster-state document.
package subscription

import (
	"reflect"

	"postgrespro.ru/logicalrepl/internal/connectioninfo"
)

// RelationState is one of the four legal states in the per-relation
// state machine.
type RelationState string

const (
	StateInitializing RelationState = "INITIALIZING"
	StateRestoring    RelationState = "RESTORING"
	StateSynchronized RelationState = "SYNCHRONIZED"
	StateFailed       RelationState = "FAILED"
)

// RelationInfo pairs a state with the optional failure reason required
// iff state == StateFailed. Modeled as a sum type per the teacher-corpus
// "prefer Ok|Failed(reason) to a nullable string" guidance in spec.md §9.
type RelationInfo struct {
	State         RelationState `json:"state"`
	FailureReason *string       `json:"failureReason,omitempty"`
}

func Ok(state RelationState) RelationInfo {
	return RelationInfo{State: state}
}

func Failed(reason string) RelationInfo {
	return RelationInfo{State: StateFailed, FailureReason: &reason}
}

// RelationName identifies a relation by its bare table name, as reported
// in the publisher's RelationRef.Name (no schema prefix), e.g. "t1".
type RelationName string

// Subscription is a named, owner-attributed declaration to mirror a set
// of publications from a publisher cluster.
type Subscription struct {
	Name           string                          `json:"name"`
	Owner          string                          `json:"owner"`
	ConnectionInfo *connectioninfo.ConnectionInfo  `json:"connectionInfo"`
	Publications   []string                        `json:"publications"`
	Settings       map[string]string               `json:"settings,omitempty"`
	Relations      map[RelationName]RelationInfo   `json:"relations,omitempty"`
}

// Clone returns a deep copy so callers can build a modified Subscription
// without mutating a value another goroutine may be reading.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	clone := &Subscription{
		Name:           s.Name,
		Owner:          s.Owner,
		ConnectionInfo: s.ConnectionInfo,
		Publications:   append([]string(nil), s.Publications...),
	}
	if s.Settings != nil {
		clone.Settings = make(map[string]string, len(s.Settings))
		for k, v := range s.Settings {
			clone.Settings[k] = v
		}
	}
	if s.Relations != nil {
		clone.Relations = make(map[RelationName]RelationInfo, len(s.Relations))
		for k, v := range s.Relations {
			clone.Relations[k] = v
		}
	}
	return clone
}

// WithRelations returns a new Subscription value with the given
// RelationStates merged over the old mapping — the core of
// SubscriptionStateMachine.update's "construct a new Subscription value"
// contract in spec.md §4.5.
func (s *Subscription) WithRelations(updates map[RelationName]RelationInfo) *Subscription {
	clone := s.Clone()
	if clone.Relations == nil {
		clone.Relations = make(map[RelationName]RelationInfo, len(updates))
	}
	for name, info := range updates {
		clone.Relations[name] = info
	}
	return clone
}

// Publication is a named set of relations on the publisher, cached
// read-through on the subscriber.
type Publication struct {
	Name             string   `json:"name"`
	Owner            string   `json:"owner"`
	RelationPatterns []string `json:"relationPatterns"`
	ForAllTables     bool     `json:"forAllTables"`
}

// SubscriptionsMetadata is the immutable, structurally-comparable
// top-level mapping embedded in the cluster-state blob.
type SubscriptionsMetadata struct {
	Subscriptions map[string]*Subscription `json:"subscriptions"`
}

// PublicationsMetadata is the publication-side counterpart.
type PublicationsMetadata struct {
	Publications map[string]*Publication `json:"publications"`
}

func NewSubscriptionsMetadata() *SubscriptionsMetadata {
	return &SubscriptionsMetadata{Subscriptions: map[string]*Subscription{}}
}

func NewPublicationsMetadata() *PublicationsMetadata {
	return &PublicationsMetadata{Publications: map[string]*Publication{}}
}

// Equal performs the structural equality spec.md §3 requires before the
// store replaces its cached projection.
func (m *SubscriptionsMetadata) Equal(other *SubscriptionsMetadata) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	return reflect.DeepEqual(m, other)
}

func (m *PublicationsMetadata) Equal(other *PublicationsMetadata) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	return reflect.DeepEqual(m, other)
}
