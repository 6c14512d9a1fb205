// Copyright (c) 2018, Postgres Professional

package clusterstate

import (
	"context"
	"encoding/json"
	"path/filepath"

	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/store"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

// Event is one cluster-state change, decoded from the etcd-backed
// document. Per spec.md §1 the persistence of cluster metadata itself
// is an external collaborator — this is that collaborator's concrete
// stand-in, grounded on the teacher's ClusterStore.GetClusterData.
type Event struct {
	Version       uint64
	Subscriptions *subscription.SubscriptionsMetadata
	Publications  *subscription.PublicationsMetadata
	// IsLocalNodeMaster reflects the cluster's current master-election
	// state at the time this event was observed, per spec.md §4.7/§8.8.
	IsLocalNodeMaster bool
}

type document struct {
	Subscriptions *subscription.SubscriptionsMetadata `json:"subscriptions"`
	Publications  *subscription.PublicationsMetadata  `json:"publications"`
	Master        string                              `json:"master"`
}

// Listener watches the cluster-state document stored at
// <clusterName>/clusterstate in etcd and decodes it into ordered Events.
// Delivery is single-threaded and strictly ordered by ModRevision, per
// spec.md §5's cluster-state applier pool contract.
type Listener struct {
	store       *store.EtcdV3Store
	key         string
	nodeName    string
	log         *hplog.Logger
}

func NewListener(s *store.EtcdV3Store, clusterName, nodeName string, log *hplog.Logger) *Listener {
	return &Listener{
		store:    s,
		key:      filepath.Join(clusterName, "clusterstate"),
		nodeName: nodeName,
		log:      log,
	}
}

// Events starts watching and returns a channel of ordered Events. The
// channel is closed when ctx is cancelled. An initial Get is performed
// so the first Event reflects current state rather than waiting for the
// next write.
func (l *Listener) Events(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)

	initial, err := l.store.Get(ctx, l.key)
	if err != nil {
		return nil, err
	}

	var startRev int64
	go func() {
		defer close(out)
		if initial != nil {
			if ev, ok := l.decode(initial); ok {
				startRev = int64(initial.LastIndex) + 1
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}

		for kv := range l.store.Watch(ctx, l.key, startRev) {
			if ev, ok := l.decode(&kv); ok {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (l *Listener) decode(pair *store.KVPair) (Event, bool) {
	var doc document
	if err := json.Unmarshal(pair.Value, &doc); err != nil {
		l.log.Errorf("failed to decode cluster-state document: %v", err)
		return Event{}, false
	}
	if doc.Subscriptions == nil {
		doc.Subscriptions = subscription.NewSubscriptionsMetadata()
	}
	if doc.Publications == nil {
		doc.Publications = subscription.NewPublicationsMetadata()
	}
	return Event{
		Version:           pair.LastIndex,
		Subscriptions:     doc.Subscriptions,
		Publications:      doc.Publications,
		IsLocalNodeMaster: doc.Master == l.nodeName,
	}, true
}
