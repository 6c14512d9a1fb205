// Copyright (c) 2018, Postgres Professional

package clusterstate

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"postgrespro.ru/logicalrepl/internal/hplog"
	"postgrespro.ru/logicalrepl/internal/store"
	"postgrespro.ru/logicalrepl/internal/subscription"
)

// MasterClient implements statemachine.ClusterMaster by performing the
// read-modify-write UpdateSubscriptionAction against the cluster-state
// document, the same get-current/mutate/put-back shape as the teacher's
// ClusterStore.UpdateStolonSpec. Updates are serialized through etcd's
// single-key put, giving the "serialized through the master's
// metadata-update pipeline" guarantee of spec.md §4.5 for free.
type MasterClient struct {
	store       *store.EtcdV3Store
	key         string
	log         *hplog.Logger
}

func NewMasterClient(s *store.EtcdV3Store, clusterName string, log *hplog.Logger) *MasterClient {
	return &MasterClient{store: s, key: filepath.Join(clusterName, "clusterstate"), log: log}
}

func (m *MasterClient) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	pair, err := m.store.Get(ctx, m.key)
	if err != nil {
		return false, fmt.Errorf("UpdateSubscription: failed to read cluster state: %w", err)
	}

	var doc document
	if pair != nil {
		if err := json.Unmarshal(pair.Value, &doc); err != nil {
			return false, fmt.Errorf("UpdateSubscription: failed to decode cluster state: %w", err)
		}
	}
	if doc.Subscriptions == nil {
		doc.Subscriptions = subscription.NewSubscriptionsMetadata()
	}
	if _, exists := doc.Subscriptions.Subscriptions[sub.Name]; !exists {
		// subscription was dropped between Lookup and this RPC.
		return false, nil
	}
	doc.Subscriptions.Subscriptions[sub.Name] = sub

	docj, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("UpdateSubscription: failed to encode cluster state: %w", err)
	}
	if err := m.store.Put(ctx, m.key, docj); err != nil {
		return false, fmt.Errorf("UpdateSubscription: failed to write cluster state: %w", err)
	}
	m.log.Debugf("acknowledged UpdateSubscription for %q", sub.Name)
	return true, nil
}
