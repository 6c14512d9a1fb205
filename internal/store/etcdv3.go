// Small wrapper around etcdv3 API: makes it a bit simpler and enforces
// requests timeout. Mostly from Stolon/shardman.
package store

import (
	"context"
	"time"

	etcdclientv3 "go.etcd.io/etcd/clientv3"
	"go.etcd.io/etcd/pkg/transport"
)

const (
	requestTimeout = 5 * time.Second
)

// There are no array consts in go
var DefaultEtcdEndpoints = [...]string{"http://127.0.0.1:2379"}

// KVPair represents a {Key, Value, LastIndex} tuple read from the store.
type KVPair struct {
	Key       string
	Value     []byte
	LastIndex uint64
}

// ConnInfo describes how to reach the cluster-state store.
type ConnInfo struct {
	Endpoints string
	CAFile    string
	// client auth
	CertFile string
	Key      string
}

// EtcdV3Store is the only place this repo touches etcd directly: the
// cluster-state document (SubscriptionsMetadata/PublicationsMetadata and
// the elected master's node name) is assumed, per spec.md §1, to be
// delivered by an external consensus/gossip layer; this wrapper is the
// concrete stand-in for that layer, the same role the teacher's
// etcdV3Store plays for Stolon/shardman cluster data.
type EtcdV3Store struct {
	c *etcdclientv3.Client
}

func NewEtcdV3Store(c *etcdclientv3.Client) *EtcdV3Store {
	return &EtcdV3Store{c: c}
}

func (s *EtcdV3Store) Put(pctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	defer cancel()
	_, err := s.c.Put(ctx, key, string(value))
	return err
}

func (s *EtcdV3Store) Get(pctx context.Context, key string) (*KVPair, error) {
	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	defer cancel()
	resp, err := s.c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	kv := resp.Kvs[0]
	return &KVPair{Key: string(kv.Key), Value: kv.Value,
		LastIndex: uint64(kv.ModRevision)}, nil
}

// Watch streams KVPair updates for key starting at revision rev (the
// revision after the one the caller last observed; rev==0 means "from
// now on"). It never closes
// the returned channel on transient errors; it keeps retrying the watch
// until ctx is cancelled, the same "never give up on the cluster-state
// watch" posture Stolon-derived code takes for its sentinel loop.
func (s *EtcdV3Store) Watch(ctx context.Context, key string, rev int64) <-chan KVPair {
	out := make(chan KVPair)
	go func() {
		defer close(out)
		opts := []etcdclientv3.OpOption{}
		if rev > 0 {
			opts = append(opts, etcdclientv3.WithRev(rev))
		}
		wch := s.c.Watch(ctx, key, opts...)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-wch:
				if !ok {
					// watch closed under us: reopen it from the next
					// revision not yet delivered.
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
					wch = s.c.Watch(ctx, key, etcdclientv3.WithRev(rev))
					continue
				}
				if resp.Err() != nil {
					if resp.CompactRevision > rev {
						rev = resp.CompactRevision
					}
					continue
				}
				for _, ev := range resp.Events {
					if ev.Kv == nil {
						continue
					}
					rev = ev.Kv.ModRevision + 1
					select {
					case out <- KVPair{Key: string(ev.Kv.Key), Value: ev.Kv.Value,
						LastIndex: uint64(ev.Kv.ModRevision)}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

func (s *EtcdV3Store) Close() error {
	return s.c.Close()
}

// NewClient dials etcd the way the teacher's NewClusterStore does, minus
// the Stolon-specific TLS helper this repo has no use for (TLS is
// configured by passing a https:// endpoint plus cert material straight
// to the etcd client config).
func NewClient(ci ConnInfo) (*etcdclientv3.Client, error) {
	endpoints := splitEndpoints(ci.Endpoints)
	cfg := etcdclientv3.Config{Endpoints: endpoints}
	if ci.CAFile != "" || ci.CertFile != "" || ci.Key != "" {
		tlsInfo := transport.TLSInfo{CertFile: ci.CertFile, KeyFile: ci.Key, TrustedCAFile: ci.CAFile}
		tlsCfg, err := tlsInfo.ClientConfig()
		if err != nil {
			return nil, err
		}
		cfg.TLS = tlsCfg
	}
	return etcdclientv3.New(cfg)
}

func splitEndpoints(s string) []string {
	if s == "" {
		return DefaultEtcdEndpoints[:]
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
