// Copyright (c) 2018, Postgres Professional

package remotecluster

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"postgrespro.ru/logicalrepl/internal/connectioninfo"
)

// Client is a handle to one publisher cluster, reduced to the RPCs this
// control plane actually issues against it.
type Client interface {
	PublicationsState(ctx context.Context, req PublicationsStateRequest) (*PublicationsStateResponse, error)
	Close()
}

// Factory opens a Client for the given connection info. Suspension
// point: network handshake (spec.md §4.2).
type Factory func(ctx context.Context, name string, ci *connectioninfo.ConnectionInfo) (Client, error)

// DefaultFactory dispatches on ConnectionInfo.Mode(): pg_tunnel clusters
// are reached over a real pgx connection pool, the way the teacher's
// internal/pg package talks to Postgres; sniff mode is CrateDB's
// internal peer-discovery transport, which is explicitly out of scope
// per spec.md §1 (only its row-count receiver pattern is referenced) —
// so it is left as a named, recognized mode with a clear "not wired in
// this build" error rather than a silent fake.
func DefaultFactory(ctx context.Context, name string, ci *connectioninfo.ConnectionInfo) (Client, error) {
	switch ci.Mode() {
	case connectioninfo.ModePgTunnel:
		return newPgTunnelClient(ctx, name, ci)
	default:
		return nil, fmt.Errorf("remote cluster %q: sniff-mode transport is not implemented by this control plane build; use mode=pg_tunnel", name)
	}
}

type pgTunnelClient struct {
	name string
	pool *pgxpool.Pool
}

func newPgTunnelClient(ctx context.Context, name string, ci *connectioninfo.ConnectionInfo) (Client, error) {
	if len(ci.Hosts) == 0 {
		return nil, fmt.Errorf("remote cluster %q: no hosts configured", name)
	}
	connString := pgConnString(ci)
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("remote cluster %q: bad connection config: %w", name, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("remote cluster %q: unable to connect: %w", name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("remote cluster %q: ping failed: %w", name, err)
	}
	return &pgTunnelClient{name: name, pool: pool}, nil
}

func pgConnString(ci *connectioninfo.ConnectionInfo) string {
	host := ci.Hosts[0]
	user := ci.Settings["user"]
	password := ci.Settings["password"]
	sslmode := ci.Settings["sslmode"]
	if sslmode == "" {
		sslmode = "prefer"
	}
	return fmt.Sprintf("postgres://%s:%s@%s/crate?sslmode=%s", user, password, host, sslmode)
}

// PublicationsState issues the PublicationsStateAction RPC as a real
// query against the publisher's pg_publication_tables-shaped rows, the
// domain-stack wiring documented in SPEC_FULL.md §11.
func (c *pgTunnelClient) PublicationsState(ctx context.Context, req PublicationsStateRequest) (*PublicationsStateResponse, error) {
	if len(req.Publications) == 0 {
		return &PublicationsStateResponse{}, nil
	}

	rows, err := c.pool.Query(ctx,
		`SELECT schemaname, tablename, pubname FROM pg_publication_tables WHERE pubname = ANY($1)`,
		req.Publications,
	)
	if err != nil {
		return nil, fmt.Errorf("publications state query against %q failed: %w", c.name, err)
	}
	defer rows.Close()

	resp := &PublicationsStateResponse{SchemaDDL: map[string]string{}}
	for rows.Next() {
		var schema, table, pubname string
		if err := rows.Scan(&schema, &table, &pubname); err != nil {
			return nil, fmt.Errorf("publications state query against %q: scan failed: %w", c.name, err)
		}
		concrete := schema + "." + table
		resp.Relations = append(resp.Relations, RelationRef{Name: table, Schema: schema})
		resp.ConcreteIndices = append(resp.ConcreteIndices, concrete)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("publications state query against %q: %w", c.name, err)
	}
	return resp, nil
}

func (c *pgTunnelClient) Close() {
	c.pool.Close()
}
