// Copyright (c) 2018, Postgres Professional

// Parsing, validation and redaction of publisher connection strings of
// the form crate://host[:port][,host[:port]]*[?opt=val(&opt=val)*].
package connectioninfo

import (
	"fmt"
	"net/url"
	"strings"

	"postgrespro.ru/logicalrepl/internal/lrerrors"
)

const (
	Scheme = "crate://"

	ModeSniff    = "sniff"
	ModePgTunnel = "pg_tunnel"

	DefaultSniffPort    = "4300"
	DefaultPgTunnelPort = "5432"
)

// recognized option names, enumerated per spec.md §4.1
var recognizedOptions = map[string]bool{
	"user":     true,
	"password": true,
	"sslmode":  true,
	"mode":     true,
}

// ConnectionInfo is a parsed, validated crate:// URL.
type ConnectionInfo struct {
	Hosts    []string // each entry already carries an explicit port
	Settings map[string]string
}

// Mode returns the resolved mode, defaulting to sniff.
func (ci *ConnectionInfo) Mode() string {
	if m, ok := ci.Settings["mode"]; ok {
		return m
	}
	return ModeSniff
}

func defaultPort(mode string) string {
	if mode == ModePgTunnel {
		return DefaultPgTunnelPort
	}
	return DefaultSniffPort
}

// Parse validates and parses a crate:// connection string.
func Parse(raw string) (*ConnectionInfo, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return nil, lrerrors.InvalidConnectionString{
			Reason: fmt.Sprintf("URL must start with %q", Scheme),
		}
	}
	rest := raw[len(Scheme):]

	hostPart := rest
	query := ""
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		hostPart = rest[:idx]
		query = rest[idx+1:]
	}

	settings, err := parseSettings(query)
	if err != nil {
		return nil, err
	}

	mode := ModeSniff
	if m, ok := settings["mode"]; ok {
		if m != ModeSniff && m != ModePgTunnel {
			return nil, lrerrors.InvalidConnectionString{
				Reason: fmt.Sprintf("invalid mode %q, must be one of: sniff, pg_tunnel", m),
			}
		}
		mode = m
	}

	hosts, err := parseHosts(hostPart, mode)
	if err != nil {
		return nil, err
	}

	return &ConnectionInfo{Hosts: hosts, Settings: settings}, nil
}

func parseSettings(query string) (map[string]string, error) {
	settings := map[string]string{}
	if query == "" {
		return settings, nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, lrerrors.InvalidConnectionString{Reason: fmt.Sprintf("malformed options: %v", err)}
	}
	for key, vals := range values {
		if !recognizedOptions[key] {
			return nil, lrerrors.InvalidConnectionString{
				Reason: fmt.Sprintf("unknown option %q", key),
			}
		}
		if len(vals) > 0 {
			settings[key] = vals[len(vals)-1]
		}
	}
	return settings, nil
}

// parseHosts splits the comma-separated host list. An empty host
// component is permitted and materializes as ":<default-port>" — it
// binds later, this is legal.
func parseHosts(hostPart string, mode string) ([]string, error) {
	port := defaultPort(mode)
	if hostPart == "" {
		return []string{":" + port}, nil
	}
	parts := strings.Split(hostPart, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			hosts = append(hosts, ":"+port)
			continue
		}
		if strings.Contains(p, ":") {
			hosts = append(hosts, p)
		} else {
			hosts = append(hosts, p+":"+port)
		}
	}
	return hosts, nil
}

// SafeConnectionString renders the normalized URL with user/password
// values replaced by "*", always includes the resolved mode, omits
// sslmode in sniff mode, and always emits every host with an explicit
// port. This is what system tables and error messages expose — raw
// passwords never leak through it.
func (ci *ConnectionInfo) SafeConnectionString() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(strings.Join(ci.Hosts, ","))

	mode := ci.Mode()

	// Fixed emission order (user, password, sslmode, mode) rather than
	// alphabetical or input order: mode is always last, sslmode is
	// dropped entirely in sniff mode.
	var params []string
	if _, ok := ci.Settings["user"]; ok {
		params = append(params, "user=*")
	}
	if _, ok := ci.Settings["password"]; ok {
		params = append(params, "password=*")
	}
	if v, ok := ci.Settings["sslmode"]; ok && mode != ModeSniff {
		params = append(params, "sslmode="+v)
	}
	params = append(params, "mode="+mode)
	if len(params) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(params, "&"))
	}
	return b.String()
}

// String is an alias for SafeConnectionString: this type must never be
// printed/logged with raw credentials, so the zero-effort stringer is
// also the safe one.
func (ci *ConnectionInfo) String() string {
	return ci.SafeConnectionString()
}

// Equivalent reports whether two ConnectionInfos describe the same
// endpoint set and options — used by RemoteClusterRegistry.connect to
// decide whether an existing client can be reused.
func (ci *ConnectionInfo) Equivalent(other *ConnectionInfo) bool {
	if other == nil {
		return false
	}
	if len(ci.Hosts) != len(other.Hosts) {
		return false
	}
	for i := range ci.Hosts {
		if ci.Hosts[i] != other.Hosts[i] {
			return false
		}
	}
	if len(ci.Settings) != len(other.Settings) {
		return false
	}
	for k, v := range ci.Settings {
		if other.Settings[k] != v {
			return false
		}
	}
	return true
}
