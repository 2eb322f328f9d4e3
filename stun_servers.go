// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	_ "embed"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"

	"github.com/pion/stun/v3"
	"gopkg.in/yaml.v3"
)

// DefaultSTUNPort is the port used when a server entry names none.
const DefaultSTUNPort = 3478

//go:embed stun-servers.yaml
var defaultServerList []byte

// STUNServer describes one binding server.
type STUNServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s STUNServer) String() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s STUNServer) validate() error {
	if s.Host == "" {
		return fmt.Errorf("%w: empty host", errInvalidServer)
	}
	if s.Port <= 0 || s.Port > 0xFFFF {
		return fmt.Errorf("%w: %s: %w", errInvalidServer, s.Host, ErrPort)
	}

	return nil
}

// ServerSource supplies a list of STUN servers.
type ServerSource interface {
	LoadSTUNServers(ctx context.Context) ([]STUNServer, error)
}

// StaticServerSource is a fixed list of servers.
type StaticServerSource []STUNServer

// LoadSTUNServers implements ServerSource.
func (s StaticServerSource) LoadSTUNServers(context.Context) ([]STUNServer, error) {
	return append([]STUNServer(nil), s...), nil
}

// FileServerSource reads a YAML server list from a file.
type FileServerSource string

// LoadSTUNServers implements ServerSource.
func (f FileServerSource) LoadSTUNServers(context.Context) ([]STUNServer, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, err
	}

	return ParseServerList(data)
}

// DefaultServerSource returns the built-in list of public STUN servers.
func DefaultServerSource() ServerSource {
	servers, err := ParseServerList(defaultServerList)
	if err != nil {
		panic(err)
	}

	return StaticServerSource(servers)
}

type serverList struct {
	Servers []serverEntry `yaml:"servers"`
}

type serverEntry struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	URI  string `yaml:"uri"`
}

// ParseServerList parses a YAML server list. Each entry is either a host and
// optional port or a stun: URI.
func ParseServerList(data []byte) ([]STUNServer, error) {
	var list serverList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse server list: %w", err)
	}

	servers := make([]STUNServer, 0, len(list.Servers))
	for _, entry := range list.Servers {
		server := STUNServer{Host: entry.Host, Port: entry.Port}
		if entry.URI != "" {
			uri, err := stun.ParseURI(entry.URI)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", errInvalidServer, entry.URI, err)
			}
			if uri.Scheme != stun.SchemeTypeSTUN {
				return nil, fmt.Errorf("%w: %s", ErrSchemeType, entry.URI)
			}
			server = STUNServer{Host: uri.Host, Port: uri.Port}
		}
		if server.Port == 0 {
			server.Port = DefaultSTUNPort
		}
		if err := server.validate(); err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// STUNServersFromURIs keeps the stun: URIs of uris as servers.
func STUNServersFromURIs(uris []*stun.URI) []STUNServer {
	servers := []STUNServer{}
	for _, uri := range uris {
		if uri.Scheme == stun.SchemeTypeSTUN {
			servers = append(servers, STUNServer{Host: uri.Host, Port: uri.Port})
		}
	}

	return servers
}

func appendUniqueServers(servers []STUNServer, more ...STUNServer) []STUNServer {
	for _, s := range more {
		if !slices.Contains(servers, s) {
			servers = append(servers, s)
		}
	}

	return servers
}
