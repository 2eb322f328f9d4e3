// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/jingle-go/nat/internal/metrics"
	"github.com/miekg/dns"
	"github.com/pion/logging"
)

const (
	defaultDirectoryTimeout   = 2 * time.Second
	defaultDirectoryCacheSize = 64
	defaultResolvConf         = "/etc/resolv.conf"

	directoryLoggerScope = "nat-dns"
)

// ServiceDirectory lists the STUN servers advertised by the signaling
// network itself, independent of any static list.
type ServiceDirectory interface {
	LookupSTUNServers(ctx context.Context) ([]STUNServer, error)
}

// ServiceAvailable reports whether dir advertises at least one STUN server.
func ServiceAvailable(ctx context.Context, dir ServiceDirectory) bool {
	if dir == nil {
		return false
	}

	servers, err := dir.LookupSTUNServers(ctx)

	return err == nil && len(servers) > 0
}

// GetSTUNServer returns the most preferred STUN server advertised by dir.
func GetSTUNServer(ctx context.Context, dir ServiceDirectory) (STUNServer, error) {
	if dir == nil {
		return STUNServer{}, ErrNoSTUNServer
	}

	servers, err := dir.LookupSTUNServers(ctx)
	if err != nil {
		return STUNServer{}, fmt.Errorf("%w: %w", ErrNoSTUNServer, err)
	}
	if len(servers) == 0 {
		return STUNServer{}, ErrNoSTUNServer
	}

	return servers[0], nil
}

// DNSDirectoryConfig configures a DNSDirectory.
type DNSDirectoryConfig struct {
	// Domain is the signaling domain; servers are looked up at _stun._udp.<Domain>.
	Domain string

	// Nameserver is the host:port of the DNS server. Defaults to the first
	// nameserver of /etc/resolv.conf.
	Nameserver string

	// Timeout bounds one query. Defaults to 2 seconds.
	Timeout time.Duration

	// CacheSize is the number of cached lookups. Defaults to 64.
	CacheSize int

	LoggerFactory logging.LoggerFactory
}

// DNSDirectory is a ServiceDirectory backed by DNS SRV records.
// Answers are cached until their smallest TTL expires.
type DNSDirectory struct {
	domain     string
	nameserver string
	client     *dns.Client
	cache      *lru.Cache[string, directoryEntry]
	log        logging.LeveledLogger
	now        func() time.Time
}

type directoryEntry struct {
	servers []STUNServer
	expires time.Time
}

// NewDNSDirectory creates a DNSDirectory.
func NewDNSDirectory(config *DNSDirectoryConfig) (*DNSDirectory, error) {
	if config.Domain == "" {
		return nil, fmt.Errorf("%w: empty directory domain", errInvalidServer)
	}

	nameserver := config.Nameserver
	if nameserver == "" {
		resolvConf, err := dns.ClientConfigFromFile(defaultResolvConf)
		if err != nil {
			return nil, err
		}
		if len(resolvConf.Servers) == 0 {
			return nil, fmt.Errorf("%w: no nameserver in %s", errDirectoryRcode, defaultResolvConf)
		}
		nameserver = net.JoinHostPort(resolvConf.Servers[0], resolvConf.Port)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultDirectoryTimeout
	}

	size := config.CacheSize
	if size <= 0 {
		size = defaultDirectoryCacheSize
	}
	cache, err := lru.New[string, directoryEntry](size)
	if err != nil {
		return nil, err
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &DNSDirectory{
		domain:     config.Domain,
		nameserver: nameserver,
		client:     &dns.Client{Net: udp, Timeout: timeout},
		cache:      cache,
		log:        loggerFactory.NewLogger(directoryLoggerScope),
		now:        time.Now,
	}, nil
}

// LookupSTUNServers implements ServiceDirectory. Servers are ordered by
// ascending SRV priority, then descending weight.
func (d *DNSDirectory) LookupSTUNServers(ctx context.Context) ([]STUNServer, error) {
	name := dns.Fqdn("_stun._udp." + d.domain)

	if entry, ok := d.cache.Get(name); ok {
		if d.now().Before(entry.expires) {
			return slices.Clone(entry.servers), nil
		}
		d.cache.Remove(name)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeSRV)
	msg.RecursionDesired = true

	resp, _, err := d.client.ExchangeContext(ctx, msg, d.nameserver)
	if err != nil {
		metrics.ProbeFailures.WithLabelValues("directory", metrics.FailureDirectory).Inc()

		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		metrics.ProbeFailures.WithLabelValues("directory", metrics.FailureDirectory).Inc()

		return nil, fmt.Errorf("%w: %s %s", errDirectoryRcode, name, dns.RcodeToString[resp.Rcode])
	}

	records := []*dns.SRV{}
	ttl := uint32(0)
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok || srv.Target == "." {
			continue
		}
		if len(records) == 0 || srv.Hdr.Ttl < ttl {
			ttl = srv.Hdr.Ttl
		}
		records = append(records, srv)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", errNoDirectoryRecords, name)
	}

	slices.SortStableFunc(records, func(a, b *dns.SRV) int {
		return cmp.Or(
			cmp.Compare(a.Priority, b.Priority),
			cmp.Compare(b.Weight, a.Weight),
		)
	})

	servers := make([]STUNServer, 0, len(records))
	for _, srv := range records {
		servers = appendUniqueServers(servers, STUNServer{
			Host: strings.TrimSuffix(srv.Target, "."),
			Port: int(srv.Port),
		})
	}

	d.log.Debugf("Directory %s advertises %d STUN servers, ttl %ds", name, len(servers), ttl)
	d.cache.Add(name, directoryEntry{
		servers: servers,
		expires: d.now().Add(time.Duration(ttl) * time.Second),
	})

	return slices.Clone(servers), nil
}
