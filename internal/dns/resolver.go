package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicServers are queried concurrently when the system resolver fails.
var publicServers = []string{
	"1.1.1.1",         // Cloudflare
	"1.0.0.1",         // Cloudflare
	"8.8.8.8",         // Google
	"8.8.4.4",         // Google
	"9.9.9.9",         // Quad9
	"149.112.112.112", // Quad9
}

// Resolver resolves hostnames with the system resolver first, racing a set
// of public DNS servers when that fails. Game sessions run on home networks
// with flaky router DNS often enough that the fallback earns its keep.
type Resolver struct {
	Servers []string
	Timeout time.Duration
}

// Default is a ready-to-use resolver with the built-in server list.
var Default = &Resolver{Servers: publicServers, Timeout: 2 * time.Second}

// Lookup resolves host to a single IP address, preferring IPv4.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	sysCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if ip, err := lookupWith(sysCtx, &net.Resolver{}, host); err == nil {
		return ip, nil
	}

	return r.race(ctx, host)
}

// race queries every fallback server concurrently and returns the first
// answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ip, err := lookupWith(ctx, resolverFor(server), host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil && res.ip != "" {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: fallback race timed out", host)
		}
	}
	return "", fmt.Errorf("resolve %s: all %d fallback servers failed", host, len(r.Servers))
}

// resolverFor returns a resolver pinned to one upstream DNS server.
func resolverFor(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := new(net.Dialer)
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no addresses found")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
