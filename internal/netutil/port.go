// Package netutil selects the address the API server binds to.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var ErrNoAddress = errors.New("no available bind addresses")

// Candidates expands a port list ("8191,8192") into host:port addresses on
// the preferred address's host. Entries that already carry a host are kept.
func Candidates(preferred string, ports []string) []string {
	host := "127.0.0.1"
	if h, _, err := net.SplitHostPort(preferred); err == nil && h != "" {
		host = h
	}
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, ":") {
			out = append(out, p)
			continue
		}
		out = append(out, net.JoinHostPort(host, p))
	}
	return out
}

// Listen binds the preferred address, or with autoFallback the first free
// candidate, and returns the open listener.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}

	return nil, ErrNoAddress
}
