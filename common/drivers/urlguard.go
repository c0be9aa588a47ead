package drivers

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// urlGuard screens webhook targets before any connection is opened:
// http/https only, no loopback or private address space, no file-access
// patterns in the path or query.
type urlGuard struct {
	blockedHosts map[string]struct{}

	// lookupIP is swappable so tests never touch DNS
	lookupIP func(host string) ([]net.IP, error)
}

func newURLGuard() *urlGuard {
	names := []string{
		"localhost",
		"127.0.0.1",
		"::1",
		"0.0.0.0",
		"::",
		"::ffff:127.0.0.1",
		"[::1]",
		"[::ffff:127.0.0.1]",
	}
	blocked := make(map[string]struct{}, len(names))
	for _, n := range names {
		blocked[n] = struct{}{}
	}
	return &urlGuard{blockedHosts: blocked, lookupIP: net.LookupIP}
}

// Validate parses the URL and runs every check against it
func (g *urlGuard) Validate(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if scheme == "" {
		return fmt.Errorf("protocol scheme is required")
	}
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("protocol '%s' is not allowed (only http/https permitted)", parsed.Scheme)
	}

	if err := g.checkHost(parsed.Hostname()); err != nil {
		return err
	}

	if err := checkPathValue(parsed.Path); err != nil {
		return err
	}
	for key, values := range parsed.Query() {
		for _, value := range values {
			if err := checkPathValue(value); err != nil {
				return fmt.Errorf("query parameter '%s': %w", key, err)
			}
		}
	}

	return nil
}

// checkHost blocks known-local names, then resolves the host and screens
// every address. Resolution failures pass through: the request itself
// will surface them.
func (g *urlGuard) checkHost(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}

	normalized := strings.ToLower(strings.TrimSpace(hostname))
	if _, blocked := g.blockedHosts[normalized]; blocked {
		return fmt.Errorf("hostname '%s' is blocked (SSRF protection: localhost access)", hostname)
	}

	ips, err := g.lookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP screens one resolved address against internal ranges
func checkIP(ip net.IP) error {
	switch {
	case ip == nil:
		return fmt.Errorf("IP address is nil")
	case ip.IsLoopback():
		return fmt.Errorf("IP %s is blocked (SSRF protection: loopback address)", ip)
	case ip.IsPrivate():
		return fmt.Errorf("IP %s is blocked (SSRF protection: private network)", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("IP %s is blocked (SSRF protection: link-local address)", ip)
	case ip.IsMulticast():
		return fmt.Errorf("IP %s is blocked (SSRF protection: multicast address)", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("IP %s is blocked (SSRF protection: unspecified address)", ip)
	}
	return nil
}

// blockedPathPatterns cover direct file access, traversal, and their
// URL-encoded spellings.
var blockedPathPatterns = []string{
	"file://",
	"../",
	"..\\",
	"/etc/",
	"/proc/",
	"/sys/",
	"c:/",
	"c:\\",
	"\\\\.\\pipe\\",
	"%2e%2e/",
	"%2e%2e%2f",
	"..%2f",
	"%2e%2e\\",
	"%2e%2e%5c",
	"..%5c",
}

func checkPathValue(value string) error {
	if value == "" {
		return nil
	}
	normalized := strings.ToLower(value)
	for _, pattern := range blockedPathPatterns {
		if strings.Contains(normalized, pattern) {
			return fmt.Errorf("path contains blocked pattern '%s'", pattern)
		}
	}
	return nil
}
