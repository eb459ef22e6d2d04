package webhook

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// cgnat is the carrier-grade NAT range, not reachable on the public
// internet.
var cgnat = mustCIDR("100.64.0.0/10")

// uniqueLocal is the IPv6 unique-local range.
var uniqueLocal = mustCIDR("fc00::/7")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// checkTargetURL resolves the URL's host and rejects it if any
// resolved address is outside the public internet. Resolution happens
// on every delivery attempt, not once at webhook creation: DNS can
// change between configuration and delivery.
func checkTargetURL(ctx context.Context, resolver *net.Resolver, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("target url has no host")
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolving %s: no addresses", host)
	}

	for _, addr := range addrs {
		if !publicIP(addr.IP) {
			return fmt.Errorf("%s resolves to non-public address %s", host, addr.IP)
		}
	}
	return nil
}

// publicIP reports whether ip is plausibly reachable on the public
// internet.
func publicIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	switch {
	case ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified():
		return false
	case cgnat.Contains(ip), uniqueLocal.Contains(ip):
		return false
	}
	return true
}
