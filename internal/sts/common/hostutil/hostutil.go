package hostutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrUnparseableHost marks a host that cannot form a valid network
// locator. Policy on such a host can never be honored, so callers surface
// this instead of swallowing it.
var ErrUnparseableHost = errors.New("host cannot form a valid locator")

// Canonical returns a host name in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dots
// - IDN labels converted to their ASCII (punycode) form
func Canonical(host string) string {
	host = strings.TrimSpace(host)
	host = strings.ToLower(host)
	for strings.HasSuffix(host, ".") {
		host = strings.TrimSuffix(host, ".")
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return host
}

// Locator wraps a canonical host as the http://<host>/ form the security
// backend keys its entries by. Hosts that cannot round-trip through a URL
// (embedded ports, schemes, invalid characters) yield ErrUnparseableHost.
func Locator(host string) (string, error) {
	host = Canonical(host)
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrUnparseableHost)
	}
	u, err := url.Parse("http://" + host + "/")
	if err != nil || u.Hostname() != host || u.Port() != "" {
		return "", fmt.Errorf("%w: %q", ErrUnparseableHost, host)
	}
	return u.String(), nil
}

// HostOf extracts the canonical host from a locator produced by Locator.
func HostOf(locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: locator %q", ErrUnparseableHost, locator)
	}
	return Canonical(u.Hostname()), nil
}
