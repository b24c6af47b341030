package secbackend

import (
	"fmt"
	"strings"
	"time"

	"github.com/chromium/hstspreload"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/httpsfirst/stsguard/internal/sts/common/clock"
	"github.com/httpsfirst/stsguard/internal/sts/common/hostutil"
)

// entry is one cached enforcement grant for a host.
type entry struct {
	includeSubdomains bool
	expiresAt         time.Time
}

// Backend is the in-process security backend: it records which hosts are
// under HTTPS-only enforcement and answers enforcement queries for the
// protocol layer. It keeps two independent contexts. The persistent
// context backs normal browsing; the ephemeral context backs private
// windows, starts empty, and may be cleared wholesale at any time.
//
// The backend has no notion of who asked for an entry: user- and
// site-declared grants are stored identically. Provenance lives in the
// policy store, not here.
type Backend struct {
	clock      clock.Clock
	persistent *lru.Cache[string, entry]
	ephemeral  *lru.Cache[string, entry]
}

// New returns a Backend whose per-context caches hold up to size hosts.
func New(size int, clk clock.Clock) (*Backend, error) {
	p, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	e, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Backend{clock: clk, persistent: p, ephemeral: e}, nil
}

func (b *Backend) cache(ephemeral bool) *lru.Cache[string, entry] {
	if ephemeral {
		return b.ephemeral
	}
	return b.persistent
}

// Enable records enforcement for the locator's host in the given context.
// The directive uses Strict-Transport-Security grammar, e.g.
// "max-age=63072000; includeSubDomains". Per header semantics a zero
// max-age removes the entry instead.
func (b *Backend) Enable(locator, directive string, ephemeral bool) error {
	host, err := hostutil.HostOf(locator)
	if err != nil {
		return err
	}
	return b.apply(host, directive, ephemeral)
}

// Disable removes any enforcement entry for the locator's host in the
// given context.
func (b *Backend) Disable(locator string, ephemeral bool) error {
	host, err := hostutil.HostOf(locator)
	if err != nil {
		return err
	}
	b.cache(ephemeral).Remove(host)
	return nil
}

// IsEnforced reports whether the locator's host is currently enforced in
// the given context, either by an exact entry or by a superdomain entry
// whose subdomain flag covers it.
func (b *Backend) IsEnforced(locator string, ephemeral bool) (bool, error) {
	host, err := hostutil.HostOf(locator)
	if err != nil {
		return false, err
	}
	c := b.cache(ephemeral)

	if _, ok := b.live(c, host); ok {
		return true, nil
	}

	// Superdomain walk: any live ancestor entry with the subdomain flag
	// covers this host. Plain string trimming suffices here; the backend
	// never adopts entries itself, so public-suffix boundaries are the
	// writers' concern.
	d := host
	for {
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
		if e, ok := b.live(c, d); ok && e.includeSubdomains {
			return true, nil
		}
	}
	return false, nil
}

// ProcessHeader ingests a site-declared Strict-Transport-Security header
// for the locator's host. It behaves exactly like Enable; the alias
// exists so call sites read as what they are.
func (b *Backend) ProcessHeader(locator, header string, ephemeral bool) error {
	return b.Enable(locator, header, ephemeral)
}

// ClearEphemeral drops every entry in the ephemeral context, as the host
// environment does when a private session ends. Callers typically replay
// the policy store afterwards to re-seed user-declared entries.
func (b *Backend) ClearEphemeral() {
	b.ephemeral.Purge()
}

// Len returns the number of entries in the given context, expired ones
// included until they are lazily evicted.
func (b *Backend) Len(ephemeral bool) int {
	return b.cache(ephemeral).Len()
}

// apply parses the directive and inserts or removes the entry for host.
func (b *Backend) apply(host, directive string, ephemeral bool) error {
	h, issues := hstspreload.ParseHeaderString(directive)
	if len(issues.Errors) > 0 {
		return fmt.Errorf("invalid enforcement directive %q: %s", directive, issues.Errors[0].Summary)
	}
	if h.MaxAge == nil {
		return fmt.Errorf("invalid enforcement directive %q: missing max-age", directive)
	}
	c := b.cache(ephemeral)
	if h.MaxAge.Seconds == 0 {
		c.Remove(host)
		return nil
	}
	c.Add(host, entry{
		includeSubdomains: h.IncludeSubDomains,
		expiresAt:         b.clock.Now().Add(time.Duration(h.MaxAge.Seconds) * time.Second),
	})
	return nil
}

// live returns the entry for key if present and unexpired, lazily
// evicting expired ones.
func (b *Backend) live(c *lru.Cache[string, entry], key string) (entry, bool) {
	e, ok := c.Get(key)
	if !ok {
		return entry{}, false
	}
	if !b.clock.Now().Before(e.expiresAt) {
		c.Remove(key)
		return entry{}, false
	}
	return e, true
}
