package domain

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegistrableDomainAtLevel returns the registrable ancestor of host that
// sits level labels above its public suffix (level 1 is the apex, e.g.
// "example.com" for "a.b.example.com"). The second return is false once
// level exceeds the host's own depth, or when the host has no registrable
// apex at all; an ancestor walk treats that as normal termination, not an
// error.
func RegistrableDomainAtLevel(host string, level int) (string, bool) {
	if level < 1 {
		return "", false
	}
	depth, ok := registrableDepth(host)
	if !ok || level > depth {
		return "", false
	}
	d := host
	for depth > level {
		i := strings.IndexByte(d, '.')
		d = d[i+1:]
		depth--
	}
	return d, true
}

// Ancestors returns the registrable ancestors of host, nearest-first,
// excluding host itself and never crossing the public-suffix boundary.
// Hosts with no registrable ancestor (the apex itself, bare public
// suffixes, unparseable names) yield an empty slice.
func Ancestors(host string) []string {
	depth, ok := registrableDepth(host)
	if !ok {
		return nil
	}
	var out []string
	for level := depth - 1; level >= 1; level-- {
		d, ok := RegistrableDomainAtLevel(host, level)
		if !ok {
			break
		}
		out = append(out, d)
	}
	return out
}

// registrableDepth returns how many labels host carries above its public
// suffix. The apex has depth 1. ok is false when no registrable apex
// exists, e.g. the host is itself a public suffix.
func registrableDepth(host string) (int, bool) {
	apex, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return 0, false
	}
	if host == apex {
		return 1, true
	}
	prefix, found := strings.CutSuffix(host, "."+apex)
	if !found {
		return 0, false
	}
	return strings.Count(prefix, ".") + 2, true
}
