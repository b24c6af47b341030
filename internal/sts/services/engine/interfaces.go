package engine

import "github.com/httpsfirst/stsguard/internal/sts/domain"

// PolicyStore is the persisted record of user intent: one entry per host
// the user explicitly declared enforcement for. Hosts are stored in
// canonical form; the engine canonicalizes before every call.
type PolicyStore interface {
	Get(host string) (domain.PolicyEntry, bool, error)
	Put(host string, entry domain.PolicyEntry) error
	Delete(host string) error
	Visit(fn func(host string, entry domain.PolicyEntry) bool) error
	Len() int
}

// SecurityBackend performs protocol-level enforcement. It stores user-
// and site-declared entries identically and has no notion of who asked,
// which is why the engine keeps provenance in the PolicyStore. Locators
// are the http://<host>/ form produced by hostutil.Locator.
type SecurityBackend interface {
	Enable(locator, directive string, ephemeral bool) error
	Disable(locator string, ephemeral bool) error
	IsEnforced(locator string, ephemeral bool) (bool, error)
}
