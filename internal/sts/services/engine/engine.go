package engine

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/httpsfirst/stsguard/internal/sts/common/hostutil"
	"github.com/httpsfirst/stsguard/internal/sts/common/log"
	"github.com/httpsfirst/stsguard/internal/sts/domain"
)

// DefaultMaxAge is the lifetime carried by engine-issued directives, in
// seconds (two years). User declarations are replayed from the store at
// every start, so the horizon only matters within a single long run.
const DefaultMaxAge uint64 = 2 * 365 * 24 * 60 * 60

// Engine decides whether HTTPS-only behavior is in effect for a host and
// why, and is the only component permitted to change enforcement state.
// It keeps the policy store (user intent) and the security backend (live
// enforcement) consistent: after any mutation returns, a status query
// reflects the change.
type Engine struct {
	store   PolicyStore
	backend SecurityBackend
	logger  log.Logger
	maxAge  uint64
}

type Options struct {
	Store   PolicyStore
	Backend SecurityBackend
	Logger  log.Logger

	// MaxAge overrides DefaultMaxAge when nonzero.
	MaxAge uint64
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	return &Engine{
		store:   opts.Store,
		backend: opts.Backend,
		logger:  opts.Logger,
		maxAge:  opts.MaxAge,
	}
}

// StatusOf computes the enforcement status for host. Precedence: an
// exact-host user declaration beats everything; then the nearest ancestor
// declaration covering subdomains; then a site declaration known to the
// backend; else nothing. Read-only.
func (e *Engine) StatusOf(host string) (domain.Status, error) {
	host = hostutil.Canonical(host)

	entry, found, err := e.store.Get(host)
	if err != nil {
		return domain.NotEnforced, fmt.Errorf("status of %s: %w", host, err)
	}
	if found {
		if entry.IncludeSubdomains {
			return domain.UserEnforcedWithSubdomains, nil
		}
		return domain.UserEnforced, nil
	}

	if _, covered, err := e.coveringAncestor(host); err != nil {
		return domain.NotEnforced, fmt.Errorf("status of %s: %w", host, err)
	} else if covered {
		return domain.UserEnforcedParent, nil
	}

	// Site declarations are backend-only knowledge. The query targets the
	// exact host in the persistent context; the backend applies its own
	// subdomain rules internally.
	locator, err := hostutil.Locator(host)
	if err != nil {
		return domain.NotEnforced, err
	}
	enforced, err := e.backend.IsEnforced(locator, false)
	if err != nil {
		return domain.NotEnforced, fmt.Errorf("status of %s: %w", host, err)
	}
	if enforced {
		return domain.SiteEnforced, nil
	}
	return domain.NotEnforced, nil
}

// EnforcingAncestorOf returns the nearest proper ancestor whose user
// declaration covers host via its subdomain flag, if any.
func (e *Engine) EnforcingAncestorOf(host string) (string, bool, error) {
	return e.coveringAncestor(hostutil.Canonical(host))
}

func (e *Engine) coveringAncestor(host string) (string, bool, error) {
	for _, a := range domain.Ancestors(host) {
		entry, found, err := e.store.Get(a)
		if err != nil {
			return "", false, err
		}
		if found && entry.IncludeSubdomains {
			// nearest match is authoritative; stop here
			return a, true, nil
		}
		// an ancestor entry without the subdomain flag never covers
		// descendants and does not block the walk
	}
	return "", false, nil
}

// EnableSTS issues enable directives for host to both backend contexts so
// private and normal browsing stay consistent. It does not touch the
// store; SetSTS does, and startup replay deliberately skips it.
func (e *Engine) EnableSTS(host string, includeSubdomains bool) error {
	locator, err := hostutil.Locator(host)
	if err != nil {
		return err
	}
	directive := e.directive(includeSubdomains)
	if err := e.backend.Enable(locator, directive, false); err != nil {
		return fmt.Errorf("enable %s: %w", host, err)
	}
	if err := e.backend.Enable(locator, directive, true); err != nil {
		return fmt.Errorf("enable %s (ephemeral): %w", host, err)
	}
	return nil
}

// DisableSTS issues disable directives for host to both backend contexts.
// It does not touch the store.
func (e *Engine) DisableSTS(host string) error {
	locator, err := hostutil.Locator(host)
	if err != nil {
		return err
	}
	if err := e.backend.Disable(locator, false); err != nil {
		return fmt.Errorf("disable %s: %w", host, err)
	}
	if err := e.backend.Disable(locator, true); err != nil {
		return fmt.Errorf("disable %s (ephemeral): %w", host, err)
	}
	return nil
}

// UpdateSTS unconditionally clears backend state for host and then
// re-enables iff enforce. The backend has no atomic replace for the
// subdomain flag, hence clear-then-set. A failure in the enable half can
// leave the host disabled; it surfaces as an error so the caller can
// retry rather than silently downgrading.
func (e *Engine) UpdateSTS(host string, enforce, includeSubdomains bool) error {
	if err := e.DisableSTS(host); err != nil {
		return err
	}
	if !enforce {
		return nil
	}
	return e.EnableSTS(host, includeSubdomains)
}

// SetSTS writes the user declaration for host: backend first, then the
// store entry to match enforce. Declined silently when the host is
// already governed by its site or by an ancestor declaration; callers
// that care re-query StatusOf.
func (e *Engine) SetSTS(host string, enforce, includeSubdomains bool) error {
	status, err := e.StatusOf(host)
	if err != nil {
		return err
	}
	if status.Governed() {
		e.logger.Debug(map[string]any{
			"host":   host,
			"status": status.String(),
		}, "declined user declaration for governed host")
		return nil
	}

	if err := e.UpdateSTS(host, enforce, includeSubdomains); err != nil {
		return err
	}

	host = hostutil.Canonical(host)
	if enforce {
		if err := e.store.Put(host, domain.PolicyEntry{IncludeSubdomains: includeSubdomains}); err != nil {
			return fmt.Errorf("persist declaration for %s: %w", host, err)
		}
	} else {
		if err := e.store.Delete(host); err != nil {
			return fmt.Errorf("remove declaration for %s: %w", host, err)
		}
	}

	e.logger.Info(map[string]any{
		"host":               host,
		"enforce":            enforce,
		"include_subdomains": includeSubdomains,
	}, "user declaration updated")
	return nil
}

// ToggleSTS is the simplified binary control for an exact host: it
// enables (without subdomains) when nothing is enforced and disables an
// existing exact-host declaration. Site- and parent-governed hosts are
// left untouched.
func (e *Engine) ToggleSTS(host string) error {
	status, err := e.StatusOf(host)
	if err != nil {
		return err
	}
	switch status {
	case domain.NotEnforced:
		return e.SetSTS(host, true, false)
	case domain.UserEnforced, domain.UserEnforcedWithSubdomains:
		return e.SetSTS(host, false, false)
	case domain.SiteEnforced, domain.UserEnforcedParent:
		e.logger.Debug(map[string]any{
			"host":   host,
			"status": status.String(),
		}, "toggle ignored for governed host")
		return nil
	default:
		return fmt.Errorf("toggle %s: unhandled status %d", host, status)
	}
}

// EnsureSTS replays every store entry into the backend. The backend's
// caches are not guaranteed to survive restarts (the ephemeral one never
// does), so this runs at process start and whenever a fresh private
// context appears. Idempotent; entry order carries no meaning since each
// directive targets only its own host. Replay failures are collected so
// one bad entry cannot shadow the rest.
func (e *Engine) EnsureSTS() error {
	var errs error
	var replayed int
	verr := e.store.Visit(func(host string, entry domain.PolicyEntry) bool {
		if err := e.EnableSTS(host, entry.IncludeSubdomains); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", host, err))
		} else {
			replayed++
		}
		return true
	})
	e.logger.Info(map[string]any{
		"entries": replayed,
	}, "policy store replayed into backend")
	return multierr.Append(errs, verr)
}

func (e *Engine) directive(includeSubdomains bool) string {
	if includeSubdomains {
		return fmt.Sprintf("max-age=%d; includeSubDomains", e.maxAge)
	}
	return fmt.Sprintf("max-age=%d", e.maxAge)
}
