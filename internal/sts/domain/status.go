package domain

// Status classifies why HTTPS-only enforcement is (or is not) in effect
// for a host. Values are mutually exclusive; the engine evaluates them in
// strict precedence order: exact user declaration, covering ancestor
// declaration, site declaration, nothing.
type Status uint8

const (
	// NotEnforced means no user declaration, no covering ancestor
	// declaration, and no site-declared entry.
	NotEnforced Status = iota

	// SiteEnforced means the site itself declared enforcement and the
	// user holds no declaration for the exact host.
	SiteEnforced

	// UserEnforced means an exact-host user declaration that does not
	// cover subdomains.
	UserEnforced

	// UserEnforcedWithSubdomains means an exact-host user declaration
	// that also covers subdomains.
	UserEnforcedWithSubdomains

	// UserEnforcedParent means a proper ancestor carries a user
	// declaration whose subdomain flag covers this host.
	UserEnforcedParent
)

// String returns the wire/display label for the status.
func (s Status) String() string {
	switch s {
	case NotEnforced:
		return "not_enforced"
	case SiteEnforced:
		return "site_enforced"
	case UserEnforced:
		return "user_enforced"
	case UserEnforcedWithSubdomains:
		return "user_enforced_with_subdomains"
	case UserEnforcedParent:
		return "user_enforced_parent"
	default:
		return "unknown"
	}
}

// IsValid returns true if the Status is one of the defined values.
func (s Status) IsValid() bool {
	return s <= UserEnforcedParent
}

// UserDeclared reports whether the status stems from an exact-host user
// declaration.
func (s Status) UserDeclared() bool {
	return s == UserEnforced || s == UserEnforcedWithSubdomains
}

// Governed reports whether policy for the host is owned elsewhere: by the
// site's own declaration or by an ancestor's. Mutations guard on this so
// a user override is never created underneath a governed host.
func (s Status) Governed() bool {
	return s == SiteEnforced || s == UserEnforcedParent
}
