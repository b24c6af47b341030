package domain

// PolicyEntry is the persisted user declaration for an exact host.
// Presence of an entry in the store means the user declared enforcement
// for that host; absence means no declaration (the host may still be
// covered by an ancestor entry or a site declaration).
type PolicyEntry struct {
	IncludeSubdomains bool
}
