// Package gate owns the single security boundary of the bridge: exact
// equality against the configured trusted origin.
package gate

// Gate is a pure origin predicate. It never normalizes, never pattern
// matches, and fails closed when no trusted origin is configured.
type Gate struct {
	trusted string
}

// New creates a gate for one trusted origin string (scheme+host+port).
func New(trustedOrigin string) *Gate {
	return &Gate{trusted: trustedOrigin}
}

// Accept reports whether origin is exactly the trusted origin.
// Comparison is case-sensitive; an empty trusted origin accepts nothing.
func (g *Gate) Accept(origin string) bool {
	if g == nil || g.trusted == "" {
		return false
	}

	return origin == g.trusted
}

// Trusted returns the configured trusted origin.
func (g *Gate) Trusted() string {
	if g == nil {
		return ""
	}

	return g.trusted
}
