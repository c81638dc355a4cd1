package grant

// Scope set algebra. Scope sets are plain slices kept duplicate-free; all
// operations preserve first-seen order so issued scopes are stable across
// runs.

// subsetOf reports whether every scope in sub is present in super.
func subsetOf(sub, super []string) bool {
	for _, s := range sub {
		if !scopeIn(super, s) {
			return false
		}
	}
	return true
}

// intersectScopes returns the scopes present in both sets.
func intersectScopes(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, s := range a {
		if scopeIn(b, s) && !scopeIn(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// unionScopes returns the deduplicated union of both sets.
func unionScopes(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !scopeIn(out, s) {
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !scopeIn(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func scopeIn(set []string, scope string) bool {
	for _, s := range set {
		if s == scope {
			return true
		}
	}
	return false
}
