package auth

// Scope is the capability a token grants.
type Scope string

// Scopes in increasing order of privilege.
const (
	ScopeRead    Scope = "read"
	ScopeControl Scope = "control"
)

// scopeRank orders scopes; a higher rank includes every lower one.
var scopeRank = map[Scope]int{
	ScopeRead:    1,
	ScopeControl: 2,
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	_, ok := scopeRank[s]
	return ok
}

// Allows reports whether a token with scope s may perform an action that
// requires scope required.
func (s Scope) Allows(required Scope) bool {
	have, ok := scopeRank[s]
	if !ok {
		return false
	}
	need, ok := scopeRank[required]
	if !ok {
		return false
	}
	return have >= need
}

// ParseScope returns the scope named by s, defaulting to read for "".
func ParseScope(s string) (Scope, bool) {
	if s == "" {
		return ScopeRead, true
	}
	sc := Scope(s)
	return sc, sc.Valid()
}
