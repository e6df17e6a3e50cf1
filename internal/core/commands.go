package core

import "strings"

// Gate is the default command gate: any slash-prefixed message is a
// control command and needs an authorization decision.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) ShouldComputeAuthorized(text string) bool {
	return g.IsControlCommand(text)
}

func (g *Gate) IsControlCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return false
	}
	// "/" alone or "//" (escaped slash) are not commands.
	return len(trimmed) > 1 && trimmed[1] != '/'
}

// ResolveAuthorized grants authorization when access groups are off, or
// when any configured authorizer allows the sender. An authorizer with
// nothing configured never grants.
func (g *Gate) ResolveAuthorized(useAccessGroups bool, authorizers []Authorizer) bool {
	if !useAccessGroups {
		return true
	}
	for _, a := range authorizers {
		if a.Configured && a.Allowed {
			return true
		}
	}
	return false
}
