package core

import "strings"

// StaticRouteResolver derives deterministic session keys from the
// conversation coordinates. AgentID defaults to "main" unless an
// override is configured per channel.
type StaticRouteResolver struct {
	DefaultAgentID string
	ChannelAgents  map[string]string
}

func NewStaticRouteResolver() *StaticRouteResolver {
	return &StaticRouteResolver{DefaultAgentID: "main"}
}

func (r *StaticRouteResolver) ResolveRoute(channel, accountID string, peer Peer) Route {
	agentID := r.DefaultAgentID
	if agentID == "" {
		agentID = "main"
	}
	if override, ok := r.ChannelAgents[channel]; ok && override != "" {
		agentID = override
	}
	key := strings.Join([]string{channel, accountID, string(peer.Kind), peer.ID}, ":")
	return Route{
		AgentID:    agentID,
		AccountID:  accountID,
		SessionKey: key,
	}
}
