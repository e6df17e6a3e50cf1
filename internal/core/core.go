package core

import (
	"context"
	"time"
)

// DMPolicy is the direct-message admission policy for an account.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyAllowlist DMPolicy = "allowlist"
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyDisabled  DMPolicy = "disabled"
)

// NormalizeDMPolicy maps unknown or empty values to the default policy.
func NormalizeDMPolicy(raw string) DMPolicy {
	switch DMPolicy(raw) {
	case DMPolicyAllowlist, DMPolicyOpen, DMPolicyDisabled:
		return DMPolicy(raw)
	default:
		return DMPolicyPairing
	}
}

// PeerKind distinguishes direct and group conversations.
type PeerKind string

const (
	PeerDM    PeerKind = "dm"
	PeerGroup PeerKind = "group"
)

type Peer struct {
	Kind PeerKind
	ID   string
}

// Route is the resolved agent destination for an inbound message.
type Route struct {
	AgentID    string
	AccountID  string
	SessionKey string
}

// RouteResolver maps an inbound conversation to an agent route.
type RouteResolver interface {
	ResolveRoute(channel, accountID string, peer Peer) Route
}

// InboundContext is the finalized inbound message handed to the agent
// pipeline and recorded against the session.
type InboundContext struct {
	Body              string `json:"body"`
	RawBody           string `json:"raw_body"`
	CommandBody       string `json:"command_body"`
	From              string `json:"from"`
	To                string `json:"to"`
	SessionKey        string `json:"session_key"`
	AccountID         string `json:"account_id"`
	ChatType          string `json:"chat_type"`
	ConversationLabel string `json:"conversation_label"`
	SenderName        string `json:"sender_name,omitempty"`
	SenderID          string `json:"sender_id"`
	CommandAuthorized *bool  `json:"command_authorized,omitempty"`
	Provider          string `json:"provider"`
	Surface           string `json:"surface"`
	MessageSid        string `json:"message_sid"`
	OriginatingChannel string `json:"originating_channel"`
	OriginatingTo      string `json:"originating_to"`
}

// SessionStore records inbound sessions and serves the previous-update
// timestamp used for envelope gap annotations.
type SessionStore interface {
	LastUpdatedAt(sessionKey string) (time.Time, bool)
	RecordInbound(sessionKey string, ctx InboundContext) error
}

// PairingResult reports the outcome of an upsert: Created is false when
// the sender already had a pending request.
type PairingResult struct {
	Code    string
	Created bool
}

// PairingStore owns pairing requests and the approval-driven allow list.
type PairingStore interface {
	UpsertRequest(channel, senderID string) (PairingResult, error)
	AllowFrom(channel string) ([]string, error)
	Approve(channel, code string) (string, error)
}

// Authorizer is one source of command authorization.
type Authorizer struct {
	Configured bool
	Allowed    bool
}

// CommandGate decides whether a message needs command authorization and
// resolves it from the configured authorizers.
type CommandGate interface {
	ShouldComputeAuthorized(text string) bool
	IsControlCommand(text string) bool
	ResolveAuthorized(useAccessGroups bool, authorizers []Authorizer) bool
}

// ReplyPayload is one outbound block produced by the reply pipeline.
type ReplyPayload struct {
	Text string
}

type DeliverFunc func(payload ReplyPayload) error

// ReplyDispatcher runs the agent pipeline for an inbound context and
// streams reply blocks through deliver. Delivery errors go to onError
// and do not stop remaining blocks.
type ReplyDispatcher interface {
	DispatchReply(ctx context.Context, inbound InboundContext, deliver DeliverFunc, onError func(error))
}

// Services bundles the host capabilities a message processor needs.
type Services struct {
	Routing  RouteResolver
	Sessions SessionStore
	Pairing  PairingStore
	Commands CommandGate
	Replies  ReplyDispatcher
}

// StatusPatch carries activity timestamps back to the account status
// tracker. Zero values mean "no change".
type StatusPatch struct {
	LastInboundAt  time.Time
	LastOutboundAt time.Time
}

// StatusSink receives status patches from webhook targets and senders.
type StatusSink func(patch StatusPatch)
