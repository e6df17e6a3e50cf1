package wecom

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"imbridge/internal/core"
	"imbridge/internal/text"
)

var channelPrefixRe = regexp.MustCompile(`(?i)^(wecom|wxwork):`)

func isSenderAllowed(senderID string, allowFrom []string) bool {
	for _, entry := range allowFrom {
		if entry == "*" {
			return true
		}
	}
	normalized := strings.ToLower(senderID)
	for _, entry := range allowFrom {
		if strings.ToLower(channelPrefixRe.ReplaceAllString(entry, "")) == normalized {
			return true
		}
	}
	return false
}

// processMessage runs the DM admission flow and hands the message to
// the agent pipeline. WeCom application messages are always direct, so
// the chat id is the member's user id.
func (h *Handler) processMessage(ctx context.Context, target *Target, message *IncomingMessage) error {
	account := target.Account

	if message.MsgType != MessageText {
		h.logVerbose("ignoring %s message from %s", message.MsgType, message.FromUserName)
		return nil
	}
	msgText := strings.TrimSpace(message.Content)
	if msgText == "" {
		return nil
	}

	senderID := message.FromUserName
	chatID := senderID

	dmPolicy := core.NormalizeDMPolicy(account.Config.DMPolicy)
	configAllowFrom := account.Config.AllowFrom
	shouldComputeAuth := h.services.Commands.ShouldComputeAuthorized(msgText)

	var storeAllowFrom []string
	if dmPolicy != core.DMPolicyOpen || shouldComputeAuth {
		entries, err := h.services.Pairing.AllowFrom(ChannelID)
		if err != nil {
			h.logVerbose("pairing allow list unavailable: %v", err)
		} else {
			storeAllowFrom = entries
		}
	}
	effectiveAllowFrom := append(append([]string{}, configAllowFrom...), storeAllowFrom...)
	senderAllowed := isSenderAllowed(senderID, effectiveAllowFrom)

	var commandAuthorized *bool
	if shouldComputeAuth {
		authorized := h.services.Commands.ResolveAuthorized(h.useAccessGroups, []core.Authorizer{{
			Configured: len(effectiveAllowFrom) > 0,
			Allowed:    senderAllowed,
		}})
		commandAuthorized = &authorized
	}

	switch {
	case dmPolicy == core.DMPolicyDisabled:
		h.logVerbose("blocked DM from %s (dmPolicy=disabled)", senderID)
		return nil
	case dmPolicy != core.DMPolicyOpen && !senderAllowed:
		if dmPolicy == core.DMPolicyPairing {
			h.handlePairingRequest(ctx, target, senderID)
		} else {
			h.logVerbose("blocked unauthorized sender %s (dmPolicy=%s)", senderID, dmPolicy)
		}
		return nil
	}

	route := h.services.Routing.ResolveRoute(ChannelID, account.AccountID, core.Peer{Kind: core.PeerDM, ID: chatID})

	fromLabel := "user:" + senderID
	previous, _ := h.services.Sessions.LastUpdatedAt(route.SessionKey)
	var msgTime time.Time
	if message.CreateTime > 0 {
		msgTime = time.Unix(message.CreateTime, 0)
	}
	body := core.FormatEnvelope(core.EnvelopeParams{
		Channel:   "WeCom",
		From:      fromLabel,
		Timestamp: msgTime,
		Previous:  previous,
		Body:      msgText,
	})

	inbound := core.InboundContext{
		Body:               body,
		RawBody:            msgText,
		CommandBody:        msgText,
		From:               ChannelID + ":" + senderID,
		To:                 ChannelID + ":" + chatID,
		SessionKey:         route.SessionKey,
		AccountID:          route.AccountID,
		ChatType:           "direct",
		ConversationLabel:  fromLabel,
		SenderID:           senderID,
		CommandAuthorized:  commandAuthorized,
		Provider:           ChannelID,
		Surface:            ChannelID,
		MessageSid:         message.MsgID,
		OriginatingChannel: ChannelID,
		OriginatingTo:      ChannelID + ":" + chatID,
	}

	if err := h.services.Sessions.RecordInbound(route.SessionKey, inbound); err != nil {
		h.logf("[wecom] failed updating session meta: %v", err)
	}

	h.services.Replies.DispatchReply(ctx, inbound,
		func(payload core.ReplyPayload) error {
			h.deliverReply(ctx, target, chatID, payload.Text)
			return nil
		},
		func(err error) {
			h.logf("[wecom] [%s] reply failed: %v", account.AccountID, err)
		},
	)
	return nil
}

// deliverReply chunks one reply block to the provider limit and sends
// each chunk. A failed chunk is logged and skipped; the rest are still
// attempted.
func (h *Handler) deliverReply(ctx context.Context, target *Target, to, msgText string) {
	converted := text.ConvertMarkdownTables(msgText, h.tableMode)
	if converted == "" {
		return
	}
	for _, chunk := range text.Chunk(converted, TextLimit) {
		if err := h.sendText(ctx, target, to, chunk); err != nil {
			h.logf("[wecom] message send failed: %v", err)
		}
	}
}

func (h *Handler) sendText(ctx context.Context, target *Target, to, msgText string) error {
	token, err := h.client.AccessToken(ctx, target.Credentials)
	if err != nil {
		return err
	}
	if _, err := h.client.SendTextMessage(ctx, token, target.Credentials.AgentID, to, msgText); err != nil {
		return err
	}
	if target.StatusSink != nil {
		target.StatusSink(core.StatusPatch{LastOutboundAt: time.Now()})
	}
	return nil
}

func (h *Handler) handlePairingRequest(ctx context.Context, target *Target, senderID string) {
	result, err := h.services.Pairing.UpsertRequest(ChannelID, senderID)
	if err != nil {
		h.logVerbose("pairing upsert failed for %s: %v", senderID, err)
		return
	}
	if !result.Created {
		return
	}
	h.logVerbose("pairing request sender=%s", senderID)

	reply := core.BuildPairingReply(ChannelID,
		fmt.Sprintf("Your WeCom user id: %s", senderID), result.Code)
	if err := h.sendText(ctx, target, senderID, reply); err != nil {
		h.logVerbose("pairing reply failed for %s: %v", senderID, err)
	}
}
