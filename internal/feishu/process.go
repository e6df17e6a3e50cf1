package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"imbridge/internal/core"
	"imbridge/internal/text"
)

var channelPrefixRe = regexp.MustCompile(`(?i)^(feishu|lark|fs):`)

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

func (h *Handler) processMessageEvent(ctx context.Context, target *Target, event *MessageEvent) error {
	message := event.Event.Message
	sender := event.Event.Sender
	account := target.Account

	// Only text messages are handled; everything else is a no-op.
	if message.MessageType != MessageText {
		h.logVerbose("ignoring %s message in chat %s", message.MessageType, message.ChatID)
		return nil
	}

	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(message.Content), &content); err != nil {
		return nil
	}
	msgText := strings.TrimSpace(content.Text)
	if msgText == "" {
		return nil
	}

	senderID := sender.SenderID.Best()
	chatID := message.ChatID
	isGroup := message.ChatType == ChatGroup

	dmPolicy := core.NormalizeDMPolicy(account.Config.DMPolicy)
	configAllowFrom := account.Config.AllowFrom
	shouldComputeAuth := h.services.Commands.ShouldComputeAuthorized(msgText)

	var storeAllowFrom []string
	if !isGroup && (dmPolicy != core.DMPolicyOpen || shouldComputeAuth) {
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

	if !isGroup {
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
	}

	peer := core.Peer{Kind: core.PeerDM, ID: chatID}
	if isGroup {
		peer.Kind = core.PeerGroup
	}
	route := h.services.Routing.ResolveRoute(ChannelID, account.AccountID, peer)

	if isGroup && h.services.Commands.IsControlCommand(msgText) && (commandAuthorized == nil || !*commandAuthorized) {
		h.logVerbose("dropped control command from unauthorized sender %s", senderID)
		return nil
	}

	fromLabel := "user:" + senderID
	if isGroup {
		fromLabel = "group:" + chatID
	}
	previous, _ := h.services.Sessions.LastUpdatedAt(route.SessionKey)
	msgTime := parseCreateTime(message.CreateTime)
	body := core.FormatEnvelope(core.EnvelopeParams{
		Channel:   "Feishu",
		From:      fromLabel,
		Timestamp: msgTime,
		Previous:  previous,
		Body:      msgText,
	})

	from := ChannelID + ":" + senderID
	if isGroup {
		from = ChannelID + ":group:" + chatID
	}
	chatType := "direct"
	if isGroup {
		chatType = "group"
	}
	inbound := core.InboundContext{
		Body:               body,
		RawBody:            msgText,
		CommandBody:        msgText,
		From:               from,
		To:                 ChannelID + ":" + chatID,
		SessionKey:         route.SessionKey,
		AccountID:          route.AccountID,
		ChatType:           chatType,
		ConversationLabel:  fromLabel,
		SenderID:           senderID,
		CommandAuthorized:  commandAuthorized,
		Provider:           ChannelID,
		Surface:            ChannelID,
		MessageSid:         message.MessageID,
		OriginatingChannel: ChannelID,
		OriginatingTo:      ChannelID + ":" + chatID,
	}

	if err := h.services.Sessions.RecordInbound(route.SessionKey, inbound); err != nil {
		h.logf("[feishu] failed updating session meta: %v", err)
	}

	replyToID := senderID
	replyIDType := normalizeReceiveIDType(account.Config.ReceiveIDType)
	if isGroup {
		replyToID = chatID
		replyIDType = ReceiveIDChatID
	}

	if thinking := account.ThinkingMessage(); thinking != "" {
		if err := h.sendText(ctx, target, replyIDType, replyToID, thinking); err != nil {
			h.logVerbose("thinking message failed: %v", err)
		}
	}

	h.services.Replies.DispatchReply(ctx, inbound,
		func(payload core.ReplyPayload) error {
			h.deliverReply(ctx, target, replyIDType, replyToID, payload.Text)
			return nil
		},
		func(err error) {
			h.logf("[feishu] [%s] reply failed: %v", account.AccountID, err)
		},
	)
	return nil
}

// deliverReply chunks one reply block to the provider limit and sends
// each chunk. A failed chunk is logged and skipped; the rest are still
// attempted.
func (h *Handler) deliverReply(ctx context.Context, target *Target, idType ReceiveIDType, to, msgText string) {
	converted := text.ConvertMarkdownTables(msgText, h.tableMode)
	if converted == "" {
		return
	}
	for _, chunk := range text.Chunk(converted, TextLimit) {
		if err := h.sendText(ctx, target, idType, to, chunk); err != nil {
			h.logf("[feishu] message send failed: %v", err)
		}
	}
}

func (h *Handler) sendText(ctx context.Context, target *Target, idType ReceiveIDType, to, msgText string) error {
	token, err := h.client.TenantAccessToken(ctx, target.Credentials)
	if err != nil {
		return err
	}
	if _, err := h.client.SendTextMessage(ctx, token, idType, to, msgText); err != nil {
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
		fmt.Sprintf("Your Feishu open_id: %s", senderID), result.Code)
	idType := normalizeReceiveIDType(target.Account.Config.ReceiveIDType)
	if err := h.sendText(ctx, target, idType, senderID, reply); err != nil {
		h.logVerbose("pairing reply failed for %s: %v", senderID, err)
	}
}

func parseCreateTime(raw string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
