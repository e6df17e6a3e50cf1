package feishu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imbridge/internal/text"
)

// SendResult is the structured outcome of an outbound send. Errors are
// captured here; Send never panics or propagates past this boundary.
type SendResult struct {
	OK        bool
	MessageID string
	Err       error
}

// SendText delivers one text message to a user or chat. The target may
// carry a feishu:/lark:/fs: prefix; text is defensively truncated to
// the provider limit even though callers should have chunked already.
func SendText(ctx context.Context, client *Client, account ResolvedAccount, to, msgText string) SendResult {
	if !account.Credentials.Configured() {
		return SendResult{Err: errors.New("feishu credentials not configured (appId, appSecret)")}
	}
	target := channelPrefixRe.ReplaceAllString(to, "")
	if target == "" {
		return SendResult{Err: errors.New("no target provided")}
	}

	token, err := client.TenantAccessToken(ctx, account.Credentials)
	if err != nil {
		return SendResult{Err: err}
	}
	messageID, err := client.SendTextMessage(ctx, token,
		normalizeReceiveIDType(account.Config.ReceiveIDType), target,
		text.Truncate(msgText, TextLimit))
	if err != nil {
		return SendResult{Err: err}
	}
	return SendResult{OK: true, MessageID: messageID}
}

// ProbeResult reports whether the configured credentials authenticate.
type ProbeResult struct {
	OK      bool
	Error   string
	Elapsed time.Duration
	Bot     *BotInfo
}

// Probe validates credentials by fetching a tenant access token and the
// bot identity behind it.
func Probe(ctx context.Context, client *Client, creds Credentials, timeout time.Duration) ProbeResult {
	if !creds.Configured() {
		return ProbeResult{Error: "missing appId or appSecret"}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	token, err := client.TenantAccessToken(probeCtx, creds)
	if err != nil {
		return ProbeResult{Error: probeError(err, timeout), Elapsed: time.Since(start)}
	}
	bot, err := client.BotInfo(probeCtx, token)
	if err != nil {
		// Token fetch succeeded, so credentials are valid even when the
		// bot info scope is missing.
		return ProbeResult{OK: true, Elapsed: time.Since(start)}
	}
	return ProbeResult{OK: true, Elapsed: time.Since(start), Bot: bot}
}

func probeError(err error, timeout time.Duration) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request timed out after %s", timeout)
	}
	return err.Error()
}
