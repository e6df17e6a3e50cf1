package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultAPIBase is the Feishu Open Platform API origin.
const DefaultAPIBase = "https://open.feishu.cn/open-apis"

const (
	tokenRefreshAhead = 5 * time.Minute
	defaultTokenTTL   = 7200 * time.Second
)

// APIError is a Feishu API rejection (code != 0), including credential
// rejections from the token endpoint.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feishu api error %d: %s", e.Code, e.Msg)
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// Client talks to the Feishu API and caches tenant access tokens keyed
// by credential pair. Refresh is idempotent: concurrent refreshes just
// overwrite with an equally valid newer token.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[string]accessToken
	now    func() time.Time
}

func NewClient(baseURL string) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultAPIBase
	}
	return &Client{
		baseURL:    base,
		httpClient: http.DefaultClient,
		tokens:     map[string]accessToken{},
		now:        time.Now,
	}
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// TenantAccessToken returns a cached token while it stays valid past
// the refresh buffer, otherwise fetches a fresh one.
func (c *Client) TenantAccessToken(ctx context.Context, creds Credentials) (string, error) {
	key := creds.cacheKey()

	c.mu.Lock()
	cached, ok := c.tokens[key]
	now := c.now()
	c.mu.Unlock()
	if ok && cached.expiresAt.After(now.Add(tokenRefreshAhead)) {
		return cached.value, nil
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     creds.AppID,
		"app_secret": creds.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal feishu token request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build feishu token request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request feishu token failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read feishu token response failed: %w", err)
	}
	var payload tokenResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("decode feishu token response failed: %w", err)
	}
	if payload.Code != 0 || payload.TenantAccessToken == "" {
		return "", &APIError{Code: payload.Code, Msg: payload.Msg}
	}

	ttl := defaultTokenTTL
	if payload.Expire > 0 {
		ttl = time.Duration(payload.Expire) * time.Second
	}
	token := accessToken{value: payload.TenantAccessToken, expiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	c.tokens[key] = token
	c.mu.Unlock()

	return token.value, nil
}

func (c *Client) call(ctx context.Context, method, endpoint, token string, query url.Values, body any, out any) error {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal feishu request failed: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build feishu request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send feishu request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read feishu response failed: %w", err)
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("decode feishu response failed: %w", err)
	}
	if envelope.Code != 0 {
		return &APIError{Code: envelope.Code, Msg: envelope.Msg}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode feishu response data failed: %w", err)
		}
	}
	return nil
}

// SendTextMessage sends one text message and returns the provider
// message id.
func (c *Client) SendTextMessage(ctx context.Context, token string, receiveIDType ReceiveIDType, receiveID, msgText string) (string, error) {
	content, err := json.Marshal(map[string]string{"text": msgText})
	if err != nil {
		return "", fmt.Errorf("marshal feishu text content failed: %w", err)
	}
	query := url.Values{"receive_id_type": {string(normalizeReceiveIDType(receiveIDType))}}
	var out struct {
		MessageID string `json:"message_id"`
	}
	err = c.call(ctx, http.MethodPost, "/im/v1/messages", token, query, map[string]string{
		"receive_id": receiveID,
		"msg_type":   "text",
		"content":    string(content),
	}, &out)
	if err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// BotInfo is the bot identity behind the configured credentials.
type BotInfo struct {
	AppName   string `json:"app_name"`
	AvatarURL string `json:"avatar_url"`
	OpenID    string `json:"open_id"`
}

func (c *Client) BotInfo(ctx context.Context, token string) (*BotInfo, error) {
	// The bot info endpoint returns its fields beside code/msg rather
	// than under data.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bot/v3/info", nil)
	if err != nil {
		return nil, fmt.Errorf("build feishu bot info request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feishu bot info failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read feishu bot info failed: %w", err)
	}
	var payload struct {
		Code int     `json:"code"`
		Msg  string  `json:"msg"`
		Bot  BotInfo `json:"bot"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("decode feishu bot info failed: %w", err)
	}
	if payload.Code != 0 {
		return nil, &APIError{Code: payload.Code, Msg: payload.Msg}
	}
	return &payload.Bot, nil
}
