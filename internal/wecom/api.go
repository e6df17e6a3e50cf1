package wecom

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

// DefaultAPIBase is the WeCom API origin.
const DefaultAPIBase = "https://qyapi.weixin.qq.com/cgi-bin"

const (
	tokenRefreshAhead = 5 * time.Minute
	defaultTokenTTL   = 7200 * time.Second
)

// APIError is a WeCom API rejection (errcode != 0).
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wecom api error %d: %s", e.Code, e.Msg)
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// Client talks to the WeCom API and caches access tokens keyed by
// corp id and secret.
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

type tokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a cached token while it stays valid past the
// refresh buffer, otherwise fetches a fresh one via gettoken.
func (c *Client) AccessToken(ctx context.Context, creds Credentials) (string, error) {
	key := creds.cacheKey()

	c.mu.Lock()
	cached, ok := c.tokens[key]
	now := c.now()
	c.mu.Unlock()
	if ok && cached.expiresAt.After(now.Add(tokenRefreshAhead)) {
		return cached.value, nil
	}

	query := url.Values{"corpid": {creds.CorpID}, "corpsecret": {creds.Secret}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/gettoken?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build wecom token request failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request wecom token failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read wecom token response failed: %w", err)
	}
	var payload tokenResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("decode wecom token response failed: %w", err)
	}
	if payload.ErrCode != 0 || payload.AccessToken == "" {
		return "", &APIError{Code: payload.ErrCode, Msg: payload.ErrMsg}
	}

	ttl := defaultTokenTTL
	if payload.ExpiresIn > 0 {
		ttl = time.Duration(payload.ExpiresIn) * time.Second
	}
	token := accessToken{value: payload.AccessToken, expiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	c.tokens[key] = token
	c.mu.Unlock()

	return token.value, nil
}

func (c *Client) call(ctx context.Context, method, endpoint, token string, body any, out any) error {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	target := c.baseURL + endpoint + sep + "access_token=" + url.QueryEscape(token)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal wecom request failed: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build wecom request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send wecom request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read wecom response failed: %w", err)
	}
	var envelope struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("decode wecom response failed: %w", err)
	}
	if envelope.ErrCode != 0 {
		return &APIError{Code: envelope.ErrCode, Msg: envelope.ErrMsg}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode wecom response data failed: %w", err)
		}
	}
	return nil
}

// SendTextMessage delivers one application text message to a member.
func (c *Client) SendTextMessage(ctx context.Context, token string, agentID int64, toUser, msgText string) (string, error) {
	var out struct {
		MsgID string `json:"msgid"`
	}
	err := c.call(ctx, http.MethodPost, "/message/send", token, map[string]any{
		"touser":  toUser,
		"msgtype": "text",
		"agentid": agentID,
		"text":    map[string]string{"content": msgText},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.MsgID, nil
}

// AgentInfo is the application identity behind the configured
// credentials.
type AgentInfo struct {
	AgentID     int64  `json:"agentid"`
	Name        string `json:"name"`
	SquareLogo  string `json:"square_logo_url"`
	Description string `json:"description"`
}

func (c *Client) AgentInfo(ctx context.Context, token string, agentID int64) (*AgentInfo, error) {
	var out AgentInfo
	endpoint := fmt.Sprintf("/agent/get?agentid=%d", agentID)
	if err := c.call(ctx, http.MethodGet, endpoint, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
