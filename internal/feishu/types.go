package feishu

import (
	"os"
	"sort"
	"strings"
)

// ChannelID is the canonical channel name used in routes, session keys
// and the pairing store.
const ChannelID = "feishu"

// DefaultAccountID names the implicit account configured at the top
// level of the channel section.
const DefaultAccountID = "default"

// TextLimit is the Feishu text message length limit.
const TextLimit = 4096

const defaultMediaMaxMB = 5

// DefaultThinkingMessage is sent before the agent pipeline runs unless
// the account overrides it. An explicit empty string disables it.
const DefaultThinkingMessage = "🤔 正在思考中，请稍候..."

// ReceiveIDType selects how the receive_id of an outbound message is
// interpreted by the send API.
type ReceiveIDType string

const (
	ReceiveIDOpenID  ReceiveIDType = "open_id"
	ReceiveIDUserID  ReceiveIDType = "user_id"
	ReceiveIDUnionID ReceiveIDType = "union_id"
	ReceiveIDEmail   ReceiveIDType = "email"
	ReceiveIDChatID  ReceiveIDType = "chat_id"
)

func normalizeReceiveIDType(raw ReceiveIDType) ReceiveIDType {
	switch raw {
	case ReceiveIDUserID, ReceiveIDUnionID, ReceiveIDEmail, ReceiveIDChatID:
		return raw
	default:
		return ReceiveIDOpenID
	}
}

// TokenSource reports where an account's credentials came from.
type TokenSource string

const (
	TokenSourceConfig TokenSource = "config"
	TokenSourceNone   TokenSource = "none"
)

// AccountConfig is the per-account configuration surface.
type AccountConfig struct {
	Name              string        `yaml:"name,omitempty" json:"name,omitempty"`
	Enabled           *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	AppID             string        `yaml:"appId,omitempty" json:"appId,omitempty"`
	AppSecret         string        `yaml:"appSecret,omitempty" json:"appSecret,omitempty"`
	VerificationToken string        `yaml:"verificationToken,omitempty" json:"verificationToken,omitempty"`
	EncryptKey        string        `yaml:"encryptKey,omitempty" json:"encryptKey,omitempty"`
	WebhookURL        string        `yaml:"webhookUrl,omitempty" json:"webhookUrl,omitempty"`
	WebhookPath       string        `yaml:"webhookPath,omitempty" json:"webhookPath,omitempty"`
	DMPolicy          string        `yaml:"dmPolicy,omitempty" json:"dmPolicy,omitempty"`
	AllowFrom         []string      `yaml:"allowFrom,omitempty" json:"allowFrom,omitempty"`
	MediaMaxMB        int           `yaml:"mediaMaxMb,omitempty" json:"mediaMaxMb,omitempty"`
	ReceiveIDType     ReceiveIDType `yaml:"receiveIdType,omitempty" json:"receiveIdType,omitempty"`
	ThinkingMessage   *string       `yaml:"thinkingMessage,omitempty" json:"thinkingMessage,omitempty"`
}

// Config is the channel section: the default account's fields inline,
// plus named extra accounts.
type Config struct {
	AccountConfig  `yaml:",inline"`
	Accounts       map[string]AccountConfig `yaml:"accounts,omitempty" json:"accounts,omitempty"`
	DefaultAccount string                   `yaml:"defaultAccount,omitempty" json:"defaultAccount,omitempty"`
	// APIBase overrides the provider API origin, for the Lark
	// international endpoint or a corporate proxy.
	APIBase string `yaml:"apiBase,omitempty" json:"apiBase,omitempty"`
}

// Credentials authenticate one application against the Feishu API.
type Credentials struct {
	AppID     string
	AppSecret string
}

func (c Credentials) cacheKey() string {
	return c.AppID + ":" + c.AppSecret
}

// Configured reports whether both halves of the credential pair are set.
func (c Credentials) Configured() bool {
	return c.AppID != "" && c.AppSecret != ""
}

// ResolvedAccount is the merged, ready-to-use view of one account.
// It is recomputed on every access, never cached.
type ResolvedAccount struct {
	AccountID   string
	Name        string
	Enabled     bool
	Credentials Credentials
	TokenSource TokenSource
	Config      AccountConfig
}

// ThinkingMessage resolves the pre-reply placeholder for the account.
func (a ResolvedAccount) ThinkingMessage() string {
	if a.Config.ThinkingMessage != nil {
		return *a.Config.ThinkingMessage
	}
	return DefaultThinkingMessage
}

// ResolveCredentials merges credentials with precedence: per-account
// config, then top-level config, then process environment; the latter
// two apply to the default account only. Missing credentials resolve to
// an empty pair with source "none" rather than an error.
func ResolveCredentials(cfg *Config, accountID string) (Credentials, TokenSource) {
	accountID = normalizeAccountID(accountID)

	if cfg != nil && accountID != DefaultAccountID {
		if account, ok := cfg.Accounts[accountID]; ok {
			appID := strings.TrimSpace(account.AppID)
			appSecret := strings.TrimSpace(account.AppSecret)
			if appID != "" && appSecret != "" {
				return Credentials{AppID: appID, AppSecret: appSecret}, TokenSourceConfig
			}
		}
		return Credentials{}, TokenSourceNone
	}

	if cfg != nil {
		appID := strings.TrimSpace(cfg.AppID)
		appSecret := strings.TrimSpace(cfg.AppSecret)
		if appID != "" && appSecret != "" {
			return Credentials{AppID: appID, AppSecret: appSecret}, TokenSourceConfig
		}
	}

	envAppID := strings.TrimSpace(os.Getenv("FEISHU_APP_ID"))
	envAppSecret := strings.TrimSpace(os.Getenv("FEISHU_APP_SECRET"))
	if envAppID != "" && envAppSecret != "" {
		return Credentials{AppID: envAppID, AppSecret: envAppSecret}, TokenSourceConfig
	}

	return Credentials{}, TokenSourceNone
}

func normalizeAccountID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultAccountID
	}
	return strings.ToLower(trimmed)
}

// ListAccountIDs returns the configured account ids, or the default
// account when none are configured.
func ListAccountIDs(cfg *Config) []string {
	if cfg == nil || len(cfg.Accounts) == 0 {
		return []string{DefaultAccountID}
	}
	ids := make([]string, 0, len(cfg.Accounts))
	for id := range cfg.Accounts {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []string{DefaultAccountID}
	}
	sort.Strings(ids)
	return ids
}

// ResolveDefaultAccountID picks the configured default, or the first
// account id.
func ResolveDefaultAccountID(cfg *Config) string {
	if cfg != nil && strings.TrimSpace(cfg.DefaultAccount) != "" {
		return strings.TrimSpace(cfg.DefaultAccount)
	}
	ids := ListAccountIDs(cfg)
	for _, id := range ids {
		if id == DefaultAccountID {
			return id
		}
	}
	return ids[0]
}

func mergeAccountConfig(cfg *Config, accountID string) AccountConfig {
	if cfg == nil {
		return AccountConfig{}
	}
	merged := cfg.AccountConfig
	account, ok := cfg.Accounts[accountID]
	if !ok {
		return merged
	}
	if account.Name != "" {
		merged.Name = account.Name
	}
	if account.Enabled != nil {
		merged.Enabled = account.Enabled
	}
	if account.AppID != "" {
		merged.AppID = account.AppID
	}
	if account.AppSecret != "" {
		merged.AppSecret = account.AppSecret
	}
	if account.VerificationToken != "" {
		merged.VerificationToken = account.VerificationToken
	}
	if account.EncryptKey != "" {
		merged.EncryptKey = account.EncryptKey
	}
	if account.WebhookURL != "" {
		merged.WebhookURL = account.WebhookURL
	}
	if account.WebhookPath != "" {
		merged.WebhookPath = account.WebhookPath
	}
	if account.DMPolicy != "" {
		merged.DMPolicy = account.DMPolicy
	}
	if account.AllowFrom != nil {
		merged.AllowFrom = account.AllowFrom
	}
	if account.MediaMaxMB != 0 {
		merged.MediaMaxMB = account.MediaMaxMB
	}
	if account.ReceiveIDType != "" {
		merged.ReceiveIDType = account.ReceiveIDType
	}
	if account.ThinkingMessage != nil {
		merged.ThinkingMessage = account.ThinkingMessage
	}
	return merged
}

// ResolveAccount computes the merged view of one account.
func ResolveAccount(cfg *Config, accountID string) ResolvedAccount {
	accountID = normalizeAccountID(accountID)
	baseEnabled := cfg == nil || cfg.Enabled == nil || *cfg.Enabled
	merged := mergeAccountConfig(cfg, accountID)
	accountEnabled := merged.Enabled == nil || *merged.Enabled
	creds, source := ResolveCredentials(cfg, accountID)

	return ResolvedAccount{
		AccountID:   accountID,
		Name:        strings.TrimSpace(merged.Name),
		Enabled:     baseEnabled && accountEnabled,
		Credentials: creds,
		TokenSource: source,
		Config:      merged,
	}
}

// ListEnabledAccounts resolves every configured account and keeps the
// enabled ones.
func ListEnabledAccounts(cfg *Config) []ResolvedAccount {
	var out []ResolvedAccount
	for _, id := range ListAccountIDs(cfg) {
		account := ResolveAccount(cfg, id)
		if account.Enabled {
			out = append(out, account)
		}
	}
	return out
}
