package wecom

import (
	"os"
	"sort"
	"strings"
)

// ChannelID is the canonical channel name used in routes, session keys
// and the pairing store.
const ChannelID = "wecom"

// DefaultAccountID names the implicit account configured at the top
// level of the channel section.
const DefaultAccountID = "default"

// TextLimit is the WeCom application message length limit.
const TextLimit = 2048

const defaultMediaMaxMB = 5

// TokenSource reports where an account's credentials came from.
type TokenSource string

const (
	TokenSourceConfig TokenSource = "config"
	TokenSourceNone   TokenSource = "none"
)

// AccountConfig is the per-account configuration surface. Token and
// EncodingAESKey come from the app's "receive messages" settings.
type AccountConfig struct {
	Name           string   `yaml:"name,omitempty" json:"name,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	CorpID         string   `yaml:"corpId,omitempty" json:"corpId,omitempty"`
	AgentID        int64    `yaml:"agentId,omitempty" json:"agentId,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Token          string   `yaml:"token,omitempty" json:"token,omitempty"`
	EncodingAESKey string   `yaml:"encodingAesKey,omitempty" json:"encodingAesKey,omitempty"`
	WebhookURL     string   `yaml:"webhookUrl,omitempty" json:"webhookUrl,omitempty"`
	WebhookPath    string   `yaml:"webhookPath,omitempty" json:"webhookPath,omitempty"`
	DMPolicy       string   `yaml:"dmPolicy,omitempty" json:"dmPolicy,omitempty"`
	AllowFrom      []string `yaml:"allowFrom,omitempty" json:"allowFrom,omitempty"`
	MediaMaxMB     int      `yaml:"mediaMaxMb,omitempty" json:"mediaMaxMb,omitempty"`
}

// Config is the channel section: the default account's fields inline,
// plus named extra accounts.
type Config struct {
	AccountConfig  `yaml:",inline"`
	Accounts       map[string]AccountConfig `yaml:"accounts,omitempty" json:"accounts,omitempty"`
	DefaultAccount string                   `yaml:"defaultAccount,omitempty" json:"defaultAccount,omitempty"`
	// APIBase overrides the provider API origin, for a corporate
	// proxy in front of qyapi.weixin.qq.com.
	APIBase string `yaml:"apiBase,omitempty" json:"apiBase,omitempty"`
}

// Credentials authenticate one application against the WeCom API.
type Credentials struct {
	CorpID  string
	AgentID int64
	Secret  string
}

func (c Credentials) cacheKey() string {
	return c.CorpID + ":" + c.Secret
}

// Configured reports whether the credential triple is complete.
func (c Credentials) Configured() bool {
	return c.CorpID != "" && c.AgentID != 0 && c.Secret != ""
}

// ResolvedAccount is the merged, ready-to-use view of one account.
type ResolvedAccount struct {
	AccountID   string
	Name        string
	Enabled     bool
	Credentials Credentials
	TokenSource TokenSource
	Config      AccountConfig
}

// ResolveCredentials merges credentials with precedence: per-account
// config, then top-level config, then process environment; the latter
// two apply to the default account only. Missing credentials resolve to
// an empty triple with source "none" rather than an error.
func ResolveCredentials(cfg *Config, accountID string) (Credentials, TokenSource) {
	accountID = normalizeAccountID(accountID)

	if cfg != nil && accountID != DefaultAccountID {
		if account, ok := cfg.Accounts[accountID]; ok {
			creds := Credentials{
				CorpID:  strings.TrimSpace(account.CorpID),
				AgentID: account.AgentID,
				Secret:  strings.TrimSpace(account.Secret),
			}
			if creds.Configured() {
				return creds, TokenSourceConfig
			}
		}
		return Credentials{}, TokenSourceNone
	}

	if cfg != nil {
		creds := Credentials{
			CorpID:  strings.TrimSpace(cfg.CorpID),
			AgentID: cfg.AgentID,
			Secret:  strings.TrimSpace(cfg.Secret),
		}
		if creds.Configured() {
			return creds, TokenSourceConfig
		}
	}

	creds := Credentials{
		CorpID: strings.TrimSpace(os.Getenv("WECOM_CORP_ID")),
		Secret: strings.TrimSpace(os.Getenv("WECOM_SECRET")),
	}
	creds.AgentID = parseAgentID(os.Getenv("WECOM_AGENT_ID"))
	if creds.Configured() {
		return creds, TokenSourceConfig
	}

	return Credentials{}, TokenSourceNone
}

func parseAgentID(raw string) int64 {
	trimmed := strings.TrimSpace(raw)
	var id int64
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return 0
		}
		id = id*10 + int64(r-'0')
	}
	return id
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
	if account.CorpID != "" {
		merged.CorpID = account.CorpID
	}
	if account.AgentID != 0 {
		merged.AgentID = account.AgentID
	}
	if account.Secret != "" {
		merged.Secret = account.Secret
	}
	if account.Token != "" {
		merged.Token = account.Token
	}
	if account.EncodingAESKey != "" {
		merged.EncodingAESKey = account.EncodingAESKey
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
