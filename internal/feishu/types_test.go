package feishu

import (
	"reflect"
	"testing"
)

func boolptr(b bool) *bool { return &b }

func TestResolveCredentialsPrecedence(t *testing.T) {
	cfg := &Config{
		AccountConfig: AccountConfig{AppID: "base-id", AppSecret: "base-secret"},
		Accounts: map[string]AccountConfig{
			"work": {AppID: "work-id", AppSecret: "work-secret"},
			"bare": {},
		},
	}

	creds, source := ResolveCredentials(cfg, "work")
	if creds.AppID != "work-id" || source != TokenSourceConfig {
		t.Fatalf("work creds=%+v source=%s", creds, source)
	}

	// Named accounts never inherit top-level or environment credentials.
	creds, source = ResolveCredentials(cfg, "bare")
	if creds.Configured() || source != TokenSourceNone {
		t.Fatalf("bare creds=%+v source=%s", creds, source)
	}

	creds, source = ResolveCredentials(cfg, "")
	if creds.AppID != "base-id" || source != TokenSourceConfig {
		t.Fatalf("default creds=%+v source=%s", creds, source)
	}
}

func TestResolveCredentialsFromEnv(t *testing.T) {
	t.Setenv("FEISHU_APP_ID", "env-id")
	t.Setenv("FEISHU_APP_SECRET", "env-secret")

	creds, source := ResolveCredentials(&Config{}, DefaultAccountID)
	if creds.AppID != "env-id" || creds.AppSecret != "env-secret" || source != TokenSourceConfig {
		t.Fatalf("creds=%+v source=%s", creds, source)
	}

	// Config beats environment for the default account.
	cfg := &Config{AccountConfig: AccountConfig{AppID: "cfg-id", AppSecret: "cfg-secret"}}
	creds, _ = ResolveCredentials(cfg, DefaultAccountID)
	if creds.AppID != "cfg-id" {
		t.Fatalf("creds=%+v", creds)
	}
}

func TestResolveAccountMergesConfig(t *testing.T) {
	cfg := &Config{
		AccountConfig: AccountConfig{
			AppID:             "base-id",
			AppSecret:         "base-secret",
			VerificationToken: "base-token",
			DMPolicy:          "allowlist",
			AllowFrom:         []string{"ou_base"},
		},
		Accounts: map[string]AccountConfig{
			"ops": {
				AppID:     "ops-id",
				AppSecret: "ops-secret",
				DMPolicy:  "open",
			},
		},
	}

	account := ResolveAccount(cfg, "ops")
	if account.Config.DMPolicy != "open" {
		t.Fatalf("dmPolicy=%q", account.Config.DMPolicy)
	}
	if account.Config.VerificationToken != "base-token" {
		t.Fatalf("verification token not inherited: %q", account.Config.VerificationToken)
	}
	if !reflect.DeepEqual(account.Config.AllowFrom, []string{"ou_base"}) {
		t.Fatalf("allowFrom=%v", account.Config.AllowFrom)
	}
	if account.Credentials.AppID != "ops-id" {
		t.Fatalf("credentials=%+v", account.Credentials)
	}
	if !account.Enabled {
		t.Fatal("account should default to enabled")
	}
}

func TestResolveAccountEnabledFlags(t *testing.T) {
	cfg := &Config{
		AccountConfig: AccountConfig{Enabled: boolptr(true)},
		Accounts: map[string]AccountConfig{
			"off": {Enabled: boolptr(false)},
			"on":  {},
		},
	}
	if ResolveAccount(cfg, "off").Enabled {
		t.Fatal("explicitly disabled account resolved enabled")
	}
	if !ResolveAccount(cfg, "on").Enabled {
		t.Fatal("account without flag resolved disabled")
	}

	cfg.AccountConfig.Enabled = boolptr(false)
	if ResolveAccount(cfg, "on").Enabled {
		t.Fatal("channel-level disable must win")
	}
}

func TestListAccountIDs(t *testing.T) {
	if got := ListAccountIDs(nil); !reflect.DeepEqual(got, []string{DefaultAccountID}) {
		t.Fatalf("nil config ids=%v", got)
	}
	cfg := &Config{Accounts: map[string]AccountConfig{"b": {}, "a": {}}}
	if got := ListAccountIDs(cfg); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("ids=%v", got)
	}
}

func TestResolveDefaultAccountID(t *testing.T) {
	cfg := &Config{
		Accounts:       map[string]AccountConfig{"a": {}, "b": {}},
		DefaultAccount: "b",
	}
	if got := ResolveDefaultAccountID(cfg); got != "b" {
		t.Fatalf("default=%q", got)
	}
	cfg.DefaultAccount = ""
	if got := ResolveDefaultAccountID(cfg); got != "a" {
		t.Fatalf("default=%q", got)
	}
}

func TestThinkingMessageResolution(t *testing.T) {
	account := ResolvedAccount{}
	if account.ThinkingMessage() != DefaultThinkingMessage {
		t.Fatalf("default thinking=%q", account.ThinkingMessage())
	}
	account.Config.ThinkingMessage = strptr("")
	if account.ThinkingMessage() != "" {
		t.Fatal("explicit empty string must disable the thinking message")
	}
	account.Config.ThinkingMessage = strptr("hold on")
	if account.ThinkingMessage() != "hold on" {
		t.Fatalf("thinking=%q", account.ThinkingMessage())
	}
}

func TestIsSenderAllowed(t *testing.T) {
	cases := []struct {
		name   string
		sender string
		allow  []string
		want   bool
	}{
		{"wildcard", "ou_any", []string{"*"}, true},
		{"exact", "ou_1", []string{"ou_1"}, true},
		{"prefix stripped", "ou_1", []string{"feishu:ou_1"}, true},
		{"lark prefix", "ou_1", []string{"lark:OU_1"}, true},
		{"fs prefix", "ou_1", []string{"FS:ou_1"}, true},
		{"no match", "ou_2", []string{"ou_1"}, false},
		{"empty list", "ou_1", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isSenderAllowed(tc.sender, tc.allow); got != tc.want {
				t.Fatalf("allowed=%v want %v", got, tc.want)
			}
		})
	}
}
