package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8090" {
		t.Fatalf("addr=%q", cfg.Addr())
	}
	if cfg.Server.DataDir != ".data" {
		t.Fatalf("dataDir=%q", cfg.Server.DataDir)
	}
	if !cfg.Commands.AccessGroupsEnabled() {
		t.Fatal("access groups should default to enabled")
	}
	if cfg.Channels.Feishu != nil || cfg.Channels.WeCom != nil {
		t.Fatal("no channels should be configured by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  host: 0.0.0.0
  port: "9000"
  dataDir: /var/lib/imbridge
channels:
  feishu:
    appId: cli_x
    appSecret: sec_x
    verificationToken: vt
    webhookPath: /webhook/feishu
    dmPolicy: allowlist
    allowFrom: ["ou_1"]
    accounts:
      ops:
        appId: cli_ops
        appSecret: sec_ops
  wecom:
    corpId: ww_1
    agentId: 1000002
    secret: s
    token: cb-token
    encodingAesKey: key43
    webhookPath: /webhook/wecom
commands:
  useAccessGroups: false
agent:
  endpoint: http://127.0.0.1:7100/reply
  timeout: 30s
probe:
  schedule: "*/5 * * * *"
logging:
  verbose: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9000" {
		t.Fatalf("addr=%q", cfg.Addr())
	}
	if cfg.Channels.Feishu == nil || cfg.Channels.Feishu.AppID != "cli_x" {
		t.Fatalf("feishu config=%+v", cfg.Channels.Feishu)
	}
	if got := cfg.Channels.Feishu.Accounts["ops"].AppID; got != "cli_ops" {
		t.Fatalf("ops appId=%q", got)
	}
	if cfg.Channels.WeCom == nil || cfg.Channels.WeCom.AgentID != 1000002 {
		t.Fatalf("wecom config=%+v", cfg.Channels.WeCom)
	}
	if cfg.Commands.AccessGroupsEnabled() {
		t.Fatal("useAccessGroups: false should disable access groups")
	}
	if cfg.Agent.Endpoint != "http://127.0.0.1:7100/reply" || cfg.Agent.Timeout.Std() != 30*time.Second {
		t.Fatalf("agent=%+v", cfg.Agent)
	}
	if cfg.Probe.Schedule != "*/5 * * * *" {
		t.Fatalf("schedule=%q", cfg.Probe.Schedule)
	}
	if cfg.Probe.Timeout.Std() != 5*time.Second {
		t.Fatalf("probe timeout=%v", cfg.Probe.Timeout.Std())
	}
	if !cfg.Logging.Verbose {
		t.Fatal("verbose should be set")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IMBRIDGE_HOST", "10.0.0.1")
	t.Setenv("IMBRIDGE_PORT", "8097")
	t.Setenv("IMBRIDGE_DATA_DIR", "/tmp/ib")
	t.Setenv("IMBRIDGE_AGENT_ENDPOINT", "http://agent:8000/reply")
	t.Setenv("IMBRIDGE_VERBOSE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "10.0.0.1:8097" {
		t.Fatalf("addr=%q", cfg.Addr())
	}
	if cfg.Server.DataDir != "/tmp/ib" {
		t.Fatalf("dataDir=%q", cfg.Server.DataDir)
	}
	if cfg.Agent.Endpoint != "http://agent:8000/reply" {
		t.Fatalf("endpoint=%q", cfg.Agent.Endpoint)
	}
	if !cfg.Logging.Verbose {
		t.Fatal("verbose env override missing")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("explicit missing path must error")
	}
}
