package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"imbridge/internal/config"
	"imbridge/internal/core"
	"imbridge/internal/feishu"
	"imbridge/internal/wecom"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.DataDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := get(t, srv.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body=%v", body)
	}
}

func TestVersion(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := get(t, srv.Handler(), "/version")
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["version"] != version {
		t.Fatalf("version=%q", body["version"])
	}
}

func TestStatusEmpty(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := get(t, srv.Handler(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		Accounts []AccountStatus `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Accounts) != 0 {
		t.Fatalf("accounts=%v", body.Accounts)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := get(t, srv.Handler(), "/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func feishuTestConfig() *feishu.Config {
	return &feishu.Config{AccountConfig: feishu.AccountConfig{
		AppID:             "cli_test",
		AppSecret:         "secret",
		VerificationToken: "vt-1",
		WebhookPath:       "/webhook/feishu",
		DMPolicy:          "open",
	}}
}

func TestFeishuWebhookRoutedThroughServer(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Channels.Feishu = feishuTestConfig()
	})

	body := `{"type":"url_verification","token":"vt-1","challenge":"abc"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/feishu", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["challenge"] != "abc" {
		t.Fatalf("challenge=%q", resp["challenge"])
	}

	statuses := srv.Status()
	if len(statuses) != 1 || statuses[0].Channel != feishu.ChannelID || !statuses[0].Running {
		t.Fatalf("statuses=%+v", statuses)
	}
}

func TestAccountStartFailureIsolated(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		// Feishu account lacks verificationToken and cannot start.
		cfg.Channels.Feishu = &feishu.Config{AccountConfig: feishu.AccountConfig{
			AppID:       "cli_test",
			AppSecret:   "secret",
			WebhookPath: "/webhook/feishu",
		}}
		cfg.Channels.WeCom = &wecom.Config{AccountConfig: wecom.AccountConfig{
			CorpID:         "ww1",
			AgentID:        1,
			Secret:         "s",
			Token:          "cb",
			EncodingAESKey: testAESKey,
			WebhookPath:    "/webhook/wecom",
		}}
	})

	var feishuStatus, wecomStatus *AccountStatus
	for _, status := range srv.Status() {
		status := status
		switch status.Channel {
		case feishu.ChannelID:
			feishuStatus = &status
		case wecom.ChannelID:
			wecomStatus = &status
		}
	}
	if feishuStatus == nil || feishuStatus.Running || len(feishuStatus.Issues) == 0 {
		t.Fatalf("feishu status=%+v", feishuStatus)
	}
	if wecomStatus == nil || !wecomStatus.Running {
		t.Fatalf("wecom status=%+v", wecomStatus)
	}

	// The healthy channel still answers webhook requests.
	req := httptest.NewRequest(http.MethodDelete, "/webhook/wecom", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestPairingApprovalFlow(t *testing.T) {
	sends := make(chan string, 4)
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gettoken":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok","access_token":"test-token","expires_in":7200}`))
		case "/message/send":
			var body struct {
				ToUser string `json:"touser"`
				Text   struct {
					Content string `json:"content"`
				} `json:"text"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("bad send body: %v", err)
			}
			sends <- body.ToUser + "|" + body.Text.Content
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok","msgid":"m1"}`))
		default:
			t.Errorf("unexpected provider path: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer provider.Close()

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Channels.WeCom = &wecom.Config{
			AccountConfig: wecom.AccountConfig{
				CorpID:         "ww1",
				AgentID:        1,
				Secret:         "s",
				Token:          "cb",
				EncodingAESKey: testAESKey,
				WebhookPath:    "/webhook/wecom",
			},
			APIBase: provider.URL,
		}
	})

	res, err := srv.pairing.UpsertRequest("wecom", "zhangsan")
	if err != nil || !res.Created {
		t.Fatalf("upsert: res=%+v err=%v", res, err)
	}

	rec := get(t, srv.Handler(), "/pairing?channel=wecom")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), res.Code) {
		t.Fatalf("pending request not listed: %s", rec.Body.String())
	}

	rec = postJSON(t, srv.Handler(), "/pairing/approve", `{"channel":"wecom","code":"NOPE2345"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown code status=%d", rec.Code)
	}

	rec = postJSON(t, srv.Handler(), "/pairing/approve",
		fmt.Sprintf(`{"channel":"wecom","code":%q}`, res.Code))
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["sender"] != "zhangsan" {
		t.Fatalf("sender=%q", resp["sender"])
	}

	select {
	case sent := <-sends:
		if sent != "zhangsan|"+core.PairingApprovedMessage {
			t.Fatalf("notification=%q", sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approval notification not sent")
	}

	allow, err := srv.pairing.AllowFrom("wecom")
	if err != nil || len(allow) != 1 || allow[0] != "zhangsan" {
		t.Fatalf("allow=%v err=%v", allow, err)
	}

	// A consumed code cannot be approved twice.
	rec = postJSON(t, srv.Handler(), "/pairing/approve",
		fmt.Sprintf(`{"channel":"wecom","code":%q}`, res.Code))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("reused code status=%d", rec.Code)
	}
}

func TestPairingApproveRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := postJSON(t, srv.Handler(), "/pairing/approve", `{"channel":"wecom"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
	rec = postJSON(t, srv.Handler(), "/pairing/approve", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

// testAESKey is a valid 43-character encodingAesKey (32 bytes base64
// without the trailing pad).
const testAESKey = "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE"
