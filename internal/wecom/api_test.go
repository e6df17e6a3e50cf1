package wecom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, calls *atomic.Int32, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gettoken":
			calls.Add(1)
			if r.URL.Query().Get("corpid") == "" || r.URL.Query().Get("corpsecret") == "" {
				t.Error("gettoken without credentials")
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok","access_token":"` + token + `","expires_in":7200}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
}

func TestAccessTokenCached(t *testing.T) {
	var calls atomic.Int32
	server := newTokenServer(t, &calls, "w-1")
	defer server.Close()

	client := NewClient(server.URL)
	creds := Credentials{CorpID: "ww1", AgentID: 1, Secret: "s"}

	first, err := client.AccessToken(context.Background(), creds)
	if err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}
	second, err := client.AccessToken(context.Background(), creds)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if first != "w-1" || second != "w-1" {
		t.Fatalf("tokens=%q,%q", first, second)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one token call, got %d", got)
	}
}

func TestAccessTokenRefreshesInsideBuffer(t *testing.T) {
	var calls atomic.Int32
	server := newTokenServer(t, &calls, "w-2")
	defer server.Close()

	client := NewClient(server.URL)
	creds := Credentials{CorpID: "ww1", AgentID: 1, Secret: "s"}

	now := time.Now()
	client.now = func() time.Time { return now }
	if _, err := client.AccessToken(context.Background(), creds); err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}

	// Move to 4 minutes before expiry, inside the 5 minute buffer.
	client.now = func() time.Time { return now.Add(7200*time.Second - 4*time.Minute) }
	if _, err := client.AccessToken(context.Background(), creds); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected exactly one refresh, got %d calls", got)
	}
}

func TestAccessTokenAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errcode":40001,"errmsg":"invalid credential"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.AccessToken(context.Background(), Credentials{CorpID: "ww1", AgentID: 1, Secret: "bad"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 40001 || apiErr.Msg != "invalid credential" {
		t.Fatalf("apiErr=%+v", apiErr)
	}
}

func TestAccessTokensKeyedByCredentials(t *testing.T) {
	var calls atomic.Int32
	server := newTokenServer(t, &calls, "w-3")
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.AccessToken(context.Background(), Credentials{CorpID: "ww1", AgentID: 1, Secret: "a"}); err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}
	if _, err := client.AccessToken(context.Background(), Credentials{CorpID: "ww1", AgentID: 1, Secret: "b"}); err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected one call per credential pair, got %d", got)
	}
}
