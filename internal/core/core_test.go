package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGateControlCommands(t *testing.T) {
	gate := NewGate()
	if !gate.IsControlCommand("/status") {
		t.Fatal("/status should be a control command")
	}
	if gate.IsControlCommand("hello /status") {
		t.Fatal("mid-text slash is not a command")
	}
	if gate.IsControlCommand("//literal") {
		t.Fatal("escaped slash is not a command")
	}
	if gate.IsControlCommand("/") {
		t.Fatal("bare slash is not a command")
	}
}

func TestGateResolveAuthorized(t *testing.T) {
	gate := NewGate()
	if !gate.ResolveAuthorized(false, nil) {
		t.Fatal("access groups off must authorize")
	}
	if gate.ResolveAuthorized(true, []Authorizer{{Configured: false, Allowed: true}}) {
		t.Fatal("unconfigured authorizer must not grant")
	}
	if gate.ResolveAuthorized(true, []Authorizer{{Configured: true, Allowed: false}}) {
		t.Fatal("disallowed sender must not be granted")
	}
	if !gate.ResolveAuthorized(true, []Authorizer{{Configured: true, Allowed: true}}) {
		t.Fatal("configured and allowed must grant")
	}
}

func TestFormatEnvelope(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	got := FormatEnvelope(EnvelopeParams{
		Channel:   "Feishu",
		From:      "user:ou_1",
		Timestamp: ts,
		Previous:  ts.Add(-2 * time.Hour),
		Body:      "hi",
	})
	want := "[Feishu user:ou_1 2026-03-01 10:30 +2h]\nhi"
	if got != want {
		t.Fatalf("envelope=%q want %q", got, want)
	}

	got = FormatEnvelope(EnvelopeParams{Channel: "WeCom", From: "user:a", Body: "x"})
	if got != "[WeCom user:a]\nx" {
		t.Fatalf("envelope without timestamp=%q", got)
	}
}

func TestStaticRouteResolver(t *testing.T) {
	r := NewStaticRouteResolver()
	route := r.ResolveRoute("feishu", "default", Peer{Kind: PeerGroup, ID: "oc_1"})
	if route.SessionKey != "feishu:default:group:oc_1" {
		t.Fatalf("session key=%q", route.SessionKey)
	}
	if route.AgentID != "main" || route.AccountID != "default" {
		t.Fatalf("route=%+v", route)
	}
}

type stubAgent struct {
	blocks []string
	err    error
}

func (a stubAgent) Reply(_ context.Context, _ InboundContext) ([]string, error) {
	return a.blocks, a.err
}

func TestBufferedDispatcherDeliversBlocks(t *testing.T) {
	d := NewBufferedDispatcher(stubAgent{blocks: []string{"one", "  ", "two"}})
	var delivered []string
	var failures []error
	d.DispatchReply(context.Background(), InboundContext{}, func(p ReplyPayload) error {
		delivered = append(delivered, p.Text)
		if p.Text == "one" {
			return errors.New("boom")
		}
		return nil
	}, func(err error) { failures = append(failures, err) })

	if strings.Join(delivered, ",") != "one,two" {
		t.Fatalf("delivered=%v", delivered)
	}
	if len(failures) != 1 {
		t.Fatalf("failures=%v", failures)
	}
}

func TestBufferedDispatcherAgentError(t *testing.T) {
	d := NewBufferedDispatcher(stubAgent{err: errors.New("agent down")})
	var failures []error
	d.DispatchReply(context.Background(), InboundContext{}, func(ReplyPayload) error {
		t.Fatal("deliver must not run on agent error")
		return nil
	}, func(err error) { failures = append(failures, err) })
	if len(failures) != 1 {
		t.Fatalf("failures=%v", failures)
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, err := NewFileSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if _, ok := store.LastUpdatedAt("k"); ok {
		t.Fatal("unknown session must report no timestamp")
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	if err := store.RecordInbound("k", InboundContext{Provider: "feishu", MessageSid: "m1"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	got, ok := store.LastUpdatedAt("k")
	if !ok || !got.Equal(fixed) {
		t.Fatalf("timestamp=%v ok=%v", got, ok)
	}
}
