package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"imbridge/internal/core"
	"imbridge/internal/text"
	"imbridge/internal/webhook"
)

const maxBodyBytes = 1 << 20

// Target is one account's registration at a webhook path.
type Target struct {
	Account           ResolvedAccount
	Credentials       Credentials
	VerificationToken string
	EncryptKey        string
	Path              string
	MediaMaxMB        int
	StatusSink        core.StatusSink
}

// HandlerOptions configure the webhook handler.
type HandlerOptions struct {
	Client          *Client
	Services        core.Services
	UseAccessGroups bool
	TableMode       text.TableMode
	Verbose         func() bool
	Logf            func(format string, args ...any)
}

// Handler owns the Feishu webhook target registry and serves inbound
// events for every registered account.
type Handler struct {
	client          *Client
	registry        *webhook.Registry[*Target]
	services        core.Services
	useAccessGroups bool
	tableMode       text.TableMode
	verbose         func() bool
	logf            func(format string, args ...any)
}

func NewHandler(opts HandlerOptions) *Handler {
	client := opts.Client
	if client == nil {
		client = NewClient("")
	}
	tableMode := opts.TableMode
	if tableMode == "" {
		tableMode = text.TableModeCode
	}
	verbose := opts.Verbose
	if verbose == nil {
		verbose = func() bool { return false }
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Handler{
		client:          client,
		registry:        webhook.NewRegistry[*Target](),
		services:        opts.Services,
		useAccessGroups: opts.UseAccessGroups,
		tableMode:       tableMode,
		verbose:         verbose,
		logf:            logf,
	}
}

func (h *Handler) logVerbose(format string, args ...any) {
	if h.verbose() {
		h.logf("[feishu] "+format, args...)
	}
}

// StartAccount validates the account's webhook configuration, registers
// a target and returns a stop func that unregisters it. Receiving
// events requires webhookUrl (or webhookPath) and verificationToken.
func (h *Handler) StartAccount(account ResolvedAccount, sink core.StatusSink) (func(), error) {
	verificationToken := strings.TrimSpace(account.Config.VerificationToken)
	if strings.TrimSpace(account.Config.WebhookURL) == "" && strings.TrimSpace(account.Config.WebhookPath) == "" {
		return nil, fmt.Errorf("feishu account %q requires webhookUrl for receiving messages", account.AccountID)
	}
	if verificationToken == "" {
		return nil, fmt.Errorf("feishu account %q requires verificationToken for receiving messages", account.AccountID)
	}
	path, err := webhook.ResolvePath(account.Config.WebhookPath, account.Config.WebhookURL)
	if err != nil {
		return nil, fmt.Errorf("feishu account %q webhook path could not be derived: %w", account.AccountID, err)
	}

	mediaMaxMB := account.Config.MediaMaxMB
	if mediaMaxMB <= 0 {
		mediaMaxMB = defaultMediaMaxMB
	}
	target := &Target{
		Account:           account,
		Credentials:       account.Credentials,
		VerificationToken: verificationToken,
		EncryptKey:        strings.TrimSpace(account.Config.EncryptKey),
		Path:              path,
		MediaMaxMB:        mediaMaxMB,
		StatusSink:        sink,
	}
	return h.registry.Register(path, target), nil
}

// HandleRequest serves a webhook request when its path has registered
// targets. It reports false when the request is not for this handler so
// another channel can try it.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) bool {
	targets := h.registry.Lookup(r.URL.Path)
	if len(targets) == 0 {
		return false
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return true
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return true
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return true
	}

	var eventData map[string]json.RawMessage
	if err := json.Unmarshal(body, &eventData); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return true
	}

	// URL verification challenge.
	if rawType, ok := eventData["type"]; ok && jsonString(rawType) == "url_verification" {
		token := jsonString(eventData["token"])
		for _, target := range targets {
			if target.VerificationToken == token {
				writeJSON(w, http.StatusOK, map[string]string{"challenge": jsonString(eventData["challenge"])})
				return true
			}
		}
		http.Error(w, "verification failed", http.StatusUnauthorized)
		return true
	}

	// Encrypted events: trial-decrypt with each target's key in
	// registration order.
	decrypted := body
	if rawEncrypt, ok := eventData["encrypt"]; ok {
		encrypt := jsonString(rawEncrypt)
		matched := false
		for _, target := range targets {
			if target.EncryptKey == "" {
				continue
			}
			plaintext, err := DecryptEvent(encrypt, target.EncryptKey)
			if err != nil {
				continue
			}
			var probe map[string]json.RawMessage
			if err := json.Unmarshal(plaintext, &probe); err != nil {
				continue
			}
			decrypted = plaintext
			matched = true
			break
		}
		if !matched {
			http.Error(w, "decryption failed", http.StatusUnauthorized)
			return true
		}
	}

	var event MessageEvent
	if err := json.Unmarshal(decrypted, &event); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return true
	}

	if event.Schema == EventSchemaV2 && event.Header.EventType == EventTypeMessageReceive {
		var matched *Target
		for _, target := range targets {
			if target.VerificationToken == event.Header.Token {
				matched = target
				break
			}
		}
		if matched == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return true
		}

		if matched.StatusSink != nil {
			matched.StatusSink(core.StatusPatch{LastInboundAt: time.Now()})
		}
		h.dispatchDetached(matched, &event)

		writeJSON(w, http.StatusOK, map[string]any{})
		return true
	}

	// Recognized but unhandled event type: acknowledge without action.
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	return true
}

// dispatchDetached processes the event in a detached goroutine. The
// provider retries on slow webhook responses, so the handler must
// acknowledge before the agent pipeline runs; processing errors are
// logged, never surfaced to the provider.
func (h *Handler) dispatchDetached(target *Target, event *MessageEvent) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.logf("[feishu] [%s] webhook processing panicked: %v", target.Account.AccountID, rec)
			}
		}()
		if err := h.processMessageEvent(context.Background(), target, event); err != nil {
			h.logf("[feishu] [%s] webhook processing failed: %v", target.Account.AccountID, err)
		}
	}()
}

func jsonString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
