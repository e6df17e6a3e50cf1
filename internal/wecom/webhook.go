package wecom

import (
	"context"
	"encoding/xml"
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
	Account        ResolvedAccount
	Credentials    Credentials
	Token          string
	EncodingAESKey string
	Path           string
	MediaMaxMB     int
	StatusSink     core.StatusSink
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

// Handler owns the WeCom webhook target registry and serves the
// verification handshake plus inbound messages for every registered
// account.
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
		h.logf("[wecom] "+format, args...)
	}
}

// StartAccount validates the account's webhook configuration, registers
// a target and returns a stop func that unregisters it. Receiving
// messages requires webhookUrl (or webhookPath), token and
// encodingAesKey.
func (h *Handler) StartAccount(account ResolvedAccount, sink core.StatusSink) (func(), error) {
	token := strings.TrimSpace(account.Config.Token)
	aesKey := strings.TrimSpace(account.Config.EncodingAESKey)
	if strings.TrimSpace(account.Config.WebhookURL) == "" && strings.TrimSpace(account.Config.WebhookPath) == "" {
		return nil, fmt.Errorf("wecom account %q requires webhookUrl for receiving messages", account.AccountID)
	}
	if token == "" || aesKey == "" {
		return nil, fmt.Errorf("wecom account %q requires token and encodingAesKey for receiving messages", account.AccountID)
	}
	if _, err := decodeAESKey(aesKey); err != nil {
		return nil, fmt.Errorf("wecom account %q: %w", account.AccountID, err)
	}
	path, err := webhook.ResolvePath(account.Config.WebhookPath, account.Config.WebhookURL)
	if err != nil {
		return nil, fmt.Errorf("wecom account %q webhook path could not be derived: %w", account.AccountID, err)
	}

	mediaMaxMB := account.Config.MediaMaxMB
	if mediaMaxMB <= 0 {
		mediaMaxMB = defaultMediaMaxMB
	}
	target := &Target{
		Account:        account,
		Credentials:    account.Credentials,
		Token:          token,
		EncodingAESKey: aesKey,
		Path:           path,
		MediaMaxMB:     mediaMaxMB,
		StatusSink:     sink,
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

	query := r.URL.Query()
	msgSignature := query.Get("msg_signature")
	timestamp := query.Get("timestamp")
	nonce := query.Get("nonce")
	echostr := query.Get("echostr")

	// URL verification handshake: the decrypted echostr goes back as
	// plain text.
	if r.Method == http.MethodGet && echostr != "" {
		for _, target := range targets {
			if !VerifySignature(target.Token, timestamp, nonce, echostr, msgSignature) {
				continue
			}
			plaintext, err := DecryptMessage(echostr, target.EncodingAESKey, target.Credentials.CorpID)
			if err != nil {
				continue
			}
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(plaintext))
			return true
		}
		http.Error(w, "verification failed", http.StatusUnauthorized)
		return true
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
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

	var envelope EncryptedEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid XML", http.StatusBadRequest)
		return true
	}
	if envelope.Encrypt == "" {
		http.Error(w, "missing encrypted message", http.StatusBadRequest)
		return true
	}

	// Find the owning account: signature check first, then
	// trial decryption, in registration order.
	var matched *Target
	var decrypted string
	for _, target := range targets {
		if !VerifySignature(target.Token, timestamp, nonce, envelope.Encrypt, msgSignature) {
			continue
		}
		plaintext, err := DecryptMessage(envelope.Encrypt, target.EncodingAESKey, target.Credentials.CorpID)
		if err != nil {
			continue
		}
		matched = target
		decrypted = plaintext
		break
	}
	if matched == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return true
	}

	var message IncomingMessage
	if err := xml.Unmarshal([]byte(decrypted), &message); err != nil {
		http.Error(w, "invalid decrypted XML", http.StatusBadRequest)
		return true
	}

	if matched.StatusSink != nil {
		matched.StatusSink(core.StatusPatch{LastInboundAt: time.Now()})
	}
	h.dispatchDetached(matched, &message)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
	return true
}

// dispatchDetached processes the message in a detached goroutine. The
// provider retries on slow webhook responses, so the handler must
// acknowledge before the agent pipeline runs; processing errors are
// logged, never surfaced to the provider.
func (h *Handler) dispatchDetached(target *Target, message *IncomingMessage) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.logf("[wecom] [%s] webhook processing panicked: %v", target.Account.AccountID, rec)
			}
		}()
		if err := h.processMessage(context.Background(), target, message); err != nil {
			h.logf("[wecom] [%s] webhook processing failed: %v", target.Account.AccountID, err)
		}
	}()
}
