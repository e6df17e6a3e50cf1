package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Agent produces reply blocks for a finalized inbound context.
type Agent interface {
	Reply(ctx context.Context, inbound InboundContext) ([]string, error)
}

// BufferedDispatcher runs the agent and hands each non-empty block to
// deliver, buffering nothing across blocks. Failures are reported to
// onError; remaining blocks are still attempted.
type BufferedDispatcher struct {
	agent Agent
}

func NewBufferedDispatcher(agent Agent) *BufferedDispatcher {
	return &BufferedDispatcher{agent: agent}
}

func (d *BufferedDispatcher) DispatchReply(ctx context.Context, inbound InboundContext, deliver DeliverFunc, onError func(error)) {
	if d.agent == nil {
		return
	}
	blocks, err := d.agent.Reply(ctx, inbound)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	for _, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}
		if err := deliver(ReplyPayload{Text: block}); err != nil && onError != nil {
			onError(err)
		}
	}
}

const defaultAgentTimeout = 120 * time.Second

// HTTPAgent forwards the inbound context to the host agent pipeline
// over HTTP. The endpoint answers with {"text": "..."} or
// {"blocks": ["...", ...]}.
type HTTPAgent struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

func NewHTTPAgent(endpoint string, timeout time.Duration) *HTTPAgent {
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	return &HTTPAgent{Endpoint: endpoint, Timeout: timeout}
}

type agentResponse struct {
	Text   string   `json:"text"`
	Blocks []string `json:"blocks"`
}

func (a *HTTPAgent) Reply(ctx context.Context, inbound InboundContext) ([]string, error) {
	body, err := json.Marshal(inbound)
	if err != nil {
		return nil, fmt.Errorf("marshal agent request failed: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request agent failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read agent response failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("agent endpoint returned status %d", resp.StatusCode)
	}

	var payload agentResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("decode agent response failed: %w", err)
	}
	if len(payload.Blocks) > 0 {
		return payload.Blocks, nil
	}
	if strings.TrimSpace(payload.Text) != "" {
		return []string{payload.Text}, nil
	}
	return nil, nil
}
