package core

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrPairingCodeNotFound = errors.New("pairing code not found")

// codeAlphabet avoids ambiguous characters so codes survive being read
// aloud or retyped.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const pairingCodeLength = 8

// PairingRequest is a provisional approval ticket for an unrecognized
// sender.
type PairingRequest struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	SenderID  string    `json:"sender_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

type pairingState struct {
	Requests []PairingRequest    `json:"requests"`
	Allow    map[string][]string `json:"allow"`
}

// FilePairingStore persists pairing requests and the approval allow
// list in a JSON file guarded by a RWMutex.
type FilePairingStore struct {
	mu    sync.RWMutex
	path  string
	state pairingState
	now   func() time.Time
}

func NewFilePairingStore(dataDir string) (*FilePairingStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s := &FilePairingStore{
		path:  filepath.Join(dataDir, "pairing.json"),
		state: pairingState{Allow: map[string][]string{}},
		now:   time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FilePairingStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var state pairingState
	if err := json.Unmarshal(b, &state); err != nil {
		return err
	}
	if state.Allow == nil {
		state.Allow = map[string][]string{}
	}
	s.state = state
	return nil
}

func (s *FilePairingStore) saveLocked() error {
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

// UpsertRequest creates a pairing request for the sender unless one is
// already pending. The existing code is returned for duplicates so the
// caller can tell a repeat message from a first contact.
func (s *FilePairingStore) UpsertRequest(channel, senderID string) (PairingResult, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	sender := strings.TrimSpace(senderID)
	if channel == "" || sender == "" {
		return PairingResult{}, fmt.Errorf("pairing upsert requires channel and sender id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.state.Requests {
		if req.Channel == channel && strings.EqualFold(req.SenderID, sender) {
			return PairingResult{Code: req.Code, Created: false}, nil
		}
	}

	code, err := generateCode(pairingCodeLength)
	if err != nil {
		return PairingResult{}, fmt.Errorf("generate pairing code: %w", err)
	}
	s.state.Requests = append(s.state.Requests, PairingRequest{
		ID:        uuid.NewString(),
		Channel:   channel,
		SenderID:  sender,
		Code:      code,
		CreatedAt: s.now(),
	})
	if err := s.saveLocked(); err != nil {
		return PairingResult{}, err
	}
	return PairingResult{Code: code, Created: true}, nil
}

// AllowFrom returns the approval-driven allow list for a channel.
func (s *FilePairingStore) AllowFrom(channel string) ([]string, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))

	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.state.Allow[channel]
	out := make([]string, len(entries))
	copy(out, entries)
	return out, nil
}

// Approve resolves a pending request by code, moves the sender onto the
// channel allow list and returns the sender id.
func (s *FilePairingStore) Approve(channel, code string) (string, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	code = strings.ToUpper(strings.TrimSpace(code))

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, req := range s.state.Requests {
		if req.Channel != channel || req.Code != code {
			continue
		}
		s.state.Requests = append(s.state.Requests[:i], s.state.Requests[i+1:]...)
		s.state.Allow[channel] = appendUnique(s.state.Allow[channel], req.SenderID)
		if err := s.saveLocked(); err != nil {
			return "", err
		}
		return req.SenderID, nil
	}
	return "", ErrPairingCodeNotFound
}

// Requests returns pending requests, optionally filtered by channel.
func (s *FilePairingStore) Requests(channel string) []PairingRequest {
	channel = strings.ToLower(strings.TrimSpace(channel))

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PairingRequest
	for _, req := range s.state.Requests {
		if channel == "" || req.Channel == channel {
			out = append(out, req)
		}
	}
	return out
}

func appendUnique(entries []string, value string) []string {
	for _, existing := range entries {
		if strings.EqualFold(existing, value) {
			return entries
		}
	}
	return append(entries, value)
}

func generateCode(length int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// BuildPairingReply renders the message sent to a sender whose pairing
// request was just created.
func BuildPairingReply(channel, idLine, code string) string {
	return fmt.Sprintf(
		"Access to this %s bot requires approval.\n%s\nPairing code: %s\nAsk the operator to approve it.",
		channel, idLine, code,
	)
}

// PairingApprovedMessage is sent to a sender after approval.
const PairingApprovedMessage = "You're paired. Messages will now reach the agent."
