package core

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionRecord is the persisted view of one conversation session.
type SessionRecord struct {
	SessionKey    string    `json:"session_key"`
	UpdatedAt     time.Time `json:"updated_at"`
	Provider      string    `json:"provider"`
	From          string    `json:"from"`
	LastMessageID string    `json:"last_message_id,omitempty"`
}

// FileSessionStore keeps session records in a single JSON file guarded
// by a RWMutex.
type FileSessionStore struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]SessionRecord
	now      func() time.Time
}

func NewFileSessionStore(dataDir string) (*FileSessionStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s := &FileSessionStore{
		path:     filepath.Join(dataDir, "sessions.json"),
		sessions: map[string]SessionRecord{},
		now:      time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSessionStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var sessions map[string]SessionRecord
	if err := json.Unmarshal(b, &sessions); err != nil {
		return err
	}
	if sessions != nil {
		s.sessions = sessions
	}
	return nil
}

func (s *FileSessionStore) saveLocked() error {
	b, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

func (s *FileSessionStore) LastUpdatedAt(sessionKey string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[sessionKey]
	if !ok {
		return time.Time{}, false
	}
	return record.UpdatedAt, true
}

func (s *FileSessionStore) RecordInbound(sessionKey string, ctx InboundContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey] = SessionRecord{
		SessionKey:    sessionKey,
		UpdatedAt:     s.now(),
		Provider:      ctx.Provider,
		From:          ctx.From,
		LastMessageID: ctx.MessageSid,
	}
	return s.saveLocked()
}
