package webhook

import (
	"errors"
	"net/url"
	"strings"
	"sync"
)

var ErrNoPath = errors.New("webhook path could not be derived")

// Registry maps normalized HTTP paths to registered webhook targets.
// Several accounts may share one path; request-time dispatch picks the
// matching target by trial verification. Register and the returned
// unregister func are safe to call from concurrent account lifecycles.
type Registry[T any] struct {
	mu      sync.RWMutex
	targets map[string][]*entry[T]
}

type entry[T any] struct {
	target T
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{targets: map[string][]*entry[T]{}}
}

// Register adds target under the normalized path and returns a func that
// removes exactly this registration. When the last target for a path is
// removed the path key is deleted, so Lookup reports it as unhandled.
func (r *Registry[T]) Register(path string, target T) func() {
	key := NormalizePath(path)
	e := &entry[T]{target: target}

	r.mu.Lock()
	r.targets[key] = append(r.targets[key], e)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			existing := r.targets[key]
			next := make([]*entry[T], 0, len(existing))
			for _, candidate := range existing {
				if candidate != e {
					next = append(next, candidate)
				}
			}
			if len(next) > 0 {
				r.targets[key] = next
			} else {
				delete(r.targets, key)
			}
		})
	}
}

// Lookup returns the targets registered under the normalized path, in
// registration order. The returned slice is a copy.
func (r *Registry[T]) Lookup(path string) []T {
	key := NormalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.targets[key]
	if len(entries) == 0 {
		return nil
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.target)
	}
	return out
}

// NormalizePath forces a leading slash and strips a trailing slash
// except for the root path.
func NormalizePath(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	if len(trimmed) > 1 && strings.HasSuffix(trimmed, "/") {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed
}

// ResolvePath picks the listener path for an account: an explicit
// webhookPath wins, otherwise the path component of webhookUrl.
func ResolvePath(webhookPath, webhookURL string) (string, error) {
	if trimmed := strings.TrimSpace(webhookPath); trimmed != "" {
		return NormalizePath(trimmed), nil
	}
	if trimmed := strings.TrimSpace(webhookURL); trimmed != "" {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", ErrNoPath
		}
		if parsed.Path == "" {
			return "/", nil
		}
		return NormalizePath(parsed.Path), nil
	}
	return "", ErrNoPath
}
