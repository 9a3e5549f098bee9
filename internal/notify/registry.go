package notify

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var registry sync.Map

// ErrDuplicateListener indicates a key already has a listener registered.
var ErrDuplicateListener = errors.New("listener already registered")

// Register stores a listener under the given key.
func Register(key string, listener Listener) error {
	normalized := normalizeKey(key)
	if normalized == "" {
		return errors.New("listener key required")
	}
	if listener == nil {
		return errors.New("listener is nil")
	}
	if _, loaded := registry.LoadOrStore(normalized, listener); loaded {
		return ErrDuplicateListener
	}
	return nil
}

// MustRegister panics on registration failure.
func MustRegister(key string, listener Listener) {
	if err := Register(key, listener); err != nil {
		panic(err)
	}
}

// Unregister removes a listener; unknown keys are ignored.
func Unregister(key string) {
	registry.Delete(normalizeKey(key))
}

// Fetch retrieves the listener associated with a key.
func Fetch(key string) (Listener, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return nil, false
	}
	if value, ok := registry.Load(normalized); ok {
		if listener, ok := value.(Listener); ok {
			return listener, true
		}
	}
	return nil, false
}

// Status returns registration status for a key.
func Status(key string) string {
	if _, ok := Fetch(key); ok {
		return "registered"
	}
	return "missing"
}

// Snapshot returns status for a list of keys.
func Snapshot(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if normalized := normalizeKey(key); normalized != "" {
			out[normalized] = Status(normalized)
		}
	}
	return out
}

// Keys returns all registered listener keys in sorted order.
func Keys() []string {
	var keys []string
	registry.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
