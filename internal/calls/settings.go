package calls

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Settings is the process-wide account configuration pushed by
// account_settings_update events. It never touches live calls.
type Settings struct {
	mu        sync.RWMutex
	values    map[string]any
	updatedAt time.Time
}

func NewSettings() *Settings {
	return &Settings{values: make(map[string]any)}
}

// Apply merges a JSON object into the current settings. Top-level keys replace.
func (s *Settings) Apply(raw json.RawMessage, at time.Time) ([]string, error) {
	var update map[string]any
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("%w: settings: %v", ErrInvalidEvent, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(update))
	for k, v := range update {
		s.values[k] = v
		keys = append(keys, k)
	}
	s.updatedAt = at
	return keys, nil
}

type SettingsSnapshot struct {
	Values    map[string]any `json:"values"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

func (s *Settings) Snapshot() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := SettingsSnapshot{Values: make(map[string]any, len(s.values))}
	for k, v := range s.values {
		out.Values[k] = v
	}
	if !s.updatedAt.IsZero() {
		at := s.updatedAt
		out.UpdatedAt = &at
	}
	return out
}
