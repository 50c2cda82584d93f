package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Names of the external-service credentials the store resolves.
const (
	KeyDeepgram = "deepgram_api_key"
	KeyGemini   = "gemini_api_key"
	KeyMurf     = "murf_api_key"
	KeyTavily   = "tavily_api_key"
	KeyZapier   = "zapier_webhook_url"
)

var knownKeys = map[string]bool{
	KeyDeepgram: true,
	KeyGemini:   true,
	KeyMurf:     true,
	KeyTavily:   true,
	KeyZapier:   true,
}

// Settings holds the user-tunable behavior of the agent.
type Settings struct {
	VoiceID              string  `json:"voiceId"`
	PlaybackSpeed        float64 `json:"playbackSpeed"`
	ConversationType     string  `json:"conversationType"`
	MicSensitivity       int     `json:"micSensitivity"`
	AudioQuality         string  `json:"audioQuality"`
	AutoSaveHistory      bool    `json:"autoSaveHistory"`
	IncludeKnowledgeBase bool    `json:"includeKnowledgeBase"`
	EnableSearch         bool    `json:"enableSearch"`
	MaxSearchResults     int     `json:"maxSearchResults"`
	EnableSound          bool    `json:"enableSound"`
	NotificationDuration int     `json:"notificationDuration"`
	Theme                string  `json:"theme"`
	AccentColor          string  `json:"accentColor"`
}

// Defaults returns the default settings structure.
func Defaults() Settings {
	return Settings{
		VoiceID:              "en-IN-alia",
		PlaybackSpeed:        1.0,
		ConversationType:     "casual",
		MicSensitivity:       50,
		AudioQuality:         "medium",
		AutoSaveHistory:      true,
		IncludeKnowledgeBase: true,
		EnableSearch:         true,
		MaxSearchResults:     3,
		EnableSound:          true,
		NotificationDuration: 4,
		Theme:                "dark",
		AccentColor:          "orange",
	}
}

// Store owns the process-wide settings and user API keys. Sessions read it
// through Snapshot and ResolveKey; administrative HTTP handlers mutate it.
// Readers always get a copy, never a reference to shared state.
type Store struct {
	mu          sync.RWMutex
	settings    Settings
	keys        map[string]string
	overrideEnv bool
	path        string
}

// NewStore creates a settings store. path is where settings are persisted on
// each mutation; an empty path disables persistence.
func NewStore(path string) *Store {
	return &Store{
		settings: Defaults(),
		keys:     make(map[string]string),
		path:     path,
	}
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update merges a JSON patch into the current settings; only the fields
// present in the patch change. Returns the resulting settings.
func (s *Store) Update(patch []byte) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	if err := json.Unmarshal(patch, &next); err != nil {
		return s.settings, fmt.Errorf("invalid settings payload: %w", err)
	}
	s.settings = next
	s.persistLocked()
	return s.settings, nil
}

// SetKeys stores user-provided API keys. Unknown key names are ignored.
// overrideEnv controls whether user keys take precedence over environment
// variables during resolution.
func (s *Store) SetKeys(keys map[string]string, overrideEnv bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, value := range keys {
		if knownKeys[name] {
			s.keys[name] = value
		}
	}
	s.overrideEnv = overrideEnv
}

// Reset restores defaults and drops all user keys. Calling it repeatedly
// yields the same structure every time.
func (s *Store) Reset() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = Defaults()
	s.keys = make(map[string]string)
	s.overrideEnv = false
	s.persistLocked()
	return s.settings
}

// ResolveKey returns the credential for name. Resolution order: the
// user-provided key when override is set, then the environment variable
// (upper-cased name), then the user key as a fallback. A missing key is an
// error the caller reports to the client.
func (s *Store) ResolveKey(name string) (string, error) {
	s.mu.RLock()
	userKey := s.keys[name]
	override := s.overrideEnv
	s.mu.RUnlock()

	envKey := os.Getenv(strings.ToUpper(name))

	switch {
	case override && userKey != "":
		return userKey, nil
	case envKey != "":
		return envKey, nil
	case userKey != "":
		return userKey, nil
	default:
		return "", fmt.Errorf("no %s found in environment or user-provided keys", name)
	}
}

// persistLocked writes the current settings to disk. Callers hold s.mu.
func (s *Store) persistLocked() {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0o644)
}
