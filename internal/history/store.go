package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entry is one persisted exchange in a chat.
type Entry struct {
	Timestamp  string `json:"timestamp"`
	UserQuery  string `json:"user_query"`
	AIResponse string `json:"ai_response"`
}

// Store persists chat history as one JSON file per chat id, append-only.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the history directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chat directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// List returns all chat ids, numerically sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if name := e.Name(); strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids, nil
}

// Create allocates the next numeric chat id and writes an empty history file.
func (s *Store) Create() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.List()
	if err != nil {
		return "", err
	}

	max := 0
	for _, id := range ids {
		if n, err := strconv.Atoi(id); err == nil && n > max {
			max = n
		}
	}

	id := strconv.Itoa(max + 1)
	if err := os.WriteFile(s.path(id), []byte("[]"), 0o644); err != nil {
		return "", fmt.Errorf("failed to create chat %s: %w", id, err)
	}
	return id, nil
}

// Exists reports whether a chat has a backing record.
func (s *Store) Exists(chatID string) bool {
	_, err := os.Stat(s.path(chatID))
	return err == nil
}

// Get returns the entries of a chat, oldest first. A missing chat yields an
// empty history.
func (s *Store) Get(chatID string) ([]Entry, error) {
	data, err := os.ReadFile(s.path(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read chat %s: %w", chatID, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode chat %s: %w", chatID, err)
	}
	return entries, nil
}

// Append adds one (query, reply) exchange with the current timestamp.
func (s *Store) Append(chatID, query, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.Get(chatID)
	if err != nil {
		return err
	}

	entries = append(entries, Entry{
		Timestamp:  time.Now().Format(time.RFC3339),
		UserQuery:  query,
		AIResponse: reply,
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode chat %s: %w", chatID, err)
	}
	if err := os.WriteFile(s.path(chatID), data, 0o644); err != nil {
		return fmt.Errorf("failed to save chat %s: %w", chatID, err)
	}
	return nil
}

// Clear removes all chat files.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// path maps a chat id to its file, stripping path separators from the id.
func (s *Store) path(chatID string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return -1
		}
		return r
	}, chatID)
	return filepath.Join(s.dir, safe+".json")
}
