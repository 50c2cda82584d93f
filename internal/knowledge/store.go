package knowledge

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
)

var filenamePattern = regexp.MustCompile(`[^\w\s.-]`)

// SanitizeFilename strips characters that are not word characters,
// whitespace, dots or dashes.
func SanitizeFilename(name string) string {
	return filenamePattern.ReplaceAllString(filepath.Base(name), "")
}

// Store holds knowledge-base documents: extracted text in memory for fast
// per-turn snapshots, plus on-disk copies of the uploads.
type Store struct {
	dir  string
	mu   sync.RWMutex
	docs map[string]string
}

// NewStore creates the knowledge-base directory if needed and loads any
// previously extracted documents.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create knowledge base directory: %w", err)
	}

	s := &Store{dir: dir, docs: make(map[string]string)}

	// Extracted text lives beside the upload as <name>.extracted.txt
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		const suffix = ".extracted.txt"
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		s.docs[strings.TrimSuffix(name, suffix)] = string(data)
	}

	return s, nil
}

// Put stores a document's extracted text, both in memory and on disk.
func (s *Store) Put(name, content string) error {
	name = SanitizeFilename(name)
	if name == "" {
		return fmt.Errorf("empty document name after sanitization")
	}

	contentFile := filepath.Join(s.dir, name+".extracted.txt")
	if err := os.WriteFile(contentFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to save extracted text for %s: %w", name, err)
	}

	s.mu.Lock()
	s.docs[name] = content
	s.mu.Unlock()
	return nil
}

// SaveOriginal writes the raw uploaded bytes beside the extracted text.
func (s *Store) SaveOriginal(name string, data []byte) (string, error) {
	name = SanitizeFilename(name)
	if name == "" {
		return "", fmt.Errorf("empty document name after sanitization")
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save upload %s: %w", name, err)
	}
	return path, nil
}

// Snapshot returns an immutable copy of the document map for one operation.
// Concurrent uploads never mutate a snapshot a dispatcher is reading.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]string, len(s.docs))
	for name, content := range s.docs {
		snap[name] = content
	}
	return snap
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Clear removes all documents from memory and disk.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list knowledge base: %w", err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	s.docs = make(map[string]string)
	return nil
}

// ExtractText pulls plain text out of an uploaded file. Only .txt and .pdf
// are supported.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), nil

	case ".pdf":
		f, r, err := pdf.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open pdf %s: %w", path, err)
		}
		defer f.Close()

		reader, err := r.GetPlainText()
		if err != nil {
			return "", fmt.Errorf("failed to extract text from %s: %w", path, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(reader); err != nil {
			return "", fmt.Errorf("failed to read extracted text from %s: %w", path, err)
		}
		return buf.String(), nil

	default:
		return "", fmt.Errorf("unsupported file type %s: only .pdf and .txt are supported", filepath.Ext(path))
	}
}
