package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/novaflow/voice-agent/internal/history"
	"github.com/novaflow/voice-agent/internal/knowledge"
	"github.com/novaflow/voice-agent/internal/settings"
)

type apiFixture struct {
	mux      *http.ServeMux
	history  *history.Store
	kb       *knowledge.Store
	settings *settings.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	historyStore, err := history.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create history store: %v", err)
	}
	kb, err := knowledge.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create knowledge store: %v", err)
	}
	settingsStore := settings.NewStore("")

	mux := http.NewServeMux()
	NewServer(historyStore, kb, settingsStore, zerolog.Nop()).Register(mux)

	return &apiFixture{mux: mux, history: historyStore, kb: kb, settings: settingsStore}
}

func (f *apiFixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestChatLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/chats", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("Expected empty chat list, got %q", got)
	}

	rec = f.do(t, http.MethodPost, "/new_chat", "")
	if got := decodeMap(t, rec)["chat_id"]; got != "1" {
		t.Errorf("Expected first chat id 1, got %q", got)
	}
	rec = f.do(t, http.MethodPost, "/new_chat", "")
	if got := decodeMap(t, rec)["chat_id"]; got != "2" {
		t.Errorf("Expected second chat id 2, got %q", got)
	}

	rec = f.do(t, http.MethodGet, "/chats", "")
	var ids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatalf("Failed to decode chat list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("Expected chats [1 2], got %v", ids)
	}

	rec = f.do(t, http.MethodGet, "/chat_history?chat_id=1", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("Expected empty history, got %q", got)
	}

	rec = f.do(t, http.MethodPost, "/clear_chat_history", `{"clear": true}`)
	if got := decodeMap(t, rec)["message"]; got != "Chat history cleared successfully." {
		t.Errorf("Unexpected clear response: %q", got)
	}
	if f.history.Exists("1") {
		t.Error("Expected chat 1 to be removed")
	}
}

func TestClearChatHistoryRequiresFlag(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/clear_chat_history", `{"clear": false}`)
	if got := decodeMap(t, rec)["error"]; got != "Invalid clear request" {
		t.Errorf("Expected invalid clear request error, got %q", got)
	}
}

func TestUploadTextFile(t *testing.T) {
	f := newAPIFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes!.txt")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := fw.Write([]byte("alpha beta gamma")); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}
	// The exclamation mark is stripped by sanitization.
	if resp.Message != "File notes.txt uploaded and processed successfully! Extracted 3 words." {
		t.Errorf("Unexpected upload message: %q", resp.Message)
	}
	if resp.ExtractedText != "alpha beta gamma" {
		t.Errorf("Unexpected preview: %q", resp.ExtractedText)
	}

	docs := f.kb.Snapshot()
	if docs["notes.txt"] != "alpha beta gamma" {
		t.Errorf("Expected document stored, got %v", docs)
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	f := newAPIFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "image.png")
	fw.Write([]byte{0x89, 0x50})
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}
	if resp.Message != "File image.png uploaded, but only .pdf and .txt are supported." {
		t.Errorf("Unexpected message: %q", resp.Message)
	}
	if f.kb.Len() != 0 {
		t.Errorf("Expected no document stored, got %d", f.kb.Len())
	}
}

func TestSettingsEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/set_settings", `{"conversationType": "formal", "enableSearch": false}`)
	if got := decodeMap(t, rec)["message"]; got != "Settings saved successfully." {
		t.Errorf("Unexpected set_settings response: %q", got)
	}

	rec = f.do(t, http.MethodGet, "/get_settings", "")
	var snap settings.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Failed to decode settings: %v", err)
	}
	if snap.ConversationType != "formal" || snap.EnableSearch {
		t.Errorf("Expected patched settings, got %+v", snap)
	}
	if snap.VoiceID != "en-IN-alia" {
		t.Errorf("Expected untouched default voice, got %q", snap.VoiceID)
	}

	rec = f.do(t, http.MethodPost, "/reset_settings", `{"reset": true}`)
	if got := decodeMap(t, rec)["message"]; got != "Settings reset successfully." {
		t.Errorf("Unexpected reset response: %q", got)
	}
	if got := f.settings.Snapshot(); got.ConversationType != "casual" || !got.EnableSearch {
		t.Errorf("Expected defaults after reset, got %+v", got)
	}
}

func TestSetKeys(t *testing.T) {
	f := newAPIFixture(t)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("DEEPGRAM_API_KEY", "")

	rec := f.do(t, http.MethodPost, "/set_keys", `{"gemini_api_key": "user-key", "override_env": "true", "bogus_key": "x"}`)
	if got := decodeMap(t, rec)["message"]; got != "API keys saved successfully." {
		t.Errorf("Unexpected set_keys response: %q", got)
	}

	key, err := f.settings.ResolveKey(settings.KeyGemini)
	if err != nil || key != "user-key" {
		t.Errorf("Expected user key to resolve, got %q (err %v)", key, err)
	}
	if _, err := f.settings.ResolveKey(settings.KeyDeepgram); err == nil {
		t.Error("Expected unknown keys to stay unset")
	}
}

func TestClearKnowledgeBase(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.kb.Put("notes.txt", "hello"); err != nil {
		t.Fatalf("Failed to store document: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/clear_knowledge_base", `{"clear": true}`)
	if got := decodeMap(t, rec)["message"]; got != "Knowledge base cleared successfully." {
		t.Errorf("Unexpected clear response: %q", got)
	}
	if f.kb.Len() != 0 {
		t.Errorf("Expected empty knowledge base, got %d documents", f.kb.Len())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/new_chat", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}
