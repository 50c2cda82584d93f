package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/novaflow/voice-agent/internal/history"
	"github.com/novaflow/voice-agent/internal/knowledge"
	"github.com/novaflow/voice-agent/internal/settings"
)

// maxUploadBytes bounds knowledge-base uploads.
const maxUploadBytes = 32 << 20

// Server exposes the administrative REST surface: chat management,
// knowledge-base uploads and settings.
type Server struct {
	history  *history.Store
	kb       *knowledge.Store
	settings *settings.Store
	logger   zerolog.Logger
}

// NewServer creates the admin API over the shared stores.
func NewServer(historyStore *history.Store, kb *knowledge.Store, settingsStore *settings.Store, logger zerolog.Logger) *Server {
	return &Server{
		history:  historyStore,
		kb:       kb,
		settings: settingsStore,
		logger:   logger,
	}
}

// Register attaches all admin routes to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/chats", s.requireMethod(http.MethodGet, s.handleListChats))
	mux.HandleFunc("/new_chat", s.requireMethod(http.MethodPost, s.handleNewChat))
	mux.HandleFunc("/chat_history", s.requireMethod(http.MethodGet, s.handleChatHistory))
	mux.HandleFunc("/upload", s.requireMethod(http.MethodPost, s.handleUpload))
	mux.HandleFunc("/set_keys", s.requireMethod(http.MethodPost, s.handleSetKeys))
	mux.HandleFunc("/set_settings", s.requireMethod(http.MethodPost, s.handleSetSettings))
	mux.HandleFunc("/get_settings", s.requireMethod(http.MethodGet, s.handleGetSettings))
	mux.HandleFunc("/reset_settings", s.requireMethod(http.MethodPost, s.handleResetSettings))
	mux.HandleFunc("/clear_chat_history", s.requireMethod(http.MethodPost, s.handleClearChatHistory))
	mux.HandleFunc("/clear_knowledge_base", s.requireMethod(http.MethodPost, s.handleClearKnowledgeBase))
}

func (s *Server) requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	ids, err := s.history.List()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list chats")
		s.writeJSON(w, http.StatusOK, []string{})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	id, err := s.history.Create()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create chat")
		s.writeError(w, err.Error())
		return
	}
	s.logger.Info().Str("chat_id", id).Msg("Created new chat")
	s.writeJSON(w, http.StatusOK, map[string]string{"chat_id": id})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = "1"
	}

	entries, err := s.history.Get(chatID)
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to read chat history")
		s.writeError(w, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type uploadResponse struct {
	Message       string `json:"message"`
	ExtractedText string `json:"extracted_text"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, fmt.Sprintf("Failed to parse upload: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read upload: %v", err))
		return
	}
	defer file.Close()

	name := knowledge.SanitizeFilename(header.Filename)
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to upload file %s: %v", header.Filename, err))
		return
	}

	path, err := s.kb.SaveOriginal(name, data)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to upload file %s: %v", header.Filename, err))
		return
	}

	if !strings.HasSuffix(name, ".pdf") && !strings.HasSuffix(name, ".txt") {
		s.writeJSON(w, http.StatusOK, uploadResponse{
			Message: fmt.Sprintf("File %s uploaded, but only .pdf and .txt are supported.", name),
		})
		return
	}

	text, err := knowledge.ExtractText(path)
	if err != nil {
		s.logger.Error().Err(err).Str("file", name).Msg("Failed to extract text")
		s.writeJSON(w, http.StatusOK, uploadResponse{
			Message: fmt.Sprintf("File %s uploaded, but an error occurred: %v", name, err),
		})
		return
	}
	if strings.TrimSpace(text) == "" {
		s.logger.Warn().Str("file", name).Msg("No text extracted from upload")
		s.writeJSON(w, http.StatusOK, uploadResponse{
			Message: fmt.Sprintf("File %s uploaded, but no text could be extracted.", name),
		})
		return
	}

	if err := s.kb.Put(name, text); err != nil {
		s.writeError(w, fmt.Sprintf("Failed to upload file %s: %v", name, err))
		return
	}

	wordCount := len(strings.Fields(text))
	preview := text
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	s.logger.Info().Str("file", name).Int("words", wordCount).Msg("Processed upload")
	s.writeJSON(w, http.StatusOK, uploadResponse{
		Message:       fmt.Sprintf("File %s uploaded and processed successfully! Extracted %d words.", name, wordCount),
		ExtractedText: preview,
	})
}

func (s *Server) handleSetKeys(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Sprintf("Failed to set API keys: %v", err))
		return
	}

	overrideEnv := strings.EqualFold(body["override_env"], "true")
	delete(body, "override_env")

	s.settings.SetKeys(body, overrideEnv)
	s.logger.Info().Bool("override_env", overrideEnv).Msg("API keys updated")
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "API keys saved successfully."})
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	patch, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, err.Error())
		return
	}

	if _, err := s.settings.Update(patch); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update settings")
		s.writeError(w, err.Error())
		return
	}
	s.logger.Info().Msg("Settings updated")
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Settings saved successfully."})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Snapshot())
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	if !s.confirmFlag(r, "reset") {
		s.writeError(w, "Invalid reset request")
		return
	}
	s.settings.Reset()
	s.logger.Info().Msg("Settings reset to defaults")
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Settings reset successfully."})
}

func (s *Server) handleClearChatHistory(w http.ResponseWriter, r *http.Request) {
	if !s.confirmFlag(r, "clear") {
		s.writeError(w, "Invalid clear request")
		return
	}
	if err := s.history.Clear(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear chat history")
		s.writeError(w, err.Error())
		return
	}
	s.logger.Info().Msg("Chat history cleared")
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared successfully."})
}

func (s *Server) handleClearKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if !s.confirmFlag(r, "clear") {
		s.writeError(w, "Invalid clear request")
		return
	}
	if err := s.kb.Clear(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear knowledge base")
		s.writeError(w, err.Error())
		return
	}
	s.logger.Info().Msg("Knowledge base cleared")
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Knowledge base cleared successfully."})
}

// confirmFlag reports whether the request body carries {"<flag>": true}.
// Destructive endpoints require it so a stray POST cannot wipe state.
func (s *Server) confirmFlag(r *http.Request, flag string) bool {
	var body map[string]bool
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return false
	}
	return body[flag]
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusOK, map[string]string{"error": msg})
}
