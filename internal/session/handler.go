package session

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/novaflow/voice-agent/internal/config"
	"github.com/novaflow/voice-agent/internal/history"
	"github.com/novaflow/voice-agent/internal/observability"
	"github.com/novaflow/voice-agent/internal/settings"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Deps are the collaborators a session needs.
type Deps struct {
	Config     *config.Config
	Settings   *settings.Store
	History    *history.Store
	Dispatcher Dispatcher
	TTS        Synthesizer
	NewBridge  BridgeFactory
}

// Handler returns the websocket endpoint. The chat id must reference an
// existing chat; validation happens before the upgrade so clients get a plain
// HTTP status instead of an immediately closed socket.
func Handler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := r.URL.Query().Get("chat_id")
		if chatID == "" {
			http.Error(w, "Missing chat_id", http.StatusBadRequest)
			return
		}
		if !deps.History.Exists(chatID) {
			http.Error(w, "Chat ID does not exist", http.StatusNotFound)
			return
		}

		logger := observability.SessionLogger(chatID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		sess := New(
			chatID,
			conn,
			deps.Config,
			deps.Settings,
			deps.Dispatcher,
			deps.TTS,
			deps.NewBridge,
			logger,
		)
		sess.Run(r.Context())
	}
}
