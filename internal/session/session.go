package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/novaflow/voice-agent/internal/audio"
	"github.com/novaflow/voice-agent/internal/config"
	"github.com/novaflow/voice-agent/internal/dispatch"
	"github.com/novaflow/voice-agent/internal/observability"
	"github.com/novaflow/voice-agent/internal/protocol"
	"github.com/novaflow/voice-agent/internal/settings"
	"github.com/novaflow/voice-agent/internal/stt"
	"github.com/novaflow/voice-agent/internal/tts"
)

// State is the session's recording lifecycle.
type State int

const (
	StateInit State = iota
	StateIdle
	StateRecording
	StateFlushing
	StateClosed
)

// wsConn is the subset of *websocket.Conn the session uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dispatcher routes one finalized utterance to a reply branch.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request, sink dispatch.Sink, m *observability.Metrics) error
}

// Synthesizer streams synthesized speech for a text.
type Synthesizer interface {
	Synthesize(ctx context.Context, apiKey, text string, voice tts.VoiceConfig) (<-chan tts.Chunk, error)
}

// BridgeFactory creates one transcription bridge per recording session.
type BridgeFactory func(apiKey string, logger zerolog.Logger) stt.Bridge

// frame is one inbound client frame, text or binary.
type frame struct {
	messageType int
	data        []byte
}

// Session owns one client connection. A single goroutine (Run) consumes both
// client frames and transcription events, and every write to the client
// happens from that goroutine, so message order is the order things happened.
type Session struct {
	chatID     string
	conn       wsConn
	config     *config.Config
	settings   *settings.Store
	dispatcher Dispatcher
	tts        Synthesizer
	newBridge  BridgeFactory
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	state       State
	agg         *audio.Aggregator
	bridge      stt.Bridge
	recordStart time.Time
}

// New creates a session for an accepted connection.
func New(
	chatID string,
	conn wsConn,
	cfg *config.Config,
	settingsStore *settings.Store,
	dispatcher Dispatcher,
	synthesizer Synthesizer,
	newBridge BridgeFactory,
	logger zerolog.Logger,
) *Session {
	now := time.Now
	return &Session{
		chatID:     chatID,
		conn:       conn,
		config:     cfg,
		settings:   settingsStore,
		dispatcher: dispatcher,
		tts:        synthesizer,
		newBridge:  newBridge,
		logger:     logger,
		metrics:    observability.NewSessionMetrics(chatID),
		now:        now,
		state:      StateInit,
		agg:        audio.NewAggregator(cfg.MinFlushBytes(), time.Duration(cfg.FlushIntervalMS)*time.Millisecond, now()),
	}
}

// Run drives the session until the client disconnects. It blocks.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		s.closeBridge()
		s.conn.Close()
		s.state = StateClosed
		s.metrics.RecordSessionEnd()
		s.logger.Info().Msg("Session closed")
	}()

	s.state = StateIdle
	s.logger.Info().Msg("Session started")

	frames := make(chan frame, 16)
	go s.readPump(ctx, frames)

	for {
		// A nil events channel blocks forever, which is exactly what we
		// want between recordings.
		var events <-chan stt.Event
		if s.bridge != nil {
			events = s.bridge.Events()
		}

		select {
		case <-ctx.Done():
			return

		case f, ok := <-frames:
			if !ok {
				return
			}
			switch f.messageType {
			case websocket.TextMessage:
				s.handleCommand(ctx, string(f.data))
			case websocket.BinaryMessage:
				s.handleAudio(f.data)
			default:
				s.send(protocol.Error("Invalid data received"))
			}

		case ev, ok := <-events:
			if !ok {
				s.bridge = nil
				continue
			}
			s.handleEvent(ctx, ev)
		}
	}
}

// readPump moves inbound frames onto the session's channel. It is the only
// goroutine that reads the connection. The send selects on ctx so the pump
// cannot stay blocked on a full channel after Run has exited.
func (s *Session) readPump(ctx context.Context, frames chan<- frame) {
	defer close(frames)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Unexpected connection close")
			}
			return
		}

		select {
		case frames <- frame{messageType: messageType, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// handleCommand processes one text frame from the client.
func (s *Session) handleCommand(ctx context.Context, data string) {
	switch {
	case data == "start":
		s.handleStart()

	case data == "stop":
		s.handleStop()

	case strings.HasPrefix(data, "text:"):
		if text := strings.TrimSpace(data[len("text:"):]); text != "" {
			s.dispatch(ctx, text, false)
		}

	case strings.HasPrefix(data, "speak:"):
		if text := strings.TrimSpace(data[len("speak:"):]); text != "" {
			if err := s.StreamSpeech(ctx, text, protocol.TypeSpeakAudio); err != nil {
				s.logger.Error().Err(err).Msg("Failed to stream speech")
			}
		}

	default:
		s.logger.Warn().Str("command", data).Msg("Unknown command")
		s.send(protocol.Error("Invalid data received"))
	}
}

// handleStart begins a recording: opens a fresh transcription bridge and arms
// the aggregator.
func (s *Session) handleStart() {
	if s.state == StateRecording {
		s.send(protocol.Error("Recording already in progress"))
		return
	}

	apiKey, err := s.settings.ResolveKey(settings.KeyDeepgram)
	if err != nil {
		s.logger.Error().Err(err).Msg("No transcription API key available")
		s.metrics.RecordError("missing_key", "session")
		s.send(protocol.Error("No valid Deepgram API key found"))
		return
	}

	s.closeBridge()
	bridge := s.newBridge(apiKey, s.logger)
	if err := bridge.Start(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start transcription")
		s.metrics.RecordError("bridge_start", "session")
		s.send(protocol.Error("Failed to start transcription"))
		return
	}

	s.bridge = bridge
	s.recordStart = s.now()
	s.agg.Reset(s.recordStart)
	s.state = StateRecording

	s.sendText("Started transcription")
	if s.settings.Snapshot().EnableSound {
		s.send(protocol.SoundAlert("start"))
	}
}

// handleStop ends a recording. Audio below the duration or size thresholds is
// discarded with an error to the client; otherwise the remaining buffer is
// flushed so the service can finalize the utterance.
func (s *Session) handleStop() {
	if s.state != StateRecording {
		s.send(protocol.Error("No active recording"))
		return
	}

	elapsed := s.now().Sub(s.recordStart)
	elapsedMS := float64(elapsed) / float64(time.Millisecond)

	switch {
	case elapsedMS < float64(s.config.MinAudioDurationMS):
		s.logger.Warn().Float64("elapsed_ms", elapsedMS).Msg("Recording too short")
		s.send(protocol.Error(fmt.Sprintf("Recording too short (%.1fms). Please speak for at least 1 second.", elapsedMS)))
		s.agg.Reset(s.now())

	case s.agg.Len() >= s.config.MinFlushBytes():
		s.state = StateFlushing
		batch := s.agg.TakeAndReset(s.now())
		if err := s.bridge.SendAudio(batch); err != nil {
			s.logger.Error().Err(err).Msg("Failed to flush final audio batch")
			s.metrics.RecordError("flush_failed", "session")
			s.send(protocol.Error(fmt.Sprintf("Audio streaming error: %v", err)))
		} else {
			s.metrics.RecordFlush(len(batch))
		}

	default:
		s.logger.Warn().Int("bytes", s.agg.Len()).Msg("Audio buffer below minimum")
		s.send(protocol.Error(fmt.Sprintf("Insufficient audio data (%d bytes). Please speak for at least 1 second.", s.agg.Len())))
		s.agg.Reset(s.now())
	}

	if err := s.bridge.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop transcription bridge")
	}
	s.state = StateIdle

	s.sendText("Stopped transcription")
	if s.settings.Snapshot().EnableSound {
		s.send(protocol.SoundAlert("stop"))
	}
}

// handleAudio buffers one binary frame and flushes when the aggregator says
// the batch is ready.
func (s *Session) handleAudio(data []byte) {
	if s.state != StateRecording {
		s.logger.Debug().Int("bytes", len(data)).Msg("Dropping audio outside recording")
		return
	}

	s.agg.Append(data)
	now := s.now()
	if !s.agg.ShouldFlush(now) {
		return
	}

	batch := s.agg.TakeAndReset(now)
	if err := s.bridge.SendAudio(batch); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stream audio batch")
		s.metrics.RecordError("flush_failed", "session")
		s.send(protocol.Error(fmt.Sprintf("Audio streaming error: %v", err)))
		s.closeBridge()
		s.state = StateIdle
		return
	}
	s.metrics.RecordFlush(len(batch))
}

// handleEvent relays one transcription event. A final transcript ends the
// turn and dispatches a voice reply inline, so reply turns never interleave.
func (s *Session) handleEvent(ctx context.Context, ev stt.Event) {
	s.metrics.RecordSTTEvent(ev.Kind.String())

	switch ev.Kind {
	case stt.EventError:
		s.send(protocol.Error(ev.Err))

	case stt.EventPartial:
		s.send(protocol.UserMessage(ev.Text, false))

	case stt.EventFinal:
		s.logger.Info().Str("transcript", ev.Text).Msg("Final transcription")
		s.send(protocol.UserMessage(ev.Text, true))
		s.send(protocol.TurnEnded())
		s.dispatch(ctx, ev.Text, true)
	}
}

func (s *Session) dispatch(ctx context.Context, text string, voice bool) {
	req := dispatch.Request{ChatID: s.chatID, Text: text, Voice: voice}
	if err := s.dispatcher.Dispatch(ctx, req, s, s.metrics); err != nil {
		s.logger.Error().Err(err).Msg("Dispatch write failed")
	}
}

// Send implements dispatch.Sink.
func (s *Session) Send(msg protocol.Message) error {
	return s.conn.WriteJSON(msg)
}

// StreamSpeech implements dispatch.Sink: synthesizes text and relays the
// audio chunks to the client under the given message kind. Synthesis failures
// after the handshake are logged and swallowed; the client already has the
// text reply.
func (s *Session) StreamSpeech(ctx context.Context, text string, kind protocol.Type) error {
	apiKey, err := s.settings.ResolveKey(settings.KeyMurf)
	if err != nil {
		s.logger.Error().Err(err).Msg("No synthesis API key available")
		s.metrics.RecordError("missing_key", "tts")
		return s.Send(protocol.Error("No valid Murf API key found"))
	}

	snapshot := s.settings.Snapshot()
	voice := tts.VoiceConfig{
		VoiceID: snapshot.VoiceID,
		Style:   "Narration",
		Speed:   snapshot.PlaybackSpeed,
	}

	s.metrics.RecordTTSStart()
	chunks, err := s.tts.Synthesize(ctx, apiKey, text, voice)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start speech synthesis")
		s.metrics.RecordError("synthesis_failed", "tts")
		s.metrics.RecordTTSEnd(false)
		return nil
	}

	for chunk := range chunks {
		if chunk.Audio == "" {
			continue
		}
		if err := s.Send(protocol.Audio(kind, chunk.Audio, chunk.IsFinal)); err != nil {
			s.metrics.RecordTTSEnd(false)
			return err
		}
		s.metrics.RecordTTSBytes(len(chunk.Audio))
	}

	s.metrics.RecordTTSEnd(true)
	return nil
}

func (s *Session) send(msg protocol.Message) {
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write message")
	}
}

func (s *Session) sendText(text string) {
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write text frame")
	}
}

func (s *Session) closeBridge() {
	if s.bridge == nil {
		return
	}
	if err := s.bridge.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close transcription bridge")
	}
	s.bridge = nil
}
