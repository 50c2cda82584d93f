package tts

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/novaflow/voice-agent/internal/config"
)

// Chunk is one base64-encoded audio fragment from the synthesis stream.
type Chunk struct {
	Audio   string
	IsFinal bool
}

// VoiceConfig selects the synthesis voice for one request.
type VoiceConfig struct {
	VoiceID string
	Style   string
	Speed   float64
}

// MurfClient streams synthesized speech over Murf's websocket API. Each
// Synthesize call opens a fresh connection, sends the handshake frames and
// relays audio chunks until the service marks the stream final.
type MurfClient struct {
	config *config.Config
	logger zerolog.Logger
}

// NewMurfClient creates a synthesis client.
func NewMurfClient(cfg *config.Config, logger zerolog.Logger) *MurfClient {
	return &MurfClient{config: cfg, logger: logger}
}

type murfInitFrame struct {
	Init bool `json:"init"`
}

type murfVoiceFrame struct {
	VoiceConfig murfVoiceConfig `json:"voice_config"`
}

type murfVoiceConfig struct {
	VoiceID string  `json:"voiceId"`
	Style   string  `json:"style"`
	Speed   float64 `json:"speed"`
}

type murfTextFrame struct {
	Text string `json:"text"`
}

type murfResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"is_final"`
}

// Synthesize opens a synthesis stream for the given text and returns a channel
// of ordered audio chunks. The channel is closed when the stream ends, errors
// out or the context is cancelled. Connection and handshake failures are
// returned synchronously; read failures after the first chunk terminate the
// stream silently because partial audio has already been relayed.
func (m *MurfClient) Synthesize(ctx context.Context, apiKey, text string, voice VoiceConfig) (<-chan Chunk, error) {
	wsURL, err := m.buildURL(apiKey)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to synthesis service: %w", err)
	}

	if err := m.handshake(conn, text, voice); err != nil {
		conn.Close()
		return nil, err
	}

	chunks := make(chan Chunk, 16)
	go m.readLoop(ctx, conn, chunks)
	return chunks, nil
}

func (m *MurfClient) buildURL(apiKey string) (string, error) {
	u, err := url.Parse(m.config.MurfWSURL)
	if err != nil {
		return "", fmt.Errorf("invalid synthesis service URL: %w", err)
	}

	q := u.Query()
	q.Set("api-key", apiKey)
	q.Set("context_id", m.config.MurfContextID)
	q.Set("format", "WAV")
	q.Set("sample_rate", "44100")
	q.Set("channel_type", "MONO")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *MurfClient) handshake(conn *websocket.Conn, text string, voice VoiceConfig) error {
	if err := conn.WriteJSON(murfInitFrame{Init: true}); err != nil {
		return fmt.Errorf("failed to send synthesis init frame: %w", err)
	}

	voiceFrame := murfVoiceFrame{
		VoiceConfig: murfVoiceConfig{
			VoiceID: voice.VoiceID,
			Style:   voice.Style,
			Speed:   voice.Speed,
		},
	}
	if err := conn.WriteJSON(voiceFrame); err != nil {
		return fmt.Errorf("failed to send voice config: %w", err)
	}

	if err := conn.WriteJSON(murfTextFrame{Text: text}); err != nil {
		return fmt.Errorf("failed to send synthesis text: %w", err)
	}
	return nil
}

// readLoop relays chunks until the stream is marked final or a read deadline
// expires. The first read gets a longer deadline because the service needs
// time to start synthesis.
func (m *MurfClient) readLoop(ctx context.Context, conn *websocket.Conn, chunks chan<- Chunk) {
	defer close(chunks)
	defer conn.Close()

	firstRead := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		timeout := time.Duration(m.config.TTSReadTimeout) * time.Second
		if firstRead {
			timeout = time.Duration(m.config.TTSFirstReadTimeout) * time.Second
		}
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to set synthesis read deadline")
			return
		}

		var resp murfResponse
		if err := conn.ReadJSON(&resp); err != nil {
			if firstRead {
				m.logger.Warn().Err(err).Msg("Synthesis stream produced no audio")
			} else {
				m.logger.Debug().Err(err).Msg("Synthesis stream ended")
			}
			return
		}
		firstRead = false

		// The service occasionally sends frames with no audio payload;
		// only the final marker on them matters.
		if resp.Audio != "" {
			select {
			case chunks <- Chunk{Audio: resp.Audio, IsFinal: resp.IsFinal}:
			case <-ctx.Done():
				return
			}
		} else if resp.IsFinal {
			select {
			case chunks <- Chunk{IsFinal: true}:
			case <-ctx.Done():
			}
			return
		}

		if resp.IsFinal {
			return
		}
	}
}
