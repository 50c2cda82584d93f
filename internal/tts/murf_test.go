package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/novaflow/voice-agent/internal/config"
)

func testConfig(wsURL string) *config.Config {
	return &config.Config{
		MurfWSURL:           wsURL,
		MurfContextID:       "test_context",
		TTSFirstReadTimeout: 2,
		TTSReadTimeout:      2,
	}
}

// fakeMurfServer accepts one synthesis connection, validates the handshake
// against the raw wire format and streams the given response frames. Frames
// are literal JSON text so a struct-tag mismatch on either side fails the
// test instead of round-tripping silently.
func fakeMurfServer(t *testing.T, responses []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	readRaw := func(conn *websocket.Conn) (map[string]interface{}, bool) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("Failed to read handshake frame: %v", err)
			return nil, false
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Errorf("Handshake frame is not JSON: %q", data)
			return nil, false
		}
		return decoded, true
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-key") == "" {
			t.Error("Expected api-key query parameter")
		}
		if r.URL.Query().Get("context_id") != "test_context" {
			t.Errorf("Expected context_id 'test_context', got %q", r.URL.Query().Get("context_id"))
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		init, ok := readRaw(conn)
		if !ok {
			return
		}
		if init["init"] != true {
			t.Errorf("Expected init frame, got %v", init)
		}

		voice, ok := readRaw(conn)
		if !ok {
			return
		}
		vc, ok := voice["voice_config"].(map[string]interface{})
		if !ok {
			t.Errorf("Expected voice_config frame, got %v", voice)
			return
		}
		if vc["voiceId"] != "en-IN-alia" {
			t.Errorf("Expected voiceId 'en-IN-alia', got %v", vc["voiceId"])
		}
		if _, ok := vc["speed"]; !ok {
			t.Errorf("Expected speed in voice config, got %v", vc)
		}

		text, ok := readRaw(conn)
		if !ok {
			return
		}
		if text["text"] != "hello there" {
			t.Errorf("Expected text 'hello there', got %v", text["text"])
		}

		for _, resp := range responses {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestMurfClient_Synthesize(t *testing.T) {
	srv := fakeMurfServer(t, []string{
		`{"audio":"AAAA","is_final":false}`,
		`{"audio":"BBBB","is_final":false}`,
		`{"audio":"","is_final":true}`,
	})
	defer srv.Close()

	client := NewMurfClient(testConfig(wsURL(srv)), zerolog.Nop())
	chunks, err := client.Synthesize(context.Background(), "key", "hello there", VoiceConfig{
		VoiceID: "en-IN-alia",
		Style:   "Narration",
		Speed:   1.0,
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	var got []Chunk
	for chunk := range chunks {
		got = append(got, chunk)
	}

	if len(got) != 3 {
		t.Fatalf("Expected 3 chunks, got %d: %+v", len(got), got)
	}
	if got[0].Audio != "AAAA" || got[0].IsFinal {
		t.Errorf("Unexpected first chunk: %+v", got[0])
	}
	if got[1].Audio != "BBBB" || got[1].IsFinal {
		t.Errorf("Unexpected second chunk: %+v", got[1])
	}
	if !got[2].IsFinal {
		t.Errorf("Expected final marker on last chunk, got %+v", got[2])
	}
}

func TestMurfClient_SynthesizeFinalWithAudio(t *testing.T) {
	srv := fakeMurfServer(t, []string{
		`{"audio":"AAAA","is_final":false}`,
		`{"audio":"BBBB","is_final":true}`,
	})
	defer srv.Close()

	client := NewMurfClient(testConfig(wsURL(srv)), zerolog.Nop())
	chunks, err := client.Synthesize(context.Background(), "key", "hello there", VoiceConfig{
		VoiceID: "en-IN-alia",
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	var got []Chunk
	for chunk := range chunks {
		got = append(got, chunk)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(got))
	}
	if !got[1].IsFinal || got[1].Audio != "BBBB" {
		t.Errorf("Expected final chunk with audio, got %+v", got[1])
	}
}

func TestMurfClient_SynthesizeConnectError(t *testing.T) {
	client := NewMurfClient(testConfig("ws://127.0.0.1:1"), zerolog.Nop())
	if _, err := client.Synthesize(context.Background(), "key", "hello there", VoiceConfig{}); err == nil {
		t.Error("Expected connection error")
	}
}

func TestMurfClient_SynthesizeTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Read the handshake but never send audio back.
		for i := 0; i < 3; i++ {
			var v map[string]interface{}
			if err := conn.ReadJSON(&v); err != nil {
				return
			}
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.TTSFirstReadTimeout = 1

	client := NewMurfClient(cfg, zerolog.Nop())
	chunks, err := client.Synthesize(context.Background(), "key", "hi", VoiceConfig{})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	count := 0
	for range chunks {
		count++
	}
	if count != 0 {
		t.Errorf("Expected no chunks on timeout, got %d", count)
	}
}
