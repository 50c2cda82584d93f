package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/novaflow/voice-agent/internal/config"
	"github.com/novaflow/voice-agent/internal/observability"
	"github.com/novaflow/voice-agent/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramBridge implements Bridge over Deepgram's streaming API. SDK
// callbacks run on the SDK's own goroutine; every event is converted to an
// Event and pushed onto a bounded channel that the session drains in order.
type DeepgramBridge struct {
	config *config.Config
	apiKey string
	logger zerolog.Logger

	client         *listenClient.WSCallback
	events         chan Event
	mu             sync.RWMutex
	isActive       bool
	eventsClosed   bool
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
}

// NewDeepgramBridge creates a bridge for one session. The connection is not
// opened until Start.
func NewDeepgramBridge(cfg *config.Config, apiKey string, logger zerolog.Logger) *DeepgramBridge {
	ctx, cancel := context.WithCancel(context.Background())

	return &DeepgramBridge{
		config: cfg,
		apiKey: apiKey,
		logger: logger,
		events: make(chan Event, 100),
		ctx:    ctx,
		cancel: cancel,
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Start opens the Deepgram streaming connection for one recording turn.
func (d *DeepgramBridge) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("transcription bridge is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		Encoding:       "linear16",
		Channels:       d.config.Channels,
		SampleRate:     d.config.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().
				Str("error", fmt.Sprintf("%+v", errorResponse)).
				Msg("Transcription stream error")

			d.circuitBreaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
			observability.IncrementCircuitBreakerFailures("deepgram")

			d.push(Event{Kind: EventError, Err: fmt.Sprintf("Streaming error: %s", errorResponse.ErrMsg)})

			select {
			case <-d.ctx.Done():
				return nil
			default:
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()
				go d.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.apiKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}

	d.client = client
	d.isActive = true

	d.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Int("sample_rate", d.config.SampleRate).
		Msg("Transcription bridge started")
	return nil
}

// handleMessage converts a Deepgram result into a transcript event. It runs
// on the SDK's goroutine and must only touch the events channel.
func (d *DeepgramBridge) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		if text == "" {
			return
		}

		kind := EventPartial
		if msg.IsFinal {
			kind = EventFinal
		}
		d.push(Event{Kind: kind, Text: text})

	case "SpeechStarted", "UtteranceEnd", "Metadata":
		d.logger.Debug().Str("type", msg.Type).Msg("Transcription lifecycle message")

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Unknown transcription message type")
	}
}

// push enqueues an event without blocking the delivery goroutine. Events are
// dropped once the bridge is closed, or if the session has stopped draining
// entirely. The read lock is held across the send so Close cannot close the
// channel mid-push.
func (d *DeepgramBridge) push(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.eventsClosed {
		return
	}

	select {
	case d.events <- ev:
	default:
		d.logger.Warn().Str("kind", ev.Kind.String()).Msg("Event channel full, dropping transcript event")
	}
}

// SendAudio sends one flushed audio batch to Deepgram.
func (d *DeepgramBridge) SendAudio(audio []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("transcription bridge is not active")
		}

		if _, err := client.Write(audio); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to transcription service: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}
	return err
}

func (d *DeepgramBridge) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()
	if alreadyActive {
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	if err := resilience.Reconnect(d.ctx, d.Start, reconnectConfig); err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect transcription bridge")
	} else {
		d.logger.Info().Msg("Reconnected transcription bridge")
	}
}

// Events returns the ordered transcript event channel.
func (d *DeepgramBridge) Events() <-chan Event {
	return d.events
}

// Stop finishes the current turn. Deepgram flushes pending results, which
// still arrive through the events channel after Stop returns.
func (d *DeepgramBridge) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Transcription bridge stopped")
	return nil
}

// Close stops the bridge and cancels any reconnection attempts. The events
// channel is closed shortly after to let pending reads drain.
func (d *DeepgramBridge) Close() error {
	d.cancel()

	if err := d.Stop(); err != nil {
		return err
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		d.mu.Lock()
		defer d.mu.Unlock()
		if !d.eventsClosed {
			d.eventsClosed = true
			close(d.events)
		}
	}()
	return nil
}
