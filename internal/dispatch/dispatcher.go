package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/novaflow/voice-agent/internal/history"
	"github.com/novaflow/voice-agent/internal/knowledge"
	"github.com/novaflow/voice-agent/internal/observability"
	"github.com/novaflow/voice-agent/internal/protocol"
	"github.com/novaflow/voice-agent/internal/search"
	"github.com/novaflow/voice-agent/internal/settings"
)

// System instructions by conversation type. Unknown types fall back to the
// gentle-guide persona.
var systemInstructions = map[string]string{
	"casual":    "You are a friendly and approachable assistant. Use simple, conversational language with a relaxed tone.",
	"formal":    "You are a professional assistant. Use clear, polite, and formal language in your responses.",
	"technical": "You are a technical expert. Provide detailed, precise, and technical responses suitable for advanced users.",
}

const defaultSystemInstruction = "You are a wise and gentle guide. Your tone is calm, clear, and comforting, like a thoughtful elder or a trusted friend. " +
	"You explain things in a simple way, sometimes using small analogies or everyday examples if they help. " +
	"Keep responses natural and conversational - never too formal, never dramatic, and not motivational. " +
	"The goal is to make the user feel relaxed, understood, and stress-free, while still giving useful and thoughtful answers."

var searchCues = []string{"search", "find", "look up"}

var emailCues = []string{"send to email", "email the summary"}

// Sink is the session-side surface a turn writes to. Send delivers one
// message to the client; StreamSpeech synthesizes text and relays the audio
// chunks under the given message kind.
type Sink interface {
	Send(msg protocol.Message) error
	StreamSpeech(ctx context.Context, text string, kind protocol.Type) error
}

// ReplyGenerator produces a complete reply for a prompt.
type ReplyGenerator interface {
	Generate(ctx context.Context, apiKey, systemInstruction string, parts []string) (string, error)
}

// Searcher runs one web-search query.
type Searcher interface {
	Search(ctx context.Context, apiKey, query string, maxResults int) ([]search.Result, error)
}

// Notifier delivers a reply to an outbound webhook.
type Notifier interface {
	Deliver(ctx context.Context, url, text string) error
}

// Request is one reply turn. Voice selects whether the reply is also
// synthesized and streamed back as audio.
type Request struct {
	ChatID string
	Text   string
	Voice  bool
}

// Dispatcher routes a finalized utterance through exactly one reply branch:
// web search when enabled and cued, otherwise model generation with optional
// knowledge-base context. All client traffic for the turn goes through the
// caller's Sink, so ordering follows the caller's writer.
type Dispatcher struct {
	settings *settings.Store
	kb       *knowledge.Store
	history  *history.Store
	llm      ReplyGenerator
	search   Searcher
	webhook  Notifier
	logger   zerolog.Logger
}

// New creates a dispatcher over the shared stores and service clients.
func New(
	settingsStore *settings.Store,
	kb *knowledge.Store,
	historyStore *history.Store,
	llm ReplyGenerator,
	searcher Searcher,
	webhook Notifier,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		settings: settingsStore,
		kb:       kb,
		history:  historyStore,
		llm:      llm,
		search:   searcher,
		webhook:  webhook,
		logger:   logger,
	}
}

// Dispatch runs one reply turn. Failures inside the turn are reported to the
// client as error messages and end the turn, never the connection; the
// returned error is only non-nil when writing to the sink itself fails.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, sink Sink, m *observability.Metrics) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return sink.Send(protocol.Error("Invalid query provided"))
	}

	if err := sink.Send(protocol.UserMessage(text, true)); err != nil {
		return err
	}

	geminiKey, err := d.settings.ResolveKey(settings.KeyGemini)
	if err != nil {
		d.logger.Error().Err(err).Msg("No Gemini API key available")
		m.RecordError("missing_key", "dispatch")
		return sink.Send(protocol.Error("No valid Gemini API key found"))
	}

	snapshot := d.settings.Snapshot()
	docs := d.kb.Snapshot()

	original := text
	if snapshot.IncludeKnowledgeBase {
		if rewritten := rewriteForKnowledge(text, docs); rewritten != text {
			d.logger.Info().Str("from", text).Str("to", rewritten).Msg("Rewrote query for knowledge base")
			text = rewritten
		}
	}

	if snapshot.EnableSearch && containsAny(strings.ToLower(text), searchCues) {
		return d.searchTurn(ctx, req, sink, m, snapshot, text, original)
	}
	return d.generateTurn(ctx, req, sink, m, snapshot, docs, geminiKey, text, original)
}

// searchTurn answers with a web-search summary instead of the model.
func (d *Dispatcher) searchTurn(
	ctx context.Context,
	req Request,
	sink Sink,
	m *observability.Metrics,
	snapshot settings.Settings,
	query, original string,
) error {
	tavilyKey, err := d.settings.ResolveKey(settings.KeyTavily)
	if err != nil {
		d.logger.Error().Err(err).Msg("No Tavily API key available")
		m.RecordError("missing_key", "search")
		m.RecordTurn("search", false)
		return sink.Send(protocol.Error("No valid Tavily API key found"))
	}

	results, err := d.search.Search(ctx, tavilyKey, query, snapshot.MaxSearchResults)
	if err != nil {
		d.logger.Error().Err(err).Str("query", query).Msg("Web search failed")
		m.RecordError("search_failed", "search")
		m.RecordTurn("search", false)
		return sink.Send(protocol.Error("Unable to perform web search at the moment"))
	}

	summary := search.Summarize(results)

	if req.Voice {
		if err := sink.StreamSpeech(ctx, summary, protocol.TypeAudio); err != nil {
			return err
		}
	}

	d.persist(req.ChatID, original, summary)
	if err := sink.Send(protocol.SearchResult(summary)); err != nil {
		return err
	}

	if err := d.notify(ctx, sink, m, original, summary); err != nil {
		return err
	}

	m.RecordTurn("search", true)
	return nil
}

// generateTurn answers with a model reply, optionally grounded on the
// knowledge base.
func (d *Dispatcher) generateTurn(
	ctx context.Context,
	req Request,
	sink Sink,
	m *observability.Metrics,
	snapshot settings.Settings,
	docs map[string]string,
	geminiKey, query, original string,
) error {
	instruction, ok := systemInstructions[snapshot.ConversationType]
	if !ok {
		instruction = defaultSystemInstruction
	}

	parts := []string{query}
	if snapshot.IncludeKnowledgeBase && len(docs) > 0 {
		parts = append(parts, knowledgeContext(docs))
	}

	m.RecordLLMStart()
	reply, err := d.llm.Generate(ctx, geminiKey, instruction, parts)
	m.RecordLLMEnd()
	if err != nil {
		d.logger.Error().Err(err).Msg("Reply generation failed")
		m.RecordError("generation_failed", "llm")
		m.RecordTurn("generate", false)
		return sink.Send(protocol.Error(fmt.Sprintf("Error processing response: %v", err)))
	}

	if req.Voice {
		if err := sink.StreamSpeech(ctx, reply, protocol.TypeAudio); err != nil {
			return err
		}
	}

	d.persist(req.ChatID, original, reply)
	if err := sink.Send(protocol.Response(reply)); err != nil {
		return err
	}

	if err := d.notify(ctx, sink, m, original, reply); err != nil {
		return err
	}

	m.RecordTurn("generate", true)
	return nil
}

// persist appends the exchange to chat history when auto-save is enabled.
// History failures are logged, not surfaced: losing a record should not break
// the conversation.
func (d *Dispatcher) persist(chatID, query, reply string) {
	if !d.settings.Snapshot().AutoSaveHistory {
		d.logger.Debug().Str("chat_id", chatID).Msg("Chat history saving disabled")
		return
	}
	if err := d.history.Append(chatID, query, reply); err != nil {
		d.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to save chat history")
	}
}

// notify forwards the reply to the configured webhook when the user asked for
// it in the original utterance.
func (d *Dispatcher) notify(ctx context.Context, sink Sink, m *observability.Metrics, original, reply string) error {
	if !containsAny(strings.ToLower(original), emailCues) {
		return nil
	}

	webhookURL, err := d.settings.ResolveKey(settings.KeyZapier)
	if err != nil {
		d.logger.Error().Err(err).Msg("No webhook URL available")
		m.RecordError("missing_key", "webhook")
		return sink.Send(protocol.Error("No valid Zapier webhook URL found"))
	}

	if err := d.webhook.Deliver(ctx, webhookURL, reply); err != nil {
		d.logger.Error().Err(err).Msg("Webhook delivery failed")
		m.RecordError("delivery_failed", "webhook")
		return sink.Send(protocol.Error("Failed to send email"))
	}

	return sink.Send(protocol.Zapier("Email sent successfully"))
}

// rewriteForKnowledge turns a summary request into an explicit file-summary
// prompt when the query mentions a stored document by name. Document names
// are checked in sorted order so the rewrite is deterministic.
func rewriteForKnowledge(query string, docs map[string]string) string {
	if !strings.Contains(strings.ToLower(query), "summary") {
		return query
	}

	queryWords := wordSet(query)

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		for word := range wordSet(base) {
			if queryWords[word] {
				return fmt.Sprintf("Summarize the content of the file '%s'", name)
			}
		}
	}
	return query
}

// knowledgeContext flattens the document snapshot into one prompt part,
// bounding each document to its first 2000 characters. Documents are emitted
// in sorted order.
func knowledgeContext(docs map[string]string) string {
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("\n\nKnowledge Base Content:\n")
	for _, name := range names {
		content := docs[name]
		if len(content) > 2000 {
			content = content[:2000]
		}
		fmt.Fprintf(&b, "\nFile: %s\n%s...\n", name, content)
	}
	return b.String()
}

// wordSet lowercases s, strips punctuation and returns its words as a set.
func wordSet(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
