// Package agentevents implements the Agent Event Handler (spec.md
// §4.10): it owns each session's conversation history and turns one
// inbound AgentEvent into the transcribe → execute → synthesize → emit
// pipeline, in the order the mobile client expects.
package agentevents

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/echoshell-dev/echoshell/internal/history"
	"github.com/echoshell-dev/echoshell/internal/interfaces"
	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

// Runner executes one command turn and returns the assistant's final
// text. Two concrete shapes satisfy it: a headless-CLI-backed session
// (spec.md §4.7) and a direct LLM call for the PTY-less "agent" session
// type (spec.md §4.10: "run executor (§4.7 or direct LLM)").
type Runner interface {
	Run(ctx context.Context, sessionID, command string, history []interfaces.Turn) (string, error)
}

// HistoryStore is the slice of internal/history.Store the handler needs,
// narrowed so tests can substitute a fake.
type HistoryStore interface {
	CreateSession(ctx context.Context, sessionID string) error
	AddMessage(ctx context.Context, msg history.Message) error
	GetChatHistory(ctx context.Context, sessionID string) ([]history.Message, error)
	ClearHistory(ctx context.Context, sessionID string) error
}

// Handler is C11.
type Handler struct {
	Runner      Runner
	Transcriber interfaces.Transcriber // STT, used by command_voice
	Synthesizer interfaces.Synthesizer // TTS, best-effort
	History     HistoryStore

	// Emit sends one AgentEvent out on the mobile-facing agent stream.
	// Never called concurrently for the same sessionID — the handler
	// processes one turn at a time per session.
	Emit func(event wireproto.AgentEvent)
}

// wordsPerMinute backs the duration estimate spec.md §4.10 specifies:
// chars/5/150*60_000 ms, i.e. 150 words/minute at 5 chars/word.
const wordsPerMinute = 150

// HandleEvent dispatches one inbound AgentEvent per spec.md §4.10's
// per-type pipeline. Any error from decoding the payload or running the
// turn is reported as an error event followed by a failed completion,
// rather than propagated to the caller — a malformed or failing turn
// must never take down the agent stream.
func (h *Handler) HandleEvent(ctx context.Context, sessionID string, event wireproto.AgentEvent) {
	switch event.Type {
	case wireproto.EventCommandText:
		var payload wireproto.CommandTextPayload
		if err := decodePayload(event.Payload, &payload); err != nil {
			h.fail(sessionID, event.MessageID, "bad_payload", err)
			return
		}
		h.runTurn(ctx, sessionID, event.MessageID, payload.Command, payload.TTSEnabled)

	case wireproto.EventCommandVoice:
		var payload wireproto.CommandVoicePayload
		if err := decodePayload(event.Payload, &payload); err != nil {
			h.fail(sessionID, event.MessageID, "bad_payload", err)
			return
		}
		audio, err := decodeAudio(payload.AudioBase64)
		if err != nil {
			h.fail(sessionID, event.MessageID, "bad_audio", err)
			return
		}
		if h.Transcriber == nil {
			h.fail(sessionID, event.MessageID, "no_transcriber", fmt.Errorf("speech-to-text not configured"))
			return
		}
		text, err := h.Transcriber.Transcribe(ctx, audio, payload.Format)
		if err != nil {
			h.fail(sessionID, event.MessageID, "transcribe_failed", err)
			return
		}
		h.send(sessionID, event.MessageID, wireproto.EventTranscription, wireproto.TranscriptionPayload{Text: text})
		h.runTurn(ctx, sessionID, event.MessageID, text, true)

	case wireproto.EventContextReset:
		if h.History != nil {
			if err := h.History.ClearHistory(ctx, sessionID); err != nil {
				h.fail(sessionID, event.MessageID, "context_reset_failed", err)
				return
			}
		}
		h.send(sessionID, event.MessageID, wireproto.EventCompletion, wireproto.CompletionPayload{Success: true, Result: "Context reset"})

	default:
		h.fail(sessionID, event.MessageID, "unknown_event_type", fmt.Errorf("unrecognized agent event type %q", event.Type))
	}
}

// runTurn is the shared tail of command_text and command_voice: append
// user turn, run the executor, stream the final assistant message,
// best-effort synthesize, then complete.
func (h *Handler) runTurn(ctx context.Context, sessionID, parentID, command string, ttsEnabled bool) {
	if h.History != nil {
		h.History.AddMessage(ctx, history.Message{SessionID: sessionID, Type: history.MessageUser, Content: command})
	}

	turns := h.conversationTurns(ctx, sessionID)

	if h.Runner == nil {
		h.fail(sessionID, parentID, "no_runner", fmt.Errorf("no command runner configured"))
		return
	}
	text, err := h.Runner.Run(ctx, sessionID, command, turns)
	if err != nil {
		h.fail(sessionID, parentID, "execution_failed", err)
		return
	}

	if h.History != nil {
		h.History.AddMessage(ctx, history.Message{SessionID: sessionID, Type: history.MessageAssistant, Content: text})
	}
	h.send(sessionID, parentID, wireproto.EventAssistantMessage, wireproto.AssistantMessagePayload{Text: text, IsFinal: true})

	if ttsEnabled {
		h.synthesize(ctx, sessionID, parentID, text)
	}

	h.send(sessionID, parentID, wireproto.EventCompletion, wireproto.CompletionPayload{Success: true, Text: text})
}

// synthesize is best-effort: a TTS failure never fails the turn
// (spec.md §4.10), it just means no tts_audio event is emitted.
func (h *Handler) synthesize(ctx context.Context, sessionID, parentID, text string) {
	if h.Synthesizer == nil {
		return
	}
	result, err := h.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		return
	}
	duration := result.DurationMS
	if duration == 0 {
		duration = EstimateSpeechDurationMS(text)
	}
	format := result.Format
	if format == "" {
		format = "mp3"
	}
	h.send(sessionID, parentID, wireproto.EventTTSAudio, wireproto.TTSAudioPayload{
		AudioBase64: result.AudioBase64,
		Format:      format,
		DurationMS:  duration,
		Transcript:  text,
	})
}

// EstimateSpeechDurationMS is spec.md §4.10's fallback: chars/5/150wpm,
// in milliseconds, used when a synthesizer doesn't report its own
// duration.
func EstimateSpeechDurationMS(text string) int {
	words := float64(len(text)) / 5.0
	minutes := words / wordsPerMinute
	return int(minutes * 60_000)
}

func (h *Handler) conversationTurns(ctx context.Context, sessionID string) []interfaces.Turn {
	if h.History == nil {
		return nil
	}
	msgs, err := h.History.GetChatHistory(ctx, sessionID)
	if err != nil {
		return nil
	}
	turns := make([]interfaces.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Type == history.MessageAssistant {
			role = "assistant"
		}
		turns = append(turns, interfaces.Turn{Role: role, Content: m.Content})
	}
	return turns
}

func (h *Handler) fail(sessionID, parentID, code string, err error) {
	h.send(sessionID, parentID, wireproto.EventError, wireproto.ErrorPayload{Code: code, Message: err.Error()})
	h.send(sessionID, parentID, wireproto.EventCompletion, wireproto.CompletionPayload{Success: false, Error: err.Error()})
}

func (h *Handler) send(sessionID, parentID, eventType string, payload any) {
	if h.Emit == nil {
		return
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return
	}
	h.Emit(wireproto.AgentEvent{
		Type:      eventType,
		SessionID: sessionID,
		MessageID: uuid.NewString(),
		ParentID:  parentID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	})
}

func decodeAudio(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, v)
}

func marshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
