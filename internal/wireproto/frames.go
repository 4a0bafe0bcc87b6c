// Package wireproto defines the JSON frame types exchanged on the single
// tunnel WebSocket between relay and workstation, and the AgentEvent
// envelope exchanged on the mobile-facing agent WebSocket. Every frame is
// one JSON object per WS message with a "type" discriminator field —
// field names are snake_case on the wire.
package wireproto

import "encoding/json"

// Frame type discriminators for the relay↔workstation tunnel socket.
const (
	TypeHTTPRequest   = "http_request"
	TypeHTTPResponse  = "http_response"
	TypeClientAuthKey = "client_auth_key"
	TypeTerminalOutput = "terminal_output"
	TypeTerminalInput  = "terminal_input"
	TypeRecordingOutput = "recording_output"
	TypeTTSReady        = "tts_ready"
	TypeAgentRequest    = "agent_request"
	TypeAgentEvent      = "agent_event"
)

// Envelope carries only the discriminator; unmarshal into this first to
// decide which concrete type to decode into next.
type Envelope struct {
	Type string `json:"type"`
}

// HTTPRequestFrame asks the workstation to serve one proxied HTTP call
// (spec.md §4.4).
type HTTPRequestFrame struct {
	Type      string              `json:"type"`
	RequestID string              `json:"request_id"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Body      string              `json:"body,omitempty"` // base64-encoded
	Query     string              `json:"query,omitempty"`
}

// HTTPResponseFrame answers a prior HTTPRequestFrame.
type HTTPResponseFrame struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"` // base64-encoded
}

// ClientAuthKeyFrame registers the workstation-owned bearer key mobile
// must present on proxied calls (spec.md §3 Tunnel.clientAuthKey).
type ClientAuthKeyFrame struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// TerminalOutputFrame carries raw PTY bytes (or a pre-wrapped chat
// message JSON string) from workstation to relay, for display fan-out.
type TerminalOutputFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// TerminalInputFrame carries keystrokes from relay to workstation,
// forwarded from a mobile terminal-stream subscriber's {"type":"input"}
// message (spec.md §6).
type TerminalInputFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// RecordingOutputFrame carries a recording-stream delta or completion
// from workstation to relay (spec.md §4.4, §4.9).
type RecordingOutputFrame struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Text       string `json:"text"`
	Delta      string `json:"delta,omitempty"`
	Raw        string `json:"raw,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	IsComplete *bool  `json:"is_complete,omitempty"`
}

// TTSReadyFrame marks the accumulated assistant text for a command final
// and ready to synthesize (spec.md §4.4, Glossary "TTS-ready").
type TTSReadyFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// AgentRequestFrame wraps a mobile agent-WS payload for the workstation
// (spec.md §6 "/api/{tunnelId}/agent/ws").
type AgentRequestFrame struct {
	Type      string          `json:"type"`
	TunnelID  string          `json:"tunnel_id"`
	StreamKey string          `json:"stream_key"`
	Payload   json.RawMessage `json:"payload"`
}

// OutputBroadcast is what relay fans out to terminal-stream subscribers
// for non-chat-message terminal_output frames (spec.md §4.4).
type OutputBroadcast struct {
	Type      string `json:"type"` // "output"
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// RecordingBroadcast is what relay fans out to recording-stream
// subscribers (both WS and SSE) for recording_output frames that did not
// resolve to tts_ready.
type RecordingBroadcast struct {
	Type       string `json:"type"` // "recording_output"
	SessionID  string `json:"session_id"`
	Text       string `json:"text"`
	Delta      string `json:"delta,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	IsComplete *bool  `json:"is_complete,omitempty"`
}

// TTSReadyBroadcast is what relay fans out to recording-stream
// subscribers for tts_ready frames and for recording_output frames with
// IsComplete true and non-empty text (spec.md §4.4).
type TTSReadyBroadcast struct {
	Type      string `json:"type"` // "tts_ready"
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// AgentEventFrame carries one AgentEvent from workstation to relay over
// the tunnel socket for fan-out to agent-stream subscribers. "agent_event"
// is not in spec.md §6's required minimum frame set but completes the
// round trip §4.10 describes, by the same symmetry as terminal_output
// and recording_output.
type AgentEventFrame struct {
	Type  string     `json:"type"` // TypeAgentEvent
	Event AgentEvent `json:"event"`
}

// AgentEvent is the discriminated-union wire shape for the mobile-facing
// agent stream (spec.md §3 "AgentEvent (wire)"). Payload is kept as raw
// JSON so the common envelope can be decoded without knowing the tag in
// advance; callers re-decode Payload into the concrete type their tag
// implies.
type AgentEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	MessageID string          `json:"message_id"`
	ParentID  string          `json:"parent_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AgentEvent type tags (spec.md §3, §4.10).
const (
	EventCommandText      = "command_text"
	EventCommandVoice      = "command_voice"
	EventContextReset      = "context_reset"
	EventTranscription     = "transcription"
	EventAssistantMessage  = "assistant_message"
	EventTTSAudio          = "tts_audio"
	EventCompletion        = "completion"
	EventError             = "error"
)

// CommandTextPayload is the payload of a command_text AgentEvent sent by
// mobile.
type CommandTextPayload struct {
	Command    string `json:"command"`
	TTSEnabled bool   `json:"tts_enabled,omitempty"`
}

// CommandVoicePayload is the payload of a command_voice AgentEvent.
type CommandVoicePayload struct {
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
}

// TranscriptionPayload reports STT output for a command_voice turn.
type TranscriptionPayload struct {
	Text string `json:"text"`
}

// AssistantMessagePayload streams assistant text for the current turn;
// IsFinal marks the last chunk.
type AssistantMessagePayload struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// TTSAudioPayload carries synthesized speech for the turn's final
// assistant text.
type TTSAudioPayload struct {
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
	DurationMS  int    `json:"duration_ms"`
	Transcript  string `json:"transcript"`
}

// CompletionPayload marks the end of a turn.
type CompletionPayload struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload reports a handler exception for the current turn.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
