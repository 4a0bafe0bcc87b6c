package relay

import (
	"encoding/json"
	"time"

	"github.com/echoshell-dev/echoshell/internal/logger"
	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

// FrameRouter is C5: parses inbound workstation frames and dispatches to
// the pending-request table, the stream registry, or tunnel bookkeeping
// (spec.md §4.4). Unknown types and malformed JSON are logged and
// dropped — the tunnel socket is never disconnected over a bad frame.
type FrameRouter struct {
	Tunnels *TunnelRegistry
	Pending *PendingRegistry
	Streams *StreamRegistry

	// RecognizeLegacyCompletion keeps recognizing a recording_output
	// frame with isComplete=true as an additional TTS trigger alongside
	// the canonical tts_ready frame (DESIGN.md Open Question 3).
	RecognizeLegacyCompletion bool
}

// Route handles one inbound frame from the workstation identified by
// tunnelID.
func (f *FrameRouter) Route(tunnelID string, data []byte) {
	var env wireproto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn("malformed frame", "tunnel", tunnelID, "err", err)
		return
	}

	switch env.Type {
	case wireproto.TypeHTTPResponse:
		f.routeHTTPResponse(data)
	case wireproto.TypeClientAuthKey:
		f.routeClientAuthKey(tunnelID, data)
	case wireproto.TypeTerminalOutput:
		f.routeTerminalOutput(tunnelID, data)
	case wireproto.TypeRecordingOutput:
		f.routeRecordingOutput(tunnelID, data)
	case wireproto.TypeTTSReady:
		f.routeTTSReady(tunnelID, data)
	case wireproto.TypeAgentEvent:
		f.routeAgentEvent(tunnelID, data)
	default:
		logger.Warn("unknown frame type", "type", env.Type, "tunnel", tunnelID)
	}
}

func (f *FrameRouter) routeHTTPResponse(data []byte) {
	var resp wireproto.HTTPResponseFrame
	if err := json.Unmarshal(data, &resp); err != nil {
		logger.Warn("malformed http_response", "err", err)
		return
	}
	if !f.Pending.Resolve(resp.RequestID, resp) {
		logger.Warn("duplicate or unknown request_id dropped", "request_id", resp.RequestID)
	}
}

func (f *FrameRouter) routeClientAuthKey(tunnelID string, data []byte) {
	var frame wireproto.ClientAuthKeyFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warn("malformed client_auth_key", "err", err)
		return
	}
	f.Tunnels.SetClientAuthKey(tunnelID, frame.Key)
}

func (f *FrameRouter) routeTerminalOutput(tunnelID string, data []byte) {
	var frame wireproto.TerminalOutputFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warn("malformed terminal_output", "err", err)
		return
	}

	streamKey := StreamKey(tunnelID, frame.SessionID, KindTerminal)

	var chatCheck struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(frame.Data), &chatCheck); err == nil && chatCheck.Type == "chat_message" {
		f.Streams.Broadcast(streamKey, []byte(frame.Data))
		return
	}

	out := wireproto.OutputBroadcast{
		Type:      "output",
		SessionID: frame.SessionID,
		Data:      frame.Data,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, _ := json.Marshal(out)
	f.Streams.Broadcast(streamKey, payload)
}

func (f *FrameRouter) routeRecordingOutput(tunnelID string, data []byte) {
	var frame wireproto.RecordingOutputFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warn("malformed recording_output", "err", err)
		return
	}

	complete := f.RecognizeLegacyCompletion && frame.IsComplete != nil && *frame.IsComplete
	if complete && frame.Text != "" {
		f.emitTTSReady(tunnelID, frame.SessionID, frame.Text, frame.Timestamp)
		return
	}

	out := wireproto.RecordingBroadcast{
		Type:       "recording_output",
		SessionID:  frame.SessionID,
		Text:       frame.Text,
		Delta:      frame.Delta,
		Timestamp:  frame.Timestamp,
		IsComplete: frame.IsComplete,
	}
	payload, _ := json.Marshal(out)
	f.broadcastRecording(tunnelID, frame.SessionID, payload)
}

func (f *FrameRouter) routeTTSReady(tunnelID string, data []byte) {
	var frame wireproto.TTSReadyFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warn("malformed tts_ready", "err", err)
		return
	}
	f.emitTTSReady(tunnelID, frame.SessionID, frame.Text, frame.Timestamp)
}

func (f *FrameRouter) emitTTSReady(tunnelID, sessionID, text string, timestamp int64) {
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}
	out := wireproto.TTSReadyBroadcast{
		Type:      "tts_ready",
		SessionID: sessionID,
		Text:      text,
		Timestamp: timestamp,
	}
	payload, _ := json.Marshal(out)
	f.broadcastRecording(tunnelID, sessionID, payload)
}

func (f *FrameRouter) routeAgentEvent(tunnelID string, data []byte) {
	var frame wireproto.AgentEventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warn("malformed agent_event", "err", err)
		return
	}
	payload, err := json.Marshal(frame.Event)
	if err != nil {
		return
	}
	f.Streams.Broadcast(StreamKey(tunnelID, "", KindAgent), payload)
}

// broadcastRecording fans out to both the WS recording stream and the
// SSE recording stream, which share the same payload shape (spec.md §6
// "GET /api/{tunnelId}/recording/{sessionId}/events").
func (f *FrameRouter) broadcastRecording(tunnelID, sessionID string, payload []byte) {
	f.Streams.Broadcast(StreamKey(tunnelID, sessionID, KindRecording), payload)
	f.Streams.Broadcast(StreamKey(tunnelID, sessionID, KindSSERecording), payload)
}
