package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/echoshell-dev/echoshell/internal/logger"
	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

// Config is the relay's external surface (spec.md §6 CLI surface).
type Config struct {
	Port                 string
	PublicHost           string
	PublicProtocol       string // "http" or "https"
	RegistrationAPIKey   string
	LogLevel             string
	BandwidthBytesPerSec int
	BandwidthBurst       int
}

// Server wires the relay's registries and handlers behind an
// http.ServeMux (spec.md §6 HTTP/WS surface).
type Server struct {
	Config    Config
	Tunnels   *TunnelRegistry
	Streams   *StreamRegistry
	Pending   *PendingRegistry
	Bandwidth *BandwidthMeter
	router    *FrameRouter
	startedAt time.Time
}

func NewServer(cfg Config) *Server {
	tunnels := NewTunnelRegistry()
	streams := NewStreamRegistry()
	pending := NewPendingRegistry()
	s := &Server{
		Config:    cfg,
		Tunnels:   tunnels,
		Streams:   streams,
		Pending:   pending,
		Bandwidth: NewBandwidthMeter(cfg.BandwidthBytesPerSec, cfg.BandwidthBurst),
		router: &FrameRouter{
			Tunnels:                   tunnels,
			Pending:                   pending,
			Streams:                   streams,
			RecognizeLegacyCompletion: true,
		},
		startedAt: time.Now(),
	}
	return s
}

// Handler builds the routed http.Handler for the relay (Go 1.22+
// ServeMux method+wildcard patterns; the literal SSE path below wins
// over the shorter /api/{tunnelId}/ wildcard by net/http's
// longest-match rule).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tunnel/create", s.handleTunnelCreate)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/tunnel/{tunnelId}", s.handleWorkstationWS)
	mux.HandleFunc("GET /api/{tunnelId}/recording/{sessionId}/events", s.handleRecordingSSE)
	mux.HandleFunc("GET /api/{tunnelId}/terminal/{sessionId}/stream", s.handleTerminalWS)
	mux.HandleFunc("GET /api/{tunnelId}/recording/{sessionId}/stream", s.handleRecordingWS)
	mux.HandleFunc("GET /api/{tunnelId}/agent/ws", s.handleAgentWS)
	mux.HandleFunc("/api/{tunnelId}/", s.handleProxy)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"tunnels": s.Tunnels.Count(),
		"uptime":  int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleTunnelCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedRegistration(r) {
		writeError(w, http.StatusUnauthorized, "invalid registration key")
		return
	}

	var body struct {
		Name     string `json:"name"`
		TunnelID string `json:"tunnel_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	isRestored := body.TunnelID != ""
	tunnelID := body.TunnelID
	if tunnelID == "" {
		tunnelID = randomHex(8)
	}
	apiKey := randomHex(32)
	s.Tunnels.Create(tunnelID, apiKey)

	wsProto := "ws"
	if s.Config.PublicProtocol == "https" {
		wsProto = "wss"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"config": map[string]any{
			"tunnelId":   tunnelID,
			"apiKey":     apiKey,
			"publicUrl":  fmt.Sprintf("%s://%s/api/%s", s.Config.PublicProtocol, s.Config.PublicHost, tunnelID),
			"wsUrl":      fmt.Sprintf("%s://%s/tunnel/%s", wsProto, s.Config.PublicHost, tunnelID),
			"isRestored": isRestored,
		},
	})
}

func (s *Server) authorizedRegistration(r *http.Request) bool {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return key != "" && key == s.Config.RegistrationAPIKey
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// handleWorkstationWS accepts the workstation's tunnel socket (spec.md
// §6 "/tunnel/{tunnelId}?api_key=…").
func (s *Server) handleWorkstationWS(w http.ResponseWriter, r *http.Request) {
	tunnelID := r.PathValue("tunnelId")
	apiKey := r.URL.Query().Get("api_key")

	tunnel, ok := s.Tunnels.Get(tunnelID)
	if !ok || apiKey == "" || apiKey != tunnel.ConnectionAPIKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(context.Background())
	tunnel = s.Tunnels.Register(tunnelID, conn, cancel)

	hb := NewHeartbeat(
		func(pingCtx context.Context) error {
			if err := conn.Ping(pingCtx); err != nil {
				return err
			}
			tunnel.touchPong()
			return nil
		},
		tunnel.LastPongAt,
		func() {
			cancel()
			conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
			s.Bandwidth.Release(tunnelID)
		},
	)
	go hb.Run(ctx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		tunnel.touchPong()
		s.router.Route(tunnelID, data)
	}
}

// handleProxy implements C4 for any method on /api/{tunnelId}/*, except
// the literal sub-paths registered separately above.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	tunnelID := r.PathValue("tunnelId")
	prefix := "/api/" + tunnelID
	path := strings.TrimPrefix(r.URL.Path, prefix)

	handler := &ProxyHandler{Tunnels: s.Tunnels, Pending: s.Pending, Bandwidth: s.Bandwidth}
	handler.ServeHTTP(w, r, tunnelID, path)
}

// handleRecordingSSE implements spec.md §6's SSE recording endpoint.
func (s *Server) handleRecordingSSE(w http.ResponseWriter, r *http.Request) {
	tunnelID := r.PathValue("tunnelId")
	sessionID := r.PathValue("sessionId")

	tunnel, ok := s.Tunnels.Get(tunnelID)
	if !ok {
		writeError(w, http.StatusNotFound, "tunnel not found")
		return
	}
	if r.Header.Get("X-Laptop-Auth-Key") != tunnel.ClientAuthKey() {
		writeError(w, http.StatusUnauthorized, "invalid laptop auth key")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan []byte, 16)
	subID := randomHex(8)
	streamKey := StreamKey(tunnelID, sessionID, KindSSERecording)
	s.Streams.Register(streamKey, Subscriber{
		ID: subID,
		Send: func(payload []byte) error {
			select {
			case ch <- payload:
				return nil
			default:
				return fmt.Errorf("sse subscriber backpressure")
			}
		},
	})
	defer s.Streams.Unregister(streamKey, subID)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case payload := <-ch:
			fmt.Fprintf(w, "event: recording_output\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleTerminalWS is the mobile-facing terminal display stream (spec.md
// §6).
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	tunnelID := r.PathValue("tunnelId")
	sessionID := r.PathValue("sessionId")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := context.Background()

	streamKey := StreamKey(tunnelID, sessionID, KindTerminal)
	subID := randomHex(8)
	s.Streams.Register(streamKey, Subscriber{
		ID: subID,
		Send: func(payload []byte) error {
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := s.Bandwidth.Wait(writeCtx, tunnelID, len(payload)); err != nil {
				return err
			}
			return conn.Write(writeCtx, websocket.MessageText, payload)
		},
	})
	defer s.Streams.Unregister(streamKey, subID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var in struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "input" {
			continue
		}
		tunnel, ok := s.Tunnels.Get(tunnelID)
		if !ok {
			continue
		}
		tconn := tunnel.Conn()
		if tconn == nil {
			continue
		}
		frame := wireproto.TerminalInputFrame{
			Type:      wireproto.TypeTerminalInput,
			SessionID: sessionID,
			Data:      in.Data,
		}
		payload, _ := json.Marshal(frame)
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = tconn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
	}
}

// handleRecordingWS is the mobile-facing recording stream, server→client
// only (spec.md §6).
func (s *Server) handleRecordingWS(w http.ResponseWriter, r *http.Request) {
	tunnelID := r.PathValue("tunnelId")
	sessionID := r.PathValue("sessionId")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := context.Background()

	streamKey := StreamKey(tunnelID, sessionID, KindRecording)
	subID := randomHex(8)
	s.Streams.Register(streamKey, Subscriber{
		ID: subID,
		Send: func(payload []byte) error {
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := s.Bandwidth.Wait(writeCtx, tunnelID, len(payload)); err != nil {
				return err
			}
			return conn.Write(writeCtx, websocket.MessageText, payload)
		},
	})
	defer s.Streams.Unregister(streamKey, subID)

	// Drain reads purely to detect client disconnect; this stream never
	// consumes inbound payloads.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// handleAgentWS is the mobile-facing bidirectional agent stream (spec.md
// §6 "/api/{tunnelId}/agent/ws").
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	tunnelID := r.PathValue("tunnelId")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := context.Background()

	streamKey := StreamKey(tunnelID, "", KindAgent)
	subID := randomHex(8)
	s.Streams.Register(streamKey, Subscriber{
		ID: subID,
		Send: func(payload []byte) error {
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := s.Bandwidth.Wait(writeCtx, tunnelID, len(payload)); err != nil {
				return err
			}
			return conn.Write(writeCtx, websocket.MessageText, payload)
		},
	})
	defer s.Streams.Unregister(streamKey, subID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		tunnel, ok := s.Tunnels.Get(tunnelID)
		if !ok {
			continue
		}
		tconn := tunnel.Conn()
		if tconn == nil {
			continue
		}
		frame := wireproto.AgentRequestFrame{
			Type:      wireproto.TypeAgentRequest,
			TunnelID:  tunnelID,
			StreamKey: streamKey,
			Payload:   data,
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := tconn.Write(writeCtx, websocket.MessageText, payload); err != nil {
			logger.Warn("agent_request forward failed", "tunnel", tunnelID, "err", err)
		}
		cancel()
	}
}
