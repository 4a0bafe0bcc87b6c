// Package localapi implements the workstation's local HTTP surface that
// answers requests forwarded through the relay's "ANY /api/{tunnelId}/*"
// proxy (spec.md §4.4, §6): session lifecycle, PTY input, headless
// command execution, and resize, wrapping internal/session.Manager's
// operations behind REST routes. Every request must carry the bearer
// key this workstation announced via the client_auth_key frame (spec.md
// §3 Tunnel.clientAuthKey) — checked here, not at the relay, which only
// verifies some key has been registered at all before forwarding
// (spec.md §4.4 "clientAuthKey unregistered" → 503).
package localapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/echoshell-dev/echoshell/internal/session"
)

// Server is the workstation's HTTP counterpart to relay.Server, grounded
// on the same writeJSON/writeError/mux-route shape.
type Server struct {
	Manager *session.Manager

	// AuthKey returns the current bearer key mobile must present. A
	// func rather than a plain string because the key is generated once
	// at startup but read on every request.
	AuthKey func() string
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.auth(s.handleCreate))
	mux.HandleFunc("GET /sessions", s.auth(s.handleList))
	mux.HandleFunc("GET /sessions/{id}/history", s.auth(s.handleHistory))
	mux.HandleFunc("PATCH /sessions/{id}", s.auth(s.handleRename))
	mux.HandleFunc("DELETE /sessions/{id}", s.auth(s.handleDestroy))
	mux.HandleFunc("POST /sessions/{id}/input", s.auth(s.handleInput))
	mux.HandleFunc("POST /sessions/{id}/execute", s.auth(s.handleExecute))
	mux.HandleFunc("POST /sessions/{id}/resize", s.auth(s.handleResize))
	return mux
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var want string
		if s.AuthKey != nil {
			want = s.AuthKey()
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if want == "" || got != want {
			writeError(w, http.StatusUnauthorized, "invalid or missing auth key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type       string `json:"type"`
		WorkingDir string `json:"working_dir"`
		Name       string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Type == "" {
		body.Type = string(session.TypeRegular)
	}
	sess, err := s.Manager.CreateSession(session.Type(body.Type), body.WorkingDir, body.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := s.Manager.ListSessions()
	views := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionView(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": sess.GetHistory()})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Manager.RenameSession(r.PathValue("id"), body.Name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.DestroySession(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data      string `json:"data"`
		IsCommand bool   `json:"is_command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Manager.WriteInput(r.PathValue("id"), body.Data, body.IsCommand); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Manager.ExecuteCommand(r.Context(), r.PathValue("id"), body.Command); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Manager.ResizeTerminal(r.PathValue("id"), body.Cols, body.Rows); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type sessionSummary struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	WorkingDir string `json:"working_dir"`
	Name       string `json:"name"`
	PID        int    `json:"pid"`
	CreatedAt  string `json:"created_at"`
}

func sessionView(sess *session.TerminalSession) sessionSummary {
	return sessionSummary{
		ID:         sess.ID,
		Type:       string(sess.Type),
		WorkingDir: sess.WorkingDir,
		Name:       sess.Name,
		PID:        sess.PID,
		CreatedAt:  strconv.FormatInt(sess.CreatedAt.Unix(), 10),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
