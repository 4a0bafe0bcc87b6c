package localapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echoshell-dev/echoshell/internal/session"
)

func newTestServer() *Server {
	return &Server{
		Manager: session.NewManager(),
		AuthKey: func() string { return "laptop-key" },
	}
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer laptop-key")
	return req
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCreateListAndDestroySession(t *testing.T) {
	s := newTestServer()

	createBody, _ := json.Marshal(map[string]string{"type": "regular", "working_dir": t.TempDir()})
	req := authed(httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(createBody)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var created sessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == "" || created.Type != "regular" {
		t.Fatalf("created = %+v", created)
	}

	listReq := authed(httptest.NewRequest(http.MethodGet, "/sessions", nil))
	listRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec, listReq)
	var listBody struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	json.Unmarshal(listRec.Body.Bytes(), &listBody)
	if len(listBody.Sessions) != 1 {
		t.Fatalf("sessions = %+v", listBody.Sessions)
	}

	destroyReq := authed(httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID, nil))
	destroyRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(destroyRec, destroyReq)
	if destroyRec.Code != http.StatusOK {
		t.Errorf("destroy status = %d", destroyRec.Code)
	}

	missingReq := authed(httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID, nil))
	missingRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(missingRec, missingReq)
	if missingRec.Code != http.StatusNotFound {
		t.Errorf("double-destroy status = %d, want 404", missingRec.Code)
	}
}

func TestInputOnUnknownSessionReturns503(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]any{"data": "ls\n", "is_command": true})
	req := authed(httptest.NewRequest(http.MethodPost, "/sessions/missing/input", bytes.NewReader(body)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRenameSession(t *testing.T) {
	s := newTestServer()
	createBody, _ := json.Marshal(map[string]string{"type": "regular", "working_dir": t.TempDir()})
	createReq := authed(httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(createBody)))
	createRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(createRec, createReq)
	var created sessionSummary
	json.Unmarshal(createRec.Body.Bytes(), &created)

	renameBody, _ := json.Marshal(map[string]string{"name": "new-name"})
	renameReq := authed(httptest.NewRequest(http.MethodPatch, "/sessions/"+created.ID, bytes.NewReader(renameBody)))
	renameRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(renameRec, renameReq)
	if renameRec.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body=%s", renameRec.Code, renameRec.Body.String())
	}

	sess, ok := s.Manager.Get(created.ID)
	if !ok || sess.Name != "new-name" {
		t.Errorf("session name = %+v", sess)
	}
}
