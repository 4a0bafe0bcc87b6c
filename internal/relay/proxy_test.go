package relay

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

func TestProxyUnknownTunnelReturns404(t *testing.T) {
	handler := &ProxyHandler{Tunnels: NewTunnelRegistry(), Pending: NewPendingRegistry()}

	req := httptest.NewRequest(http.MethodGet, "/api/missing/foo", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req, "missing", "/foo")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProxyNoClientAuthKeyReturns503(t *testing.T) {
	tunnels := NewTunnelRegistry()
	tunnels.Create("t1", "connkey")
	handler := &ProxyHandler{Tunnels: tunnels, Pending: NewPendingRegistry()}

	req := httptest.NewRequest(http.MethodGet, "/api/t1/foo", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req, "t1", "/foo")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestProxyTimeoutReturns504(t *testing.T) {
	tunnels := NewTunnelRegistry()
	tunnels.Create("t1", "connkey")
	tunnels.SetClientAuthKey("t1", "laptopkey")

	// Register a real websocket so conn.Write succeeds, but nothing ever
	// answers with an http_response frame — the pending request must time
	// out on its own.
	_, cleanup := newTestTunnelSocket(t, "t1", tunnels)
	defer cleanup()

	handler := &ProxyHandler{Tunnels: tunnels, Pending: NewPendingRegistry(), Timeout: 30 * time.Millisecond}

	req := httptest.NewRequest(http.MethodGet, "/api/t1/foo", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req, "t1", "/foo")

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestProxyForwardsResponseOnResolve(t *testing.T) {
	tunnels := NewTunnelRegistry()
	tunnels.Create("t1", "connkey")
	tunnels.SetClientAuthKey("t1", "laptopkey")

	serverConn, cleanup := newTestTunnelSocket(t, "t1", tunnels)
	defer cleanup()

	pending := NewPendingRegistry()
	handler := &ProxyHandler{Tunnels: tunnels, Pending: pending, Timeout: 2 * time.Second}

	go func() {
		data := serverConn.ReadOne(t)
		var req wireproto.HTTPRequestFrame
		decodeJSON(t, data, &req)
		pending.Resolve(req.RequestID, wireproto.HTTPResponseFrame{
			Type:       wireproto.TypeHTTPResponse,
			RequestID:  req.RequestID,
			StatusCode: http.StatusCreated,
			Body:       base64.StdEncoding.EncodeToString([]byte("ok")),
		})
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/t1/foo", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req, "t1", "/foo")

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}
