package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(regKey string) *Server {
	return NewServer(Config{
		Port:               "0",
		PublicHost:         "relay.test",
		PublicProtocol:     "https",
		RegistrationAPIKey: regKey,
	})
}

func TestHealthReportsTunnelCount(t *testing.T) {
	s := newTestServer("secret")
	s.Tunnels.Create("a", "k1")
	s.Tunnels.Create("b", "k2")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Tunnels int    `json:"tunnels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" || body.Tunnels != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestTunnelCreateRejectsMissingRegistrationKey(t *testing.T) {
	s := newTestServer("secret")

	req := httptest.NewRequest(http.MethodPost, "/tunnel/create", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestTunnelCreateAndHealth(t *testing.T) {
	s := newTestServer("secret")

	req := httptest.NewRequest(http.MethodPost, "/tunnel/create", strings.NewReader("{}"))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var created struct {
		Config struct {
			TunnelID   string `json:"tunnelId"`
			APIKey     string `json:"apiKey"`
			PublicURL  string `json:"publicUrl"`
			WSURL      string `json:"wsUrl"`
			IsRestored bool   `json:"isRestored"`
		} `json:"config"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Config.TunnelID == "" || created.Config.APIKey == "" {
		t.Fatalf("created = %+v", created)
	}
	if created.Config.IsRestored {
		t.Error("a fresh create should not report isRestored")
	}
	if created.Config.PublicURL != "https://relay.test/api/"+created.Config.TunnelID {
		t.Errorf("publicUrl = %q", created.Config.PublicURL)
	}
	if created.Config.WSURL != "wss://relay.test/tunnel/"+created.Config.TunnelID {
		t.Errorf("wsUrl = %q", created.Config.WSURL)
	}

	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(healthRec, healthReq)
	var health struct {
		Tunnels int `json:"tunnels"`
	}
	json.Unmarshal(healthRec.Body.Bytes(), &health)
	if health.Tunnels != 1 {
		t.Errorf("tunnels = %d, want 1", health.Tunnels)
	}
}

func TestTunnelCreateWithExistingIDReportsRestored(t *testing.T) {
	s := newTestServer("secret")

	req := httptest.NewRequest(http.MethodPost, "/tunnel/create", strings.NewReader(`{"tunnel_id":"existing"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var created struct {
		Config struct {
			TunnelID   string `json:"tunnelId"`
			IsRestored bool   `json:"isRestored"`
		} `json:"config"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Config.TunnelID != "existing" || !created.Config.IsRestored {
		t.Errorf("created = %+v", created)
	}
}
