package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// dialTestConn returns a live *websocket.Conn backed by a throwaway
// httptest server, for tests that only need a Conn identity to compare
// or close — not to exchange frames.
func dialTestConn(t *testing.T) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn.Read(ctx)
			conn.CloseNow()
		}()
	}))
	url := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.CloseNow()
		srv.Close()
	}
}

func TestCreateThenGet(t *testing.T) {
	r := NewTunnelRegistry()
	r.Create("tun1", "apikey123")
	tunnel, ok := r.Get("tun1")
	if !ok {
		t.Fatal("expected tunnel to exist")
	}
	if tunnel.ConnectionAPIKey != "apikey123" {
		t.Errorf("ConnectionAPIKey = %q", tunnel.ConnectionAPIKey)
	}
	if tunnel.Conn() != nil {
		t.Error("expected no socket before Register")
	}
}

func TestRegisterReplacesPriorSocket(t *testing.T) {
	r := NewTunnelRegistry()
	r.Create("tun1", "key")

	conn1, cleanup1 := dialTestConn(t)
	defer cleanup1()
	conn2, cleanup2 := dialTestConn(t)
	defer cleanup2()

	tunnel := r.Register("tun1", conn1, func() {})
	if tunnel.Conn() != conn1 {
		t.Fatal("expected conn1 registered")
	}
	oldDone := tunnel.Done()

	r.Register("tun1", conn2, func() {})
	if tunnel.Conn() != conn2 {
		t.Error("expected conn2 to replace conn1")
	}

	select {
	case <-oldDone:
	case <-time.After(2 * time.Second):
		t.Error("expected prior Done() channel to close on re-register")
	}
}

func TestClientAuthKeyRoundTrip(t *testing.T) {
	r := NewTunnelRegistry()
	r.Create("tun1", "key")
	if ok := r.SetClientAuthKey("tun1", "laptop-secret"); !ok {
		t.Fatal("expected SetClientAuthKey to succeed")
	}
	tunnel, _ := r.Get("tun1")
	if tunnel.ClientAuthKey() != "laptop-secret" {
		t.Errorf("ClientAuthKey = %q", tunnel.ClientAuthKey())
	}
	if r.SetClientAuthKey("missing", "x") {
		t.Error("expected SetClientAuthKey on unknown tunnel to fail")
	}
}

func TestDeleteClosesTunnel(t *testing.T) {
	r := NewTunnelRegistry()
	r.Create("tun1", "key")
	tunnel, _ := r.Get("tun1")
	done := tunnel.Done()

	r.Delete("tun1")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("expected Done() to close on Delete")
	}
	if _, ok := r.Get("tun1"); ok {
		t.Error("expected tunnel removed")
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
}

func TestUpdateLastPongOnUnknownTunnelIsNoop(t *testing.T) {
	r := NewTunnelRegistry()
	r.UpdateLastPong("missing") // must not panic
}
