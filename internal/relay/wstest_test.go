package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// testWSConn wraps the server-accepted side of a workstation tunnel
// socket for tests that need to observe frames the proxy/router writes
// to it, or hand-write frames back as if the workstation answered.
type testWSConn struct {
	conn *websocket.Conn
}

func (c *testWSConn) ReadOne(t *testing.T) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func (c *testWSConn) Close() {
	c.conn.Close(websocket.StatusNormalClosure, "test done")
}

// newTestTunnelSocket spins up a one-off httptest server that accepts a
// single websocket connection, dials it, and registers the dialed side
// as tunnelID's workstation socket — mirroring handleWorkstationWS
// without going through the relay's own HTTP handler (the test server
// here plays the workstation, not the relay). Returns the accepted side
// for the test to read/write as the workstation, plus a cleanup func.
func newTestTunnelSocket(t *testing.T, tunnelID string, tunnels *TunnelRegistry) (*testWSConn, func()) {
	t.Helper()
	accepted := make(chan *testWSConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- &testWSConn{conn: conn}
	}))

	url := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clientSide, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	tunnels.Register(tunnelID, clientSide, func() {})

	var server *testWSConn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("server side of test tunnel socket never accepted")
	}

	cleanup := func() {
		server.Close()
		clientSide.Close(websocket.StatusNormalClosure, "test done")
		srv.Close()
	}
	return server, cleanup
}

func decodeJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}
