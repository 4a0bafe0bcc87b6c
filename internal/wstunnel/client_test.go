package wstunnel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

func TestBackoff(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)
	expected := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, want := range expected {
		if got := bo.Next(); got != want {
			t.Errorf("attempt %d: got %v, want %v", i, got, want)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)
	bo.Next()
	bo.Next()
	bo.Reset()
	if got := bo.Next(); got != time.Second {
		t.Errorf("after reset: got %v, want %v", got, time.Second)
	}
}

func newTestServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		handler(conn, r)
	}))
}

func TestClientSendsClientAuthKeyOnConnect(t *testing.T) {
	received := make(chan wireproto.ClientAuthKeyFrame, 1)
	srv := newTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx := context.Background()
		if got := r.URL.Query().Get("api_key"); got != "tunnel-key" {
			t.Errorf("api_key query = %q, want tunnel-key", got)
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame wireproto.ClientAuthKeyFrame
		json.Unmarshal(data, &frame)
		received <- frame
		time.Sleep(50 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "done")
	})
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "tunnel-key")
	c.ClientAuthKey = "laptop-bearer-key"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.connectAndServe(ctx)

	select {
	case frame := <-received:
		if frame.Type != wireproto.TypeClientAuthKey || frame.Key != "laptop-bearer-key" {
			t.Errorf("unexpected frame: %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received client_auth_key")
	}
}

func TestClientAnswersHTTPRequest(t *testing.T) {
	replyCh := make(chan wireproto.HTTPResponseFrame, 1)
	srv := newTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx := context.Background()
		req := wireproto.HTTPRequestFrame{
			Type:      wireproto.TypeHTTPRequest,
			RequestID: "req-1",
			Method:    "GET",
			Path:      "/status",
		}
		data, _ := json.Marshal(req)
		conn.Write(ctx, websocket.MessageText, data)

		_, respData, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var resp wireproto.HTTPResponseFrame
		json.Unmarshal(respData, &resp)
		replyCh <- resp
		time.Sleep(50 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "done")
	})
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "tunnel-key")
	c.OnHTTPRequest = func(ctx context.Context, req wireproto.HTTPRequestFrame) wireproto.HTTPResponseFrame {
		if req.Path != "/status" {
			t.Errorf("unexpected path %q", req.Path)
		}
		return wireproto.HTTPResponseFrame{StatusCode: 200, Body: "b2s="}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.connectAndServe(ctx)

	select {
	case resp := <-replyCh:
		if resp.RequestID != "req-1" || resp.StatusCode != 200 {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received http_response")
	}
}

func TestClientDeliversTerminalInput(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx := context.Background()
		frame := wireproto.TerminalInputFrame{
			Type:      wireproto.TypeTerminalInput,
			SessionID: "sess-1",
			Data:      "bHM=",
		}
		data, _ := json.Marshal(frame)
		conn.Write(ctx, websocket.MessageText, data)
		time.Sleep(100 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "done")
	})
	defer srv.Close()

	var mu sync.Mutex
	var gotSession, gotData string
	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "tunnel-key")
	c.OnTerminalInput = func(sessionID, data string) {
		mu.Lock()
		gotSession, gotData = sessionID, data
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.connectAndServe(ctx)

	mu.Lock()
	defer mu.Unlock()
	if gotSession != "sess-1" || gotData != "bHM=" {
		t.Errorf("got session=%q data=%q", gotSession, gotData)
	}
}

func TestSendReturnsErrorWhenNotConnected(t *testing.T) {
	c := NewClient("ws://unused", "key")
	if err := c.SendTerminalOutput(context.Background(), "sess-1", "data"); err == nil {
		t.Error("expected send on a never-connected client to fail")
	}
}

func TestEnqueueDropsFramesOnceOutboxIsFull(t *testing.T) {
	outbox := make(chan []byte, 1)
	if err := enqueue(outbox, []byte("first")); err != nil {
		t.Fatalf("enqueue into an empty outbox: %v", err)
	}
	if err := enqueue(outbox, []byte("second")); err == nil {
		t.Error("expected enqueue to report the outbox is full rather than block")
	}
}

func TestClientReconnectsAfterDisconnect(t *testing.T) {
	var mu sync.Mutex
	var connCount int

	srv := newTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		ctx := context.Background()
		if n == 1 {
			conn.Close(websocket.StatusGoingAway, "test disconnect")
			return
		}
		time.Sleep(2 * time.Second)
		conn.Close(websocket.StatusNormalClosure, "done")
		_ = ctx
	})
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "tunnel-key")
	c.backoff = NewBackoff(50*time.Millisecond, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(4 * time.Second)
	for {
		mu.Lock()
		n := connCount
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for reconnect, connections: %d", n)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
