// Package wstunnel is the workstation side of the single tunnel
// WebSocket: it dials the relay, answers proxied http_request frames,
// forwards terminal_input to the session manager, and carries
// terminal_output/recording_output/tts_ready/agent_event frames back out.
package wstunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

// ErrAuthRejected is returned when the relay rejects the tunnel socket
// with 401 (bad or expired connectionApiKey).
var ErrAuthRejected = errors.New("relay rejected tunnel api key (401)")

const (
	writeTimeout      = 10 * time.Second
	maxReconnectDelay = 10 * time.Second

	// outboxCap bounds how many not-yet-written frames a slow or dead
	// socket can leave queued (spec.md §4.5: "the producer must not
	// block"). Once full, send drops the newest frame with a warning
	// rather than wait for room.
	outboxCap = 256
)

// HTTPRequestHandler answers one proxied HTTP call.
type HTTPRequestHandler func(ctx context.Context, req wireproto.HTTPRequestFrame) wireproto.HTTPResponseFrame

// TerminalInputHandler delivers keystrokes relayed from a mobile session.
type TerminalInputHandler func(sessionID string, data string)

// Client is the outbound WebSocket connection from workstation to relay
// for one tunnel.
type Client struct {
	RelayURL      string // e.g. "wss://relay.example.com/tunnel/<tunnelId>"
	APIKey        string // connectionApiKey, sent as ?api_key=
	ClientAuthKey string // bearer key mobile must present on proxied calls

	OnHTTPRequest   HTTPRequestHandler
	OnTerminalInput TerminalInputHandler
	OnAgentRequest  func(wireproto.AgentRequestFrame)
	OnStateChange   func(state string, err error)

	conn *websocket.Conn
	mu   sync.Mutex

	backoff    *Backoff
	outbox     chan []byte
	writerOnce sync.Once
}

// NewClient wires a Client with the default reconnect backoff.
func NewClient(relayURL, apiKey string) *Client {
	return &Client{
		RelayURL: relayURL,
		APIKey:   apiKey,
		backoff:  NewBackoff(time.Second, maxReconnectDelay),
	}
}

// ensureWriter starts the single outbound writer goroutine on first use.
// One goroutine owns every conn.Write so reconnects never race two
// writers against the same (or a stale) socket.
func (c *Client) ensureWriter() {
	c.writerOnce.Do(func() {
		c.outbox = make(chan []byte, outboxCap)
		go c.writeLoop()
	})
}

func (c *Client) writeLoop() {
	for data := range c.outbox {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			log.Printf("wstunnel: dropping frame, socket not connected")
			continue
		}
		writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
			log.Printf("wstunnel: dropping frame, write failed: %v", err)
		}
		cancel()
	}
}

// Run connects to the relay and serves frames until ctx is cancelled,
// reconnecting with capped exponential backoff on every disconnect.
// Returns ErrAuthRejected if the relay rejects the api key with 401.
func (c *Client) Run(ctx context.Context) error {
	c.notifyState("connecting", nil)
	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if isAuthError(err) {
			c.notifyState("auth_failed", err)
			return ErrAuthRejected
		}
		if connected {
			c.backoff.Reset()
		}
		delay := c.backoff.Next()
		c.notifyState("disconnected", err)
		log.Printf("wstunnel: disconnected: %v — reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notifyState("connecting", nil)
	}
}

func (c *Client) notifyState(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "401")
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	url := c.RelayURL
	if strings.Contains(url, "?") {
		url += "&api_key=" + c.APIKey
	} else {
		url += "?api_key=" + c.APIKey
	}

	conn, _, dialErr := websocket.Dial(ctx, url, nil)
	if dialErr != nil {
		return false, fmt.Errorf("dial: %w", dialErr)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.CloseNow()
	connected = true

	if c.ClientAuthKey != "" {
		if err := c.send(ctx, wireproto.ClientAuthKeyFrame{
			Type: wireproto.TypeClientAuthKey,
			Key:  c.ClientAuthKey,
		}); err != nil {
			return connected, fmt.Errorf("send client_auth_key: %w", err)
		}
	}
	c.notifyState("connected", nil)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}

		var env wireproto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("wstunnel: malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case wireproto.TypeHTTPRequest:
			c.handleHTTPRequest(ctx, data)
		case wireproto.TypeTerminalInput:
			c.handleTerminalInput(data)
		case wireproto.TypeAgentRequest:
			c.handleAgentRequest(data)
		default:
			log.Printf("wstunnel: unknown frame type %q", env.Type)
		}
	}
}

func (c *Client) handleHTTPRequest(ctx context.Context, data []byte) {
	var req wireproto.HTTPRequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("wstunnel: malformed http_request: %v", err)
		return
	}
	if c.OnHTTPRequest == nil {
		return
	}
	go func() {
		resp := c.OnHTTPRequest(ctx, req)
		resp.Type = wireproto.TypeHTTPResponse
		resp.RequestID = req.RequestID
		if err := c.send(ctx, resp); err != nil {
			log.Printf("wstunnel: send http_response: %v", err)
		}
	}()
}

func (c *Client) handleTerminalInput(data []byte) {
	var frame wireproto.TerminalInputFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("wstunnel: malformed terminal_input: %v", err)
		return
	}
	if c.OnTerminalInput != nil {
		c.OnTerminalInput(frame.SessionID, frame.Data)
	}
}

func (c *Client) handleAgentRequest(data []byte) {
	var frame wireproto.AgentRequestFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("wstunnel: malformed agent_request: %v", err)
		return
	}
	if c.OnAgentRequest != nil {
		c.OnAgentRequest(frame)
	}
}

// send enqueues v for the writer goroutine without blocking the caller
// (spec.md §4.5: "the producer must not block"). If the socket is not
// OPEN, or the outbox is already full, the frame is dropped and an
// error is returned for the caller to log as a warning — never to
// retry synchronously.
func (c *Client) send(ctx context.Context, v any) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.ensureWriter()
	return enqueue(c.outbox, data)
}

// enqueue is send's non-blocking tail, pulled out so its drop-when-full
// behavior can be exercised without the writer goroutine racing to
// drain the channel underneath a test.
func enqueue(outbox chan []byte, data []byte) error {
	select {
	case outbox <- data:
		return nil
	default:
		return fmt.Errorf("outbox full, dropping frame")
	}
}

// SendTerminalOutput relays PTY bytes for display fan-out.
func (c *Client) SendTerminalOutput(ctx context.Context, sessionID, data string) error {
	return c.send(ctx, wireproto.TerminalOutputFrame{
		Type:      wireproto.TypeTerminalOutput,
		SessionID: sessionID,
		Data:      data,
	})
}

// SendRecordingOutput relays a recording-stream delta or completion.
func (c *Client) SendRecordingOutput(ctx context.Context, frame wireproto.RecordingOutputFrame) error {
	frame.Type = wireproto.TypeRecordingOutput
	return c.send(ctx, frame)
}

// SendTTSReady marks accumulated assistant text as final and ready to
// synthesize.
func (c *Client) SendTTSReady(ctx context.Context, sessionID, text string, timestamp int64) error {
	return c.send(ctx, wireproto.TTSReadyFrame{
		Type:      wireproto.TypeTTSReady,
		SessionID: sessionID,
		Text:      text,
		Timestamp: timestamp,
	})
}

// SendAgentEvent relays one AgentEvent to the relay for fan-out on the
// mobile agent stream.
func (c *Client) SendAgentEvent(ctx context.Context, event wireproto.AgentEvent) error {
	return c.send(ctx, wireproto.AgentEventFrame{
		Type:  wireproto.TypeAgentEvent,
		Event: event,
	})
}
