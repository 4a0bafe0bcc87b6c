package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

const proxyTimeout = 30 * time.Second

// hopByHopHeaders are stripped from the inbound request before it is
// framed, per DESIGN.md's resolution of spec.md §9's open question on
// header forwarding. The http_response frame carries no headers, so
// nothing from the workstation's response headers reaches the caller.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// ProxyHandler is C4: turns an inbound HTTP request on /api/{tunnelId}/*
// into an http_request frame toward the workstation and waits for the
// matching http_response frame (spec.md §4.4).
type ProxyHandler struct {
	Tunnels   *TunnelRegistry
	Pending   *PendingRegistry
	Bandwidth *BandwidthMeter

	// Timeout overrides proxyTimeout; zero means use the default. Tests
	// shorten this to exercise the 504 path without a real 30s wait.
	Timeout time.Duration
}

func (p *ProxyHandler) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return proxyTimeout
}

func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request, tunnelID, path string) {
	tunnel, ok := p.Tunnels.Get(tunnelID)
	if !ok {
		writeError(w, http.StatusNotFound, "tunnel not found")
		return
	}
	if tunnel.ClientAuthKey() == "" {
		writeError(w, http.StatusServiceUnavailable, "tunnel auth key not registered yet")
		return
	}
	conn := tunnel.Conn()
	if conn == nil {
		writeError(w, http.StatusNotFound, "tunnel not connected")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	stripHopByHop(r.Header)

	requestID := uuid.NewString()
	replyCh := p.Pending.Install(requestID)

	frame := wireproto.HTTPRequestFrame{
		Type:      wireproto.TypeHTTPRequest,
		RequestID: requestID,
		Method:    r.Method,
		Path:      normalizeProxyPath(path),
		Headers:   map[string][]string(r.Header),
		Body:      base64.StdEncoding.EncodeToString(body),
		Query:     r.URL.RawQuery,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		p.Pending.Cancel(requestID)
		writeError(w, http.StatusInternalServerError, "failed to encode request")
		return
	}

	writeCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	writeErr := conn.Write(writeCtx, websocket.MessageText, payload)
	cancel()
	if writeErr != nil {
		p.Pending.Cancel(requestID)
		writeError(w, http.StatusBadGateway, "workstation unreachable")
		return
	}

	select {
	case resp := <-replyCh:
		respBody, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			writeError(w, http.StatusBadGateway, "invalid response from workstation")
			return
		}
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		if p.Bandwidth != nil {
			waitCtx, waitCancel := context.WithTimeout(r.Context(), p.timeout())
			_ = p.Bandwidth.Wait(waitCtx, tunnelID, len(respBody))
			waitCancel()
		}
		w.WriteHeader(status)
		w.Write(respBody)
	case <-time.After(p.timeout()):
		p.Pending.Cancel(requestID)
		writeError(w, http.StatusGatewayTimeout, "workstation did not respond")
	case <-tunnel.Done():
		p.Pending.Cancel(requestID)
		writeError(w, http.StatusBadGateway, "workstation disconnected")
	}
}

// normalizeProxyPath ensures the forwarded path starts with "/" and
// contains no repeated slashes (spec.md §4.4).
func normalizeProxyPath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}
