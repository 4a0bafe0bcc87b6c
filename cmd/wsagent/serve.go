package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/echoshell-dev/echoshell/internal/agentevents"
	"github.com/echoshell-dev/echoshell/internal/config"
	"github.com/echoshell-dev/echoshell/internal/headless"
	"github.com/echoshell-dev/echoshell/internal/history"
	"github.com/echoshell-dev/echoshell/internal/interfaces"
	"github.com/echoshell-dev/echoshell/internal/llmclient"
	"github.com/echoshell-dev/echoshell/internal/localapi"
	"github.com/echoshell-dev/echoshell/internal/logger"
	"github.com/echoshell-dev/echoshell/internal/router"
	"github.com/echoshell-dev/echoshell/internal/session"
	"github.com/echoshell-dev/echoshell/internal/wireproto"
	"github.com/echoshell-dev/echoshell/internal/wstunnel"
)

func newServeCmd() *cobra.Command {
	var historyPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "connect this workstation to the relay and serve terminal/agent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), historyPath)
		},
	}
	cmd.Flags().StringVar(&historyPath, "history-db", "", "chat history database path (default ~/.echoshell/chat_history.db)")
	return cmd
}

func runServe(ctx context.Context, historyPath string) error {
	cfg := config.LoadAgent()
	if err := logger.Init(cfg.LogLevel, ""); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if cfg.RelayBaseURL == "" || cfg.RelayRegistrationKey == "" {
		return fmt.Errorf("RELAY_URL and RELAY_REGISTRATION_KEY must both be set")
	}

	if historyPath == "" {
		dir, err := echoshellDir()
		if err != nil {
			return err
		}
		historyPath = filepath.Join(dir, "chat_history.db")
	}
	store, err := history.Open(historyPath)
	if err != nil {
		return fmt.Errorf("open chat history: %w", err)
	}
	defer store.Close()

	// spec.md §6: session metadata is persisted for restart display
	// purposes but PTYs are never reattached, so the list is cleared on
	// every startup.
	sessionsPath, err := config.DefaultSessionsPath()
	if err != nil {
		return fmt.Errorf("resolve sessions path: %w", err)
	}
	if err := config.ClearSessionRecords(sessionsPath); err != nil {
		logger.Warn("clear session records failed", "err", err)
	}

	mgr := session.NewManager()
	mgr.HeadlessConfig = cfg.Headless

	rtr := router.New()

	clientAuthKey := randomHex(16)

	client := &wstunnel.Client{}

	rtr.OnDisplay = func(sessionID string, data []byte) {
		if err := client.SendTerminalOutput(ctx, sessionID, string(data)); err != nil {
			logger.Warn("send terminal_output failed", "session", sessionID, "err", err)
		}
	}
	rtr.OnRecording = func(update router.RecordingUpdate) {
		isComplete := update.IsComplete
		frame := wireproto.RecordingOutputFrame{
			SessionID:  update.SessionID,
			Text:       update.FullText,
			Delta:      update.Delta,
			Timestamp:  time.Now().UnixMilli(),
			IsComplete: &isComplete,
		}
		if err := client.SendRecordingOutput(ctx, frame); err != nil {
			logger.Warn("send recording_output failed", "session", update.SessionID, "err", err)
		}
	}

	mgr.OnOutput = func(sessionID string, data []byte) {
		rtr.Feed(sessionID, isRecordable(mgr, sessionID), data)
	}
	mgr.OnCommandSubmit = func(sessionID, command string) {
		rtr.ResetForCommand(sessionID, command, isRecordable(mgr, sessionID))
	}
	mgr.OnHeadlessComplete = func(sessionID string) {
		rtr.Complete(sessionID)
	}
	mgr.OnDestroyed = func(sessionID string) {
		rtr.Forget(sessionID)
	}

	var directLLM interfaces.LLMClient
	if cfg.AgentAPIKey != "" {
		directLLM = llmclient.New(cfg.AgentProvider, cfg.AgentAPIKey, cfg.AgentModelName, cfg.AgentBaseURL, cfg.AgentTemperature)
	}

	runner := &dispatchRunner{
		mgr: mgr,
		headless: &agentevents.HeadlessSessionRunner{
			ExecutorFor: func(sessionID string) (*headless.Executor, bool) {
				sess, ok := mgr.Get(sessionID)
				if !ok || sess.Executor() == nil {
					return nil, false
				}
				return sess.Executor(), true
			},
		},
		direct: &agentevents.DirectLLMRunner{Client: directLLM},
	}

	agentHandler := &agentevents.Handler{
		Runner:  runner,
		History: store,
		Emit: func(event wireproto.AgentEvent) {
			if err := client.SendAgentEvent(ctx, event); err != nil {
				logger.Warn("send agent_event failed", "session", event.SessionID, "err", err)
			}
		},
	}

	local := &localapi.Server{Manager: mgr, AuthKey: func() string { return clientAuthKey }}
	localHandler := local.Handler()

	client.OnTerminalInput = func(sessionID string, data string) {
		isCommand := false
		if err := mgr.WriteInput(sessionID, data, isCommand); err != nil {
			logger.Warn("write input failed", "session", sessionID, "err", err)
		}
	}
	client.OnHTTPRequest = func(ctx context.Context, req wireproto.HTTPRequestFrame) wireproto.HTTPResponseFrame {
		return serveLocally(ctx, localHandler, req)
	}
	client.OnAgentRequest = func(frame wireproto.AgentRequestFrame) {
		var event wireproto.AgentEvent
		if err := json.Unmarshal(frame.Payload, &event); err != nil {
			logger.Warn("malformed agent_request payload", "err", err)
			return
		}
		agentHandler.HandleEvent(ctx, event.SessionID, event)
	}
	client.OnStateChange = func(state string, err error) {
		if err != nil {
			logger.Info("tunnel state change", "state", state, "err", err)
		} else {
			logger.Info("tunnel state change", "state", state)
		}
	}

	tunnel, err := registerTunnel(cfg.RelayBaseURL, cfg.RelayRegistrationKey)
	if err != nil {
		return fmt.Errorf("register tunnel: %w", err)
	}
	client.RelayURL = tunnel.WSURL
	client.APIKey = tunnel.APIKey
	client.ClientAuthKey = clientAuthKey

	fmt.Printf("wsagent: tunnel %s ready at %s\n", tunnel.TunnelID, tunnel.PublicURL)
	return client.Run(ctx)
}

// isRecordable mirrors spec.md §4.9's "cursor/claude/agent session types"
// rule for which sessions feed the recording stream; everything else
// (regular PTY sessions) only gets the screen.Emulator final-frame path
// Router.ResetForCommand drives.
func isRecordable(mgr *session.Manager, sessionID string) bool {
	sess, ok := mgr.Get(sessionID)
	return ok && sess.Type != session.TypeRegular
}

type dispatchRunner struct {
	mgr      *session.Manager
	headless *agentevents.HeadlessSessionRunner
	direct   *agentevents.DirectLLMRunner
}

func (d *dispatchRunner) Run(ctx context.Context, sessionID, command string, history []interfaces.Turn) (string, error) {
	sess, ok := d.mgr.Get(sessionID)
	if !ok {
		return "", fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Type == session.TypeAgent {
		return d.direct.Run(ctx, sessionID, command, history)
	}
	return d.headless.Run(ctx, sessionID, command, history)
}

// serveLocally turns one proxied http_request frame into a real
// net/http round trip against the workstation's own mux, the inverse of
// relay.ProxyHandler on the other end of the tunnel (spec.md §4.4).
func serveLocally(ctx context.Context, handler http.Handler, req wireproto.HTTPRequestFrame) wireproto.HTTPResponseFrame {
	body, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return wireproto.HTTPResponseFrame{StatusCode: http.StatusBadRequest, Body: base64.StdEncoding.EncodeToString([]byte("invalid body encoding"))}
	}

	url := req.Path
	if req.Query != "" {
		url += "?" + req.Query
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(body))
	if err != nil {
		return wireproto.HTTPResponseFrame{StatusCode: http.StatusInternalServerError, Body: base64.StdEncoding.EncodeToString([]byte("bad request"))}
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httpReq)

	respBody, _ := io.ReadAll(rec.Body)
	return wireproto.HTTPResponseFrame{
		StatusCode: rec.Code,
		Body:       base64.StdEncoding.EncodeToString(respBody),
	}
}

type registeredTunnel struct {
	TunnelID  string
	APIKey    string
	PublicURL string
	WSURL     string
}

// registerTunnel calls the relay's POST /tunnel/create (spec.md §6) with
// an empty body, so every start gets a fresh tunnel id; no prior tunnel
// id is restored.
func registerTunnel(relayBaseURL, registrationKey string) (*registeredTunnel, error) {
	body, _ := json.Marshal(map[string]string{})
	req, err := http.NewRequest(http.MethodPost, relayBaseURL+"/tunnel/create", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", registrationKey)
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed struct {
		Config struct {
			TunnelID  string `json:"tunnelId"`
			APIKey    string `json:"apiKey"`
			PublicURL string `json:"publicUrl"`
			WSURL     string `json:"wsUrl"`
		} `json:"config"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode tunnel/create response: %w", err)
	}
	return &registeredTunnel{
		TunnelID:  parsed.Config.TunnelID,
		APIKey:    parsed.Config.APIKey,
		PublicURL: parsed.Config.PublicURL,
		WSURL:     parsed.Config.WSURL,
	}, nil
}

func echoshellDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".echoshell")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
