package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/echoshell-dev/echoshell/internal/wireproto"
)

// newAttachCmd dials a tunnel's mobile-facing terminal stream directly
// from this machine, for driving or debugging a session without a phone
// in hand. Grounded on cmd/wt/egg.go's eggSpawn: raw-mode stdin and the
// same recv/send goroutine pair — adapted from wt's gRPC session stream
// to echoshell's terminal WS. Window resizes are not forwarded.
func newAttachCmd() *cobra.Command {
	var relayURL string
	cmd := &cobra.Command{
		Use:   "attach <tunnel-id> <session-id>",
		Short: "attach this terminal to a session's display stream over the relay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd.Context(), relayURL, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&relayURL, "relay", os.Getenv("RELAY_URL"), "relay base URL, e.g. wss://relay.example.com")
	return cmd
}

func runAttach(ctx context.Context, relayURL, tunnelID, sessionID string) error {
	if relayURL == "" {
		return fmt.Errorf("--relay or RELAY_URL must be set")
	}
	wsURL := toWebSocketURL(relayURL) + "/api/" + tunnelID + "/terminal/" + sessionID + "/stream"

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial terminal stream: %w", err)
	}
	defer conn.CloseNow()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var out wireproto.OutputBroadcast
			if err := json.Unmarshal(data, &out); err != nil || out.Type != "output" {
				continue
			}
			os.Stdout.WriteString(out.Data)
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				frame, marshalErr := json.Marshal(map[string]string{
					"type": "input",
					"data": string(buf[:n]),
				})
				if marshalErr == nil {
					_ = conn.Write(ctx, websocket.MessageText, frame)
				}
			}
			if err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func toWebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
