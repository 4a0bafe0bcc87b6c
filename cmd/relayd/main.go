// Command relayd is the relay server: the public HTTP↔WS broker between
// mobile clients and workstation agents (spec.md §2, §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/echoshell-dev/echoshell/internal/config"
	"github.com/echoshell-dev/echoshell/internal/logger"
	"github.com/echoshell-dev/echoshell/internal/relay"
)

func main() {
	root := &cobra.Command{
		Use:   "relayd",
		Short: "echoshell relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRelay()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.Init(cfg.LogLevel, ""); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			srv := relay.NewServer(cfg)

			httpSrv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: srv.Handler(),
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("relayd listening", "addr", httpSrv.Addr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				return httpSrv.Close()
			case err := <-errCh:
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			}
		},
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
