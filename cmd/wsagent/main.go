// Command wsagent is the workstation binary: it owns the PTY/headless
// sessions on this machine and tunnels them to a relay server so a
// mobile client can drive them remotely (spec.md §2, §6).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "wsagent",
		Short: "echoshell workstation agent",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newAttachCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
