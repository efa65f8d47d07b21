package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/conduit-ai/conduit/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve conduit over the Model Context Protocol on stdio",
		Long:  "Exposes conduit_complete, conduit_status and conduit_cache_stats as MCP tools\nfor agent hosts speaking the Model Context Protocol over stdio.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := initConfig()

			coord, events := buildCoordinator(cfg)
			defer coord.Close()
			defer events.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			coord.Start(ctx)

			return mcp.New(coord, appVersion).Run(ctx)
		},
	}
}
