package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/conduit-ai/conduit/internal/provider"
	"github.com/conduit-ai/conduit/internal/scheduler"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		prompt string
		system string
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single prompt non-interactively",
		Example: `  conduit run -P "summarize the Go memory model"
  conduit run -P "translate to French: hello" --stream
  conduit run -P "explain CAP" -p anthropic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt / -P is required")
			}
			return runOnce(prompt, system, stream)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "P", "", "the prompt to execute")
	cmd.Flags().StringVar(&system, "system", "", "optional system message")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response as it is generated")
	cmd.MarkFlagRequired("prompt")

	return cmd
}

// runOnce executes a single prompt and exits.
func runOnce(prompt, system string, stream bool) error {
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

	var msgs []provider.Message
	if system != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: system})
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: prompt})
	req := provider.Request{Messages: msgs}

	if stream {
		ch, err := coord.SubmitStreaming(ctx, req)
		if err != nil {
			return fmt.Errorf("%s", provider.UserMessage(err))
		}
		for chunk := range ch {
			if chunk.Err != nil {
				fmt.Println()
				return fmt.Errorf("%s", provider.UserMessage(chunk.Err))
			}
			fmt.Print(chunk.TextDelta)
		}
		fmt.Println()
		return nil
	}

	resp, err := coord.Complete(ctx, req, scheduler.PriorityHigh)
	if err != nil {
		return fmt.Errorf("%s", provider.UserMessage(err))
	}
	fmt.Println(resp.Content)
	return nil
}
