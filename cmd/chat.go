package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/conduit-ai/conduit/internal/config"
	"github.com/conduit-ai/conduit/internal/coordinator"
	"github.com/conduit-ai/conduit/internal/eventlog"
	"github.com/conduit-ai/conduit/internal/provider"
	"github.com/conduit-ai/conduit/internal/scheduler"
)

// runChat starts the interactive chat (REPL) mode. When stdin is not a
// terminal, the whole of stdin becomes a single prompt instead.
func runChat() error {
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

	if !interactive {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		prompt := strings.TrimSpace(string(data))
		if prompt == "" {
			return fmt.Errorf("empty prompt on stdin")
		}
		resp, err := coord.Complete(ctx, provider.Request{
			Messages: []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		}, scheduler.PriorityHigh)
		if err != nil {
			return fmt.Errorf("%s", provider.UserMessage(err))
		}
		fmt.Println(resp.Content)
		return nil
	}

	cl := &chatLoop{cfg: cfg, coord: coord, events: events}
	return cl.run(ctx)
}

// chatLoop holds the interactive session state.
type chatLoop struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	events  *eventlog.Logger
	history []provider.Message
}

func (cl *chatLoop) run(ctx context.Context) error {
	fmt.Printf("conduit %s  provider=%s  model=%s\n", displayVersion(), cl.cfg.Provider, activeModel(cl.cfg))
	fmt.Println("Type a prompt, or /help for commands. Ctrl+D exits.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Slash commands are intercepted before sending to the provider.
		if strings.HasPrefix(input, "/") {
			if quit := cl.handleCommand(input); quit {
				return nil
			}
			continue
		}

		cl.exchange(ctx, input)
	}
}

// exchange streams one completion for a user turn. On failure the user
// message is dropped from history so the turn can be retried cleanly.
func (cl *chatLoop) exchange(ctx context.Context, input string) {
	cl.history = append(cl.history, provider.Message{Role: provider.RoleUser, Content: input})

	ch, err := cl.coord.SubmitStreaming(ctx, provider.Request{Messages: cl.history})
	if err != nil {
		fmt.Fprintln(os.Stderr, provider.UserMessage(err))
		cl.history = cl.history[:len(cl.history)-1]
		return
	}

	var reply strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			fmt.Fprintln(os.Stderr, "\n"+provider.UserMessage(chunk.Err))
			cl.history = cl.history[:len(cl.history)-1]
			return
		}
		if chunk.TextDelta != "" {
			fmt.Print(chunk.TextDelta)
			reply.WriteString(chunk.TextDelta)
		}
	}
	fmt.Println()

	cl.history = append(cl.history, provider.Message{Role: provider.RoleAssistant, Content: reply.String()})
}

const chatHelp = `Available commands:
  /help              Show this help message
  /model <name>      Switch model for subsequent requests
  /provider <name>   Switch provider (e.g. /provider anthropic)
  /responses on|off  Route openai requests through the Responses API
  /status            Show health, scheduler and cache counters
  /cache             Show cache statistics
  /events [n]        Show recent orchestrator events (default 20)
  /clear             Clear the conversation
  /quit              Exit`

// handleCommand processes built-in slash commands. Returns true to quit.
func (cl *chatLoop) handleCommand(input string) bool {
	parts := strings.SplitN(strings.TrimSpace(input), " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/quit", "/exit", "/q":
		fmt.Println("Bye.")
		return true
	case "/help":
		fmt.Println(chatHelp)
	case "/clear":
		cl.history = nil
		fmt.Println("Conversation cleared.")
	case "/model":
		if arg == "" {
			fmt.Printf("Current model: %s\nUsage: /model <name>\n", activeModel(cl.cfg))
			break
		}
		old := activeModel(cl.cfg)
		cl.cfg.Model = arg
		fmt.Printf("Model switched: %s → %s\n", old, arg)
	case "/provider":
		if arg == "" {
			fmt.Printf("Current provider: %s\nUsage: /provider <name>\n", cl.cfg.Provider)
			break
		}
		old := cl.cfg.Provider
		cl.cfg.Provider = arg
		// Clear the global model override so the new provider's default applies.
		cl.cfg.Model = ""
		fmt.Printf("Provider switched: %s → %s\n", old, arg)
	case "/responses":
		switch arg {
		case "on", "off":
			on := arg == "on"
			if cl.cfg.Settings == nil {
				cl.cfg.Settings = config.Settings{}
			}
			cl.cfg.Settings[config.SettingResponsesAPI] = on
			if err := config.SaveSettingToFile(config.SettingResponsesAPI, on); err != nil {
				fmt.Fprintln(os.Stderr, "persist setting:", err)
			}
			if on {
				fmt.Println("Responses API ON for openai requests.")
			} else {
				fmt.Println("Responses API OFF.")
			}
		default:
			fmt.Printf("Responses API: %v\nUsage: /responses on|off\n", cl.cfg.Settings.Flag(config.SettingResponsesAPI))
		}
	case "/status":
		fmt.Println(formatStatus(cl.coord.Status()))
	case "/cache":
		fmt.Println(formatCacheStats(cl.coord.CacheStats()))
	case "/events":
		if cl.events == nil {
			fmt.Println("Event logging not available.")
			break
		}
		n := 20
		if arg != "" {
			if parsed, err := strconv.Atoi(arg); err == nil && parsed > 0 {
				n = parsed
			}
		}
		evts, err := cl.events.ReadRecent(n)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read events:", err)
			break
		}
		fmt.Println(eventlog.FormatEvents(evts, "Recent events"))
	default:
		fmt.Printf("Unknown command %s (try /help).\n", cmd)
	}
	return false
}

// activeModel resolves the model the next request would use, for display.
func activeModel(cfg *config.Config) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	if pc := cfg.GetProviderConfig(cfg.Provider); pc.Model != "" {
		return pc.Model
	}
	if m, ok := config.KnownProviderModels[cfg.Provider]; ok {
		return m
	}
	return "(provider default)"
}
