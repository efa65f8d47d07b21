package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-ai/conduit/internal/coordinator"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system health and orchestrator counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := initConfig()
			coord, events := buildCoordinator(cfg)
			defer coord.Close()
			defer events.Close()

			st := coord.Status()
			if jsonOutput {
				b, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(b))
				return nil
			}
			fmt.Println(formatStatus(st))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON output")
	return cmd
}

// formatStatus renders the composite status for terminal display.
func formatStatus(st coordinator.Status) string {
	names := make([]string, 0, len(st.Providers))
	for _, n := range st.Providers {
		names = append(names, string(n))
	}
	providers := "(none configured)"
	if len(names) > 0 {
		providers = strings.Join(names, ", ")
	}

	h := st.Health
	s := st.Scheduler

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pressure:   %s (memory %.1f MB, thermal %s)\n",
		h.PressureLevel, float64(h.MemoryUsageBytes)/(1<<20), h.ThermalState)
	fmt.Fprintf(&sb, "Providers:  %s\n", providers)
	fmt.Fprintf(&sb, "Scheduler:  %d pending, %d active, %d paused\n", s.Pending, s.Active, s.Paused)
	fmt.Fprintf(&sb, "            %d completed, %d failed, %d cancelled (%.0f%% success)\n",
		s.Completed, s.Failed, s.Cancelled, 100*h.SchedulerSuccessRate)
	fmt.Fprintf(&sb, "Tokens:     %d prompt, %d completion\n", s.PromptTokens, s.CompletionTokens)
	fmt.Fprintf(&sb, "Cache:      %d fast / %d slow entries (%.0f%% hit rate)\n",
		st.Cache.FastEntries, st.Cache.SlowEntries, 100*h.CacheHitRate)
	fmt.Fprintf(&sb, "Last check: %s", h.LastCheck.Format(time.RFC3339))
	return sb.String()
}
