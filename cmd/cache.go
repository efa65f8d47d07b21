package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/conduit-ai/conduit/internal/cache"
	"github.com/conduit-ai/conduit/internal/config"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(initConfig())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			fmt.Println(formatCacheStats(c.Stats()))
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(initConfig())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if expiredOnly {
				n := c.SweepExpired()
				fmt.Printf("Expired cache entries cleared: %d\n", n)
				return nil
			}
			c.InvalidateAll()
			fmt.Println("All cache entries cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// openCache opens the response cache directly, without the rest of the
// orchestrator.
func openCache(cfg *config.Config) (*cache.Cache, error) {
	dir, err := cfg.CacheDir()
	if err != nil {
		return nil, err
	}
	return cache.New(cache.Options{
		Dir:            dir,
		FastMaxBytes:   int64(cfg.Cache.FastMaxMB) << 20,
		FastMaxEntries: cfg.Cache.FastMaxEntries,
		TTL:            time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour,
	})
}

// formatCacheStats renders cache counters for terminal display.
func formatCacheStats(st cache.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fast tier: %d entries, %.1f KB\n", st.FastEntries, float64(st.FastBytes)/1024)
	fmt.Fprintf(&sb, "Slow tier: %d entries\n", st.SlowEntries)
	fmt.Fprintf(&sb, "Hits:      %d\n", st.Hits)
	fmt.Fprintf(&sb, "Misses:    %d\n", st.Misses)
	fmt.Fprintf(&sb, "Hit rate:  %.1f%%", 100*st.HitRate())
	return sb.String()
}
