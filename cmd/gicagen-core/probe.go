package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/gicagen/resilience-core/internal/core"
	"github.com/gicagen/resilience-core/internal/providers"
	"github.com/spf13/cobra"
)

func buildProbeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send a lightweight probe request to every configured provider",
		Long: `Probe calls each configured provider directly, bypassing the
router's fallback chain and circuit breaker, to check credentials and
reachability. Results are recorded to the metrics store as probe events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCore(configPath)
			if err != nil {
				return err
			}
			return runProbes(cmd, c)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gicagen.yaml", "Path to YAML configuration file")
	return cmd
}

func runProbes(cmd *cobra.Command, c *core.Core) error {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := false
	for _, name := range names {
		p := c.Providers[name]
		if !p.IsConfigured() {
			fmt.Printf("  %-12s skipped (not configured)\n", name)
			continue
		}
		result, err := p.Probe(cmd.Context())
		retryAfter := time.Duration(result.RetryAfterSeconds * float64(time.Second))
		detail := result.Detail
		if detail == "" && err != nil {
			detail = err.Error()
		}
		c.Metrics.RecordProbe(name, string(result.Status), detail, retryAfter)

		if err != nil || result.Status != providers.ProbeOK {
			fmt.Printf("  %-12s FAILED (%s): %s\n", name, result.Status, detail)
			failed = true
			continue
		}
		fmt.Printf("  %-12s ok\n", name)
	}
	if failed {
		return fmt.Errorf("one or more providers failed their probe")
	}
	return nil
}
