package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

type statusPayload struct {
	Selection any            `json:"selection,omitempty"`
	Providers map[string]any `json:"providers"`
	Breakers  any            `json:"breakers"`
}

func buildStatusCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show provider health, breaker state, and the active selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCore(configPath)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(c.Providers))
			for name := range c.Providers {
				names = append(names, name)
			}
			sort.Strings(names)

			payload := statusPayload{Providers: map[string]any{}, Breakers: c.Breaker.Snapshot()}
			for _, name := range names {
				payload.Providers[name] = c.Metrics.PayloadForProvider(name, c.Providers[name].IsConfigured())
			}
			if sel, ok, err := c.Selection.Load(); err == nil && ok {
				payload.Selection = sel
			}

			if asJSON {
				data, err := json.MarshalIndent(payload, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("gicagen-core %s (commit: %s)\n\n", version, commit)
			for _, name := range names {
				snap := payload.Providers[name]
				fmt.Printf("  %-12s %+v\n", name, snap)
			}
			fmt.Println()
			fmt.Printf("breakers: %+v\n", payload.Breakers)
			if payload.Selection != nil {
				fmt.Printf("selection: %+v\n", payload.Selection)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gicagen.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output machine-readable JSON")

	return cmd
}
