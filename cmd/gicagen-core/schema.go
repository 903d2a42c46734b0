package main

import (
	"fmt"

	"github.com/gicagen/resilience-core/internal/config"
	"github.com/spf13/cobra"
)

func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration file's JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("build schema: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
