package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gicagen/resilience-core/internal/orchestrator"
	"github.com/gicagen/resilience-core/internal/sectionindex"
	"github.com/spf13/cobra"
)

func buildGenerateCmd() *cobra.Command {
	var (
		configPath     string
		formatPath     string
		promptPath     string
		cleanupPath    string
		projectID      string
		title          string
		tenantID       string
		enableCleanup  bool
		outputPath     string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a document section by section",
		Long: `Generate drives one end-to-end document run: it resolves the
operator's provider selection, compiles the format definition into an
ordered section index, generates each section through the router's
fallback chain, runs an optional cleanup pass, and writes the validated
sections to stdout or --output as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCore(configPath)
			if err != nil {
				return err
			}

			format, err := readJSONFile(formatPath)
			if err != nil {
				return fmt.Errorf("read format definition: %w", err)
			}
			promptTemplate, err := readFile(promptPath)
			if err != nil {
				return fmt.Errorf("read prompt template: %w", err)
			}
			var cleanupTemplate string
			if cleanupPath != "" {
				cleanupTemplate, err = readFile(cleanupPath)
				if err != nil {
					return fmt.Errorf("read cleanup template: %w", err)
				}
			}

			project := orchestrator.Project{ID: projectID, Title: title, TenantID: tenantID}
			opts := orchestrator.Options{
				PromptTemplate:        promptTemplate,
				FormatDefinition:      format,
				EnableCleanup:         enableCleanup,
				CleanupPromptTemplate: cleanupTemplate,
			}

			result, err := c.Orchestrator.Generate(cmd.Context(), project, opts)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			return writeResult(result, outputPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gicagen.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&formatPath, "format", "", "Path to the JSON format definition")
	cmd.Flags().StringVar(&promptPath, "prompt", "", "Path to the base prompt template")
	cmd.Flags().StringVar(&cleanupPath, "cleanup-prompt", "", "Path to the cleanup prompt template")
	cmd.Flags().StringVar(&projectID, "project-id", "", "Project identifier")
	cmd.Flags().StringVar(&title, "title", "", "Document title")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant identifier (governs the per-tenant inflight gate)")
	cmd.Flags().BoolVar(&enableCleanup, "cleanup", false, "Run the best-effort cleanup pass after generation")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the result here instead of stdout")
	cmd.MarkFlagRequired("format")
	cmd.MarkFlagRequired("prompt")

	return cmd
}

// readJSONFile decodes the format definition with key order preserved
// (sectionindex.DecodeOrdered), not json.Unmarshal's unordered map[string]any,
// so sibling structural sections compile in the order they were written.
func readJSONFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return sectionindex.DecodeOrdered(data)
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeResult(result orchestrator.GenerateResult, outputPath string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if outputPath == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(outputPath, data, 0o644)
}
