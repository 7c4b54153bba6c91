package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raaihank/glasslm/internal/privacy"
)

type maskOutput struct {
	MaskedText string                 `json:"masked_text"`
	Items      []privacy.MaskedItem   `json:"masked_items"`
	Risk       privacy.RiskAssessment `json:"risk"`
}

func newMaskCmd(opts *options) *cobra.Command {
	var (
		registryPath string
		jsonBody     bool
	)

	cmd := &cobra.Command{
		Use:   "mask [file]",
		Short: "Replace sensitive values with placeholders",
		Long: `Mask text from a file or stdin and print the masked text, the
placeholder mapping and a risk assessment as JSON.

With --registry the mapping is loaded from and saved back to a file so
placeholders stay stable across invocations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := opts.detector()
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			registry := privacy.NewRegistry()
			if registryPath != "" {
				if err := loadRegistry(registryPath, registry); err != nil {
					return err
				}
			}

			var out maskOutput
			if jsonBody {
				body, items, ok := d.MaskJSON([]byte(text), registry)
				if !ok {
					return fmt.Errorf("input is not a JSON document")
				}
				out.MaskedText, out.Items = string(body), items
			} else {
				result := d.MaskWithRegistry(text, registry)
				out.MaskedText, out.Items = result.MaskedText, result.Items
			}
			out.Risk = d.AnalyzePrivacyRisk(out.MaskedText, out.Items)

			if registryPath != "" {
				if err := saveRegistry(registryPath, registry); err != nil {
					return err
				}
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringVar(&registryPath, "registry", "", "File holding the placeholder mapping across runs")
	cmd.Flags().BoolVar(&jsonBody, "json", false, "Treat input as a JSON request body and mask only string values")
	return cmd
}

func loadRegistry(path string, registry *privacy.Registry) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}

	var items []privacy.MaskedItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	registry.Register(items)
	return nil
}

func saveRegistry(path string, registry *privacy.Registry) error {
	data, err := json.MarshalIndent(registry.Items(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}
