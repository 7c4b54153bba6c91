package cli

import (
	"github.com/spf13/cobra"

	"github.com/raaihank/glasslm/internal/privacy"
)

func newUnmaskCmd(opts *options) *cobra.Command {
	var itemsPath string

	cmd := &cobra.Command{
		Use:   "unmask [file]",
		Short: "Restore original values in a model response",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readItems(itemsPath)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(privacy.UnmaskJSON([]byte(text), items))
			return err
		},
	}

	cmd.Flags().StringVar(&itemsPath, "items", "", "JSON file with the masked items (required)")
	return cmd
}

func newLeakageCmd(opts *options) *cobra.Command {
	var itemsPath string

	cmd := &cobra.Command{
		Use:   "leakage [file]",
		Short: "Check a model response for resurfaced originals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := opts.detector()
			if err != nil {
				return err
			}
			items, err := readItems(itemsPath)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			warnings := d.DetectLeakage(privacy.ExtractText([]byte(text)), items)
			return printJSON(cmd, map[string]interface{}{
				"warnings":     warnings,
				"max_severity": privacy.MaxSeverity(warnings),
			})
		},
	}

	cmd.Flags().StringVar(&itemsPath, "items", "", "JSON file with the masked items (required)")
	return cmd
}

func newRiskCmd(opts *options) *cobra.Command {
	var itemsPath string

	cmd := &cobra.Command{
		Use:   "risk [file]",
		Short: "Assess re-identification risk of masked text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := opts.detector()
			if err != nil {
				return err
			}
			items, err := readItems(itemsPath)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return printJSON(cmd, d.AnalyzePrivacyRisk(text, items))
		},
	}

	cmd.Flags().StringVar(&itemsPath, "items", "", "JSON file with the masked items (required)")
	return cmd
}
