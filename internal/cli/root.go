// Package cli implements the glasslm command line tool.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/raaihank/glasslm/internal/config"
	"github.com/raaihank/glasslm/internal/logger"
	"github.com/raaihank/glasslm/internal/privacy"
)

type options struct {
	configPath string
	preset     string
	detectors  []string
	logLevel   string
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "glasslm",
		Short:         "Mask sensitive data before it reaches a chat model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.preset, "preset", "", "Detector preset: developer, personal, enterprise or custom")
	root.PersistentFlags().StringSliceVar(&opts.detectors, "detectors", nil, "Rule names or categories for the custom preset")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr")

	root.AddCommand(
		newMaskCmd(opts),
		newUnmaskCmd(opts),
		newLeakageCmd(opts),
		newRiskCmd(opts),
		newRulesCmd(opts),
		newEvalCmd(opts),
	)
	return root
}

// Execute runs the CLI against os.Args
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}

func (o *options) load() (*config.Config, *logger.Logger, error) {
	cfg, _, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.preset != "" {
		cfg.Privacy.Preset = o.preset
	}
	if len(o.detectors) > 0 {
		cfg.Privacy.Detectors = o.detectors
	}

	log, err := logger.New(logger.Config{Level: o.logLevel, Format: "console"})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func (o *options) detector() (*privacy.Detector, *logger.Logger, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	d, err := privacy.New(cfg.Privacy, log)
	if err != nil {
		return nil, nil, err
	}
	return d, log, nil
}

// readInput reads the named file, or stdin when no file or "-" is given
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return string(data), nil
}

// readItems accepts either a bare item array or the JSON printed by mask
func readItems(path string) ([]privacy.MaskedItem, error) {
	if path == "" {
		return nil, fmt.Errorf("--items is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	var items []privacy.MaskedItem
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		Items []privacy.MaskedItem `json:"masked_items"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse items in %s: %w", path, err)
	}
	return wrapped.Items, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
