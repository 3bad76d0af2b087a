// Package cli implements the devorch command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
)

// Output formats accepted by --output
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand builds the devorch command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "devorch",
		Short: "Plan and develop natural-language coding tasks",
		Long: `devorch turns a natural-language development request into atomic tasks,
hands them to a development runtime, and reports what changed in the workspace.

Configuration is read from an optional YAML file and the environment
(GEMINI_MODEL, MODEL_RUNTIME_URL, DEVELOPER_RUNTIME_URL, JWT_SECRET, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newRunCommand(opts),
		newSearchCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

// cliLogger writes human-readable logs to stderr so stdout stays parseable
func cliLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.New(cfg.LoggingLevel, "text", w)
}

func validateOutput(format string) error {
	switch format {
	case OutputText, OutputJSON, OutputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use text, json or yaml)", format)
	}
}

// writeOutput renders v as JSON or YAML, or calls text for the text format
func writeOutput(w io.Writer, format string, v interface{}, text func() string) error {
	switch format {
	case OutputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, text())
		return err
	}
}
