package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/search"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/workspace"
)

// ErrSearchFailed is returned after a failure payload has been printed
var ErrSearchFailed = errors.New("search failed")

type searchOptions struct {
	searchType string
	output     string
}

func newSearchCommand(root *rootOptions) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search QUERY [WORKSPACE]",
		Short: "Search a workspace by content, filename or structure",
		Long: `Search indexes WORKSPACE and prints the ranked internal_search result.

Examples:
  devorch search "http handler" ./service
  devorch search Parse --type structure --output yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != OutputJSON && opts.output != OutputYAML {
				return fmt.Errorf("unsupported output format %q (search supports json or yaml)", opts.output)
			}

			cfg, err := root.load()
			if err != nil {
				return err
			}
			ws := cfg.WorkspacePath
			if len(args) > 1 {
				ws = args[1]
			}

			logger := cliLogger(cfg, cmd.ErrOrStderr())
			engine := search.NewEngine(workspace.NewIndexer(logger), cfg.Search, logger)
			result := engine.InternalSearch(cmd.Context(), args[0], ws, opts.searchType)

			if err := writeOutput(cmd.OutOrStdout(), opts.output, result, result.String); err != nil {
				return err
			}
			if result.Failed() {
				return ErrSearchFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.searchType, "type", "t", string(search.ModeContent), "search mode: content, filename, structure or all")
	cmd.Flags().StringVarP(&opts.output, "output", "o", OutputJSON, "output format: json or yaml")
	return cmd
}
