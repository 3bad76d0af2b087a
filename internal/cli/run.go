package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/orchestration"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/planning"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/workspace"
)

// ErrSessionFailed is returned when a session finishes with success=false
var ErrSessionFailed = errors.New("session did not succeed")

type runOptions struct {
	model       string
	temperature float64
	output      string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run TASK [WORKSPACE]",
		Short: "Run one planning and development session",
		Long: `Run plans TASK into atomic tasks, hands them to the development runtime
and prints the session summary. The workspace directory is created when missing.

Examples:
  devorch run "Create a hello world website" ./site
  devorch run "Add a CLI flag for verbosity" --output json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, root, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.model, "model", "", "model name (overrides model_name)")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", 0, "sampling temperature (overrides temperature)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", OutputText, "output format: text, json or yaml")
	return cmd
}

func runSession(cmd *cobra.Command, root *rootOptions, opts *runOptions, args []string) error {
	if err := validateOutput(opts.output); err != nil {
		return err
	}

	cfg, err := root.load()
	if err != nil {
		return err
	}
	if opts.model != "" {
		cfg.ModelName = opts.model
	}
	if cmd.Flags().Changed("temperature") {
		cfg.Temperature = opts.temperature
	}
	if len(args) > 1 {
		cfg = cfg.WithWorkspace(args[1])
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ws, err := workspace.Prepare(cfg.WorkspacePath)
	if err != nil {
		return err
	}
	cfg.WorkspacePath = ws

	logger := cliLogger(cfg, cmd.ErrOrStderr())
	sessionMetrics, err := metrics.NewSessionMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	coordinator := planning.NewCoordinator(planning.NewModelClient(cfg, logger), sessionMetrics, logger)
	developer := orchestration.NewDeveloperRuntimeClient(cfg.Runtime, logger)
	orchestrator := orchestration.NewOrchestrator(coordinator, developer, cfg, sessionMetrics, logger)

	var observe orchestration.Observer
	if opts.output == OutputText {
		progress := cmd.ErrOrStderr()
		observe = func(_ string, entry models.LogEntry) {
			fmt.Fprintf(progress, "[%s] %s\n", entry.Phase, entry.Content)
		}
	}

	state := orchestrator.Run(cmd.Context(), orchestration.Request{
		SessionID:     uuid.NewString(),
		UserTask:      args[0],
		WorkspacePath: ws,
	}, observe)

	if err := writeOutput(cmd.OutOrStdout(), opts.output, state, func() string {
		return state.FinalSummary
	}); err != nil {
		return err
	}
	if !state.Success {
		return ErrSessionFailed
	}
	return nil
}
