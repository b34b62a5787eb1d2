package runner

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/planfile"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/validator"
)

// ExitError carries the process exit code out of the command.
// Err is nil when the code is a step's own exit status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewCommand builds the jobrunner command. EVENT/1 lines and step stdout go to
// stdout; step stderr and the runner's own log go to stderr.
func NewCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		runID    string
		workdir  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "jobrunner <plan.yaml>",
		Short:         "Execute a step plan sequentially and report progress as EVENT/1 lines",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLevel(logLevel)}))

			v, err := validator.New()
			if err != nil {
				return &ExitError{Code: ExitInvalidPlan, Err: fmt.Errorf("init validator: %w", err)}
			}
			plan, err := planfile.Load(args[0], v)
			if err != nil {
				return &ExitError{Code: ExitInvalidPlan, Err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := New(Config{
				RunID:   runID,
				BaseDir: workdir,
				Stdout:  stdout,
				Stderr:  stderr,
				Logger:  logger,
			})
			logger.Info("running plan", "plan", args[0], "steps", len(plan.Steps))

			if code := r.Run(ctx, plan); code != ExitOK {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	cmd.Flags().StringVar(&runID, "run-id", os.Getenv("RUN_ID"), "Run identifier exported to steps as RUN_ID")
	cmd.Flags().StringVar(&workdir, "workdir", os.Getenv("RUNNER_WORKDIR"), "Base directory for relative script paths")
	cmd.Flags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	return cmd
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
