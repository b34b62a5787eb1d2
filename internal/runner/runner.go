// Package runner executes a Step Plan one step at a time and reports progress
// as EVENT/1 lines on its output.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Exit codes beyond a failing step's own code.
const (
	ExitOK          = 0
	ExitInvalidPlan = 2
	ExitStartFailed = 127
	ExitInterrupted = 130
)

// Config holds configuration for a Runner.
type Config struct {
	// RunID is exported to every step as RUN_ID
	RunID string

	// BaseDir resolves relative script paths and is the steps' working directory (empty = inherit)
	BaseDir string

	// Env is appended to the inherited environment of every step
	Env []string

	// Stdout receives EVENT/1 lines and, unless ChildStdout is set, the steps' stdout
	Stdout io.Writer

	// Stderr receives the steps' stderr
	Stderr io.Writer

	// ChildStdout overrides where step stdout goes
	ChildStdout io.Writer

	Logger *slog.Logger
}

// lineWriter remembers whether the last write left a line open, so an
// EVENT/1 line always starts at column zero.
type lineWriter struct {
	mu   sync.Mutex
	w    io.Writer
	open bool
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	n, err := lw.w.Write(p)
	if n > 0 {
		lw.open = p[n-1] != '\n'
	}
	return n, err
}

// writeLine writes line on a line of its own.
func (lw *lineWriter) writeLine(line string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.open {
		line = "\n" + line
	}
	_, err := io.WriteString(lw.w, line+"\n")
	if err == nil {
		lw.open = false
	}
	return err
}

// Runner executes plans sequentially.
type Runner struct {
	cfg    Config
	out    *lineWriter
	logger *slog.Logger
}

// New creates a runner. Nil writers default to the process's own stdout and stderr.
func New(cfg Config) *Runner {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	out := &lineWriter{w: cfg.Stdout}
	if cfg.ChildStdout == nil {
		cfg.ChildStdout = out
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		out:    out,
		logger: logger.With("run_id", cfg.RunID),
	}
}

// Run executes every step of plan in order and returns the process exit code.
// Execution stops at the first failing step.
func (r *Runner) Run(ctx context.Context, plan *types.StepPlan) int {
	for _, step := range plan.Steps {
		code, err := r.runStep(ctx, step)
		if err != nil {
			r.logger.Error("step failed", "step_id", step.ID, "exit_code", code, "error", err)
		}
		if code != 0 {
			r.emit(types.RunnerMessage{Type: types.EventTypeStage, StepID: step.ID, Status: string(types.StageStatusFailed), ExitCode: types.IntPtr(code)})
			r.emit(types.RunnerMessage{Type: types.EventTypeDone, Status: string(types.RunStatusFailed), ExitCode: types.IntPtr(code)})
			return code
		}
		r.emit(types.RunnerMessage{Type: types.EventTypeStage, StepID: step.ID, Status: string(types.StageStatusDone)})
	}

	r.emit(types.RunnerMessage{Type: types.EventTypeDone, Status: string(types.RunStatusSucceeded), ExitCode: types.IntPtr(ExitOK)})
	return ExitOK
}

// runStep blocks until the step's process exits. It returns the exit code and,
// for anything but a plain non-zero exit, the reason.
func (r *Runner) runStep(ctx context.Context, step types.Step) (int, error) {
	if ctx.Err() != nil {
		return ExitInterrupted, ctx.Err()
	}

	step.Script = r.resolve(step.Script)
	argv := step.Command()

	r.logger.Info("starting step", "step_id", step.ID, "name", step.Name, "command", strings.Join(argv, " "))
	start := time.Now()

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Env = append(os.Environ(), r.cfg.Env...)
	c.Env = append(c.Env, "RUN_ID="+r.cfg.RunID, "STEP_ID="+step.ID)
	c.Dir = r.cfg.BaseDir
	c.Stdout = r.cfg.ChildStdout
	c.Stderr = r.cfg.Stderr
	c.WaitDelay = 5 * time.Second

	if err := c.Start(); err != nil {
		return ExitStartFailed, fmt.Errorf("start %s: %w", argv[0], err)
	}

	err := c.Wait()
	if ctx.Err() != nil {
		return ExitInterrupted, fmt.Errorf("interrupted: %w", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			r.logger.Info("step exited", "step_id", step.ID, "exit_code", exitErr.ExitCode(), "duration", time.Since(start))
			return exitErr.ExitCode(), nil
		}
		return 1, err
	}

	r.logger.Info("step completed", "step_id", step.ID, "duration", time.Since(start))
	return 0, nil
}

// resolve joins relative paths that name a directory onto BaseDir.
// Bare names are left for PATH lookup.
func (r *Runner) resolve(script string) string {
	if r.cfg.BaseDir == "" || filepath.IsAbs(script) || !strings.ContainsRune(script, '/') {
		return script
	}
	return filepath.Join(r.cfg.BaseDir, filepath.FromSlash(script))
}

func (r *Runner) emit(msg types.RunnerMessage) {
	line, err := types.EncodeRunnerLine(msg)
	if err != nil {
		r.logger.Error("encode event", "error", err)
		return
	}
	if err := r.out.writeLine(line); err != nil {
		r.logger.Error("write event", "error", err)
	}
}
